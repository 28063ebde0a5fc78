package session

// Function declarations called on a resolved node through Runtime.callFunctionOn.
// `this` is the element.
const (
	// Mirrors what a user perceives: a laid out box that is neither hidden nor transparent.
	fnVisible = `function() {
	if (!this.isConnected) return false;
	const rect = this.getBoundingClientRect();
	const style = window.getComputedStyle(this);
	return rect.width > 0 && rect.height > 0 &&
		style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
}`

	fnEnabled = `function() {
	return !this.disabled && this.getAttribute('aria-disabled') !== 'true';
}`

	fnText = `function() {
	return this.innerText || this.textContent || '';
}`

	// Sets the value through the native setter so framework-controlled inputs
	// (React, Vue) see the change, then fires the events they listen to.
	fnSetText = `function(text) {
	const tag = this.tagName;
	if (tag === 'TEXTAREA' || tag === 'INPUT') {
		const proto = tag === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
		const setter = Object.getOwnPropertyDescriptor(proto, 'value').set;
		setter.call(this, '');
		setter.call(this, text);
	} else if (this.isContentEditable) {
		this.focus();
		const sel = window.getSelection();
		const range = document.createRange();
		range.selectNodeContents(this);
		sel.removeAllRanges();
		sel.addRange(range);
		if (!document.execCommand('insertText', false, text)) {
			this.textContent = text;
		}
	} else {
		return false;
	}
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`
)
