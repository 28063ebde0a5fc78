package schemas

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies why a submission did not produce a result.
type ErrorKind string

const (
	KindInputSurfaceNotFound ErrorKind = "input_surface_not_found"
	KindSubmissionRejected   ErrorKind = "submission_rejected"
	KindGenerationTimeout    ErrorKind = "generation_timeout"
	KindExtractionFailed     ErrorKind = "extraction_failed"
	KindDriverFault          ErrorKind = "driver_fault"
)

// Sentinels for errors.Is checks. Any *DetectionError of the same kind matches.
var (
	ErrInputSurfaceNotFound = &DetectionError{Kind: KindInputSurfaceNotFound}
	ErrSubmissionRejected   = &DetectionError{Kind: KindSubmissionRejected}
	ErrGenerationTimeout    = &DetectionError{Kind: KindGenerationTimeout}
	ErrExtractionFailed     = &DetectionError{Kind: KindExtractionFailed}
	ErrDriverFault          = &DetectionError{Kind: KindDriverFault}
)

// DetectionError is the typed failure returned by the submission and detection path.
type DetectionError struct {
	Kind    ErrorKind
	Message string
	Elapsed time.Duration
	Err     error
}

// NewDetectionError builds an error of the given kind.
func NewDetectionError(kind ErrorKind, elapsed time.Duration, format string, args ...interface{}) *DetectionError {
	return &DetectionError{Kind: kind, Elapsed: elapsed, Message: fmt.Sprintf(format, args...)}
}

// DriverFault wraps a lower-level automation failure without masking it.
func DriverFault(op string, elapsed time.Duration, err error) *DetectionError {
	return &DetectionError{Kind: KindDriverFault, Elapsed: elapsed, Message: op, Err: err}
}

func (e *DetectionError) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DetectionError) Unwrap() error { return e.Err }

// Is matches any DetectionError with the same kind.
func (e *DetectionError) Is(target error) bool {
	t, ok := target.(*DetectionError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the ErrorKind from an error chain, or "" when err is not a DetectionError.
func KindOf(err error) ErrorKind {
	var de *DetectionError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
