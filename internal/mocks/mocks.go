// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/tgbench/internal/config"
	"github.com/xkilldash9x/tgbench/internal/driver"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Detector() config.DetectorConfig {
	args := m.Called()
	return args.Get(0).(config.DetectorConfig)
}

func (m *MockConfig) Extractor() config.ExtractorConfig {
	args := m.Called()
	return args.Get(0).(config.ExtractorConfig)
}

func (m *MockConfig) Providers() map[string]config.ProviderConfig {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(map[string]config.ProviderConfig)
}

func (m *MockConfig) Batch() config.BatchConfig {
	args := m.Called()
	return args.Get(0).(config.BatchConfig)
}

func (m *MockConfig) Results() config.ResultsConfig {
	args := m.Called()
	return args.Get(0).(config.ResultsConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	args := m.Called()
	return args.Get(0).(config.MetricsConfig)
}

// --- Setters ---

func (m *MockConfig) SetBrowserHeadless(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetDetectorMaxWait(d time.Duration) {
	m.Called(d)
}

func (m *MockConfig) SetResultsDir(dir string) {
	m.Called(dir)
}

// -- Driver Mocks --

// MockElement is a driver.Element with a fixed selector.
type MockElement struct {
	Sel string
}

func (e *MockElement) Selector() string { return e.Sel }

// MockDriver mocks driver.Driver.
type MockDriver struct {
	mock.Mock
}

var _ driver.Driver = (*MockDriver)(nil)

func (m *MockDriver) FindElements(ctx context.Context, selector string) ([]driver.Element, error) {
	args := m.Called(ctx, selector)
	var els []driver.Element
	if v := args.Get(0); v != nil {
		els = v.([]driver.Element)
	}
	return els, args.Error(1)
}

func (m *MockDriver) Visible(ctx context.Context, el driver.Element) (bool, error) {
	args := m.Called(ctx, el)
	return args.Bool(0), args.Error(1)
}

func (m *MockDriver) Enabled(ctx context.Context, el driver.Element) (bool, error) {
	args := m.Called(ctx, el)
	return args.Bool(0), args.Error(1)
}

func (m *MockDriver) Text(ctx context.Context, el driver.Element) (string, error) {
	args := m.Called(ctx, el)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) Focus(ctx context.Context, el driver.Element) error {
	return m.Called(ctx, el).Error(0)
}

func (m *MockDriver) Click(ctx context.Context, el driver.Element) error {
	return m.Called(ctx, el).Error(0)
}

func (m *MockDriver) SetText(ctx context.Context, el driver.Element, text string) error {
	return m.Called(ctx, el, text).Error(0)
}

func (m *MockDriver) PressEnter(ctx context.Context, el driver.Element) error {
	return m.Called(ctx, el).Error(0)
}

func (m *MockDriver) ExecuteScript(ctx context.Context, script string, res interface{}) error {
	return m.Called(ctx, script, res).Error(0)
}

func (m *MockDriver) DocumentHTML(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// -- Session Mocks --

// MockSession mocks driver.Session. Driver calls are recorded on the same mock.
type MockSession struct {
	MockDriver
}

var _ driver.Session = (*MockSession)(nil)

func (m *MockSession) ID() string { return m.Called().String(0) }

func (m *MockSession) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockSession) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockSessionFactory mocks the session source used by the engine runner.
type MockSessionFactory struct {
	mock.Mock
}

func (m *MockSessionFactory) NewSession(ctx context.Context) (driver.Session, error) {
	args := m.Called(ctx)
	var s driver.Session
	if v := args.Get(0); v != nil {
		s = v.(driver.Session)
	}
	return s, args.Error(1)
}
