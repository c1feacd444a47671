package logging

import (
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// MockLogger is a mock implementation of the Logger interface
type MockLogger struct {
	mock.Mock
}

// SetupDefaultExpectations sets up common logger mock expectations that accept any arguments.
// This is useful for tests where you don't care about specific logging calls.
func (m *MockLogger) SetupDefaultExpectations() {
	for _, method := range []string{"Debug", "Info", "Warn", "Error", "Fatal"} {
		m.On(method, mock.Anything, mock.Anything).Maybe().Return()
	}
	for _, method := range []string{"Debugf", "Infof", "Warnf", "Errorf", "Fatalf"} {
		m.On(method, mock.Anything).Maybe().Return()
		m.On(method, mock.Anything, mock.Anything).Maybe().Return()
		m.On(method, mock.Anything, mock.Anything, mock.Anything).Maybe().Return()
		m.On(method, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe().Return()
	}
	m.On("With", mock.Anything).Maybe().Return(nil)
}

// Debug mocks the Debug method
func (m *MockLogger) Debug(msg string, tags ...any) {
	m.Called(msg, tags)
}

// Info mocks the Info method
func (m *MockLogger) Info(msg string, tags ...any) {
	m.Called(msg, tags)
}

// Warn mocks the Warn method
func (m *MockLogger) Warn(msg string, tags ...any) {
	m.Called(msg, tags)
}

// Error mocks the Error method
func (m *MockLogger) Error(msg string, tags ...any) {
	m.Called(msg, tags)
}

// Fatal mocks the Fatal method
func (m *MockLogger) Fatal(msg string, tags ...any) {
	m.Called(msg, tags)
}

// Debugf mocks the Debugf method
func (m *MockLogger) Debugf(template string, args ...interface{}) {
	m.Called(append([]interface{}{template}, args...)...)
}

// Infof mocks the Infof method
func (m *MockLogger) Infof(template string, args ...interface{}) {
	m.Called(append([]interface{}{template}, args...)...)
}

// Warnf mocks the Warnf method
func (m *MockLogger) Warnf(template string, args ...interface{}) {
	m.Called(append([]interface{}{template}, args...)...)
}

// Errorf mocks the Errorf method
func (m *MockLogger) Errorf(template string, args ...interface{}) {
	m.Called(append([]interface{}{template}, args...)...)
}

// Fatalf mocks the Fatalf method
func (m *MockLogger) Fatalf(template string, args ...interface{}) {
	m.Called(append([]interface{}{template}, args...)...)
}

// With mocks the With method
func (m *MockLogger) With(tags ...any) Logger {
	args := m.Called(tags)
	if args.Get(0) == nil {
		return m
	}
	return args.Get(0).(Logger)
}

// NewNoopLogger returns a Logger that discards everything. Handy default for tests.
func NewNoopLogger() Logger {
	return &ZapLogger{logger: zap.NewNop()}
}
