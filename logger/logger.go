// Package logger defines the minimal structured logging facade used across
// authgate. Implementations accept alternating key/value pairs as variadic
// arguments, which keeps the interface small and easy to mock in tests.
package logger

// Logger is the logging interface services and the engine depend on.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// NullLogger implements Logger but does nothing (useful for tests).
type NullLogger struct{}

func NewNullLogger() *NullLogger { return &NullLogger{} }

func (n *NullLogger) Debug(msg string, keyvals ...any) {}
func (n *NullLogger) Info(msg string, keyvals ...any)  {}
func (n *NullLogger) Warn(msg string, keyvals ...any)  {}
func (n *NullLogger) Error(msg string, keyvals ...any) {}
