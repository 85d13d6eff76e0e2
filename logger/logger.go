package logger

// Logger is the minimal structured logging interface the engine and audit
// subsystem depend on. Implementations accept alternating key/value pairs.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}
