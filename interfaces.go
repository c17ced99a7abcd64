package mongodb

// Logger is the pluggable sink for Client's own lifecycle logging (connect,
// health check, shutdown) -- separate from the emit-based sdam.Sink an
// application wires up for topology events via WithEventSink. Implement it
// to route Client's logging into whatever the host application already
// uses.
type Logger interface {
	// Info logs an informational message with optional structured fields
	Info(msg string, fields ...any)
	// Warn logs a warning message with optional structured fields
	Warn(msg string, fields ...any)
	// Error logs an error message with optional structured fields
	Error(msg string, fields ...any)
	// Debug logs a debug message with optional structured fields
	Debug(msg string, fields ...any)
}

// NopLogger discards everything; it is Client's default Logger when
// WithLogger is never called.
type NopLogger struct{}

// Info implements Logger.Info by doing nothing
func (NopLogger) Info(msg string, fields ...any) {}

// Warn implements Logger.Warn by doing nothing
func (NopLogger) Warn(msg string, fields ...any) {}

// Error implements Logger.Error by doing nothing
func (NopLogger) Error(msg string, fields ...any) {}

// Debug implements Logger.Debug by doing nothing
func (NopLogger) Debug(msg string, fields ...any) {}
