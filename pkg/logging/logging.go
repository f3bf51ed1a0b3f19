// Package logging provides structured JSON logging for the analysis
// pipeline. Every long-running stage logs through the Logger interface
// so agent deployments can ship machine-readable output, while tests
// swap in the nop implementation.
package logging

import (
	"os"
	"sync"
	"time"
)

// Level represents a log level
type Level int

const (
	// DebugLevel is per-record noise: skipped adjacency lines, alias
	// registrations. Disabled outside troubleshooting runs.
	DebugLevel Level = iota
	// InfoLevel is the default priority
	InfoLevel
	// WarnLevel marks degraded but survivable conditions
	WarnLevel
	// ErrorLevel marks failures a human should look at
	ErrorLevel
)

// String returns the string representation of a log level
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level, defaulting to InfoLevel
func ParseLevel(s string) Level {
	switch s {
	case "DEBUG", "debug":
		return DebugLevel
	case "INFO", "info":
		return InfoLevel
	case "WARN", "warn", "WARNING", "warning":
		return WarnLevel
	case "ERROR", "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Field is one key-value pair attached to a log entry
type Field struct {
	Key   string
	Value any
}

// Logger is the interface the rest of the system logs through
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// With returns a child logger with the fields pre-set
	With(fields ...Field) Logger
	SetLevel(level Level)
	GetLevel() Level
}

// NopLogger discards everything. Used in tests and as the fallback when
// a component receives a nil logger.
type NopLogger struct{}

func (NopLogger) Debug(msg string, fields ...Field) {}
func (NopLogger) Info(msg string, fields ...Field)  {}
func (NopLogger) Warn(msg string, fields ...Field)  {}
func (NopLogger) Error(msg string, fields ...Field) {}
func (n NopLogger) With(fields ...Field) Logger     { return n }
func (NopLogger) SetLevel(level Level)              {}
func (NopLogger) GetLevel() Level                   { return InfoLevel }

// NewNopLogger creates a logger that discards all output
func NewNopLogger() Logger {
	return NopLogger{}
}

var (
	defaultLogger Logger
	once          sync.Once
)

// DefaultLogger returns the process-wide logger. The initial level comes
// from FABRICHC_LOG_LEVEL when set.
func DefaultLogger() Logger {
	once.Do(func() {
		level := InfoLevel
		if s := os.Getenv("FABRICHC_LOG_LEVEL"); s != "" {
			level = ParseLevel(s)
		}
		defaultLogger = NewJSONLogger(os.Stdout, level)
	})
	return defaultLogger
}

// SetDefaultLogger replaces the process-wide logger
func SetDefaultLogger(logger Logger) {
	defaultLogger = logger
}

// Debug logs through the default logger
func Debug(msg string, fields ...Field) {
	DefaultLogger().Debug(msg, fields...)
}

// Info logs through the default logger
func Info(msg string, fields ...Field) {
	DefaultLogger().Info(msg, fields...)
}

// Warn logs through the default logger
func Warn(msg string, fields ...Field) {
	DefaultLogger().Warn(msg, fields...)
}

// ErrorLog logs through the default logger. Named ErrorLog to avoid
// colliding with the Error field constructor.
func ErrorLog(msg string, fields ...Field) {
	DefaultLogger().Error(msg, fields...)
}

// With derives a child of the default logger
func With(fields ...Field) Logger {
	return DefaultLogger().With(fields...)
}

// TimedOperation measures one operation's wall time
type TimedOperation struct {
	logger Logger
	msg    string
	start  time.Time
	fields []Field
}

// StartTimer begins timing an operation
func StartTimer(logger Logger, msg string, fields ...Field) *TimedOperation {
	return &TimedOperation{
		logger: logger,
		msg:    msg,
		start:  time.Now(),
		fields: fields,
	}
}

// End logs the operation at info level with its duration
func (t *TimedOperation) End() {
	elapsed := time.Since(t.start)
	t.logger.Info(t.msg, append(t.fields, Latency(elapsed))...)
}

// EndError logs the operation as failed with its duration
func (t *TimedOperation) EndError(err error) {
	elapsed := time.Since(t.start)
	t.logger.Error(t.msg, append(t.fields, Latency(elapsed), Error(err))...)
}
