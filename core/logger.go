package core

import (
	"fmt"
	"log"
	"strings"
)

// Logger receives the queue's structured lifecycle messages. The queue
// logs construction, shutdown, and aborted runs; it never logs from the
// steal loop, so implementations do not need to be particularly fast.
//
// The observability/zaplog subpackage adapts a zap logger to this
// interface; any other structured logger fits the same way.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field is a key-value pair attached to a log message.
type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// DefaultLogger writes through the standard log package. It is the
// logger a queue uses when the config leaves Logger unset.
type DefaultLogger struct{}

// NewDefaultLogger creates a new DefaultLogger.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{}
}

func (l *DefaultLogger) Debug(msg string, fields ...Field) {
	l.write("DEBUG", msg, fields)
}

func (l *DefaultLogger) Info(msg string, fields ...Field) {
	l.write("INFO", msg, fields)
}

func (l *DefaultLogger) Warn(msg string, fields ...Field) {
	l.write("WARN", msg, fields)
}

func (l *DefaultLogger) Error(msg string, fields ...Field) {
	l.write("ERROR", msg, fields)
}

func (l *DefaultLogger) write(level, msg string, fields []Field) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", level, msg)
	for i, f := range fields {
		if i == 0 {
			b.WriteString(" {")
		} else {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", f.Key, f.Value)
	}
	if len(fields) > 0 {
		b.WriteString("}")
	}
	log.Println(b.String())
}

// NoOpLogger discards all log messages. Useful for tests and benchmarks
// where queue lifecycle chatter is noise.
type NoOpLogger struct{}

// NewNoOpLogger creates a new NoOpLogger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}
