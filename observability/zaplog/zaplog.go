// Package zaplog adapts a zap logger to the core.Logger interface.
package zaplog

import (
	"go.uber.org/zap"

	"github.com/parwork/go-work-queue/core"
)

// Logger forwards core.Logger calls to an underlying *zap.Logger.
type Logger struct {
	l *zap.Logger
}

var _ core.Logger = (*Logger)(nil)

// New wraps a zap logger. A nil logger falls back to zap.NewNop().
func New(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &Logger{l: l}
}

func (z *Logger) Debug(msg string, fields ...core.Field) {
	z.l.Debug(msg, zapFields(fields)...)
}

func (z *Logger) Info(msg string, fields ...core.Field) {
	z.l.Info(msg, zapFields(fields)...)
}

func (z *Logger) Warn(msg string, fields ...core.Field) {
	z.l.Warn(msg, zapFields(fields)...)
}

func (z *Logger) Error(msg string, fields ...core.Field) {
	z.l.Error(msg, zapFields(fields)...)
}

func zapFields(fields []core.Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}
