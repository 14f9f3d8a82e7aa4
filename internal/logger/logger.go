// Package logger provides a thin wrapper around zap for structured logging.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.Logger so callers can use zap's structured API directly.
type Logger struct {
	*zap.Logger
}

// NewLogger creates a production logger writing JSON to stderr.
func NewLogger() (*Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: zapLogger}, nil
}

// NewDevelopmentLogger creates a human-readable logger for local runs.
func NewDevelopmentLogger() (*Logger, error) {
	zapLogger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: zapLogger}, nil
}

// NewNopLogger creates a logger that discards everything. Useful in tests.
func NewNopLogger() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Sync flushes any buffered log entries. Safe to call on a nil inner logger.
func (l *Logger) Sync() error {
	if l.Logger == nil {
		return nil
	}

	return l.Logger.Sync()
}
