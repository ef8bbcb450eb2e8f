package logutil

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// OrDiscard returns logger, or a logger that drops everything when logger is nil.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTimingLogger returns a closure that logs a debug message with duration when called.
// Pass in the logger, a start time, a message, and any initial fields.
func NewTimingLogger(logger *slog.Logger, start time.Time, msg string, initialFields ...any) func() {
	return func() {
		elapsed := time.Since(start)
		finalFields := withField(initialFields, "duration", elapsed.String())
		logger.Debug(msg, finalFields...)
	}
}

// LogAndWrapErr logs an error with context fields and wraps it with a message.
// It returns a wrapped error (with %w) so errors.Is / errors.As still work.
func LogAndWrapErr(logger *slog.Logger, msg string, err error, fields ...any) error {
	if err == nil {
		return nil
	}
	// We conventionally put the error field at the end
	allFields := withField(fields, "err", err)
	logger.Error(msg, allFields...)
	return fmt.Errorf("%s: %w", msg, err)
}

// DebugAndWrapErr logs an error at debug level with context fields and wraps it with a message.
// It returns a wrapped error (with %w) so errors.Is / errors.As still work.
func DebugAndWrapErr(logger *slog.Logger, msg string, err error, fields ...any) error {
	if err == nil {
		return nil
	}
	allFields := withField(fields, "err", err)
	logger.Debug(msg, allFields...)
	return fmt.Errorf("%s: %w", msg, err)
}

// Swallow runs fn and reports whether it succeeded. A returned error or a panic
// is logged at warn level under msg and never reaches the caller.
func Swallow(logger *slog.Logger, msg string, fn func() error, fields ...any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn(msg, withField(fields, "panic", fmt.Sprint(r))...)
			ok = false
		}
	}()

	if err := fn(); err != nil {
		logger.Warn(msg, withField(fields, "err", err)...)
		return false
	}
	return true
}

// withField appends key and value to a copy of fields; the caller's backing array is never written.
func withField(fields []any, key string, value any) []any {
	return append(fields[:len(fields):len(fields)], key, value)
}
