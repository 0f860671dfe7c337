package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

type Logger struct {
	*slog.Logger
}

type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// ContextKey for correlation IDs
type contextKey string

const correlationIDKey contextKey = "correlation_id"

func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func NewLogger(level LogLevel) *Logger {
	return NewLoggerTo(os.Stdout, level)
}

// NewLoggerTo writes JSON records to w.
func NewLoggerTo(w io.Writer, level LogLevel) *Logger {
	var slogLevel slog.Level
	switch level {
	case LevelDebug:
		slogLevel = slog.LevelDebug
	case LevelInfo:
		slogLevel = slog.LevelInfo
	case LevelWarn:
		slogLevel = slog.LevelWarn
	case LevelError:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}

	handler := slog.NewJSONHandler(w, opts)
	return &Logger{Logger: slog.New(handler)}
}

// Nop discards everything. Handy in tests.
func Nop() *Logger {
	return NewLoggerTo(io.Discard, LevelError)
}

// WithCorrelationID adds a correlation ID to the context
func WithCorrelationID(ctx context.Context) context.Context {
	if GetCorrelationID(ctx) == "" {
		correlationID := uuid.New().String()
		return context.WithValue(ctx, correlationIDKey, correlationID)
	}
	return ctx
}

// ContextWithCorrelationID stores an externally supplied correlation ID.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// GetCorrelationID retrieves the correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey).(string); ok {
		return correlationID
	}
	return ""
}

func withCorrelation(ctx context.Context, args []any) []any {
	if correlationID := GetCorrelationID(ctx); correlationID != "" {
		args = append(args, "correlation_id", correlationID)
	}
	return args
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.Logger.Debug(msg, withCorrelation(ctx, args)...)
}

func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.Logger.Info(msg, withCorrelation(ctx, args)...)
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.Logger.Warn(msg, withCorrelation(ctx, args)...)
}

func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.Logger.Error(msg, withCorrelation(ctx, args)...)
}

// LogDestinationOperation logs admin writes without payloads.
func (l *Logger) LogDestinationOperation(ctx context.Context, operation, id string, success bool) {
	l.Logger.Info("destination operation",
		"operation", operation,
		"destination_id", id,
		"success", success,
		"correlation_id", GetCorrelationID(ctx),
	)
}

// LogResolution logs which destination a QR resolved to. An empty
// destinationID means nothing was live.
func (l *Logger) LogResolution(ctx context.Context, qrID, destinationID string, candidates int, conflict bool) {
	level := slog.LevelDebug
	if conflict {
		level = slog.LevelWarn
	}
	l.Logger.Log(ctx, level, "qr resolved",
		"qr_id", qrID,
		"destination_id", destinationID,
		"candidates", candidates,
		"conflict", conflict,
		"correlation_id", GetCorrelationID(ctx),
	)
}

// LogTriggerAction records one trigger outcome for auditing.
func (l *Logger) LogTriggerAction(ctx context.Context, triggerID, action, targetQRID, status, reason string) {
	level := slog.LevelInfo
	if status != "applied" {
		level = slog.LevelWarn
	}
	l.Logger.Log(ctx, level, "trigger action",
		"trigger_id", triggerID,
		"action", action,
		"target_qr_id", targetQRID,
		"status", status,
		"reason", reason,
		"correlation_id", GetCorrelationID(ctx),
	)
}

// LogAuthEvent logs authentication events without sensitive data
func (l *Logger) LogAuthEvent(ctx context.Context, event string, userID string, success bool) {
	l.Logger.Info("auth event",
		"event", event,
		"user_hash", hashSensitiveData(userID),
		"success", success,
		"correlation_id", GetCorrelationID(ctx),
	)
}

// Simple hash function for sensitive data logging
func hashSensitiveData(data string) string {
	if len(data) < 8 {
		return "***"
	}
	return data[:3] + "***" + data[len(data)-3:]
}
