// Package logger provides the process-wide structured logger. All service
// paths log JSON to stdout; request-scoped attributes travel on the context.
package logger

import (
	"context"
	"log/slog"
	"os"
)

type contextKey string

const (
	RequestIDKey  contextKey = "request_id"
	EnvelopeIDKey contextKey = "envelope_id"
	SourceIPKey   contextKey = "source_ip"
	SubjectKey    contextKey = "subject"
)

var defaultLogger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetDefault replaces the process logger; tests use this to capture output.
func SetDefault(l *slog.Logger) {
	defaultLogger = l
}

func Info(ctx context.Context, msg string, attrs ...any) {
	defaultLogger.InfoContext(ctx, msg, appendContextAttrs(ctx, attrs)...)
}

func Warn(ctx context.Context, msg string, attrs ...any) {
	defaultLogger.WarnContext(ctx, msg, appendContextAttrs(ctx, attrs)...)
}

func Error(ctx context.Context, msg string, attrs ...any) {
	defaultLogger.ErrorContext(ctx, msg, appendContextAttrs(ctx, attrs)...)
}

func Debug(ctx context.Context, msg string, attrs ...any) {
	defaultLogger.DebugContext(ctx, msg, appendContextAttrs(ctx, attrs)...)
}

// WithEnvelope returns a context whose log lines carry the envelope id.
func WithEnvelope(ctx context.Context, envelopeID string) context.Context {
	return context.WithValue(ctx, EnvelopeIDKey, envelopeID)
}

func appendContextAttrs(ctx context.Context, attrs []any) []any {
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		attrs = append(attrs, slog.String("request_id", reqID))
	}
	if envID, ok := ctx.Value(EnvelopeIDKey).(string); ok {
		attrs = append(attrs, slog.String("envelope_id", envID))
	}
	if ip, ok := ctx.Value(SourceIPKey).(string); ok {
		attrs = append(attrs, slog.String("source_ip", ip))
	}
	if subject, ok := ctx.Value(SubjectKey).(string); ok {
		attrs = append(attrs, slog.String("subject", subject))
	}
	return attrs
}
