// Package core carries request-scoped correlation values: the inbound
// request ID, the host conversation ID, and a logger annotated with both.
package core

import (
	"context"
	"log/slog"
)

type requestIDKey struct{}
type conversationIDKey struct{}
type loggerKey struct{}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func WithConversationID(ctx context.Context, conversationID string) context.Context {
	if ctx == nil || conversationID == "" {
		return ctx
	}
	return context.WithValue(ctx, conversationIDKey{}, conversationID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

func ConversationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(conversationIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithLogger attaches a slog logger to the context. Callers should prefer
// passing a logger with useful correlation fields (e.g. request_id, task).
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext returns the logger attached to the context, or
// slog.Default() if absent.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}
