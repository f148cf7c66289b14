// Package logger provides the structured logging interface used across the
// client.
package logger

import "context"

// Logger is the minimal structured logging interface. Arguments are
// alternating key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger with additional key-value pairs attached
	// to every entry.
	With(args ...any) Logger

	// WithContext returns a child logger carrying the request correlation id
	// from the context, when one is present.
	WithContext(ctx context.Context) Logger
}

type requestIDKey struct{}

// ContextWithRequestID stores a request correlation id in the context. The
// client sets one per dispatched request so poll and submit entries can be
// tied together.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request correlation id stored in the
// context, or an empty string.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return requestID
	}
	return ""
}
