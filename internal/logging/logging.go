// Package logging provides structured logging for the gameswap services.
// Request-scoped values (request id, payment reference) travel in the
// context so every log line written while handling a webhook or API
// call carries them without threading fields by hand.
package logging

import (
	"context"
	"log/slog"
	"os"
)

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	paymentRefKey contextKey = "payment_ref"
	loggerKey     contextKey = "logger"
)

// New creates a new structured logger
func New(level string, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID extracts the request ID from context
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithPaymentRef tags the context with the payment reference being
// processed. Webhook ingestion sets it once so settlement, refund, and
// notification logs all correlate to the same charge.
func WithPaymentRef(ctx context.Context, ref string) context.Context {
	return context.WithValue(ctx, paymentRefKey, ref)
}

// PaymentRef extracts the payment reference from context
func PaymentRef(ctx context.Context) string {
	if ref, ok := ctx.Value(paymentRefKey).(string); ok {
		return ref
	}
	return ""
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from context, or returns the default
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// L is a convenience function to get a logger with request context
func L(ctx context.Context) *slog.Logger {
	logger := FromContext(ctx)
	if reqID := RequestID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if ref := PaymentRef(ctx); ref != "" {
		logger = logger.With("payment_ref", ref)
	}
	return logger
}
