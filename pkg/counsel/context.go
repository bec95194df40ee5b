// Package counsel holds the data model shared by the legal assistant pipeline
// together with the context helpers used for logging and error metadata.
//
// Every component receives its logger, trace id and request id through the
// context so a single question can be followed from the embedding call down
// to the completion provider.
package counsel

import (
	"context"
	"log/slog"
)

type ctxKey string

const (
	loggerKey    ctxKey = "counsel.logger"
	traceIDKey   ctxKey = "counsel.trace_id"
	requestIDKey ctxKey = "counsel.request_id"
)

// WithLogger stores a slog.Logger in the context.
//
// The logger is picked up by LogInfo, LogDebug, LogWarn and LogError.
// When no logger is set, slog.Default() is used.
//
// Example:
//
//	ctx = counsel.WithLogger(ctx, logger.New(logger.Config{Level: "debug"}))
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger retrieves the slog.Logger from context, or slog.Default().
func Logger(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}

// WithTraceID stores a trace ID in the context.
//
// Tracer providers set it when a span starts so log lines and errors can be
// correlated with traces.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID retrieves the trace ID from context. Returns "" when absent.
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID stores a request ID in the context.
//
// Chat integrations typically use the inbound message id.
//
// Example:
//
//	ctx = counsel.WithRequestID(ctx, event.ClientMsgID)
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID retrieves the request ID from context. Returns "" when absent.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
