package counsel

import (
	"context"
	"log/slog"
)

// LogInfo logs an info-level message with context metadata.
//
// trace_id and request_id are appended when present in the context.
//
// Example:
//
//	counsel.LogInfo(ctx, "session created", "user_id", userID)
func LogInfo(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelInfo, msg, args)
}

// LogDebug logs a debug-level message with context metadata.
//
// Example:
//
//	counsel.LogDebug(ctx, "embedding cache hit", "key", key)
func LogDebug(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelDebug, msg, args)
}

// LogWarn logs a warning-level message with context metadata.
//
// Used for degradations that must not surface to the user, such as a failed
// cache write after a successful answer.
func LogWarn(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelWarn, msg, args)
}

// LogError logs an error-level message with context metadata.
//
// If err is not nil it is added under the "error" key. When err is a *Error
// its kind and tags are attached as well.
//
// Example:
//
//	counsel.LogError(ctx, "completion failed", err, "provider", "anthropic")
func LogError(ctx context.Context, msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err)
		if e, ok := AsError(err); ok {
			if e.kind != KindUnknown {
				args = append(args, "kind", e.kind.String())
			}
			for _, attr := range e.attrs {
				args = append(args, attr)
			}
		}
	}
	logAt(ctx, slog.LevelError, msg, args)
}

// LogWith returns a logger with the context fields and args pre-attached.
//
// Example:
//
//	log := counsel.LogWith(ctx, "component", "respcache")
//	log.Debug("scan complete", "entries", n)
func LogWith(ctx context.Context, args ...any) *slog.Logger {
	return Logger(ctx).With(appendContextFields(ctx, args)...)
}

func logAt(ctx context.Context, level slog.Level, msg string, args []any) {
	logger := Logger(ctx)
	if !logger.Enabled(ctx, level) {
		return
	}
	logger.Log(ctx, level, msg, appendContextFields(ctx, args)...)
}

// appendContextFields adds trace_id and request_id to args if present in context.
func appendContextFields(ctx context.Context, args []any) []any {
	if traceID := TraceID(ctx); traceID != "" {
		args = append(args, "trace_id", traceID)
	}
	if requestID := RequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	return args
}
