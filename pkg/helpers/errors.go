package helpers

import (
	"fmt"
)

// WrapError wraps an error with additional context message.
//
// Returns nil when err is nil, so it can wrap a call result directly:
//
//	return helpers.WrapError(pool.Ping(ctx), "pgvector ping")
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WrapErrorf wraps an error with a formatted context message.
//
// Example:
//
//	err := helpers.WrapErrorf(err, "decode session %s", sessionID)
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	args = append(args, err)
	return fmt.Errorf(format+": %w", args...)
}
