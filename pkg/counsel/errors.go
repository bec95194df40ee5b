package counsel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Kind classifies a failure so callers can decide between retrying,
// rendering guidance, or giving up.
type Kind int

const (
	// KindUnknown is used for errors that were not classified.
	KindUnknown Kind = iota
	// KindInvalidInput rejects empty or malformed input before any external call.
	KindInvalidInput
	// KindEmbeddingService reports a failed or timed out embedding call.
	KindEmbeddingService
	// KindIndexUnavailable reports an unreachable vector index.
	KindIndexUnavailable
	// KindCompletionAuth reports a rejected completion credential.
	KindCompletionAuth
	// KindCompletionRateLimited reports that the completion provider asked us to back off.
	KindCompletionRateLimited
	// KindCompletionBadRequest reports a prompt the provider refused as malformed.
	KindCompletionBadRequest
	// KindCompletionUnreachable reports network failures and timeouts talking to the provider.
	KindCompletionUnreachable
	// KindStoreUnavailable reports a failing key-value store.
	KindStoreUnavailable
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindInvalidInput:          "invalid_input",
	KindEmbeddingService:      "embedding_service_error",
	KindIndexUnavailable:      "index_unavailable",
	KindCompletionAuth:        "completion_auth_error",
	KindCompletionRateLimited: "completion_rate_limited",
	KindCompletionBadRequest:  "completion_bad_request",
	KindCompletionUnreachable: "completion_unreachable",
	KindStoreUnavailable:      "store_unavailable",
}

// String returns the snake_case name used in logs and metric labels.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinel errors, one per kind. errors.Is(err, ErrX) matches any *Error of the same kind.
var (
	ErrInvalidInput          = &Error{msg: "invalid input", kind: KindInvalidInput}
	ErrEmbeddingService      = &Error{msg: "embedding service error", kind: KindEmbeddingService}
	ErrIndexUnavailable      = &Error{msg: "vector index unavailable", kind: KindIndexUnavailable}
	ErrCompletionAuth        = &Error{msg: "completion authentication failed", kind: KindCompletionAuth}
	ErrCompletionRateLimited = &Error{msg: "completion rate limited", kind: KindCompletionRateLimited}
	ErrCompletionBadRequest  = &Error{msg: "completion bad request", kind: KindCompletionBadRequest}
	ErrCompletionUnreachable = &Error{msg: "completion service unreachable", kind: KindCompletionUnreachable}
	ErrStoreUnavailable      = &Error{msg: "key-value store unavailable", kind: KindStoreUnavailable}
)

// ErrSessionNotFound is returned for a session whose metadata has expired.
var ErrSessionNotFound = errors.New("session not found")

// Error is a context-aware error that carries a Kind plus metadata for logging.
//
// It supports errors.Is, errors.As and errors.Unwrap. Metadata includes trace ID,
// request ID, and arbitrary tags as slog.Attr.
//
// Example:
//
//	return counsel.KindErr(ctx, counsel.KindIndexUnavailable, err, "qdrant query failed").
//	    Tag(slog.String("collection", name))
type Error struct {
	msg       string
	kind      Kind
	cause     error
	traceID   string
	requestID string
	attrs     []slog.Attr
}

// WrapErr wraps an existing error with context metadata.
//
// The kind is inherited from the wrapped error when it already carries one.
func WrapErr(ctx context.Context, err error, msg string) *Error {
	return &Error{
		msg:       msg,
		kind:      KindOf(err),
		cause:     err,
		traceID:   TraceID(ctx),
		requestID: RequestID(ctx),
	}
}

// NewErr creates a new error with context metadata and no underlying cause.
func NewErr(ctx context.Context, msg string) *Error {
	return &Error{
		msg:       msg,
		traceID:   TraceID(ctx),
		requestID: RequestID(ctx),
	}
}

// KindErr creates a classified error. err may be nil.
//
// Example:
//
//	if strings.TrimSpace(q) == "" {
//	    return nil, counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "question is empty")
//	}
func KindErr(ctx context.Context, kind Kind, err error, msg string) *Error {
	e := WrapErr(ctx, err, msg)
	e.kind = kind
	return e
}

// Tag adds a slog.Attr to the error. Returns the error for chaining.
func (e *Error) Tag(attr slog.Attr) *Error {
	e.attrs = append(e.attrs, attr)
	return e
}

// Tags adds multiple slog.Attr to the error.
func (e *Error) Tags(attrs ...slog.Attr) *Error {
	e.attrs = append(e.attrs, attrs...)
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Kind returns the failure class.
func (e *Error) Kind() Kind {
	return e.kind
}

// Message returns the error message without the cause.
func (e *Error) Message() string {
	return e.msg
}

// TraceID returns the trace ID captured when the error was created.
func (e *Error) TraceID() string {
	return e.traceID
}

// RequestID returns the request ID captured when the error was created.
func (e *Error) RequestID() string {
	return e.requestID
}

// Attrs returns the slog attributes attached to this error.
func (e *Error) Attrs() []slog.Attr {
	return e.attrs
}

// LogAttrs returns all attributes including kind, trace_id and request_id.
func (e *Error) LogAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(e.attrs)+4)
	if e.cause != nil {
		attrs = append(attrs, slog.Any("error", e.cause))
	}
	if e.kind != KindUnknown {
		attrs = append(attrs, slog.String("kind", e.kind.String()))
	}
	if e.traceID != "" {
		attrs = append(attrs, slog.String("trace_id", e.traceID))
	}
	if e.requestID != "" {
		attrs = append(attrs, slog.String("request_id", e.requestID))
	}
	return append(attrs, e.attrs...)
}

// Is matches another *Error of the same kind. Unclassified errors match on message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.kind != KindUnknown || e.kind != KindUnknown {
		return e.kind == t.kind
	}
	return e.msg == t.msg
}

// AsError extracts the outermost *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the first non-unknown kind found in the error chain.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok && e.kind != KindUnknown {
			return e.kind
		}
		err = errors.Unwrap(err)
	}
	return KindUnknown
}

// Retryable reports whether a caller may retry the operation with backoff.
//
// Transient kinds are index, completion-unreachable and store failures.
// Invalid input and bad requests are never retryable. Rate limiting is
// left to the caller's backoff policy and is reported separately.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindIndexUnavailable, KindCompletionUnreachable, KindStoreUnavailable:
		return true
	default:
		return false
	}
}

// UserMessage renders a short, user-facing explanation for a failure.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindInvalidInput:
		return "Please ask a question so I can help."
	case KindEmbeddingService:
		return "I couldn't analyze your question right now. Please try again shortly."
	case KindIndexUnavailable:
		return "The legal knowledge base is temporarily unavailable. Please try again in a moment."
	case KindCompletionAuth:
		return "The assistant is misconfigured (authentication failed). Please contact an administrator."
	case KindCompletionRateLimited:
		return "I'm receiving too many requests right now. Please wait a minute and try again."
	case KindCompletionBadRequest:
		return "Your question couldn't be processed. Try rephrasing or shortening it."
	case KindCompletionUnreachable:
		return "The AI service is unreachable right now. Please try again shortly."
	case KindStoreUnavailable:
		return "Storage is temporarily unavailable. Please try again shortly."
	default:
		return "Something went wrong while answering your question."
	}
}
