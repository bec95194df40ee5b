package counsel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestWrapErr(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-wrap")
	ctx = WithRequestID(ctx, "req-wrap")
	originalErr := errors.New("original error")

	err := WrapErr(ctx, originalErr, "operation failed")

	if err.Message() != "operation failed" {
		t.Errorf("Message() = %q, want %q", err.Message(), "operation failed")
	}
	if !errors.Is(err, originalErr) {
		t.Error("errors.Is() = false, want true for original error")
	}
	if err.TraceID() != "trace-wrap" {
		t.Errorf("TraceID() = %q, want %q", err.TraceID(), "trace-wrap")
	}
	if err.RequestID() != "req-wrap" {
		t.Errorf("RequestID() = %q, want %q", err.RequestID(), "req-wrap")
	}
	if !strings.Contains(err.Error(), "original error") {
		t.Errorf("Error() = %q, want cause included", err.Error())
	}
}

func TestKindErr_MatchesSentinel(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		kind     Kind
		sentinel error
	}{
		{"invalid input", KindInvalidInput, ErrInvalidInput},
		{"embedding", KindEmbeddingService, ErrEmbeddingService},
		{"index", KindIndexUnavailable, ErrIndexUnavailable},
		{"auth", KindCompletionAuth, ErrCompletionAuth},
		{"rate", KindCompletionRateLimited, ErrCompletionRateLimited},
		{"bad request", KindCompletionBadRequest, ErrCompletionBadRequest},
		{"unreachable", KindCompletionUnreachable, ErrCompletionUnreachable},
		{"store", KindStoreUnavailable, ErrStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := KindErr(ctx, tt.kind, errors.New("boom"), "failed")
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false, want true", err, tt.sentinel)
			}
			if errors.Is(err, ErrSessionNotFound) {
				t.Error("kinded error must not match unrelated sentinel")
			}
			if KindOf(err) != tt.kind {
				t.Errorf("KindOf() = %v, want %v", KindOf(err), tt.kind)
			}
		})
	}
}

func TestWrapErr_InheritsKind(t *testing.T) {
	ctx := context.Background()
	inner := KindErr(ctx, KindIndexUnavailable, nil, "qdrant down")
	outer := WrapErr(ctx, fmt.Errorf("search: %w", inner), "retrieve failed")

	if outer.Kind() != KindIndexUnavailable {
		t.Errorf("Kind() = %v, want %v", outer.Kind(), KindIndexUnavailable)
	}
	if !errors.Is(outer, ErrIndexUnavailable) {
		t.Error("errors.Is() = false, want true")
	}
	if errors.Is(outer, ErrCompletionAuth) {
		t.Error("errors.Is() matched the wrong kind")
	}
}

func TestRetryable(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindInvalidInput, false},
		{KindEmbeddingService, false},
		{KindIndexUnavailable, true},
		{KindCompletionAuth, false},
		{KindCompletionRateLimited, false},
		{KindCompletionBadRequest, false},
		{KindCompletionUnreachable, true},
		{KindStoreUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			t.Parallel()
			if got := Retryable(KindErr(ctx, tt.kind, nil, "x")); got != tt.want {
				t.Errorf("Retryable(%s) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
	if Retryable(errors.New("plain")) {
		t.Error("plain errors must not be retryable")
	}
}

func TestUserMessage(t *testing.T) {
	ctx := context.Background()
	seen := map[string]Kind{}
	for k := KindInvalidInput; k <= KindStoreUnavailable; k++ {
		msg := UserMessage(KindErr(ctx, k, nil, "x"))
		if msg == "" {
			t.Fatalf("UserMessage(%s) is empty", k)
		}
		if prev, dup := seen[msg]; dup {
			t.Errorf("kinds %s and %s share the same guidance", prev, k)
		}
		seen[msg] = k
	}
	if !strings.Contains(UserMessage(ErrCompletionRateLimited), "wait") {
		t.Errorf("rate-limit guidance should tell the user to wait")
	}
}

func TestError_LogAttrs(t *testing.T) {
	ctx := WithTraceID(context.Background(), "t-1")
	err := KindErr(ctx, KindStoreUnavailable, errors.New("conn refused"), "redis get").
		Tag(slog.String("key", "session:u1:current"))

	got := map[string]string{}
	for _, a := range err.LogAttrs() {
		got[a.Key] = a.Value.String()
	}
	if got["kind"] != "store_unavailable" {
		t.Errorf("kind attr = %q", got["kind"])
	}
	if got["trace_id"] != "t-1" {
		t.Errorf("trace_id attr = %q", got["trace_id"])
	}
	if got["key"] != "session:u1:current" {
		t.Errorf("key attr = %q", got["key"])
	}
	if _, ok := got["request_id"]; ok {
		t.Error("request_id should be omitted when absent")
	}
}
