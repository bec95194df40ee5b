// Package completion sends an assembled legal prompt to a language model and
// returns the answer with token usage.
//
// Providers live in sub-packages (anthropic, openai, ollama, gemini). Client
// wraps any of them with a per-call timeout, error classification and
// metrics:
//
//	provider, _ := anthropic.New("claude-sonnet-4-5")
//	client, _ := completion.New(provider)
//	res, err := client.Generate(ctx, &completion.Request{
//	    Context:  rc.Text,
//	    Question: "What is due process?",
//	})
package completion

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/observability"
)

// DefaultSystemPrompt is used when a Request carries no system prompt.
const DefaultSystemPrompt = "You are a careful legal research assistant. " +
	"Answer from the retrieved legal context, cite the specific authority you rely on, " +
	"and say plainly when the context does not cover the question."

// Request is one completion call.
type Request struct {
	// System instructions; DefaultSystemPrompt when empty.
	System string
	// Context is the rendered retrieval block.
	Context string
	// History holds prior turns, oldest first.
	History []counsel.Turn
	// Question is the new user turn.
	Question string
}

// Result is the generated answer.
type Result struct {
	Text  string
	Usage counsel.Usage
}

// Sink receives text deltas as they arrive. Returning an error aborts the
// stream and the error is returned unchanged.
type Sink func(delta string) error

// Provider talks to one model API. Implementations classify their failures
// with ProviderError.
type Provider interface {
	Generate(ctx context.Context, req *Request) (*Result, error)
	Stream(ctx context.Context, req *Request, sink Sink) (*Result, error)
}

// UserPrompt renders the final user message around the retrieved context.
func UserPrompt(retrieved, question string) string {
	var sb strings.Builder
	sb.WriteString("RETRIEVED LEGAL CONTEXT:\n")
	sb.WriteString(retrieved)
	sb.WriteString("\n\n---\n\nUSER QUESTION:\n")
	sb.WriteString(question)
	sb.WriteString("\n\n---\n\nAnswer the question using the retrieved context above. ")
	sb.WriteString("Include a plain English explanation and the specific citations you relied on.")
	return sb.String()
}

// Messages returns the history followed by the rendered user prompt.
func (r *Request) Messages() []counsel.Turn {
	out := make([]counsel.Turn, 0, len(r.History)+1)
	for _, turn := range r.History {
		if turn.Text == "" {
			continue
		}
		out = append(out, turn)
	}
	return append(out, counsel.UserTurn(UserPrompt(r.Context, r.Question)))
}

// SystemPrompt returns the system instructions to send.
func (r *Request) SystemPrompt() string {
	if r.System == "" {
		return DefaultSystemPrompt
	}
	return r.System
}

// StatusKind maps an HTTP status returned by a provider to an error kind.
func StatusKind(status int) counsel.Kind {
	switch {
	case status == 401 || status == 403:
		return counsel.KindCompletionAuth
	case status == 429:
		return counsel.KindCompletionRateLimited
	case status == 408 || status >= 500 || status == 0:
		return counsel.KindCompletionUnreachable
	case status >= 400:
		return counsel.KindCompletionBadRequest
	default:
		return counsel.KindCompletionUnreachable
	}
}

// ProviderError classifies a provider failure. status is the HTTP status of
// the failed response, or 0 when none was received.
func ProviderError(ctx context.Context, provider string, status int, err error) *counsel.Error {
	return counsel.KindErr(ctx, StatusKind(status), err, provider+" completion failed").
		Tags(slog.String("provider", provider), slog.Int("status", status))
}

// Config holds Client settings.
type Config struct {
	// Timeout bounds each call, 60s by default.
	Timeout time.Duration
	Metrics observability.MetricsProvider
}

// Option configures a Client.
type Option func(*Config)

// WithTimeout bounds each completion call.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithMetrics records latency and token usage.
func WithMetrics(m observability.MetricsProvider) Option {
	return func(c *Config) { c.Metrics = m }
}

// Client is the completion entry point used by the assistant.
type Client struct {
	provider Provider
	config   Config
}

// New wraps provider.
func New(provider Provider, opts ...Option) (*Client, error) {
	if provider == nil {
		return nil, errors.New("completion provider is required")
	}
	config := Config{Timeout: 60 * time.Second, Metrics: observability.NoopMetricsProvider{}}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Metrics == nil {
		config.Metrics = observability.NoopMetricsProvider{}
	}
	return &Client{provider: provider, config: config}, nil
}

// Generate produces the full answer in one call.
func (c *Client) Generate(ctx context.Context, req *Request) (*Result, error) {
	return c.call(ctx, req, "generate", func(ctx context.Context) (*Result, error) {
		return c.provider.Generate(ctx, req)
	})
}

// Stream delivers text to sink as it is produced and returns the complete
// Result, including usage, once the provider is done.
func (c *Client) Stream(ctx context.Context, req *Request, sink Sink) (*Result, error) {
	if sink == nil {
		return c.Generate(ctx, req)
	}
	var sinkErr error
	guarded := func(delta string) error {
		if delta == "" {
			return nil
		}
		if err := sink(delta); err != nil {
			sinkErr = err
			return err
		}
		return nil
	}

	res, err := c.call(ctx, req, "stream", func(ctx context.Context) (*Result, error) {
		return c.provider.Stream(ctx, req, guarded)
	})
	if sinkErr != nil {
		return nil, sinkErr
	}
	return res, err
}

func (c *Client) call(ctx context.Context, req *Request, mode string, fn func(context.Context) (*Result, error)) (*Result, error) {
	if req == nil || strings.TrimSpace(req.Question) == "" {
		return nil, counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "question is empty")
	}

	callCtx := ctx
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := fn(callCtx)
	c.config.Metrics.RecordDuration(ctx, observability.MetricStageDuration, time.Since(start),
		map[string]string{"stage": "complete"})
	if err != nil {
		return nil, classify(ctx, err, mode)
	}

	c.config.Metrics.Counter(ctx, observability.MetricTokens, int64(res.Usage.InputTokens),
		map[string]string{"direction": "input"})
	c.config.Metrics.Counter(ctx, observability.MetricTokens, int64(res.Usage.OutputTokens),
		map[string]string{"direction": "output"})
	counsel.LogDebug(ctx, "completion finished",
		"mode", mode,
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
		"duration", time.Since(start))
	return res, nil
}

// classify keeps provider kinds and maps anything unclassified, including
// deadline expiry, to KindCompletionUnreachable.
func classify(ctx context.Context, err error, mode string) error {
	if counsel.KindOf(err) != counsel.KindUnknown && !errors.Is(err, context.DeadlineExceeded) {
		return counsel.WrapErr(ctx, err, "completion failed").Tag(slog.String("mode", mode))
	}
	return counsel.KindErr(ctx, counsel.KindCompletionUnreachable, err, "completion failed").
		Tag(slog.String("mode", mode))
}
