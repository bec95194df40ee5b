// Package assistant answers legal questions end to end: it resolves the
// user's session, serves semantically cached answers, and otherwise
// retrieves context, asks the completion model and records the exchange.
//
// Only retrieval and completion failures reach the caller. A failing
// response cache or session store is logged and counted, and the question
// is still answered.
//
// Example:
//
//	la, _ := assistant.New(embedder, retriever, completer,
//		assistant.WithCache(respcache.New(store)),
//		assistant.WithSessions(session.NewStore(store)))
//	resp, err := la.Ask(ctx, assistant.Query{UserID: "U1", MessageID: "m1", Question: "What is due process?"})
package assistant

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/calque-ai/go-counsel/pkg/completion"
	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/observability"
	"github.com/calque-ai/go-counsel/pkg/retrieval"
)

// ErrDuplicateMessage is returned for a message id that was already handled.
// Callers treat it as a silent no-op.
var ErrDuplicateMessage = errors.New("duplicate message")

// Query is one inbound question.
type Query struct {
	UserID string
	// MessageID identifies the inbound event for deduplication. Empty
	// disables deduplication for this query.
	MessageID string
	Question  string
	// History, when non-nil, replaces the stored session history.
	History []counsel.Turn
	Filter  retrieval.Filter
	// TopK overrides the retriever's default result bound.
	TopK int
}

// Embedder embeds the question for cache lookups.
type Embedder interface {
	Embed(ctx context.Context, text string) (counsel.Vector, error)
}

// Retriever produces the context block for a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts retrieval.Options) (*retrieval.RetrievedContext, error)
}

// Completer generates the answer. *completion.Client satisfies it.
type Completer interface {
	Generate(ctx context.Context, req *completion.Request) (*completion.Result, error)
	Stream(ctx context.Context, req *completion.Request, sink completion.Sink) (*completion.Result, error)
}

// ResponseCache serves answers for near-identical questions.
// *respcache.Cache satisfies it.
type ResponseCache interface {
	Get(ctx context.Context, vector counsel.Vector, queryText string) (*counsel.Response, bool, error)
	Set(ctx context.Context, vector counsel.Vector, queryText string, resp *counsel.Response, ttl time.Duration) error
}

// SessionStore keeps conversation history. *session.Store satisfies it.
type SessionStore interface {
	CreateSession(ctx context.Context, userID string) (string, error)
	CurrentSession(ctx context.Context, userID string) (string, bool, error)
	History(ctx context.Context, sessionID string) ([]counsel.Turn, error)
	AppendExchange(ctx context.Context, sessionID string, user, assistant counsel.Turn) error
	Clear(ctx context.Context, sessionID string) error
}

// Config holds LegalAssistant settings.
type Config struct {
	SystemPrompt  string
	Cache         ResponseCache
	Sessions      SessionStore
	DedupCapacity int
	Metrics       observability.MetricsProvider
	Tracer        observability.TracerProvider
	Now           func() time.Time
}

// Option configures a LegalAssistant.
type Option func(*Config)

// WithSystemPrompt replaces completion.DefaultSystemPrompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) { c.SystemPrompt = prompt }
}

// WithCache enables the semantic response cache.
func WithCache(cache ResponseCache) Option {
	return func(c *Config) { c.Cache = cache }
}

// WithSessions enables conversational memory.
func WithSessions(store SessionStore) Option {
	return func(c *Config) { c.Sessions = store }
}

// WithDedupCapacity sets how many message ids are remembered.
func WithDedupCapacity(n int) Option {
	return func(c *Config) { c.DedupCapacity = n }
}

// WithMetrics records questions, errors and degradations.
func WithMetrics(m observability.MetricsProvider) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithTracer traces each question.
func WithTracer(t observability.TracerProvider) Option {
	return func(c *Config) { c.Tracer = t }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Now = now }
}

// LegalAssistant orchestrates one question at a time; it is safe for
// concurrent use.
type LegalAssistant struct {
	embedder  Embedder
	retriever Retriever
	completer Completer
	dedup     *Deduplicator
	config    Config
}

// New creates a LegalAssistant. The cache and session store are optional.
func New(embedder Embedder, retriever Retriever, completer Completer, opts ...Option) (*LegalAssistant, error) {
	if retriever == nil || completer == nil {
		return nil, errors.New("retriever and completer are required")
	}
	config := Config{
		SystemPrompt:  completion.DefaultSystemPrompt,
		DedupCapacity: DefaultDedupCapacity,
		Metrics:       observability.NoopMetricsProvider{},
		Tracer:        observability.NoopTracerProvider{},
		Now:           time.Now,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Cache != nil && embedder == nil {
		return nil, errors.New("an embedder is required when the response cache is enabled")
	}
	if config.Metrics == nil {
		config.Metrics = observability.NoopMetricsProvider{}
	}
	if config.Tracer == nil {
		config.Tracer = observability.NoopTracerProvider{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &LegalAssistant{
		embedder:  embedder,
		retriever: retriever,
		completer: completer,
		dedup:     NewDeduplicator(config.DedupCapacity),
		config:    config,
	}, nil
}

// Ask answers q.
func (a *LegalAssistant) Ask(ctx context.Context, q Query) (*counsel.Response, error) {
	return a.answer(ctx, q, nil)
}

// AskStream answers q, passing the answer to sink as it is generated. A
// cached answer is delivered as a single delta. The returned Response is
// the same as Ask's.
func (a *LegalAssistant) AskStream(ctx context.Context, q Query, sink completion.Sink) (*counsel.Response, error) {
	if sink == nil {
		return nil, counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "stream sink is required")
	}
	return a.answer(ctx, q, sink)
}

func (a *LegalAssistant) answer(ctx context.Context, q Query, sink completion.Sink) (resp *counsel.Response, err error) {
	question := strings.TrimSpace(q.Question)
	if question == "" {
		return nil, counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "question is empty")
	}
	if q.MessageID != "" {
		if counsel.RequestID(ctx) == "" {
			ctx = counsel.WithRequestID(ctx, q.MessageID)
		}
		if a.dedup.Seen(q.MessageID) {
			a.config.Metrics.Counter(ctx, observability.MetricDuplicates, 1, nil)
			counsel.LogDebug(ctx, "ignoring duplicate message", "message_id", q.MessageID)
			return nil, ErrDuplicateMessage
		}
	}

	ctx, span := a.config.Tracer.StartSpan(ctx, "assistant.ask",
		observability.WithSpanKind(observability.SpanKindServer),
		observability.WithAttributes(map[string]any{"user_id": q.UserID, "stream": sink != nil}))
	defer func() {
		if err != nil {
			a.config.Metrics.Counter(ctx, observability.MetricQuestions, 1, map[string]string{"result": "error"})
			a.config.Metrics.Counter(ctx, observability.MetricErrors, 1, map[string]string{"kind": counsel.KindOf(err).String()})
		}
		span.End(err)
	}()

	start := a.config.Now()
	sessionID := a.resolveSession(ctx, q.UserID)
	history := q.History
	if history == nil && sessionID != "" {
		history = a.history(ctx, sessionID)
	}

	var vector counsel.Vector
	if a.config.Cache != nil {
		if vector, err = a.embedder.Embed(ctx, question); err != nil {
			return nil, err
		}
		if cached := a.cached(ctx, vector, question); cached != nil {
			span.AddEvent("cache_hit", nil)
			a.config.Metrics.Counter(ctx, observability.MetricQuestions, 1, map[string]string{"result": "cached"})
			if sink != nil {
				if err := sink(cached.Answer); err != nil {
					return nil, err
				}
			}
			return cached, nil
		}
	}

	rc, err := a.retrieve(ctx, question, q)
	if err != nil {
		return nil, err
	}

	req := &completion.Request{
		System:   a.config.SystemPrompt,
		Context:  rc.Text,
		History:  history,
		Question: question,
	}
	result, err := a.complete(ctx, req, sink)
	if err != nil {
		return nil, err
	}

	resp = &counsel.Response{
		Answer:          result.Text,
		Citations:       rc.Citations,
		LegalContext:    rc.LegalContext,
		Usage:           result.Usage,
		RetrievedChunks: len(rc.Results),
		CreatedAt:       a.config.Now().UTC(),
	}

	if sessionID != "" {
		if err := a.config.Sessions.AppendExchange(ctx, sessionID,
			counsel.UserTurn(question), counsel.AssistantTurn(result.Text)); err != nil {
			a.degrade(ctx, "session", "append", err)
		}
	}
	if a.config.Cache != nil {
		if err := a.config.Cache.Set(ctx, vector, question, resp, 0); err != nil {
			a.degrade(ctx, "cache", "set", err)
		}
	}

	a.config.Metrics.Counter(ctx, observability.MetricQuestions, 1, map[string]string{"result": "answered"})
	counsel.LogInfo(ctx, "answered question",
		"user_id", q.UserID,
		"retrieved_chunks", resp.RetrievedChunks,
		"legal_context", resp.LegalContext,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration", a.config.Now().Sub(start))
	return resp, nil
}

// resolveSession returns the user's current session, creating one when
// needed, or "" when sessions are disabled or failing.
func (a *LegalAssistant) resolveSession(ctx context.Context, userID string) string {
	if a.config.Sessions == nil || userID == "" {
		return ""
	}
	sessionID, ok, err := a.config.Sessions.CurrentSession(ctx, userID)
	if err != nil {
		a.degrade(ctx, "session", "current", err)
		return ""
	}
	if ok {
		return sessionID
	}
	sessionID, err = a.config.Sessions.CreateSession(ctx, userID)
	if err != nil {
		a.degrade(ctx, "session", "create", err)
		return ""
	}
	return sessionID
}

func (a *LegalAssistant) history(ctx context.Context, sessionID string) []counsel.Turn {
	turns, err := a.config.Sessions.History(ctx, sessionID)
	if err != nil {
		a.degrade(ctx, "session", "history", err)
		return nil
	}
	return turns
}

func (a *LegalAssistant) cached(ctx context.Context, vector counsel.Vector, question string) *counsel.Response {
	resp, ok, err := a.config.Cache.Get(ctx, vector, question)
	if err != nil {
		a.degrade(ctx, "cache", "get", err)
		return nil
	}
	if !ok {
		return nil
	}
	return resp
}

func (a *LegalAssistant) retrieve(ctx context.Context, question string, q Query) (rc *retrieval.RetrievedContext, err error) {
	ctx, span := a.config.Tracer.StartSpan(ctx, "assistant.retrieve", observability.WithSpanKind(observability.SpanKindClient))
	defer func() { span.End(err) }()

	rc, err = a.retriever.Retrieve(ctx, question, retrieval.Options{TopK: q.TopK, Filter: q.Filter})
	if err != nil {
		return nil, err
	}
	span.SetAttribute("results", len(rc.Results))
	span.SetAttribute("legal_context", rc.LegalContext)
	return rc, nil
}

func (a *LegalAssistant) complete(ctx context.Context, req *completion.Request, sink completion.Sink) (result *completion.Result, err error) {
	ctx, span := a.config.Tracer.StartSpan(ctx, "assistant.complete", observability.WithSpanKind(observability.SpanKindClient))
	defer func() { span.End(err) }()

	if sink != nil {
		result, err = a.completer.Stream(ctx, req, sink)
	} else {
		result, err = a.completer.Generate(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	span.SetAttribute("input_tokens", result.Usage.InputTokens)
	span.SetAttribute("output_tokens", result.Usage.OutputTokens)
	return result, nil
}

// degrade logs and counts a failure that must not abort the answer.
func (a *LegalAssistant) degrade(ctx context.Context, component, op string, err error) {
	a.config.Metrics.Counter(ctx, observability.MetricDegradations, 1,
		map[string]string{"component": component, "op": op})
	counsel.LogWarn(ctx, "continuing without "+component, "op", op, "error", err)
}

// NewSession ends the user's current session, if any, and starts a new one.
func (a *LegalAssistant) NewSession(ctx context.Context, userID string) (string, error) {
	if a.config.Sessions == nil {
		return "", counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "sessions are not enabled")
	}
	current, ok, err := a.config.Sessions.CurrentSession(ctx, userID)
	if err != nil {
		return "", err
	}
	if ok {
		if err := a.config.Sessions.Clear(ctx, current); err != nil {
			return "", err
		}
	}
	sessionID, err := a.config.Sessions.CreateSession(ctx, userID)
	if err != nil {
		return "", err
	}
	counsel.LogInfo(ctx, "started new session", "user_id", userID, "session_id", sessionID)
	return sessionID, nil
}
