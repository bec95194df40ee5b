// Package ollama answers completion requests with an Ollama server's chat API.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/calque-ai/go-counsel/pkg/completion"
	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/helpers"
)

// DefaultModel is used when New is given an empty model name.
const DefaultModel = "llama3.2"

const providerName = "ollama"

// Config holds Ollama settings.
type Config struct {
	// Optional. Server URL; empty uses OLLAMA_HOST or the local default.
	Host string
	// Optional. Maximum output tokens, sent as num_predict (4096 by default).
	MaxTokens int
	// Optional. Sampling temperature (0.3 by default).
	Temperature *float64
	// Optional. How long the model stays loaded after a call, e.g. "5m".
	KeepAlive string
}

// Option configures a Provider.
type Option interface {
	Apply(*Config)
}

type configOption struct {
	config *Config
}

func (o configOption) Apply(c *Config) { helpers.MergeConfig(c, o.config) }

// WithConfig merges cfg over the defaults.
func WithConfig(cfg *Config) Option {
	return configOption{config: cfg}
}

// WithHost points the provider at a specific server.
func WithHost(host string) Option {
	return configOption{config: &Config{Host: host}}
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	return &Config{MaxTokens: 4096, Temperature: helpers.PtrOf(0.3)}
}

// Provider implements completion.Provider.
type Provider struct {
	client *api.Client
	model  string
	config *Config
}

var _ completion.Provider = (*Provider)(nil)

// New creates an Ollama provider.
func New(model string, opts ...Option) (*Provider, error) {
	if model == "" {
		model = DefaultModel
	}
	config := DefaultConfig()
	for _, opt := range opts {
		opt.Apply(config)
	}

	var client *api.Client
	if config.Host == "" {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
	} else {
		base, err := url.Parse(config.Host)
		if err != nil {
			return nil, fmt.Errorf("invalid Ollama host %q: %w", config.Host, err)
		}
		client = api.NewClient(base, http.DefaultClient)
	}

	return &Provider{client: client, model: model, config: config}, nil
}

func (p *Provider) buildRequest(req *completion.Request, stream bool) *api.ChatRequest {
	turns := req.Messages()
	messages := make([]api.Message, 0, len(turns)+1)
	messages = append(messages, api.Message{Role: "system", Content: req.SystemPrompt()})
	for _, turn := range turns {
		messages = append(messages, api.Message{Role: string(turn.Role), Content: turn.Text})
	}

	options := map[string]any{}
	if p.config.MaxTokens > 0 {
		options["num_predict"] = p.config.MaxTokens
	}
	if p.config.Temperature != nil {
		options["temperature"] = *p.config.Temperature
	}

	chatReq := &api.ChatRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}
	if p.config.KeepAlive != "" {
		if d, err := time.ParseDuration(p.config.KeepAlive); err == nil {
			chatReq.KeepAlive = &api.Duration{Duration: d}
		}
	}
	return chatReq
}

// Generate implements completion.Provider.
func (p *Provider) Generate(ctx context.Context, req *completion.Request) (*completion.Result, error) {
	return p.chat(ctx, req, false, nil)
}

// Stream implements completion.Provider.
func (p *Provider) Stream(ctx context.Context, req *completion.Request, sink completion.Sink) (*completion.Result, error) {
	return p.chat(ctx, req, true, sink)
}

func (p *Provider) chat(ctx context.Context, req *completion.Request, stream bool, sink completion.Sink) (*completion.Result, error) {
	var (
		sb      strings.Builder
		usage   counsel.Usage
		sinkErr error
	)
	err := p.client.Chat(ctx, p.buildRequest(req, stream), func(resp api.ChatResponse) error {
		if delta := resp.Message.Content; delta != "" {
			sb.WriteString(delta)
			if sink != nil {
				if err := sink(delta); err != nil {
					sinkErr = err
					return err
				}
			}
		}
		if resp.Done {
			usage = counsel.Usage{InputTokens: resp.PromptEvalCount, OutputTokens: resp.EvalCount}
		}
		return nil
	})
	if sinkErr != nil {
		return nil, sinkErr
	}
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return nil, completion.ProviderError(ctx, providerName, statusErr.StatusCode, err)
		}
		return nil, completion.ProviderError(ctx, providerName, 0, err)
	}
	return &completion.Result{Text: sb.String(), Usage: usage}, nil
}
