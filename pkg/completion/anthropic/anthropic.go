// Package anthropic answers completion requests with the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/calque-ai/go-counsel/pkg/completion"
	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/helpers"
)

// DefaultModel is used when New is given an empty model name.
const DefaultModel = "claude-sonnet-4-5"

const providerName = "anthropic"

// Config holds Anthropic settings.
type Config struct {
	// Required. API key, read from ANTHROPIC_API_KEY by default.
	APIKey string
	// Optional. Base URL, useful for testing against a mock server.
	BaseURL string
	// Optional. Maximum output tokens (4096 by default).
	MaxTokens int
	// Optional. Sampling temperature (0.3 by default).
	Temperature *float64
}

// Option configures a Provider.
type Option interface {
	Apply(*Config)
}

type configOption struct {
	config *Config
}

func (o configOption) Apply(c *Config) { helpers.MergeConfig(c, o.config) }

// WithConfig merges cfg over the defaults; zero fields are ignored.
func WithConfig(cfg *Config) Option {
	return configOption{config: cfg}
}

// DefaultConfig returns defaults with the API key taken from the environment.
func DefaultConfig() *Config {
	return &Config{
		APIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		MaxTokens:   4096,
		Temperature: helpers.PtrOf(0.3),
	}
}

// Provider implements completion.Provider.
type Provider struct {
	client anthropicsdk.Client
	model  string
	config *Config
}

var _ completion.Provider = (*Provider)(nil)

// New creates an Anthropic provider. Returns an error if the API key is missing.
func New(model string, opts ...Option) (*Provider, error) {
	if model == "" {
		model = DefaultModel
	}
	config := DefaultConfig()
	for _, opt := range opts {
		opt.Apply(config)
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set or provided in config")
	}

	// retries and backoff belong to the caller
	clientOptions := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		client: anthropicsdk.NewClient(clientOptions...),
		model:  model,
		config: config,
	}, nil
}

func (p *Provider) buildParams(req *completion.Request) anthropicsdk.MessageNewParams {
	turns := req.Messages()
	messages := make([]anthropicsdk.MessageParam, 0, len(turns))
	for _, turn := range turns {
		block := anthropicsdk.NewTextBlock(turn.Text)
		if turn.Role == counsel.RoleAssistant {
			messages = append(messages, anthropicsdk.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropicsdk.NewUserMessage(block))
		}
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(p.model),
		Messages:  messages,
		MaxTokens: int64(p.config.MaxTokens),
		System:    []anthropicsdk.TextBlockParam{{Text: req.SystemPrompt()}},
	}
	if p.config.Temperature != nil {
		params.Temperature = anthropicsdk.Float(*p.config.Temperature)
	}
	return params
}

// Generate implements completion.Provider.
func (p *Provider) Generate(ctx context.Context, req *completion.Request) (*completion.Result, error) {
	msg, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, classify(ctx, err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, completion.ProviderError(ctx, providerName, 0, errors.New("response contained no text"))
	}
	return &completion.Result{
		Text: sb.String(),
		Usage: counsel.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// Stream implements completion.Provider.
func (p *Provider) Stream(ctx context.Context, req *completion.Request, sink completion.Sink) (*completion.Result, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(req))
	defer stream.Close()

	var (
		sb    strings.Builder
		usage counsel.Usage
	)
	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			usage.InputTokens = int(event.Message.Usage.InputTokens)
			usage.OutputTokens = int(event.Message.Usage.OutputTokens)
		case "content_block_delta":
			if event.Delta.Type != "text_delta" {
				continue
			}
			sb.WriteString(event.Delta.Text)
			if err := sink(event.Delta.Text); err != nil {
				return nil, err
			}
		case "message_delta":
			// message_delta carries the cumulative output count
			usage.OutputTokens = int(event.Usage.OutputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classify(ctx, err)
	}
	return &completion.Result{Text: sb.String(), Usage: usage}, nil
}

func classify(ctx context.Context, err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return completion.ProviderError(ctx, providerName, apiErr.StatusCode, err)
	}
	return completion.ProviderError(ctx, providerName, 0, err)
}
