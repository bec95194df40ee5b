// Package openai answers completion requests with the OpenAI Chat Completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/calque-ai/go-counsel/pkg/completion"
	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/helpers"
)

// DefaultModel is used when New is given an empty model name.
const DefaultModel = "gpt-4o"

const providerName = "openai"

// Config holds OpenAI settings.
type Config struct {
	// Required. API key, read from OPENAI_API_KEY by default.
	APIKey string
	// Optional. Base URL for OpenAI-compatible endpoints.
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
		APIKey:      os.Getenv("OPENAI_API_KEY"),
		MaxTokens:   4096,
		Temperature: helpers.PtrOf(0.3),
	}
}

// Provider implements completion.Provider.
type Provider struct {
	client *openai.Client
	model  shared.ChatModel
	config *Config
}

var _ completion.Provider = (*Provider)(nil)

// New creates an OpenAI provider.
func New(model string, opts ...Option) (*Provider, error) {
	if model == "" {
		model = DefaultModel
	}
	config := DefaultConfig()
	for _, opt := range opts {
		opt.Apply(config)
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set or provided in config")
	}

	clientOptions := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(config.BaseURL))
	}
	client := openai.NewClient(clientOptions...)

	return &Provider{client: &client, model: shared.ChatModel(model), config: config}, nil
}

func (p *Provider) buildParams(req *completion.Request) openai.ChatCompletionNewParams {
	turns := req.Messages()
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	messages = append(messages, openai.SystemMessage(req.SystemPrompt()))
	for _, turn := range turns {
		if turn.Role == counsel.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(turn.Text))
		} else {
			messages = append(messages, openai.UserMessage(turn.Text))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: messages,
	}
	if p.config.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(p.config.MaxTokens))
	}
	if p.config.Temperature != nil {
		params.Temperature = openai.Float(*p.config.Temperature)
	}
	return params
}

// Generate implements completion.Provider.
func (p *Provider) Generate(ctx context.Context, req *completion.Request) (*completion.Result, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, completion.ProviderError(ctx, providerName, 0, errors.New("no response choices returned"))
	}
	return &completion.Result{
		Text: resp.Choices[0].Message.Content,
		Usage: counsel.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// Stream implements completion.Provider. Usage arrives in the final chunk.
func (p *Provider) Stream(ctx context.Context, req *completion.Request, sink completion.Sink) (*completion.Result, error) {
	params := p.buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		sb    strings.Builder
		usage counsel.Usage
	)
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			usage = counsel.Usage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			sb.WriteString(delta)
			if err := sink(delta); err != nil {
				return nil, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classify(ctx, err)
	}
	return &completion.Result{Text: sb.String(), Usage: usage}, nil
}

func classify(ctx context.Context, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return completion.ProviderError(ctx, providerName, apiErr.StatusCode, err)
	}
	return completion.ProviderError(ctx, providerName, 0, err)
}
