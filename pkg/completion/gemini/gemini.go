// Package gemini answers completion requests with the Google Gen AI API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/calque-ai/go-counsel/pkg/completion"
	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/helpers"
)

// DefaultModel is used when New is given an empty model name.
const DefaultModel = "gemini-2.5-flash"

const providerName = "gemini"

// Config holds Gemini settings.
type Config struct {
	// Required. API key, read from GOOGLE_API_KEY by default.
	APIKey string
	// Optional. Overrides the API endpoint.
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

// WithConfig merges cfg over the defaults.
func WithConfig(cfg *Config) Option {
	return configOption{config: cfg}
}

// DefaultConfig returns defaults with the API key taken from the environment.
func DefaultConfig() *Config {
	return &Config{
		APIKey:      os.Getenv("GOOGLE_API_KEY"),
		MaxTokens:   4096,
		Temperature: helpers.PtrOf(0.3),
	}
}

// Provider implements completion.Provider.
type Provider struct {
	client *genai.Client
	model  string
	config *Config
}

var _ completion.Provider = (*Provider)(nil)

// New creates a Gemini provider.
func New(ctx context.Context, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		model = DefaultModel
	}
	config := DefaultConfig()
	for _, opt := range opts {
		opt.Apply(config)
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY environment variable not set or provided in config")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Provider{client: client, model: model, config: config}, nil
}

// buildContents converts the request to Gemini contents and config.
func (p *Provider) buildContents(req *completion.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	turns := req.Messages()
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		role := genai.Role(genai.RoleUser)
		if turn.Role == counsel.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemPrompt(), genai.RoleUser),
	}
	if p.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(p.config.MaxTokens)
	}
	if p.config.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*p.config.Temperature))
	}
	return contents, cfg
}

// Generate implements completion.Provider.
func (p *Provider) Generate(ctx context.Context, req *completion.Request) (*completion.Result, error) {
	contents, cfg := p.buildContents(req)
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, classify(ctx, err)
	}
	text := resp.Text()
	if text == "" {
		return nil, completion.ProviderError(ctx, providerName, 0, errors.New("response contained no text"))
	}
	return &completion.Result{Text: text, Usage: usageOf(resp)}, nil
}

// Stream implements completion.Provider. Usage is taken from the last chunk
// that reports it.
func (p *Provider) Stream(ctx context.Context, req *completion.Request, sink completion.Sink) (*completion.Result, error) {
	contents, cfg := p.buildContents(req)

	var (
		sb    strings.Builder
		usage counsel.Usage
	)
	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, cfg) {
		if err != nil {
			return nil, classify(ctx, err)
		}
		if u := usageOf(resp); u != (counsel.Usage{}) {
			usage = u
		}
		if text := resp.Text(); text != "" {
			sb.WriteString(text)
			if err := sink(text); err != nil {
				return nil, err
			}
		}
	}
	return &completion.Result{Text: sb.String(), Usage: usage}, nil
}

func usageOf(resp *genai.GenerateContentResponse) counsel.Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return counsel.Usage{}
	}
	return counsel.Usage{
		InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}

func classify(ctx context.Context, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return completion.ProviderError(ctx, providerName, apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return completion.ProviderError(ctx, providerName, apiErrPtr.Code, err)
	}
	return completion.ProviderError(ctx, providerName, 0, err)
}
