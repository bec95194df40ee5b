// Package gemini embeds text with the Google Gen AI embeddings API.
package gemini

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/embedding"
	"github.com/calque-ai/go-counsel/pkg/helpers"
)

// DefaultModel is used when no model is given.
const DefaultModel = "gemini-embedding-001"

// Config holds Gemini embedding settings.
type Config struct {
	// Required. API key, read from GOOGLE_API_KEY by default.
	APIKey string
	// Optional. Overrides the API endpoint.
	BaseURL string
	// Optional. Output dimensionality.
	Dimensions int
	// Optional. Task type hint such as RETRIEVAL_QUERY.
	TaskType string
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
		APIKey:     os.Getenv("GOOGLE_API_KEY"),
		Dimensions: 1536,
		TaskType:   "RETRIEVAL_QUERY",
	}
}

// Provider implements embedding.Provider.
type Provider struct {
	client *genai.Client
	model  string
	config *Config
}

var _ embedding.Provider = (*Provider)(nil)

// New creates a Gemini embedding provider.
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

// Embed implements embedding.Provider.
func (p *Provider) Embed(ctx context.Context, texts []string) ([]counsel.Vector, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	cfg := &genai.EmbedContentConfig{TaskType: p.config.TaskType}
	if p.config.Dimensions > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(p.config.Dimensions))
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, helpers.WrapError(err, "gemini embed request failed")
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	out := make([]counsel.Vector, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("gemini returned an empty embedding at index %d", i)
		}
		out[i] = counsel.Vector(e.Values)
	}
	return out, nil
}
