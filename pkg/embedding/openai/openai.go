// Package openai embeds text with the OpenAI embeddings API.
//
// Example:
//
//	provider, err := openai.New("text-embedding-3-large", openai.WithDimensions(1536))
//	client, _ := embedding.New(provider, store)
package openai

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/embedding"
	"github.com/calque-ai/go-counsel/pkg/helpers"
)

// DefaultModel is the embedding model used when none is configured.
const DefaultModel = "text-embedding-3-large"

// Config holds OpenAI embedding settings.
type Config struct {
	// Required. API key, read from OPENAI_API_KEY by default.
	APIKey string
	// Optional. Base URL for OpenAI-compatible endpoints.
	BaseURL string
	// Optional. Output dimensionality; zero uses the model default.
	Dimensions int
	// Optional. Maximum texts per request; must be positive.
	BatchSize int
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

// WithDimensions sets the output dimensionality.
func WithDimensions(dims int) Option {
	return configOption{config: &Config{Dimensions: dims}}
}

// DefaultConfig returns defaults with the API key taken from the environment.
func DefaultConfig() *Config {
	return &Config{
		APIKey:     os.Getenv("OPENAI_API_KEY"),
		Dimensions: 1536,
		BatchSize:  256,
	}
}

// Provider implements embedding.Provider.
type Provider struct {
	client *openai.Client
	model  string
	config *Config
}

var _ embedding.Provider = (*Provider)(nil)

// New creates an OpenAI embedding provider.
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
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", config.BatchSize)
	}

	clientOptions := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(config.BaseURL))
	}
	client := openai.NewClient(clientOptions...)

	return &Provider{client: &client, model: model, config: config}, nil
}

// Embed implements embedding.Provider.
func (p *Provider) Embed(ctx context.Context, texts []string) ([]counsel.Vector, error) {
	out := make([]counsel.Vector, 0, len(texts))
	for start := 0; start < len(texts); start += p.config.BatchSize {
		end := min(start+p.config.BatchSize, len(texts))
		vecs, err := p.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *Provider) embedBatch(ctx context.Context, texts []string) ([]counsel.Vector, error) {
	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openai.EmbeddingModel(p.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if p.config.Dimensions > 0 {
		params.Dimensions = openai.Int(int64(p.config.Dimensions))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, helpers.WrapError(err, "openai embeddings request failed")
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	// responses carry an index; do not assume they arrive in order
	out := make([]counsel.Vector, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai returned embedding index %d out of range", d.Index)
		}
		out[d.Index] = counsel.FromFloat64(d.Embedding)
	}
	return out, nil
}
