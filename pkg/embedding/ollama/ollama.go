// Package ollama embeds text with a local or remote Ollama server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/embedding"
	"github.com/calque-ai/go-counsel/pkg/helpers"
)

// DefaultModel is used when no model is given.
const DefaultModel = "nomic-embed-text"

// Config holds Ollama embedding settings.
type Config struct {
	// Optional. Server URL; empty uses OLLAMA_HOST or the local default.
	Host string
	// Optional. Output dimensionality for models that support truncation.
	Dimensions int
	// Optional. Truncate inputs that exceed the context length.
	Truncate *bool
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
	return &Config{Truncate: helpers.PtrOf(true)}
}

// Provider implements embedding.Provider over /api/embed.
type Provider struct {
	client *api.Client
	model  string
	config *Config
}

var _ embedding.Provider = (*Provider)(nil)

// New creates an Ollama embedding provider.
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
		u, err := url.Parse(config.Host)
		if err != nil {
			return nil, fmt.Errorf("invalid Ollama host %q: %w", config.Host, err)
		}
		client = api.NewClient(u, http.DefaultClient)
	}

	return &Provider{client: client, model: model, config: config}, nil
}

// Embed implements embedding.Provider.
func (p *Provider) Embed(ctx context.Context, texts []string) ([]counsel.Vector, error) {
	req := &api.EmbedRequest{
		Model:      p.model,
		Input:      texts,
		Truncate:   p.config.Truncate,
		Dimensions: p.config.Dimensions,
	}
	resp, err := p.client.Embed(ctx, req)
	if err != nil {
		return nil, helpers.WrapError(err, "ollama embed request failed")
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	out := make([]counsel.Vector, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = counsel.Vector(e)
	}
	return out, nil
}
