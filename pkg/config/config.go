// Package config loads the legal assistant configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then a
// .env file, then process environment variables. Later layers win.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/helpers"
)

// Config is the full assistant configuration.
type Config struct {
	Log           LogConfig           `yaml:"log" json:"log"`
	KV            KVConfig            `yaml:"kv" json:"kv"`
	Embedding     EmbeddingConfig     `yaml:"embedding" json:"embedding"`
	VectorStore   VectorStoreConfig   `yaml:"vector_store" json:"vector_store"`
	Retrieval     RetrievalConfig     `yaml:"retrieval" json:"retrieval"`
	Completion    CompletionConfig    `yaml:"completion" json:"completion"`
	Cache         CacheConfig         `yaml:"cache" json:"cache"`
	Session       SessionConfig       `yaml:"session" json:"session"`
	Dedup         DedupConfig         `yaml:"dedup" json:"dedup"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // "json", "console"
}

// KVConfig selects and configures the key-value store.
type KVConfig struct {
	Backend string       `yaml:"backend" json:"backend"` // "redis", "badger", "memory"
	Redis   RedisConfig  `yaml:"redis" json:"redis"`
	Badger  BadgerConfig `yaml:"badger" json:"badger"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr        string        `yaml:"addr" json:"addr"`
	Password    string        `yaml:"password" json:"password"`
	DB          int           `yaml:"db" json:"db"`
	PingTimeout time.Duration `yaml:"ping_timeout" json:"ping_timeout"`
}

// BadgerConfig holds embedded store settings.
type BadgerConfig struct {
	Path     string `yaml:"path" json:"path"`
	InMemory bool   `yaml:"in_memory" json:"in_memory"`
}

// EmbeddingConfig configures the embedding provider and its cache.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider" json:"provider"` // "openai", "ollama", "gemini"
	Model      string        `yaml:"model" json:"model"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	APIKey     string        `yaml:"api_key" json:"-"`
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	CacheTTL   time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	LRUSize    int           `yaml:"lru_size" json:"lru_size"`
}

// VectorStoreConfig configures the vector index backend.
type VectorStoreConfig struct {
	Backend    string        `yaml:"backend" json:"backend"` // "pgvector", "qdrant", "weaviate"
	URL        string        `yaml:"url" json:"url"`
	APIKey     string        `yaml:"api_key" json:"-"`
	Collection string        `yaml:"collection" json:"collection"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// RetrievalConfig tunes context assembly.
type RetrievalConfig struct {
	TopK             int     `yaml:"top_k" json:"top_k"`
	MixedShare       float64 `yaml:"mixed_share" json:"mixed_share"`
	MaxContextTokens int     `yaml:"max_context_tokens" json:"max_context_tokens"`
	DedupSimilarity  float64 `yaml:"dedup_similarity" json:"dedup_similarity"`
}

// CompletionConfig configures the language-model provider.
type CompletionConfig struct {
	Provider    string        `yaml:"provider" json:"provider"` // "anthropic", "openai", "ollama", "gemini"
	Model       string        `yaml:"model" json:"model"`
	APIKey      string        `yaml:"api_key" json:"-"`
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens"`
	Temperature float64       `yaml:"temperature" json:"temperature"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// CacheConfig configures the semantic response cache.
type CacheConfig struct {
	Threshold         float64       `yaml:"threshold" json:"threshold"`
	DefinitionTTL     time.Duration `yaml:"definition_ttl" json:"definition_ttl"`
	ConstitutionalTTL time.Duration `yaml:"constitutional_ttl" json:"constitutional_ttl"`
	DefaultTTL        time.Duration `yaml:"default_ttl" json:"default_ttl"`
	// Phrase lists override the built-in English classifier when set.
	DefinitionPhrases     []string `yaml:"definition_phrases" json:"definition_phrases"`
	ConstitutionalPhrases []string `yaml:"constitutional_phrases" json:"constitutional_phrases"`
}

// SessionConfig configures conversation memory.
type SessionConfig struct {
	TTL            time.Duration `yaml:"ttl" json:"ttl"`
	MaxTurns       int           `yaml:"max_turns" json:"max_turns"`
	SweepSchedule  string        `yaml:"sweep_schedule" json:"sweep_schedule"`
	SweepThreshold int           `yaml:"sweep_threshold" json:"sweep_threshold"`
}

// DedupConfig bounds the processed message id set.
type DedupConfig struct {
	Capacity int `yaml:"capacity" json:"capacity"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	ServiceName     string `yaml:"service_name" json:"service_name"`
	MetricsAddr     string `yaml:"metrics_addr" json:"metrics_addr"`
	TracingEndpoint string `yaml:"tracing_endpoint" json:"tracing_endpoint"`
	TracingProtocol string `yaml:"tracing_protocol" json:"tracing_protocol"` // "grpc", "http"
	ServiceVersion  string `yaml:"service_version" json:"service_version"`
	// TracingSampleRate in [0,1] applies to root spans.
	TracingSampleRate float64           `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
	TracingSecure     bool              `yaml:"tracing_secure" json:"tracing_secure"`
	TracingHeaders    map[string]string `yaml:"tracing_headers" json:"tracing_headers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		KV: KVConfig{
			Backend: "redis",
			Redis:   RedisConfig{Addr: "localhost:6379", PingTimeout: 5 * time.Second},
			Badger:  BadgerConfig{Path: "./data/counsel"},
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-large",
			Dimensions: 1536,
			Timeout:    10 * time.Second,
			CacheTTL:   7 * 24 * time.Hour,
			LRUSize:    1024,
		},
		VectorStore: VectorStoreConfig{
			Backend:    "qdrant",
			URL:        "localhost:6334",
			Collection: "legal_chunks",
			Dimensions: 1536,
			Timeout:    10 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:            15,
			MixedShare:      0.2,
			DedupSimilarity: 0.95,
		},
		Completion: CompletionConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-5",
			MaxTokens:   4096,
			Temperature: 0.3,
			Timeout:     60 * time.Second,
		},
		Cache: CacheConfig{
			Threshold:         0.98,
			DefinitionTTL:     7 * 24 * time.Hour,
			ConstitutionalTTL: 30 * 24 * time.Hour,
			DefaultTTL:        24 * time.Hour,
		},
		Session: SessionConfig{
			TTL:            24 * time.Hour,
			MaxTurns:       50,
			SweepSchedule:  "@hourly",
			SweepThreshold: 100,
		},
		Dedup: DedupConfig{Capacity: 1000},
		Observability: ObservabilityConfig{
			ServiceName:       "go-counsel",
			TracingProtocol:   "grpc",
			TracingSampleRate: 1,
		},
	}
}

// Load builds a Config from defaults, the optional YAML file at path, the
// optional dotenv file and the environment, then validates it.
//
// Missing files are not an error; either path may be empty.
func Load(ctx context.Context, path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			counsel.LogDebug(ctx, "config file not found, using defaults", "path", path)
		case err != nil:
			return nil, counsel.WrapErr(ctx, err, "read config file")
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, counsel.KindErr(ctx, counsel.KindInvalidInput, err, fmt.Sprintf("parse config file %s", path))
			}
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, counsel.WrapErr(ctx, err, "load env file")
		}
	}

	cfg.LoadFromEnv()

	if err := cfg.Validate(ctx); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv overrides fields from COUNSEL_* environment variables.
// Unset variables keep the current value.
func (c *Config) LoadFromEnv() {
	c.Log.Level = helpers.GetStringFromEnv("COUNSEL_LOG_LEVEL", c.Log.Level)
	c.Log.Format = helpers.GetStringFromEnv("COUNSEL_LOG_FORMAT", c.Log.Format)

	c.KV.Backend = helpers.GetStringFromEnv("COUNSEL_KV_BACKEND", c.KV.Backend)
	c.KV.Redis.Addr = helpers.GetStringFromEnv("COUNSEL_REDIS_ADDR", c.KV.Redis.Addr)
	c.KV.Redis.Password = helpers.GetStringFromEnv("COUNSEL_REDIS_PASSWORD", c.KV.Redis.Password)
	c.KV.Redis.DB = helpers.GetIntFromEnv("COUNSEL_REDIS_DB", c.KV.Redis.DB)
	c.KV.Badger.Path = helpers.GetStringFromEnv("COUNSEL_BADGER_PATH", c.KV.Badger.Path)
	c.KV.Badger.InMemory = helpers.GetBoolFromEnv("COUNSEL_BADGER_IN_MEMORY", c.KV.Badger.InMemory)

	c.Embedding.Provider = helpers.GetStringFromEnv("COUNSEL_EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.Model = helpers.GetStringFromEnv("COUNSEL_EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Dimensions = helpers.GetIntFromEnv("COUNSEL_EMBEDDING_DIMENSIONS", c.Embedding.Dimensions)
	c.Embedding.APIKey = helpers.GetStringFromEnv("COUNSEL_EMBEDDING_API_KEY", c.Embedding.APIKey)
	c.Embedding.BaseURL = helpers.GetStringFromEnv("COUNSEL_EMBEDDING_BASE_URL", c.Embedding.BaseURL)
	c.Embedding.Timeout = helpers.GetDurationFromEnv("COUNSEL_EMBEDDING_TIMEOUT", c.Embedding.Timeout)

	c.VectorStore.Backend = helpers.GetStringFromEnv("COUNSEL_VECTOR_BACKEND", c.VectorStore.Backend)
	c.VectorStore.URL = helpers.GetStringFromEnv("COUNSEL_VECTOR_URL", c.VectorStore.URL)
	c.VectorStore.APIKey = helpers.GetStringFromEnv("COUNSEL_VECTOR_API_KEY", c.VectorStore.APIKey)
	c.VectorStore.Collection = helpers.GetStringFromEnv("COUNSEL_VECTOR_COLLECTION", c.VectorStore.Collection)
	c.VectorStore.Timeout = helpers.GetDurationFromEnv("COUNSEL_VECTOR_TIMEOUT", c.VectorStore.Timeout)

	c.Retrieval.TopK = helpers.GetIntFromEnv("COUNSEL_RETRIEVAL_TOP_K", c.Retrieval.TopK)
	c.Retrieval.MixedShare = helpers.GetFloatFromEnv("COUNSEL_RETRIEVAL_MIXED_SHARE", c.Retrieval.MixedShare)
	c.Retrieval.MaxContextTokens = helpers.GetIntFromEnv("COUNSEL_RETRIEVAL_MAX_CONTEXT_TOKENS", c.Retrieval.MaxContextTokens)

	c.Completion.Provider = helpers.GetStringFromEnv("COUNSEL_COMPLETION_PROVIDER", c.Completion.Provider)
	c.Completion.Model = helpers.GetStringFromEnv("COUNSEL_COMPLETION_MODEL", c.Completion.Model)
	c.Completion.APIKey = helpers.GetStringFromEnv("COUNSEL_COMPLETION_API_KEY", c.Completion.APIKey)
	c.Completion.BaseURL = helpers.GetStringFromEnv("COUNSEL_COMPLETION_BASE_URL", c.Completion.BaseURL)
	c.Completion.MaxTokens = helpers.GetIntFromEnv("COUNSEL_COMPLETION_MAX_TOKENS", c.Completion.MaxTokens)
	c.Completion.Temperature = helpers.GetFloatFromEnv("COUNSEL_COMPLETION_TEMPERATURE", c.Completion.Temperature)
	c.Completion.Timeout = helpers.GetDurationFromEnv("COUNSEL_COMPLETION_TIMEOUT", c.Completion.Timeout)

	c.Cache.Threshold = helpers.GetFloatFromEnv("COUNSEL_CACHE_THRESHOLD", c.Cache.Threshold)
	c.Cache.DefinitionPhrases = helpers.GetListFromEnv("COUNSEL_CACHE_DEFINITION_PHRASES", c.Cache.DefinitionPhrases)
	c.Cache.ConstitutionalPhrases = helpers.GetListFromEnv("COUNSEL_CACHE_CONSTITUTIONAL_PHRASES", c.Cache.ConstitutionalPhrases)

	c.Session.TTL = helpers.GetDurationFromEnv("COUNSEL_SESSION_TTL", c.Session.TTL)
	c.Session.MaxTurns = helpers.GetIntFromEnv("COUNSEL_SESSION_MAX_TURNS", c.Session.MaxTurns)
	c.Session.SweepSchedule = helpers.GetStringFromEnv("COUNSEL_SESSION_SWEEP_SCHEDULE", c.Session.SweepSchedule)

	c.Observability.MetricsAddr = helpers.GetStringFromEnv("COUNSEL_METRICS_ADDR", c.Observability.MetricsAddr)
	c.Observability.TracingEndpoint = helpers.GetStringFromEnv("COUNSEL_TRACING_ENDPOINT", c.Observability.TracingEndpoint)
	c.Observability.TracingProtocol = helpers.GetStringFromEnv("COUNSEL_TRACING_PROTOCOL", c.Observability.TracingProtocol)
	c.Observability.ServiceVersion = helpers.GetStringFromEnv("COUNSEL_SERVICE_VERSION", c.Observability.ServiceVersion)
	c.Observability.TracingSampleRate = helpers.GetFloatFromEnv("COUNSEL_TRACING_SAMPLE_RATE", c.Observability.TracingSampleRate)
	c.Observability.TracingSecure = helpers.GetBoolFromEnv("COUNSEL_TRACING_SECURE", c.Observability.TracingSecure)
}

// Validate checks ranges and enumerations.
func (c *Config) Validate(ctx context.Context) error {
	invalid := func(format string, args ...any) error {
		return counsel.KindErr(ctx, counsel.KindInvalidInput, nil, fmt.Sprintf(format, args...))
	}

	switch c.KV.Backend {
	case "redis", "badger", "memory":
	default:
		return invalid("unknown kv backend %q", c.KV.Backend)
	}
	switch c.Embedding.Provider {
	case "openai", "ollama", "gemini":
	default:
		return invalid("unknown embedding provider %q", c.Embedding.Provider)
	}
	switch c.VectorStore.Backend {
	case "pgvector", "qdrant", "weaviate":
	default:
		return invalid("unknown vector store backend %q", c.VectorStore.Backend)
	}
	switch c.Completion.Provider {
	case "anthropic", "openai", "ollama", "gemini":
	default:
		return invalid("unknown completion provider %q", c.Completion.Provider)
	}

	if c.Retrieval.TopK <= 0 {
		return invalid("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MixedShare <= 0 || c.Retrieval.MixedShare > 1 {
		return invalid("retrieval.mixed_share must be in (0,1], got %v", c.Retrieval.MixedShare)
	}
	if c.Cache.Threshold <= 0 || c.Cache.Threshold > 1 {
		return invalid("cache.threshold must be in (0,1], got %v", c.Cache.Threshold)
	}
	if c.Session.MaxTurns <= 0 {
		return invalid("session.max_turns must be positive, got %d", c.Session.MaxTurns)
	}
	if c.Session.TTL <= 0 {
		return invalid("session.ttl must be positive")
	}
	if r := c.Observability.TracingSampleRate; r < 0 || r > 1 {
		return invalid("observability.tracing_sample_rate must be in [0,1], got %v", r)
	}
	if c.Dedup.Capacity <= 0 {
		return invalid("dedup.capacity must be positive, got %d", c.Dedup.Capacity)
	}
	if c.Completion.MaxTokens <= 0 {
		return invalid("completion.max_tokens must be positive, got %d", c.Completion.MaxTokens)
	}
	if c.Completion.Temperature < 0 || c.Completion.Temperature > 2 {
		return invalid("completion.temperature out of range: %v", c.Completion.Temperature)
	}
	if c.Embedding.Dimensions <= 0 {
		return invalid("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	return nil
}
