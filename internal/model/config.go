package model

import (
	"fmt"
	"strings"
	"time"
)

// Failed batch policies for the topic matcher
const (
	FailurePolicyDrop        = "drop"        // omit the batch from the result
	FailurePolicyPassThrough = "passthrough" // return the batch with empty topics
)

// Config holds the complete application configuration.
// It is built once at startup and passed into constructors.
type Config struct {
	LLM         LLMConfig         `yaml:"llm" mapstructure:"llm"`
	Matching    MatchingConfig    `yaml:"matching" mapstructure:"matching"`
	Graph       GraphConfig       `yaml:"graph" mapstructure:"graph"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Embedding   EmbeddingConfig   `yaml:"embedding" mapstructure:"embedding"`
	Tracing     TracingConfig     `yaml:"tracing" mapstructure:"tracing"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	HTTP        HTTPConfig        `yaml:"http" mapstructure:"http"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
}

// LLMConfig configures the LLM provider and gateway
type LLMConfig struct {
	Provider    string        `yaml:"provider" mapstructure:"provider"` // anthropic, openai, ollama
	Model       string        `yaml:"model" mapstructure:"model"`
	APIKey      string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	RateLimit   float64       `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	Burst       int           `yaml:"burst" mapstructure:"burst"`
	Retry       RetryConfig   `yaml:"retry" mapstructure:"retry"`
	HTTPProxy   string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy  string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy     string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// RetryConfig bounds retries of a single LLM call. MaxAttempts 1 disables retry.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
}

// MatchingConfig configures extraction, topic generation and batch matching
type MatchingConfig struct {
	BatchSize         int    `yaml:"batch_size" mapstructure:"batch_size"`
	FailurePolicy     string `yaml:"failure_policy" mapstructure:"failure_policy"`
	MatchMaxTokens    int    `yaml:"match_max_tokens" mapstructure:"match_max_tokens"`
	ExtractMaxTokens  int    `yaml:"extract_max_tokens" mapstructure:"extract_max_tokens"`
	GenerateMaxTokens int    `yaml:"generate_max_tokens" mapstructure:"generate_max_tokens"`
}

// GraphConfig configures the graph store. An empty URI selects the in-memory graph.
type GraphConfig struct {
	URI            string        `yaml:"uri,omitempty" mapstructure:"uri"`
	User           string        `yaml:"user" mapstructure:"user"`
	Password       string        `yaml:"password,omitempty" mapstructure:"password"`
	Database       string        `yaml:"database,omitempty" mapstructure:"database"`
	MaxPoolSize    int           `yaml:"max_pool_size" mapstructure:"max_pool_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
}

// CacheConfig configures the LLM response cache and the topic label cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
	TopicTTL  time.Duration `yaml:"topic_ttl" mapstructure:"topic_ttl"`
}

// EmbeddingConfig configures statement embeddings (Voyage by default)
type EmbeddingConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	APIKey  string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	ServiceName string  `yaml:"service_name" mapstructure:"service_name"`
	Endpoint    string  `yaml:"endpoint,omitempty" mapstructure:"endpoint"` // OTLP/HTTP; empty = stdout
	Insecure    bool    `yaml:"insecure" mapstructure:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Mode  string `yaml:"mode" mapstructure:"mode"`   // development, production
	Level string `yaml:"level" mapstructure:"level"` // debug, info, warn, error
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
	Mode string `yaml:"mode" mapstructure:"mode"` // gin mode: debug, release, test
}

// HTTPConfig configures transcript fetching from URLs
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	HTTPProxy     string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
}

// ConcurrencyConfig configures multi-transcript ingestion
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-3-7-sonnet-latest",
			Timeout:     60 * time.Second,
			Temperature: 0.3,
			Burst:       1,
			Retry: RetryConfig{
				MaxAttempts: 1,
				BaseDelay:   500 * time.Millisecond,
			},
		},
		Matching: MatchingConfig{
			BatchSize:         30,
			FailurePolicy:     FailurePolicyDrop,
			MatchMaxTokens:    16000,
			ExtractMaxTokens:  16000,
			GenerateMaxTokens: 4000,
		},
		Graph: GraphConfig{
			User:           "neo4j",
			MaxPoolSize:    50,
			ConnectTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:   false,
			Dir:       "~/.stmtgraph/cache",
			MemoryTTL: 1 * time.Hour,
			DiskTTL:   24 * time.Hour,
			TopicTTL:  10 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Enabled: false,
			BaseURL: "https://api.voyageai.com/v1",
			Model:   "voyage-2",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "stmtgraph",
			SampleRatio: 1.0,
		},
		Logging: LoggingConfig{
			Mode:  "development",
			Level: "info",
		},
		Server: ServerConfig{
			Addr: ":8000",
			Mode: "release",
		},
		HTTP: HTTPConfig{
			Timeout:       30 * time.Second,
			UserAgent:     "stmtgraph/0.1 (+https://github.com/ppiankov/stmtgraph)",
			MaxBodyBytes:  2_000_000,
			RespectRobots: true,
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
	}
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case "anthropic", "claude", "openai", "ollama":
	default:
		return fmt.Errorf("unknown LLM provider: %q (supported: anthropic, openai, ollama)", c.LLM.Provider)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive, got %v", c.LLM.Timeout)
	}
	if c.LLM.Retry.MaxAttempts < 1 {
		return fmt.Errorf("llm.retry.max_attempts must be at least 1, got %d", c.LLM.Retry.MaxAttempts)
	}
	if c.Matching.BatchSize <= 0 {
		return fmt.Errorf("matching.batch_size must be positive, got %d", c.Matching.BatchSize)
	}
	switch c.Matching.FailurePolicy {
	case FailurePolicyDrop, FailurePolicyPassThrough:
	default:
		return fmt.Errorf("matching.failure_policy must be %q or %q, got %q",
			FailurePolicyDrop, FailurePolicyPassThrough, c.Matching.FailurePolicy)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1], got %v", c.Tracing.SampleRatio)
	}
	if c.Concurrency.Workers <= 0 {
		return fmt.Errorf("concurrency.workers must be positive, got %d", c.Concurrency.Workers)
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "[REDACTED]"
	}
	c.LLM.APIKey = mask(c.LLM.APIKey)
	c.Embedding.APIKey = mask(c.Embedding.APIKey)
	c.Graph.Password = mask(c.Graph.Password)
	return c
}
