package config

import (
	"os"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Log      LogConfig                `mapstructure:"log" yaml:"log"`
	Cache    CacheConfig              `mapstructure:"cache" yaml:"cache"`
	Pipeline PipelineConfig           `mapstructure:"pipeline" yaml:"pipeline"`
	Backends map[string]BackendConfig `mapstructure:"backends" yaml:"backends"`
	Delivery DeliveryConfig           `mapstructure:"delivery" yaml:"delivery"`
	GitHub   GitHubConfig             `mapstructure:"github" yaml:"github"`
	Server   ServerConfig             `mapstructure:"server" yaml:"server"`
	Metrics  MetricsConfig            `mapstructure:"metrics" yaml:"metrics"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// CacheConfig configures the fingerprint cache and its backing store.
type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Backend       string        `mapstructure:"backend" yaml:"backend"` // sqlite, badger, memory
	Path          string        `mapstructure:"path" yaml:"path"`
	DefaultTTL    time.Duration `mapstructure:"default_ttl" yaml:"default_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// PipelineConfig configures the stage graph.
type PipelineConfig struct {
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	SynthesisTimeout time.Duration `mapstructure:"synthesis_timeout" yaml:"synthesis_timeout"`
	Stages           []StageConfig `mapstructure:"stages" yaml:"stages"`
}

// StageConfig configures one stage and its ordered backend candidates.
type StageConfig struct {
	ID        string        `mapstructure:"id" yaml:"id"`
	DependsOn []string      `mapstructure:"depends_on" yaml:"depends_on,omitempty"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Backends  []string      `mapstructure:"backends" yaml:"backends"`
}

// RateLimitConfig configures a token bucket.
type RateLimitConfig struct {
	MaxTokens  float64 `mapstructure:"max_tokens" yaml:"max_tokens"`
	RefillRate float64 `mapstructure:"refill_rate" yaml:"refill_rate"`
}

// BackendConfig configures a hosted model backend.
type BackendConfig struct {
	Provider    string          `mapstructure:"provider" yaml:"provider"` // groq, gemini, openai
	BaseURL     string          `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Model       string          `mapstructure:"model" yaml:"model"`
	APIKeyEnv   string          `mapstructure:"api_key_env" yaml:"api_key_env"`
	MaxTokens   int             `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float32         `mapstructure:"temperature" yaml:"temperature"`
	ChunkSize   int             `mapstructure:"chunk_size" yaml:"chunk_size"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// APIKey resolves the credential from the environment.
func (b BackendConfig) APIKey() string {
	if b.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(b.APIKeyEnv)
}

// DeliveryConfig configures where reports go.
type DeliveryConfig struct {
	Sink   string `mapstructure:"sink" yaml:"sink"` // github, file
	Dir    string `mapstructure:"dir" yaml:"dir"`
	Marker string `mapstructure:"marker" yaml:"marker"`
}

// GitHubConfig configures GitHub access.
type GitHubConfig struct {
	TokenEnv         string `mapstructure:"token_env" yaml:"token_env"`
	WebhookSecretEnv string `mapstructure:"webhook_secret_env" yaml:"webhook_secret_env"`
	BaseURL          string `mapstructure:"base_url" yaml:"base_url,omitempty"`
}

// Token resolves the GitHub token from the environment.
func (g GitHubConfig) Token() string {
	if g.TokenEnv == "" {
		return ""
	}
	return os.Getenv(g.TokenEnv)
}

// WebhookSecret resolves the webhook secret from the environment.
func (g GitHubConfig) WebhookSecret() string {
	if g.WebhookSecretEnv == "" {
		return ""
	}
	return os.Getenv(g.WebhookSecretEnv)
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Workers   int    `mapstructure:"workers" yaml:"workers"`
	QueueSize int    `mapstructure:"queue_size" yaml:"queue_size"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Stage returns the stage config with the given ID.
func (c *Config) Stage(id string) (StageConfig, bool) {
	for _, s := range c.Pipeline.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return StageConfig{}, false
}
