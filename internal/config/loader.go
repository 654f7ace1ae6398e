package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GHOSTWRITER_LOG_LEVEL.
const EnvPrefix = "GHOSTWRITER"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: EnvPrefix,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads and validates configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (GHOSTWRITER_*)
// 3. Project config (.ghostwriter.yaml in current directory)
// 4. User config (~/.config/ghostwriter/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".ghostwriter")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "ghostwriter"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := NewValidator().Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch re-reads the config file whenever it changes and hands the new,
// validated configuration to onChange. Invalid edits are reported through
// onError and the previous configuration stays in effect.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reloading %s: %w", e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("cache.enabled", true)
	l.v.SetDefault("cache.backend", "sqlite")
	l.v.SetDefault("cache.path", ".ghostwriter/cache.db")
	l.v.SetDefault("cache.default_ttl", "24h")
	l.v.SetDefault("cache.sweep_interval", "10m")

	l.v.SetDefault("pipeline.timeout", "3m")
	l.v.SetDefault("pipeline.synthesis_timeout", "90s")
	l.v.SetDefault("pipeline.stages", []map[string]interface{}{
		{"id": "security", "timeout": "60s", "backends": []string{"groq", "gemini", "static"}},
		{"id": "runtime", "timeout": "60s", "backends": []string{"groq", "gemini", "static"}},
		{"id": "synthesis", "timeout": "60s", "depends_on": []string{"security", "runtime"}, "backends": []string{"groq", "gemini", "template"}},
	})

	// Groq has the generous quota and goes first; Gemini is the fallback.
	l.v.SetDefault("backends.groq.provider", "groq")
	l.v.SetDefault("backends.groq.model", "llama-3.3-70b-versatile")
	l.v.SetDefault("backends.groq.api_key_env", "GROQ_API_KEY")
	l.v.SetDefault("backends.groq.max_tokens", 2048)
	l.v.SetDefault("backends.groq.temperature", 0.1)
	l.v.SetDefault("backends.groq.chunk_size", 12000)
	l.v.SetDefault("backends.groq.rate_limit.max_tokens", 30)
	l.v.SetDefault("backends.groq.rate_limit.refill_rate", 0.5)
	l.v.SetDefault("backends.gemini.provider", "gemini")
	l.v.SetDefault("backends.gemini.model", "gemini-2.0-flash")
	l.v.SetDefault("backends.gemini.api_key_env", "GEMINI_API_KEY")
	l.v.SetDefault("backends.gemini.max_tokens", 2048)
	l.v.SetDefault("backends.gemini.temperature", 0.1)
	l.v.SetDefault("backends.gemini.chunk_size", 30000)
	l.v.SetDefault("backends.gemini.rate_limit.max_tokens", 10)
	l.v.SetDefault("backends.gemini.rate_limit.refill_rate", 0.25)

	l.v.SetDefault("delivery.sink", "github")
	l.v.SetDefault("delivery.dir", ".ghostwriter/reports")
	l.v.SetDefault("delivery.marker", "<!-- ghostwriter:review -->")

	l.v.SetDefault("github.token_env", "GITHUB_TOKEN")
	l.v.SetDefault("github.webhook_secret_env", "GHOSTWRITER_WEBHOOK_SECRET")

	l.v.SetDefault("server.addr", ":8080")
	l.v.SetDefault("server.workers", 4)
	l.v.SetDefault("server.queue_size", 64)

	l.v.SetDefault("metrics.enabled", true)
}
