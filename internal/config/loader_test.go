package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "auto", cfg.Log.Format)

	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.SweepInterval)

	assert.Equal(t, 3*time.Minute, cfg.Pipeline.Timeout)
	assert.Equal(t, 90*time.Second, cfg.Pipeline.SynthesisTimeout)
	require.Len(t, cfg.Pipeline.Stages, 3)

	synth, ok := cfg.Stage("synthesis")
	require.True(t, ok)
	assert.Equal(t, []string{"security", "runtime"}, synth.DependsOn)
	assert.Equal(t, []string{"groq", "gemini", "template"}, synth.Backends)
	assert.Equal(t, time.Minute, synth.Timeout)

	groq := cfg.Backends["groq"]
	assert.Equal(t, "groq", groq.Provider)
	assert.Equal(t, "GROQ_API_KEY", groq.APIKeyEnv)
	assert.InDelta(t, 0.5, groq.RateLimit.RefillRate, 1e-9)

	assert.Equal(t, "github", cfg.Delivery.Sink)
	assert.Equal(t, "<!-- ghostwriter:review -->", cfg.Delivery.Marker)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoader_DefaultYAMLMatchesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(DefaultConfigYAML), 0o600))

	fromFile, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)
	defaults, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, defaults, fromFile)
}

func TestLoader_FileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log:
  level: debug
cache:
  backend: memory
  default_ttl: 1h
pipeline:
  stages:
    - id: security
      timeout: 5s
      backends: [static]
    - id: synthesis
      timeout: 5s
      depends_on: [security]
      backends: [template]
delivery:
  sink: file
  dir: out
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL)
	require.Len(t, cfg.Pipeline.Stages, 2)
	assert.Equal(t, []string{"static"}, cfg.Pipeline.Stages[0].Backends)
	assert.Equal(t, "file", cfg.Delivery.Sink)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("GHOSTWRITER_LOG_LEVEL", "warn")
	t.Setenv("GHOSTWRITER_CACHE_BACKEND", "badger")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "badger", cfg.Cache.Backend)
}

func TestLoader_InvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o600))

	_, err := NewLoader().WithConfigFile(path).Load()
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "log.level", verrs[0].Field)
}

func TestLoader_MissingExplicitFileFails(t *testing.T) {
	_, err := NewLoader().WithConfigFile(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	assert.Error(t, err)
}

func TestLoader_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o600))

	loader := NewLoader().WithConfigFile(path)
	_, err := loader.Load()
	require.NoError(t, err)

	var level atomic.Value
	loader.Watch(func(cfg *Config) { level.Store(cfg.Log.Level) }, nil)

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))
	require.Eventually(t, func() bool {
		v, _ := level.Load().(string)
		return v == "debug"
	}, 5*time.Second, 20*time.Millisecond)
}
