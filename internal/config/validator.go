package config

import (
	"fmt"
	"strings"
)

// Built-in backends that need no configuration entry.
const (
	BackendStatic   = "static"
	BackendTemplate = "template"
)

var knownProviders = map[string]bool{"groq": true, "gemini": true, "openai": true}

var knownStages = map[string]bool{"security": true, "runtime": true, "synthesis": true}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateCache(&cfg.Cache)
	v.validateBackends(cfg.Backends)
	v.validatePipeline(&cfg.Pipeline, cfg.Backends)
	v.validateDelivery(&cfg.Delivery)
	v.validateServer(&cfg.Server)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateCache(cfg *CacheConfig) {
	switch cfg.Backend {
	case "sqlite", "badger":
		if cfg.Path == "" {
			v.addError("cache.path", cfg.Path, "path required for durable backends")
		}
	case "memory":
	default:
		v.addError("cache.backend", cfg.Backend, "must be one of: sqlite, badger, memory")
	}

	if cfg.DefaultTTL < 0 {
		v.addError("cache.default_ttl", cfg.DefaultTTL, "must not be negative")
	}
	if cfg.SweepInterval < 0 {
		v.addError("cache.sweep_interval", cfg.SweepInterval, "must not be negative")
	}
}

func (v *Validator) validateBackends(backends map[string]BackendConfig) {
	for name, b := range backends {
		prefix := "backends." + name
		if name == BackendStatic || name == BackendTemplate {
			v.addError(prefix, name, "name is reserved for a built-in backend")
			continue
		}
		if !knownProviders[b.Provider] {
			v.addError(prefix+".provider", b.Provider, "must be one of: groq, gemini, openai")
		}
		if b.Model == "" {
			v.addError(prefix+".model", b.Model, "model required")
		}
		if b.MaxTokens < 0 || b.MaxTokens > 200000 {
			v.addError(prefix+".max_tokens", b.MaxTokens, "must be between 0 and 200000")
		}
		if b.Temperature < 0 || b.Temperature > 2 {
			v.addError(prefix+".temperature", b.Temperature, "must be between 0 and 2")
		}
		if b.ChunkSize < 0 {
			v.addError(prefix+".chunk_size", b.ChunkSize, "must not be negative")
		}
		if b.RateLimit.MaxTokens < 0 || b.RateLimit.RefillRate < 0 {
			v.addError(prefix+".rate_limit", b.RateLimit, "must not be negative")
		}
	}
}

func (v *Validator) validatePipeline(cfg *PipelineConfig, backends map[string]BackendConfig) {
	if cfg.Timeout <= 0 {
		v.addError("pipeline.timeout", cfg.Timeout, "must be positive")
	}
	if cfg.SynthesisTimeout <= 0 {
		v.addError("pipeline.synthesis_timeout", cfg.SynthesisTimeout, "must be positive")
	}
	if len(cfg.Stages) == 0 {
		v.addError("pipeline.stages", cfg.Stages, "at least one stage required")
		return
	}

	seen := make(map[string]bool, len(cfg.Stages))
	for _, s := range cfg.Stages {
		seen[s.ID] = true
	}

	for i, s := range cfg.Stages {
		prefix := fmt.Sprintf("pipeline.stages[%d]", i)
		if !knownStages[s.ID] {
			v.addError(prefix+".id", s.ID, "must be one of: security, runtime, synthesis")
		}
		if s.Timeout <= 0 {
			v.addError(prefix+".timeout", s.Timeout, "must be positive")
		}
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				v.addError(prefix+".depends_on", dep, "unknown stage")
			}
			if dep == s.ID {
				v.addError(prefix+".depends_on", dep, "stage cannot depend on itself")
			}
		}
		if len(s.Backends) == 0 {
			v.addError(prefix+".backends", s.Backends, "at least one backend required")
		}
		for _, name := range s.Backends {
			switch name {
			case BackendStatic:
				if s.ID == "synthesis" {
					v.addError(prefix+".backends", name, "static backends cannot synthesize")
				}
			case BackendTemplate:
				if s.ID != "synthesis" {
					v.addError(prefix+".backends", name, "template backend only synthesizes")
				}
			default:
				if _, ok := backends[name]; !ok {
					v.addError(prefix+".backends", name, "unknown backend")
				}
			}
		}
	}

	counts := make(map[string]int, len(cfg.Stages))
	for _, s := range cfg.Stages {
		counts[s.ID]++
	}
	for id, n := range counts {
		if n > 1 {
			v.addError("pipeline.stages", id, "duplicate stage id")
		}
	}
}

func (v *Validator) validateDelivery(cfg *DeliveryConfig) {
	switch cfg.Sink {
	case "github":
	case "file":
		if cfg.Dir == "" {
			v.addError("delivery.dir", cfg.Dir, "directory required for file sink")
		}
	default:
		v.addError("delivery.sink", cfg.Sink, "must be one of: github, file")
	}
	if !strings.HasPrefix(cfg.Marker, "<!--") || !strings.HasSuffix(cfg.Marker, "-->") {
		v.addError("delivery.marker", cfg.Marker, "must be an HTML comment")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Addr == "" {
		v.addError("server.addr", cfg.Addr, "address required")
	}
	if cfg.Workers <= 0 {
		v.addError("server.workers", cfg.Workers, "must be positive")
	}
	if cfg.QueueSize <= 0 {
		v.addError("server.queue_size", cfg.QueueSize, "must be positive")
	}
}
