package backend

import (
	"fmt"
	"net/http"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/config"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/logging"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/service"
)

// Pipeline is what the configuration resolves to.
type Pipeline struct {
	Stages []service.StageSpec
	Limits *service.RateLimiterRegistry
}

// BuildOption configures Build.
type BuildOption func(*builder)

// WithHTTPClient sets the client used by hosted models.
func WithHTTPClient(c *http.Client) BuildOption {
	return func(b *builder) {
		b.httpClient = c
	}
}

// WithLogger sets the logger handed to stage adapters.
func WithLogger(l *logging.Logger) BuildOption {
	return func(b *builder) {
		b.logger = l
	}
}

type builder struct {
	cfg        *config.Config
	httpClient *http.Client
	logger     *logging.Logger
	prompts    *Prompts
	llms       map[string]*LLM
}

// Build resolves the configured stages into ordered backend candidates and
// per-backend rate limits. Backends with rate limits share one bucket across
// every stage they serve.
func Build(cfg *config.Config, opts ...BuildOption) (*Pipeline, error) {
	b := &builder{cfg: cfg, logger: logging.NewNop(), llms: make(map[string]*LLM)}
	for _, opt := range opts {
		opt(b)
	}
	prompts, err := LoadPrompts()
	if err != nil {
		return nil, fmt.Errorf("loading prompts: %w", err)
	}
	b.prompts = prompts

	p := &Pipeline{Limits: service.NewRateLimiterRegistry()}
	for _, sc := range cfg.Pipeline.Stages {
		id, err := core.ParseStageID(sc.ID)
		if err != nil {
			return nil, core.ErrValidation(core.CodeUnknownStage, err.Error())
		}
		deps := make([]core.StageID, 0, len(sc.DependsOn))
		for _, d := range sc.DependsOn {
			dep, err := core.ParseStageID(d)
			if err != nil {
				return nil, core.ErrValidation(core.CodeUnknownStage, err.Error())
			}
			deps = append(deps, dep)
		}

		backends := make([]core.Backend, 0, len(sc.Backends))
		for _, name := range sc.Backends {
			be, err := b.backend(id, name)
			if err != nil {
				return nil, err
			}
			backends = append(backends, be)
		}
		p.Stages = append(p.Stages, service.NewStageSpec(id, deps, sc.Timeout, backends, b.logger))
	}

	for name, bc := range cfg.Backends {
		if bc.RateLimit.MaxTokens > 0 {
			p.Limits.Configure(name, service.RateLimiterConfig{
				MaxTokens:  bc.RateLimit.MaxTokens,
				RefillRate: bc.RateLimit.RefillRate,
			})
		}
	}
	return p, nil
}

func (b *builder) backend(stage core.StageID, name string) (core.Backend, error) {
	switch name {
	case config.BackendStatic:
		if be := staticFor(stage); be != nil {
			return be, nil
		}
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("stage %s has no static backend", stage))
	case config.BackendTemplate:
		if stage != core.StageSynthesis {
			return nil, core.ErrValidation(core.CodeInvalidConfig, "the template backend only synthesizes")
		}
		return NewTemplate(), nil
	}

	llm, err := b.llm(name)
	if err != nil {
		return nil, err
	}
	if stage == core.StageSynthesis {
		return NewLLMSynthesizer(llm, b.prompts), nil
	}
	return NewLLMAnalyzer(llm, stage, b.prompts, staticFor(stage)), nil
}

func (b *builder) llm(name string) (*LLM, error) {
	if l, ok := b.llms[name]; ok {
		return l, nil
	}
	bc, ok := b.cfg.Backends[name]
	if !ok {
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown backend %q", name))
	}
	l, err := NewLLM(LLMConfig{
		Name:        name,
		Provider:    bc.Provider,
		BaseURL:     bc.BaseURL,
		Model:       bc.Model,
		APIKey:      bc.APIKey(),
		MaxTokens:   bc.MaxTokens,
		Temperature: bc.Temperature,
		ChunkSize:   bc.ChunkSize,
		HTTPClient:  b.httpClient,
	})
	if err != nil {
		return nil, err
	}
	if !l.Configured() {
		b.logger.Info("backend has no API key and will be skipped", "backend", name, "env", bc.APIKeyEnv)
	}
	b.llms[name] = l
	return l, nil
}

// staticFor returns the static backend of an analysis stage, or nil.
func staticFor(stage core.StageID) core.Backend {
	switch stage {
	case core.StageSecurity:
		return NewStaticSecurity()
	case core.StageRuntime:
		return NewStaticRuntime()
	default:
		return nil
	}
}
