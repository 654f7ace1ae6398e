package cmd

import (
	"errors"
	"fmt"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/adapters/backend"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/adapters/github"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/adapters/sink"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/adapters/store"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/cache"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/config"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/delivery"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/logging"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/service"
)

// app holds everything a command needs to run reviews.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	store    store.Store
	cache    *cache.Cache // nil when caching is disabled or unavailable
	metrics  *service.Metrics
	pipeline *backend.Pipeline
	engine   *service.Engine
}

type appOptions struct {
	noCache bool
	metrics bool
}

// newApp opens the store and builds the pipeline. A store that cannot be
// opened is replaced by an in-memory one with caching turned off, so a
// review still runs.
func newApp(cfg *config.Config, logger *logging.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if opts.metrics {
		a.metrics = service.NewMetrics()
	}

	a.store = a.openStore()
	if cfg.Cache.Enabled && !opts.noCache && a.store != nil {
		a.cache = cache.New(a.store,
			cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
			cache.WithLogger(logger),
			cache.WithObserver(a.metrics),
		)
	}
	if a.store == nil {
		a.store = store.NewMemoryStore()
	}

	p, err := backend.Build(cfg, backend.WithLogger(logger))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("building pipeline: %w", err)
	}
	a.pipeline = p

	selectorOpts := []service.SelectorOption{
		service.WithRateLimits(p.Limits),
		service.WithSelectorMetrics(a.metrics),
		service.WithSelectorLogger(logger),
	}
	if a.cache != nil {
		selectorOpts = append(selectorOpts, service.WithCache(a.cache))
	}
	a.engine, err = service.NewEngine(p.Stages, service.NewSelector(selectorOpts...),
		service.WithRunTimeout(cfg.Pipeline.Timeout),
		service.WithSynthesisTimeout(cfg.Pipeline.SynthesisTimeout),
		service.WithEngineMetrics(a.metrics),
		service.WithEngineLogger(logger),
	)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("building engine: %w", err)
	}
	return a, nil
}

// openStore returns nil when the configured store cannot be opened.
func (a *app) openStore() store.Store {
	backendName := a.cfg.Cache.Backend
	if !a.cfg.Cache.Enabled {
		backendName = "memory"
	}
	s, err := store.Open(store.Options{Backend: backendName, Path: a.cfg.Cache.Path, Logger: a.logger.Logger})
	if err != nil {
		a.logger.Warn("store unavailable, running without cache", "backend", backendName, "path", a.cfg.Cache.Path, "error", err)
		return nil
	}
	return s
}

// Close releases the store.
func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// sinkOptions selects and configures the delivery destination.
type sinkOptions struct {
	kind string // overrides delivery.sink when set
	gh   *github.Client
}

// newGuard builds the delivery guard for the chosen sink.
func (a *app) newGuard(opts sinkOptions) (*delivery.Guard, error) {
	kind := opts.kind
	if kind == "" {
		kind = a.cfg.Delivery.Sink
	}

	var dst core.Sink
	switch kind {
	case "file":
		dst = sink.NewFile(a.cfg.Delivery.Dir)
	case "github":
		client := opts.gh
		if client == nil {
			var err error
			if client, err = a.githubClient(); err != nil {
				return nil, err
			}
		}
		dst = github.NewSink(client, a.cfg.Delivery.Marker)
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown sink %q", kind))
	}

	return delivery.NewGuard(dst, a.store,
		delivery.WithLogger(a.logger),
		delivery.WithObserver(a.metrics),
	), nil
}

func (a *app) githubClient() (*github.Client, error) {
	var opts []github.Option
	if a.cfg.GitHub.BaseURL != "" {
		opts = append(opts, github.WithBaseURL(a.cfg.GitHub.BaseURL))
	}
	client, err := github.NewClient(a.cfg.GitHub.Token(), opts...)
	if err != nil {
		if core.IsCategory(err, core.ErrCatAuth) {
			return nil, fmt.Errorf("%w (set %s)", err, a.cfg.GitHub.TokenEnv)
		}
		return nil, err
	}
	return client, nil
}

// requireCache opens the configured store for the cache commands. Unlike a
// review, these commands fail when the store is missing.
func requireCache(cfg *config.Config, logger *logging.Logger) (*cache.Cache, func() error, error) {
	if !cfg.Cache.Enabled {
		return nil, nil, errors.New("cache is disabled in the configuration")
	}
	s, err := store.Open(store.Options{Backend: cfg.Cache.Backend, Path: cfg.Cache.Path, Logger: logger.Logger})
	if err != nil {
		return nil, nil, err
	}
	return cache.New(s, cache.WithDefaultTTL(cfg.Cache.DefaultTTL), cache.WithLogger(logger)), s.Close, nil
}
