package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/cache"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/logging"
)

// ErrChainExhausted matches any ChainExhaustedError with errors.Is.
var ErrChainExhausted = errors.New("backend chain exhausted")

// ChainExhaustedError is returned when no candidate produced a result.
type ChainExhaustedError struct {
	Stage    core.StageID
	Attempts []core.Attempt
	LastErr  error
}

func (e *ChainExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Backend+"="+a.Outcome)
	}
	return fmt.Sprintf("stage %s: all backends failed [%s]: %v", e.Stage, strings.Join(parts, ", "), e.LastErr)
}

func (e *ChainExhaustedError) Unwrap() error {
	return e.LastErr
}

// Is makes errors.Is(err, ErrChainExhausted) true.
func (e *ChainExhaustedError) Is(target error) bool {
	return target == ErrChainExhausted
}

// Selection is the result chosen for a stage.
type Selection struct {
	Result    *core.Result
	Backend   string
	FromCache bool
	Attempts  []core.Attempt
}

// Selector walks a stage's candidates in order and returns the first result.
// Each candidate's cache entry is checked before it is called; a failing
// candidate is never retried, the next one is tried instead.
type Selector struct {
	cache   *cache.Cache
	limits  *RateLimiterRegistry
	metrics *Metrics
	logger  *logging.Logger
	flight  singleflight.Group
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithCache enables result caching. A nil cache disables it.
func WithCache(c *cache.Cache) SelectorOption {
	return func(s *Selector) {
		s.cache = c
	}
}

// WithRateLimits sets per-backend quotas.
func WithRateLimits(r *RateLimiterRegistry) SelectorOption {
	return func(s *Selector) {
		s.limits = r
	}
}

// WithSelectorMetrics records attempt outcomes.
func WithSelectorMetrics(m *Metrics) SelectorOption {
	return func(s *Selector) {
		s.metrics = m
	}
}

// WithSelectorLogger sets the logger.
func WithSelectorLogger(l *logging.Logger) SelectorOption {
	return func(s *Selector) {
		s.logger = l
	}
}

// NewSelector creates a selector.
func NewSelector(opts ...SelectorOption) *Selector {
	s := &Selector{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select runs candidates in order until one succeeds.
func (s *Selector) Select(ctx context.Context, stage core.StageID, candidates []*Adapter, input string) (*Selection, error) {
	if len(candidates) == 0 {
		return nil, core.ErrValidation(core.CodeNoCandidates, fmt.Sprintf("stage %s has no backends", stage))
	}

	attempts := make([]core.Attempt, 0, len(candidates))
	record := func(backend, outcome string, err error) {
		a := core.Attempt{Backend: backend, Outcome: outcome}
		if err != nil {
			a.Error = err.Error()
		}
		attempts = append(attempts, a)
		s.metrics.BackendAttempt(stage, backend, outcome)
	}

	var lastErr error
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				lastErr = core.ErrTimeout(fmt.Sprintf("stage %s deadline passed", stage)).WithCause(err)
			} else {
				lastErr = err
			}
			break
		}

		name := cand.Backend().Name()
		logger := s.logger.WithStage(string(stage)).WithBackend(name)

		if !cand.Backend().Configured() {
			record(name, core.AttemptUnconfigured, nil)
			logger.Debug("skipping unconfigured backend")
			continue
		}

		agentID := cand.AgentID()
		if res, ok := s.cached(ctx, agentID, input, logger); ok {
			record(name, core.AttemptCached, nil)
			return &Selection{Result: res, Backend: name, FromCache: true, Attempts: attempts}, nil
		}

		if !s.limits.TryAcquire(name) {
			record(name, core.AttemptRateLimited, nil)
			logger.Info("backend quota exhausted, trying next")
			continue
		}

		res, err := s.invoke(ctx, cand, agentID, input, logger)
		if err != nil {
			if core.IsCategory(err, core.ErrCatRateLimit) {
				s.limits.Drain(name)
			}
			record(name, core.AttemptError, err)
			logger.Warn("backend failed, falling back", "error", err)
			lastErr = err
			continue
		}

		record(name, core.AttemptOK, nil)
		return &Selection{Result: res, Backend: name, Attempts: attempts}, nil
	}

	if lastErr == nil {
		lastErr = core.ErrExecution(core.CodeNoCandidates, "no backend could be tried")
	}
	return nil, &ChainExhaustedError{Stage: stage, Attempts: attempts, LastErr: lastErr}
}

func (s *Selector) cached(ctx context.Context, agentID, input string, logger *logging.Logger) (*core.Result, bool) {
	if s.cache == nil {
		return nil, false
	}
	payload, ok := s.cache.Get(ctx, agentID, []byte(input))
	if !ok {
		return nil, false
	}
	var res core.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		logger.Warn("discarding undecodable cache entry", "error", err)
		return nil, false
	}
	return &res, true
}

// invoke calls the adapter, collapsing concurrent identical calls, and stores
// a successful result. The shared call is detached from every caller's
// context so only the adapter timeout bounds it; each caller still stops
// waiting when its own context ends.
func (s *Selector) invoke(ctx context.Context, cand *Adapter, agentID, input string, logger *logging.Logger) (*core.Result, error) {
	key := cache.Fingerprint(agentID, []byte(input))
	detached := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(key, func() (interface{}, error) {
		res, err := cand.Invoke(detached, input)
		if err != nil {
			return nil, err
		}
		s.store(detached, agentID, input, res, logger)
		return res, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			logger.Debug("joined in-flight backend call")
		}
		return r.Val.(*core.Result), nil
	case <-ctx.Done():
		return nil, cand.classify(ctx, ctx.Err())
	}
}

func (s *Selector) store(ctx context.Context, agentID, input string, res *core.Result, logger *logging.Logger) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		logger.Warn("encoding result for cache failed", "error", err)
		return
	}
	if err := s.cache.Set(context.WithoutCancel(ctx), agentID, []byte(input), payload); err != nil {
		logger.Warn("cache write failed, continuing without it", "error", err)
	}
}
