package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/adapters/store"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/cache"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/testutil"
)

func adapters(stage core.StageID, backends ...*testutil.MockBackend) []*Adapter {
	out := make([]*Adapter, 0, len(backends))
	for _, b := range backends {
		out = append(out, NewAdapter(stage, b))
	}
	return out
}

func outcomes(attempts []core.Attempt) []string {
	out := make([]string, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, a.Backend+"="+a.Outcome)
	}
	return out
}

func TestSelector_FallbackOrder(t *testing.T) {
	a := testutil.NewMockBackend("a").WithError(errors.New("500"))
	b := testutil.NewMockBackend("b").WithError(core.ErrSchema("not json"))
	c := testutil.NewMockBackend("c")

	sel, err := NewSelector().Select(context.Background(), core.StageSecurity, adapters(core.StageSecurity, a, b, c), "diff")
	require.NoError(t, err)

	assert.Equal(t, "c", sel.Backend)
	assert.False(t, sel.FromCache)
	assert.Equal(t, []string{"a=error", "b=error", "c=ok"}, outcomes(sel.Attempts))
	assert.Equal(t, 1, a.Calls(), "a failing candidate is not retried")
	assert.Equal(t, 1, b.Calls())
	assert.Equal(t, 1, c.Calls())
}

func TestSelector_StopsAtFirstSuccess(t *testing.T) {
	a := testutil.NewMockBackend("a")
	b := testutil.NewMockBackend("b")

	sel, err := NewSelector().Select(context.Background(), core.StageRuntime, adapters(core.StageRuntime, a, b), "x")
	require.NoError(t, err)
	assert.Equal(t, "a", sel.Backend)
	assert.Equal(t, 0, b.Calls())
}

func TestSelector_SkipsUnconfigured(t *testing.T) {
	a := testutil.NewMockBackend("groq").Unconfigured()
	b := testutil.NewMockBackend("static")

	sel, err := NewSelector().Select(context.Background(), core.StageSecurity, adapters(core.StageSecurity, a, b), "x")
	require.NoError(t, err)
	assert.Equal(t, "static", sel.Backend)
	assert.Equal(t, 0, a.Calls())
	assert.Equal(t, []string{"groq=unconfigured", "static=ok"}, outcomes(sel.Attempts))
}

func TestSelector_SkipsRateLimited(t *testing.T) {
	limits := NewRateLimiterRegistry()
	limits.Configure("groq", RateLimiterConfig{MaxTokens: 1, RefillRate: 0.001})

	a := testutil.NewMockBackend("groq")
	b := testutil.NewMockBackend("static")
	s := NewSelector(WithRateLimits(limits))
	cands := adapters(core.StageSecurity, a, b)

	sel, err := s.Select(context.Background(), core.StageSecurity, cands, "first")
	require.NoError(t, err)
	assert.Equal(t, "groq", sel.Backend)

	sel, err = s.Select(context.Background(), core.StageSecurity, cands, "second")
	require.NoError(t, err)
	assert.Equal(t, "static", sel.Backend)
	assert.Equal(t, []string{"groq=rate_limited", "static=ok"}, outcomes(sel.Attempts))
	assert.Equal(t, 1, a.Calls())
}

func TestSelector_ProviderRateLimitDrainsBucket(t *testing.T) {
	limits := NewRateLimiterRegistry()
	limits.Configure("groq", RateLimiterConfig{MaxTokens: 5, RefillRate: 0.001})

	a := testutil.NewMockBackend("groq").WithError(core.ErrRateLimit("429 from provider"))
	b := testutil.NewMockBackend("static")

	_, err := NewSelector(WithRateLimits(limits)).Select(context.Background(), core.StageSecurity,
		adapters(core.StageSecurity, a, b), "x")
	require.NoError(t, err)
	assert.Less(t, limits.Get("groq").Available(), 1.0)
}

func TestSelector_ChainExhausted(t *testing.T) {
	last := errors.New("gemini down")
	a := testutil.NewMockBackend("groq").Unconfigured()
	b := testutil.NewMockBackend("gemini").WithError(last)

	_, err := NewSelector().Select(context.Background(), core.StageSynthesis, adapters(core.StageSynthesis, a, b), "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChainExhausted))
	assert.True(t, errors.Is(err, last), "last error is reachable through the chain")

	var chain *ChainExhaustedError
	require.True(t, errors.As(err, &chain))
	assert.Equal(t, core.StageSynthesis, chain.Stage)
	assert.Equal(t, []string{"groq=unconfigured", "gemini=error"}, outcomes(chain.Attempts))
	assert.Contains(t, chain.Attempts[1].Error, "gemini down")
}

func TestSelector_AllUnconfigured(t *testing.T) {
	a := testutil.NewMockBackend("groq").Unconfigured()

	_, err := NewSelector().Select(context.Background(), core.StageSecurity, adapters(core.StageSecurity, a), "x")
	assert.True(t, errors.Is(err, ErrChainExhausted))
}

func TestSelector_NoCandidates(t *testing.T) {
	_, err := NewSelector().Select(context.Background(), core.StageSecurity, nil, "x")
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestSelector_ContextDoneStopsChain(t *testing.T) {
	a := testutil.NewMockBackend("a")
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := NewSelector().Select(ctx, core.StageSecurity, adapters(core.StageSecurity, a), "x")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatTimeout), "got %v", err)
	assert.Equal(t, 0, a.Calls())
}

func TestSelector_CacheHitSkipsInvocation(t *testing.T) {
	c := cache.New(store.NewMemoryStore())
	a := testutil.NewMockBackend("groq")
	s := NewSelector(WithCache(c))
	cands := adapters(core.StageSecurity, a)

	first, err := s.Select(context.Background(), core.StageSecurity, cands, "diff")
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := s.Select(context.Background(), core.StageSecurity, cands, "diff")
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, []string{"groq=cached"}, outcomes(second.Attempts))

	_, err = s.Select(context.Background(), core.StageSecurity, cands, "diff ")
	require.NoError(t, err)
	assert.Equal(t, 2, a.Calls(), "a different input is a different key")
}

func TestSelector_CacheIsPerCandidate(t *testing.T) {
	c := cache.New(store.NewMemoryStore())
	payload, err := json.Marshal(core.NewResult("cached by gemini", nil))
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), AgentID(core.StageSecurity, "gemini"), []byte("diff"), payload))

	groq := testutil.NewMockBackend("groq").WithError(errors.New("down"))
	gemini := testutil.NewMockBackend("gemini")

	sel, err := NewSelector(WithCache(c)).Select(context.Background(), core.StageSecurity,
		adapters(core.StageSecurity, groq, gemini), "diff")
	require.NoError(t, err)
	assert.True(t, sel.FromCache)
	assert.Equal(t, "cached by gemini", sel.Result.Summary)
	assert.Equal(t, 0, gemini.Calls())
	assert.Equal(t, []string{"groq=error", "gemini=cached"}, outcomes(sel.Attempts))
}

func TestSelector_FailuresAreNotCached(t *testing.T) {
	c := cache.New(store.NewMemoryStore())
	a := testutil.NewMockBackend("groq").WithError(errors.New("down"))

	_, err := NewSelector(WithCache(c)).Select(context.Background(), core.StageSecurity, adapters(core.StageSecurity, a), "x")
	require.Error(t, err)

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestSelector_ConcurrentIdenticalCallsInvokeOnce(t *testing.T) {
	c := cache.New(store.NewMemoryStore())
	a := testutil.NewMockBackend("groq").WithDelay(50 * time.Millisecond)
	s := NewSelector(WithCache(c))
	cands := adapters(core.StageSecurity, a)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Select(context.Background(), core.StageSecurity, cands, "same diff")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, a.Calls())
}

func TestSelector_JoinedCallsKeepTheirOwnDeadlines(t *testing.T) {
	a := testutil.NewMockBackend("slow").WithDelay(300 * time.Millisecond)
	s := NewSelector(WithCache(cache.New(store.NewMemoryStore())))
	cands := adapters(core.StageSecurity, a)

	type outcome struct {
		sel     *Selection
		err     error
		elapsed time.Duration
	}
	short := make(chan outcome, 1)
	long := make(chan outcome, 1)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		start := time.Now()
		sel, err := s.Select(ctx, core.StageSecurity, cands, "same diff")
		short <- outcome{sel, err, time.Since(start)}
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		sel, err := s.Select(context.Background(), core.StageSecurity, cands, "same diff")
		long <- outcome{sel: sel, err: err}
	}()

	first := <-short
	require.Error(t, first.err)
	assert.True(t, core.IsCategory(first.err, core.ErrCatTimeout), "got %v", first.err)
	assert.Less(t, first.elapsed, 250*time.Millisecond, "the short caller stops at its own deadline")

	second := <-long
	require.NoError(t, second.err, "the other caller's deadline must not fail this one")
	assert.Equal(t, "slow", second.sel.Backend)
	assert.Equal(t, 1, a.Calls())
}

func TestSelector_CancelledLeaderDoesNotFailFollower(t *testing.T) {
	a := testutil.NewMockBackend("slow").WithDelay(100 * time.Millisecond)
	s := NewSelector()
	cands := adapters(core.StageRuntime, a)

	ctx, cancel := context.WithCancel(context.Background())
	leader := make(chan error, 1)
	go func() {
		_, err := s.Select(ctx, core.StageRuntime, cands, "diff")
		leader <- err
	}()
	time.Sleep(10 * time.Millisecond)

	follower := make(chan error, 1)
	go func() {
		_, err := s.Select(context.Background(), core.StageRuntime, cands, "diff")
		follower <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.Error(t, <-leader)
	assert.NoError(t, <-follower)
	assert.Equal(t, 1, a.Calls())
}

func TestSelector_RecordsMetrics(t *testing.T) {
	m := NewMetrics()
	a := testutil.NewMockBackend("a").WithError(errors.New("x"))
	b := testutil.NewMockBackend("b")

	_, err := NewSelector(WithSelectorMetrics(m)).Select(context.Background(), core.StageRuntime,
		adapters(core.StageRuntime, a, b), "x")
	require.NoError(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "ghostwriter_selector_attempts_total" {
			found = true
			assert.Len(t, f.GetMetric(), 2)
		}
	}
	assert.True(t, found)
}
