package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/adapters/store"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/testutil"
)

type brokenStore struct {
	getErr error
	putErr error
	puts   int
	mu     sync.Mutex
}

func (s *brokenStore) GetDelivery(context.Context, string) (*core.DeliveryRecord, error) {
	return nil, s.getErr
}

func (s *brokenStore) PutDelivery(context.Context, *core.DeliveryRecord) error {
	s.mu.Lock()
	s.puts++
	s.mu.Unlock()
	return s.putErr
}

type countingObserver struct {
	mu      sync.Mutex
	actions []core.DeliveryAction
}

func (o *countingObserver) DeliveryFinished(_ string, action core.DeliveryAction) {
	o.mu.Lock()
	o.actions = append(o.actions, action)
	o.mu.Unlock()
}

func report(body string) *core.Report {
	return &core.Report{Body: body, Revision: "sha"}
}

func TestGuard_CreateUpdateSkip(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewMockSink()
	st := store.NewMemoryStore()
	obs := &countingObserver{}
	g := NewGuard(sink, st, WithObserver(obs))

	d, err := g.Deliver(ctx, "o/r#1", report("v1"))
	require.NoError(t, err)
	assert.Equal(t, core.DeliveryCreated, d.Action)
	id := d.ArtifactID

	d, err = g.Deliver(ctx, "o/r#1", report("v2"))
	require.NoError(t, err)
	assert.Equal(t, core.DeliveryUpdated, d.Action)
	assert.Equal(t, id, d.ArtifactID)
	assert.Equal(t, "v2", sink.Body(id))

	d, err = g.Deliver(ctx, "o/r#1", report("v2"))
	require.NoError(t, err)
	assert.Equal(t, core.DeliverySkipped, d.Action)
	assert.Equal(t, id, d.ArtifactID)

	assert.Equal(t, 1, sink.CallCount("create"))
	assert.Equal(t, 1, sink.CallCount("update"))
	assert.Equal(t, []core.DeliveryAction{core.DeliveryCreated, core.DeliveryUpdated, core.DeliverySkipped}, obs.actions)

	rec, err := st.GetDelivery(ctx, "o/r#1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, core.ContentHash("v2"), rec.ContentHash)
	assert.Equal(t, 2, rec.Deliveries)
}

func TestGuard_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewMockSink()
	g := NewGuard(sink, store.NewMemoryStore())

	a, err := g.Deliver(ctx, "o/r#1", report("same"))
	require.NoError(t, err)
	b, err := g.Deliver(ctx, "o/r#2", report("same"))
	require.NoError(t, err)

	assert.Equal(t, core.DeliveryCreated, a.Action)
	assert.Equal(t, core.DeliveryCreated, b.Action)
	assert.NotEqual(t, a.ArtifactID, b.ArtifactID)
}

func TestGuard_Validation(t *testing.T) {
	g := NewGuard(testutil.NewMockSink(), store.NewMemoryStore())

	_, err := g.Deliver(context.Background(), "", report("x"))
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))

	_, err = g.Deliver(context.Background(), "k", nil)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestGuard_VanishedArtifactIsRecreated(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewMockSink()
	g := NewGuard(sink, store.NewMemoryStore())

	first, err := g.Deliver(ctx, "k", report("v1"))
	require.NoError(t, err)
	sink.Delete(first.ArtifactID)

	d, err := g.Deliver(ctx, "k", report("v2"))
	require.NoError(t, err)
	assert.Equal(t, core.DeliveryCreated, d.Action)
	assert.NotEqual(t, first.ArtifactID, d.ArtifactID)
	assert.Equal(t, 1, sink.Artifacts())
}

func TestGuard_StoreReadFailureCreates(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewMockSink()
	st := &brokenStore{getErr: errors.New("disk I/O error")}
	g := NewGuard(sink, st)

	for i := 0; i < 2; i++ {
		d, err := g.Deliver(ctx, "k", report("v"))
		require.NoError(t, err)
		assert.Equal(t, core.DeliveryCreated, d.Action)
	}
	assert.Equal(t, 2, sink.Artifacts(), "without a record and without discovery a duplicate is created")
}

func TestGuard_StoreReadFailureDiscoversArtifact(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewMockSink()
	sink.Findable = true
	g := NewGuard(sink, &brokenStore{getErr: errors.New("disk I/O error")})

	first, err := g.Deliver(ctx, "k", report("v"))
	require.NoError(t, err)
	assert.Equal(t, core.DeliveryCreated, first.Action)

	second, err := g.Deliver(ctx, "k", report("v"))
	require.NoError(t, err)
	assert.Equal(t, core.DeliveryUpdated, second.Action, "a discovered artifact has no hash to compare")
	assert.Equal(t, first.ArtifactID, second.ArtifactID)
	assert.Equal(t, 1, sink.Artifacts())
}

func TestGuard_DiscoveryFailureCreates(t *testing.T) {
	sink := testutil.NewMockSink()
	sink.Findable = true
	sink.FindErr = errors.New("api down")
	g := NewGuard(sink, store.NewMemoryStore())

	d, err := g.Deliver(context.Background(), "k", report("v"))
	require.NoError(t, err)
	assert.Equal(t, core.DeliveryCreated, d.Action)
}

func TestGuard_RecordWriteFailureIsNotFatal(t *testing.T) {
	st := &brokenStore{putErr: errors.New("read-only")}
	g := NewGuard(testutil.NewMockSink(), st)

	d, err := g.Deliver(context.Background(), "k", report("v"))
	require.NoError(t, err)
	assert.Equal(t, core.DeliveryCreated, d.Action)
	assert.Equal(t, 1, st.puts)
}

func TestGuard_SinkErrors(t *testing.T) {
	ctx := context.Background()

	sink := testutil.NewMockSink()
	sink.CreateErr = errors.New("502 bad gateway")
	_, err := NewGuard(sink, store.NewMemoryStore()).Deliver(ctx, "k", report("v"))
	require.Error(t, err)
	var de *core.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, core.CodeDeliveryFailed, de.Code)

	sink = testutil.NewMockSink()
	st := store.NewMemoryStore()
	g := NewGuard(sink, st)
	_, err = g.Deliver(ctx, "k", report("v1"))
	require.NoError(t, err)
	sink.UpdateErr = core.ErrAuth("token revoked")
	_, err = g.Deliver(ctx, "k", report("v2"))
	assert.True(t, core.IsCategory(err, core.ErrCatAuth), "domain errors pass through: %v", err)

	rec, err := st.GetDelivery(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, core.ContentHash("v1"), rec.ContentHash, "a failed update leaves the record alone")
}

func TestGuard_ConcurrentDeliveriesCreateOnce(t *testing.T) {
	sink := testutil.NewMockSink()
	g := NewGuard(sink, store.NewMemoryStore())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Deliver(context.Background(), "o/r#7", report("same body")); err != nil {
				t.Errorf("Deliver() error = %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, sink.CallCount("create"))
	assert.Equal(t, 0, sink.CallCount("update"))
	assert.Equal(t, 1, sink.Artifacts())

	g.mu.Lock()
	assert.Empty(t, g.locks, "per-key locks are released")
	g.mu.Unlock()
}

func TestGuard_Clock(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()
	g := NewGuard(testutil.NewMockSink(), st, WithClock(func() time.Time { return at }))

	_, err := g.Deliver(context.Background(), "k", report("v"))
	require.NoError(t, err)

	rec, err := st.GetDelivery(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, rec.CreatedAt.Equal(at))
	assert.Equal(t, "sha", rec.Revision)
}
