// Package delivery publishes reports so that one event key maps to at most
// one artifact: the first report creates it, later ones update it, and a
// report identical to the last delivered one is skipped.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/logging"
)

// Observer receives delivery decisions. Metrics implement it.
type Observer interface {
	DeliveryFinished(sink string, action core.DeliveryAction)
}

// Guard serializes deliveries per event key and decides between create,
// update and skip.
type Guard struct {
	sink     core.Sink
	store    core.DeliveryStore
	logger   *logging.Logger
	observer Observer
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *Guard) {
		g.logger = l
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(g *Guard) {
		g.observer = o
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// NewGuard creates a guard delivering to sink and remembering deliveries in store.
func NewGuard(sink core.Sink, store core.DeliveryStore, opts ...Option) *Guard {
	g := &Guard{
		sink:   sink,
		store:  store,
		logger: logging.NewNop(),
		now:    time.Now,
		locks:  make(map[string]*keyLock),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Sink returns the destination.
func (g *Guard) Sink() core.Sink {
	return g.sink
}

func (g *Guard) lock(key string) func() {
	g.mu.Lock()
	l, ok := g.locks[key]
	if !ok {
		l = &keyLock{}
		g.locks[key] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, key)
		}
		g.mu.Unlock()
	}
}

// Deliver publishes report for eventKey.
//
// When the delivery record cannot be read, the guard asks the sink for an
// existing artifact and, failing that, creates a new one: a duplicate is
// preferred over a lost report.
func (g *Guard) Deliver(ctx context.Context, eventKey string, report *core.Report) (core.Delivery, error) {
	if eventKey == "" {
		return core.Delivery{}, core.ErrValidation(core.CodeInvalidEvent, "event key is required")
	}
	if report == nil {
		return core.Delivery{}, core.ErrValidation(core.CodeInvalidEvent, "report is required")
	}

	unlock := g.lock(eventKey)
	defer unlock()

	logger := g.logger.WithEvent(eventKey).With("sink", g.sink.Name())
	hash := core.ContentHash(report.Body)

	rec, err := g.store.GetDelivery(ctx, eventKey)
	if err != nil {
		logger.Warn("delivery record unavailable, a duplicate artifact may be created", "error", err)
		rec = nil
	}

	if rec == nil {
		rec = g.discover(ctx, eventKey, logger)
	}

	if rec != nil && rec.ContentHash == hash {
		logger.Info("report unchanged, skipping delivery", "artifact", rec.ArtifactID)
		g.observe(core.DeliverySkipped)
		return core.Delivery{Action: core.DeliverySkipped, ArtifactID: rec.ArtifactID}, nil
	}

	now := g.now()
	if rec != nil {
		err := g.sink.Update(ctx, eventKey, rec.ArtifactID, report)
		switch {
		case err == nil:
			rec.ContentHash = hash
			rec.Revision = report.Revision
			rec.Deliveries++
			rec.UpdatedAt = now
			g.persist(ctx, rec, logger)
			logger.Info("report updated", "artifact", rec.ArtifactID)
			g.observe(core.DeliveryUpdated)
			return core.Delivery{Action: core.DeliveryUpdated, ArtifactID: rec.ArtifactID}, nil
		case core.IsCategory(err, core.ErrCatNotFound):
			logger.Warn("artifact vanished, creating a new one", "artifact", rec.ArtifactID)
		default:
			return core.Delivery{}, deliveryError("updating", err)
		}
	}

	id, err := g.sink.Create(ctx, eventKey, report)
	if err != nil {
		return core.Delivery{}, deliveryError("creating", err)
	}
	created := &core.DeliveryRecord{
		EventKey:    eventKey,
		ArtifactID:  id,
		ContentHash: hash,
		Revision:    report.Revision,
		Deliveries:  1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if rec != nil {
		created.Deliveries = rec.Deliveries + 1
	}
	g.persist(ctx, created, logger)
	logger.Info("report created", "artifact", id)
	g.observe(core.DeliveryCreated)
	return core.Delivery{Action: core.DeliveryCreated, ArtifactID: id}, nil
}

// discover asks the sink for an artifact it created before the record was
// lost. The returned record has no content hash, so it is always updated.
func (g *Guard) discover(ctx context.Context, eventKey string, logger *logging.Logger) *core.DeliveryRecord {
	finder, ok := g.sink.(core.ArtifactFinder)
	if !ok {
		return nil
	}
	id, found, err := finder.FindArtifact(ctx, eventKey)
	if err != nil {
		logger.Warn("artifact lookup failed, creating a new one", "error", err)
		return nil
	}
	if !found {
		return nil
	}
	logger.Info("found existing artifact without a delivery record", "artifact", id)
	now := g.now()
	return &core.DeliveryRecord{EventKey: eventKey, ArtifactID: id, CreatedAt: now, UpdatedAt: now}
}

func (g *Guard) persist(ctx context.Context, rec *core.DeliveryRecord, logger *logging.Logger) {
	if err := g.store.PutDelivery(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("saving delivery record failed", "artifact", rec.ArtifactID, "error", err)
	}
}

func (g *Guard) observe(action core.DeliveryAction) {
	if g.observer != nil {
		g.observer.DeliveryFinished(g.sink.Name(), action)
	}
}

func deliveryError(op string, err error) error {
	var de *core.DomainError
	if errors.As(err, &de) {
		return err
	}
	return core.ErrExecution(core.CodeDeliveryFailed, fmt.Sprintf("%s artifact", op)).WithCause(err)
}
