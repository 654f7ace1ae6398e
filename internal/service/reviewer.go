package service

import (
	"context"
	"fmt"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/logging"
)

// Deliverer publishes a report for an event key. delivery.Guard implements it.
type Deliverer interface {
	Deliver(ctx context.Context, eventKey string, report *core.Report) (core.Delivery, error)
}

// Reviewer runs the pipeline for an event and delivers its report.
type Reviewer struct {
	engine    *Engine
	deliverer Deliverer
	logger    *logging.Logger
}

// NewReviewer creates a reviewer. A nil deliverer makes Review stop after
// the pipeline, as for a dry run.
func NewReviewer(engine *Engine, deliverer Deliverer, logger *logging.Logger) *Reviewer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reviewer{engine: engine, deliverer: deliverer, logger: logger}
}

// Review processes one event end to end.
func (r *Reviewer) Review(ctx context.Context, event core.Event) (*core.Outcome, error) {
	run, err := r.engine.Run(ctx, event)
	if err != nil {
		return nil, err
	}
	out := &core.Outcome{Run: run, Report: run.Report}
	if r.deliverer == nil {
		return out, nil
	}

	// Not cancelled with the caller: the artifact and its record must agree.
	d, err := r.deliverer.Deliver(context.WithoutCancel(ctx), event.Key, run.Report)
	if err != nil {
		r.logger.WithEvent(event.Key).Error("delivery failed", "run_id", run.ID, "error", err)
		return out, fmt.Errorf("delivering report for %s: %w", event.Key, err)
	}
	out.Delivery = d
	return out, nil
}
