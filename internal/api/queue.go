package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/logging"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/service"
)

var (
	// ErrQueueFull is returned by Enqueue when every slot is taken.
	ErrQueueFull = errors.New("review queue is full")
	// ErrQueueClosed is returned by Enqueue after Stop.
	ErrQueueClosed = errors.New("review queue is closed")
)

// DiffSource fetches pull request diffs. github.Client implements it.
type DiffSource interface {
	FetchDiff(ctx context.Context, ref core.PullRef) (string, error)
}

// Reviewer runs a review for one event. service.Reviewer implements it.
type Reviewer interface {
	Review(ctx context.Context, event core.Event) (*core.Outcome, error)
}

// Job is a pull request waiting for review.
type Job struct {
	Ref        core.PullRef
	Revision   string
	DeliveryID string
}

// JobResult is reported once per processed job.
type JobResult struct {
	Job     Job
	Outcome *core.Outcome
	Err     error
}

// Queue is a bounded worker pool that reviews pull requests.
type Queue struct {
	diffs    DiffSource
	reviewer Reviewer
	retry    *service.RetryPolicy
	logger   *logging.Logger
	workers  int
	timeout  time.Duration
	onDone   func(JobResult)

	jobs   chan Job
	mu     sync.RWMutex
	closed bool
	group  *errgroup.Group
	cancel context.CancelFunc
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithWorkers sets the number of concurrent reviews.
func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithQueueSize sets how many jobs may wait.
func WithQueueSize(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.jobs = make(chan Job, n)
		}
	}
}

// WithRetryPolicy sets the policy for diff fetches.
func WithRetryPolicy(p *service.RetryPolicy) QueueOption {
	return func(q *Queue) {
		if p != nil {
			q.retry = p
		}
	}
}

// WithQueueLogger sets the queue logger.
func WithQueueLogger(l *logging.Logger) QueueOption {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithJobTimeout bounds a single job, diff fetch included.
func WithJobTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		q.timeout = d
	}
}

// WithOnDone registers a callback invoked after every job.
func WithOnDone(fn func(JobResult)) QueueOption {
	return func(q *Queue) {
		q.onDone = fn
	}
}

// NewQueue creates a queue. Call Start before enqueueing.
func NewQueue(diffs DiffSource, reviewer Reviewer, opts ...QueueOption) *Queue {
	q := &Queue{
		diffs:    diffs,
		reviewer: reviewer,
		retry:    service.DefaultRetryPolicy(),
		logger:   logging.NewNop(),
		workers:  2,
		timeout:  10 * time.Minute,
		jobs:     make(chan Job, 32),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start launches the workers. They stop when ctx is cancelled or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	q.group = &errgroup.Group{}
	for i := 0; i < q.workers; i++ {
		q.group.Go(func() error {
			for job := range q.jobs {
				if ctx.Err() != nil {
					q.finish(JobResult{Job: job, Err: ctx.Err()})
					continue
				}
				q.process(ctx, job)
			}
			return nil
		})
	}
	q.logger.Info("review queue started", "workers", q.workers, "capacity", cap(q.jobs))
}

// Enqueue adds a job without blocking.
func (q *Queue) Enqueue(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of waiting jobs.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Stop refuses new jobs, lets the workers drain what is queued and waits for
// them. Jobs still waiting after ctx expires are abandoned.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	if q.group == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- q.group.Wait() }()
	select {
	case err := <-done:
		q.cancel()
		return err
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) process(ctx context.Context, job Job) {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	key := job.Ref.Key()
	log := q.logger.WithEvent(key).With("revision", job.Revision, "delivery_id", job.DeliveryID)

	var diff string
	err := q.retry.ExecuteWithNotify(ctx, func(ctx context.Context) error {
		d, err := q.diffs.FetchDiff(ctx, job.Ref)
		if err != nil {
			return err
		}
		diff = d
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		log.Warn("diff fetch failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	})
	if err != nil {
		log.Error("could not fetch diff", "error", err)
		q.finish(JobResult{Job: job, Err: err})
		return
	}

	out, err := q.reviewer.Review(ctx, core.Event{Key: key, Input: diff, Revision: job.Revision})
	if err != nil {
		log.Error("review failed", "error", err)
	} else {
		log.Info("review delivered",
			"status", out.Report.Status,
			"confidence", out.Report.Confidence,
			"action", out.Delivery.Action,
			"artifact_id", out.Delivery.ArtifactID,
		)
	}
	q.finish(JobResult{Job: job, Outcome: out, Err: err})
}

func (q *Queue) finish(r JobResult) {
	if q.onDone != nil {
		q.onDone(r)
	}
}
