package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/logging"
)

var resultValidator = validator.New(validator.WithRequiredStructEnabled())

// Adapter runs one backend for one stage under a deadline and checks what
// it returns.
type Adapter struct {
	stage            core.StageID
	backend          core.Backend
	timeout          time.Duration
	requireSynthesis bool
	logger           *logging.Logger
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithAdapterTimeout bounds each invocation. Zero leaves only the caller's deadline.
func WithAdapterTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.timeout = d
	}
}

// WithRequireSynthesis rejects results that carry no synthesis block.
func WithRequireSynthesis() AdapterOption {
	return func(a *Adapter) {
		a.requireSynthesis = true
	}
}

// WithAdapterLogger sets the logger.
func WithAdapterLogger(l *logging.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = l
	}
}

// NewAdapter wraps a backend for a stage.
func NewAdapter(stage core.StageID, backend core.Backend, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		stage:   stage,
		backend: backend,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AgentID identifies the adapter in the cache: "<stage>.<backend>".
func (a *Adapter) AgentID() string {
	return AgentID(a.stage, a.backend.Name())
}

// AgentID builds the cache identity of a backend serving a stage.
func AgentID(stage core.StageID, backend string) string {
	return string(stage) + "." + backend
}

// Backend returns the wrapped backend.
func (a *Adapter) Backend() core.Backend {
	return a.backend
}

type invokeResult struct {
	result *core.Result
	err    error
}

// Invoke runs the backend. It returns as soon as the deadline passes even if
// the backend ignores its context; the abandoned call finishes in the
// background and its result is dropped.
func (a *Adapter) Invoke(ctx context.Context, input string) (*core.Result, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	done := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("backend panicked",
					"backend", a.backend.Name(),
					"panic", r,
					"stack", string(debug.Stack()))
				done <- invokeResult{err: core.ErrExecution(core.CodeBackendPanic,
					fmt.Sprintf("backend %s panicked: %v", a.backend.Name(), r))}
			}
		}()
		res, err := a.backend.Analyze(ctx, input)
		done <- invokeResult{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, a.classify(ctx, out.err)
		}
		if err := a.validate(out.result); err != nil {
			return nil, err
		}
		return out.result, nil
	case <-ctx.Done():
		return nil, a.classify(ctx, ctx.Err())
	}
}

func (a *Adapter) classify(ctx context.Context, err error) error {
	var de *core.DomainError
	if errors.As(err, &de) {
		return err
	}
	name := a.backend.Name()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return core.ErrTimeout(fmt.Sprintf("backend %s timed out", name)).WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return core.ErrExecution(core.CodeBackendFailed, fmt.Sprintf("backend %s cancelled", name)).WithCause(err)
	}
	return core.ErrExecution(core.CodeBackendFailed, fmt.Sprintf("backend %s failed", name)).WithCause(err)
}

// validate checks the result against its schema.
func (a *Adapter) validate(res *core.Result) error {
	name := a.backend.Name()
	if res == nil {
		return core.ErrSchema(fmt.Sprintf("backend %s returned no result", name))
	}
	if err := resultValidator.Struct(res); err != nil {
		return core.ErrSchema(fmt.Sprintf("backend %s returned an invalid result", name)).WithCause(err)
	}
	if res.TotalIssues != len(res.Issues) {
		return core.ErrSchema(fmt.Sprintf("backend %s reported total_issues=%d for %d issues",
			name, res.TotalIssues, len(res.Issues)))
	}
	if a.requireSynthesis && res.Synthesis == nil {
		return core.ErrSchema(fmt.Sprintf("backend %s returned no synthesis", name))
	}
	return nil
}
