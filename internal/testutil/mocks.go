package testutil

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
)

// MockBackend implements core.Backend and counts invocations.
type MockBackend struct {
	name        string
	configured  bool
	analyzeFunc func(context.Context, string) (*core.Result, error)
	calls       atomic.Int64
	mu          sync.Mutex
	inputs      []string
}

// NewMockBackend creates a configured backend that returns a passing result.
func NewMockBackend(name string) *MockBackend {
	return &MockBackend{name: name, configured: true}
}

// Name returns the backend name.
func (m *MockBackend) Name() string {
	return m.name
}

// Configured reports the configured flag.
func (m *MockBackend) Configured() bool {
	return m.configured
}

// Analyze records the call and runs the configured behaviour.
func (m *MockBackend) Analyze(ctx context.Context, input string) (*core.Result, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.inputs = append(m.inputs, input)
	m.mu.Unlock()

	if m.analyzeFunc != nil {
		return m.analyzeFunc(ctx, input)
	}
	return core.NewResult(fmt.Sprintf("%s found nothing", m.name), nil), nil
}

// WithAnalyzeFunc sets a custom analyze function.
func (m *MockBackend) WithAnalyzeFunc(fn func(context.Context, string) (*core.Result, error)) *MockBackend {
	m.analyzeFunc = fn
	return m
}

// WithResult configures a fixed result.
func (m *MockBackend) WithResult(res *core.Result) *MockBackend {
	m.analyzeFunc = func(context.Context, string) (*core.Result, error) {
		return res, nil
	}
	return m
}

// WithError configures the mock to fail.
func (m *MockBackend) WithError(err error) *MockBackend {
	m.analyzeFunc = func(context.Context, string) (*core.Result, error) {
		return nil, err
	}
	return m
}

// WithDelay makes the mock wait d, or until ctx is done, before answering.
func (m *MockBackend) WithDelay(d time.Duration) *MockBackend {
	next := m.analyzeFunc
	m.analyzeFunc = func(ctx context.Context, input string) (*core.Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
		if next != nil {
			return next(ctx, input)
		}
		return core.NewResult("", nil), nil
	}
	return m
}

// Unconfigured marks the backend as missing its credential.
func (m *MockBackend) Unconfigured() *MockBackend {
	m.configured = false
	return m
}

// Calls returns how many times Analyze ran.
func (m *MockBackend) Calls() int {
	return int(m.calls.Load())
}

// Inputs returns every input Analyze received.
func (m *MockBackend) Inputs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.inputs...)
}

// SynthesisResult builds a result carrying a synthesis block.
func SynthesisResult(comment string) *core.Result {
	res := core.NewResult("synthesis", nil)
	res.Synthesis = &core.Synthesis{
		Comment:        comment,
		Confidence:     1,
		Recommendation: core.RecommendApprove,
	}
	return res
}

// SinkCall records one sink operation.
type SinkCall struct {
	Op         string // create or update
	EventKey   string
	ArtifactID string
	Body       string
}

// MockSink implements core.Sink in memory.
type MockSink struct {
	mu        sync.Mutex
	artifacts map[string]string // id -> body
	owners    map[string]string // event key -> id
	calls     []SinkCall
	nextID    int

	CreateErr error
	UpdateErr error

	// Findable enables core.ArtifactFinder behaviour through FindArtifact.
	Findable bool
	FindErr  error
}

// NewMockSink creates an empty sink.
func NewMockSink() *MockSink {
	return &MockSink{
		artifacts: make(map[string]string),
		owners:    make(map[string]string),
	}
}

// Name returns "mock".
func (s *MockSink) Name() string {
	return "mock"
}

// Create stores a new artifact.
func (s *MockSink) Create(_ context.Context, eventKey string, report *core.Report) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return "", s.CreateErr
	}
	s.nextID++
	id := strconv.Itoa(s.nextID)
	s.artifacts[id] = report.Body
	s.owners[eventKey] = id
	s.calls = append(s.calls, SinkCall{Op: "create", EventKey: eventKey, ArtifactID: id, Body: report.Body})
	return id, nil
}

// Update replaces an artifact's body.
func (s *MockSink) Update(_ context.Context, eventKey, artifactID string, report *core.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	if _, ok := s.artifacts[artifactID]; !ok {
		return core.ErrNotFound("artifact", artifactID)
	}
	s.artifacts[artifactID] = report.Body
	s.calls = append(s.calls, SinkCall{Op: "update", EventKey: eventKey, ArtifactID: artifactID, Body: report.Body})
	return nil
}

// FindArtifact returns the last artifact created for eventKey.
func (s *MockSink) FindArtifact(_ context.Context, eventKey string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Findable {
		return "", false, nil
	}
	if s.FindErr != nil {
		return "", false, s.FindErr
	}
	id, ok := s.owners[eventKey]
	return id, ok, nil
}

// Delete removes an artifact, as if a user deleted the comment.
func (s *MockSink) Delete(artifactID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts, artifactID)
}

// Calls returns recorded operations.
func (s *MockSink) Calls() []SinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SinkCall{}, s.calls...)
}

// CallCount returns the number of calls of one operation.
func (s *MockSink) CallCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Artifacts returns the number of live artifacts.
func (s *MockSink) Artifacts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.artifacts)
}

// Body returns an artifact's current body.
func (s *MockSink) Body(artifactID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifacts[artifactID]
}
