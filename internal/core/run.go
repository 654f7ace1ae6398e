package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Event is one trigger of the pipeline: a pull request being opened or
// updated, or a diff handed to the CLI.
type Event struct {
	// Key identifies the logical target of delivery, e.g. "owner/repo#42".
	// Every event with the same key updates the same artifact.
	Key string `json:"key"`

	// Input is the code or unified diff under review.
	Input string `json:"input"`

	// Stages restricts which analysis stages run. Empty runs all of them.
	// Stages that depend on others always run.
	Stages []StageID `json:"stages,omitempty"`

	// Revision is informational, typically the pull request head SHA.
	Revision string `json:"revision,omitempty"`
}

// Validate checks the event is usable.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Key) == "" {
		return ErrValidation(CodeInvalidEvent, "event key is required")
	}
	return nil
}

// Selected reports whether a stage was requested by the event.
func (e Event) Selected(id StageID) bool {
	if len(e.Stages) == 0 {
		return true
	}
	for _, s := range e.Stages {
		if s == id {
			return true
		}
	}
	return false
}

// Attempt records one candidate considered by the backend selector.
type Attempt struct {
	Backend string `json:"backend"`
	Outcome string `json:"outcome"` // ok, cached, error, unconfigured, rate_limited
	Error   string `json:"error,omitempty"`
}

// Attempt outcomes.
const (
	AttemptOK           = "ok"
	AttemptCached       = "cached"
	AttemptError        = "error"
	AttemptUnconfigured = "unconfigured"
	AttemptRateLimited  = "rate_limited"
)

// StageResult is the state of one stage inside a run.
type StageResult struct {
	Stage      StageID     `json:"stage"`
	Status     StageStatus `json:"status"`
	Backend    string      `json:"backend,omitempty"`
	FromCache  bool        `json:"from_cache"`
	Attempts   []Attempt   `json:"attempts,omitempty"`
	Result     *Result     `json:"result,omitempty"`
	Err        error       `json:"-"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	FinishedAt time.Time   `json:"finished_at,omitempty"`
}

// Duration returns how long the stage ran.
func (s *StageResult) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// StageOutcome is the timing-free view of a finished stage handed to synthesis.
// Two runs over the same input with the same outcomes produce identical
// StageOutcome values, so synthesis requests stay cacheable.
type StageOutcome struct {
	Stage   StageID     `json:"stage"`
	Status  StageStatus `json:"status"`
	Backend string      `json:"backend,omitempty"`
	Error   string      `json:"error,omitempty"`
	Result  *Result     `json:"result,omitempty"`
}

// Outcome converts a stage result to its synthesis view.
func (s *StageResult) Outcome() StageOutcome {
	return StageOutcome{
		Stage:   s.Stage,
		Status:  s.Status,
		Backend: s.Backend,
		Error:   s.Error,
		Result:  s.Result,
	}
}

// SynthesisInput is the request body sent to synthesis backends.
type SynthesisInput struct {
	Input  string         `json:"input"`
	Stages []StageOutcome `json:"stages"`
}

// Stage returns the outcome for a stage, if present.
func (in SynthesisInput) Stage(id StageID) (StageOutcome, bool) {
	for _, s := range in.Stages {
		if s.Stage == id {
			return s, true
		}
	}
	return StageOutcome{}, false
}

// Report is the final artifact of a run.
type Report struct {
	RunID          string         `json:"run_id"`
	EventKey       string         `json:"event_key"`
	Revision       string         `json:"revision,omitempty"`
	Status         ResultStatus   `json:"status"`
	Confidence     float64        `json:"confidence"`
	Recommendation Recommendation `json:"recommendation"`
	Body           string         `json:"body"`
	Degraded       bool           `json:"degraded"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

// PipelineRun is the in-memory state of one pipeline execution.
type PipelineRun struct {
	ID          string                   `json:"id"`
	EventKey    string                   `json:"event_key"`
	InputDigest string                   `json:"input_digest"`
	Stages      map[StageID]*StageResult `json:"stages"`
	Report      *Report                  `json:"report,omitempty"`
	StartedAt   time.Time                `json:"started_at"`
	FinishedAt  time.Time                `json:"finished_at"`
}

// DeliveryAction is what the delivery guard did with a report.
type DeliveryAction string

const (
	DeliveryCreated DeliveryAction = "created"
	DeliveryUpdated DeliveryAction = "updated"
	DeliverySkipped DeliveryAction = "skipped"
)

// DeliveryRecord remembers the artifact created for an event key.
type DeliveryRecord struct {
	EventKey    string    `json:"event_key"`
	ArtifactID  string    `json:"artifact_id"`
	ContentHash string    `json:"content_hash"`
	Revision    string    `json:"revision,omitempty"`
	Deliveries  int       `json:"deliveries"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Delivery is the guard's decision for one report.
type Delivery struct {
	Action     DeliveryAction `json:"action"`
	ArtifactID string         `json:"artifact_id,omitempty"`
}

// Outcome is what a full review (pipeline + delivery) returns.
type Outcome struct {
	Run      *PipelineRun `json:"run"`
	Report   *Report      `json:"report"`
	Delivery Delivery     `json:"delivery"`
}

// PullRef identifies a pull request.
type PullRef struct {
	Owner  string
	Repo   string
	Number int
}

var pullKeyPattern = regexp.MustCompile(`^([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)#([0-9]+)$`)

// ParsePullRef parses "owner/repo#number".
func ParsePullRef(key string) (PullRef, error) {
	m := pullKeyPattern.FindStringSubmatch(strings.TrimSpace(key))
	if m == nil {
		return PullRef{}, ErrValidation(CodeInvalidKey, fmt.Sprintf("expected owner/repo#number, got %q", key))
	}
	n, err := strconv.Atoi(m[3])
	if err != nil || n <= 0 {
		return PullRef{}, ErrValidation(CodeInvalidKey, fmt.Sprintf("invalid pull request number in %q", key))
	}
	return PullRef{Owner: m[1], Repo: m[2], Number: n}, nil
}

// Key returns the event key for the pull request.
func (p PullRef) Key() string {
	return fmt.Sprintf("%s/%s#%d", p.Owner, p.Repo, p.Number)
}
