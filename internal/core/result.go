package core

import (
	"crypto/sha256"
	"encoding/hex"
)

// ResultStatus is the verdict a backend reports for its analysis.
type ResultStatus string

const (
	ResultPassed  ResultStatus = "passed"
	ResultWarning ResultStatus = "warning"
	ResultFailed  ResultStatus = "failed"
)

// Severity ranks an issue.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (1) to critical (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Issue is a single finding reported by an analysis backend.
type Issue struct {
	Type           string   `json:"type" validate:"required"`
	Severity       Severity `json:"severity" validate:"required,oneof=low medium high critical"`
	File           string   `json:"file,omitempty"`
	Line           int      `json:"line,omitempty" validate:"gte=0"`
	Description    string   `json:"description" validate:"required"`
	Snippet        string   `json:"snippet,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// Recommendation is the overall review decision.
type Recommendation string

const (
	RecommendApprove        Recommendation = "approve"
	RecommendComment        Recommendation = "comment"
	RecommendRequestChanges Recommendation = "request_changes"
)

// Synthesis carries the merged review produced by a synthesis backend.
type Synthesis struct {
	Comment        string         `json:"comment" validate:"required"`
	Confidence     float64        `json:"confidence" validate:"gte=0,lte=1"`
	Recommendation Recommendation `json:"recommendation" validate:"required,oneof=approve comment request_changes"`
}

// Result is the payload every backend returns and the cache stores.
// TotalIssues must equal len(Issues).
type Result struct {
	Status      ResultStatus `json:"status" validate:"required,oneof=passed warning failed"`
	Summary     string       `json:"summary,omitempty"`
	Issues      []Issue      `json:"issues" validate:"dive"`
	TotalIssues int          `json:"total_issues" validate:"gte=0"`
	Synthesis   *Synthesis   `json:"synthesis,omitempty"`
}

// NewResult builds a result whose status reflects the highest severity found.
// No issues passes; any high or critical issue fails; anything else warns.
func NewResult(summary string, issues []Issue) *Result {
	if issues == nil {
		issues = []Issue{}
	}
	status := ResultPassed
	for _, is := range issues {
		if is.Severity.Rank() >= SeverityHigh.Rank() {
			status = ResultFailed
			break
		}
		status = ResultWarning
	}
	return &Result{
		Status:      status,
		Summary:     summary,
		Issues:      issues,
		TotalIssues: len(issues),
	}
}

// ContentHash returns the hex SHA-256 of a delivered body.
func ContentHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
