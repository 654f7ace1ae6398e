package core

import "fmt"

// StageID identifies a stage in the review pipeline.
type StageID string

const (
	// StageSecurity scans the change for secrets, injection risks,
	// vulnerable dependency pins and insecure constructs.
	StageSecurity StageID = "security"

	// StageRuntime looks for code that fails or hangs when executed.
	StageRuntime StageID = "runtime"

	// StageSynthesis merges the analysis stages into one review comment.
	// It runs after every analysis stage has reached a terminal status.
	StageSynthesis StageID = "synthesis"
)

// AnalysisStages returns the stages that run independently of each other.
func AnalysisStages() []StageID {
	return []StageID{StageSecurity, StageRuntime}
}

// ParseStageID validates a stage name.
func ParseStageID(s string) (StageID, error) {
	switch StageID(s) {
	case StageSecurity, StageRuntime, StageSynthesis:
		return StageID(s), nil
	default:
		return "", fmt.Errorf("unknown stage: %q", s)
	}
}

// StageStatus is the lifecycle state of one stage within a run.
type StageStatus string

const (
	StageStatusPending StageStatus = "pending"
	StageStatusRunning StageStatus = "running"
	StageStatusSuccess StageStatus = "success"
	StageStatusFailed  StageStatus = "failed"
	StageStatusSkipped StageStatus = "skipped"
)

// Terminal reports whether the stage will not change status again.
func (s StageStatus) Terminal() bool {
	switch s {
	case StageStatusSuccess, StageStatusFailed, StageStatusSkipped:
		return true
	default:
		return false
	}
}
