package core

import "math"

// Confidence thresholds for the overall verdict.
const (
	PassThreshold    = 0.8
	WarningThreshold = 0.6

	runtimeFailurePenalty = 0.3
	securityIssuePenalty  = 0.1
	maxSecurityPenalty    = 0.5
)

// Assessment is the deterministic verdict derived from the analysis stages.
type Assessment struct {
	Status         ResultStatus   `json:"status"`
	Confidence     float64        `json:"confidence"`
	Recommendation Recommendation `json:"recommendation"`
	SecurityIssues int            `json:"security_issues"`
	RuntimeIssues  int            `json:"runtime_issues"`
	FailedStages   []StageID      `json:"failed_stages,omitempty"`
}

// Assess scores the analysis outcomes.
//
// Confidence starts at 1.0, loses 0.3 when the runtime stage reports a
// failure and 0.1 per security issue up to 0.5. The status follows the
// confidence thresholds but is never better than the worst analysis result,
// so a failed security or runtime check fails the review. A stage that
// produced no result keeps the verdict from being better than a warning.
func Assess(stages []StageOutcome) Assessment {
	var a Assessment
	confidence := 1.0
	worst := ResultPassed

	for _, s := range stages {
		if s.Status == StageStatusFailed {
			a.FailedStages = append(a.FailedStages, s.Stage)
		}
		if s.Result == nil {
			continue
		}
		if s.Stage != StageSynthesis {
			worst = worseStatus(worst, s.Result.Status)
		}
		switch s.Stage {
		case StageSecurity:
			a.SecurityIssues = s.Result.TotalIssues
		case StageRuntime:
			a.RuntimeIssues = s.Result.TotalIssues
			if s.Result.Status == ResultFailed {
				confidence -= runtimeFailurePenalty
			}
		}
	}

	confidence -= math.Min(maxSecurityPenalty, securityIssuePenalty*float64(a.SecurityIssues))
	confidence = math.Max(0, math.Min(1, confidence))
	a.Confidence = math.Round(confidence*100) / 100

	switch {
	case a.Confidence >= PassThreshold:
		a.Status = ResultPassed
	case a.Confidence >= WarningThreshold:
		a.Status = ResultWarning
	default:
		a.Status = ResultFailed
	}
	a.Status = worseStatus(a.Status, worst)
	if a.Status == ResultPassed && len(a.FailedStages) > 0 {
		a.Status = ResultWarning
	}

	a.Recommendation = RecommendationFor(a.Status)
	return a
}

// RecommendationFor maps a verdict to a review decision.
func RecommendationFor(status ResultStatus) Recommendation {
	switch status {
	case ResultPassed:
		return RecommendApprove
	case ResultWarning:
		return RecommendComment
	default:
		return RecommendRequestChanges
	}
}

// worseStatus returns the more severe of two verdicts. Unknown values are
// ignored.
func worseStatus(a, b ResultStatus) ResultStatus {
	if statusRank(b) > statusRank(a) {
		return b
	}
	return a
}

func statusRank(s ResultStatus) int {
	switch s {
	case ResultPassed:
		return 1
	case ResultWarning:
		return 2
	case ResultFailed:
		return 3
	default:
		return 0
	}
}
