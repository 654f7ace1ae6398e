package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/report"
)

// TemplateName is the name of the template synthesizer.
const TemplateName = "template"

// Template merges stage outcomes into a review comment without a model.
// It is the last synthesis candidate: it needs no credential and its output
// depends only on its input.
type Template struct{}

// NewTemplate creates the synthesizer.
func NewTemplate() *Template {
	return &Template{}
}

// Name returns "template".
func (t *Template) Name() string { return TemplateName }

// Configured always reports true.
func (t *Template) Configured() bool { return true }

// Analyze renders the comment for an encoded core.SynthesisInput.
func (t *Template) Analyze(ctx context.Context, input string) (*core.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in, err := decodeSynthesisInput(input)
	if err != nil {
		return nil, err
	}
	a := core.Assess(in.Stages)
	return compose(in, a, templateProse(a)), nil
}

func decodeSynthesisInput(input string) (core.SynthesisInput, error) {
	var in core.SynthesisInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return in, core.ErrValidation(core.CodeInvalidEvent, "synthesis input is not valid JSON").WithCause(err)
	}
	return in, nil
}

// compose builds the synthesis result every synthesizer returns: the verdict
// comes from the assessment, only the prose differs.
func compose(in core.SynthesisInput, a core.Assessment, prose string) *core.Result {
	body := report.Render(report.Data{
		Input:      in.Input,
		Stages:     in.Stages,
		Assessment: a,
		Prose:      prose,
	})
	return &core.Result{
		Status:      a.Status,
		Summary:     fmt.Sprintf("%s with confidence %.2f", a.Status, a.Confidence),
		Issues:      []core.Issue{},
		TotalIssues: 0,
		Synthesis: &core.Synthesis{
			Comment:        body,
			Confidence:     a.Confidence,
			Recommendation: a.Recommendation,
		},
	}
}

func templateProse(a core.Assessment) string {
	var sb strings.Builder
	switch a.Status {
	case core.ResultPassed:
		sb.WriteString("All automated checks passed. This change looks ready to merge.")
	case core.ResultWarning:
		sb.WriteString("Automated checks found issues worth a look before merging.")
	default:
		sb.WriteString("Automated checks found problems that should be fixed before merging.")
	}
	if n := len(a.FailedStages); n > 0 {
		names := make([]string, n)
		for i, id := range a.FailedStages {
			names[i] = string(id)
		}
		sb.WriteString(fmt.Sprintf(" The %s check could not complete, so that part of the change is unreviewed.",
			strings.Join(names, " and ")))
	}
	return sb.String()
}
