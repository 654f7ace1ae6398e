package backend

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
)

func TestLoadPrompts(t *testing.T) {
	p, err := LoadPrompts()
	require.NoError(t, err)

	list := p.List()
	require.Len(t, list, 3)
	assert.Equal(t, "runtime", list[0].Stage)
	assert.Equal(t, "security", list[1].Stage)
	assert.Equal(t, "synthesis", list[2].Stage)
	for _, m := range list {
		assert.Equal(t, m.Stage, m.ID)
		assert.NotEmpty(t, m.Title)
		assert.Len(t, m.Sha256, 64)
	}
}

func TestPrompts_RenderAnalysis(t *testing.T) {
	p, err := LoadPrompts()
	require.NoError(t, err)

	system, user, err := p.Render(core.StageSecurity, AnalysisPromptData{
		Diff:  "+x = 1",
		Files: []string{"a.py", "b.py"},
		Part:  2,
		Parts: 3,
		Static: []core.Issue{
			{Type: "Hardcoded Secret", File: "a.py", Line: 4, Description: "Password"},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, system, "security auditor")
	assert.Contains(t, user, "(part 2 of 3)")
	assert.Contains(t, user, "Files: a.py, b.py")
	assert.Contains(t, user, "- Hardcoded Secret at a.py:4: Password")
	assert.Contains(t, user, "```diff\n+x = 1\n```")
}

func TestPrompts_RenderSinglePartNoStatic(t *testing.T) {
	p, err := LoadPrompts()
	require.NoError(t, err)

	_, user, err := p.Render(core.StageRuntime, AnalysisPromptData{Diff: "x", Files: []string{"(snippet)"}, Part: 1, Parts: 1})
	require.NoError(t, err)
	assert.NotContains(t, user, "part 1 of 1")
	assert.NotContains(t, user, "already reported")
}

func TestPrompts_RenderSynthesis(t *testing.T) {
	p, err := LoadPrompts()
	require.NoError(t, err)

	_, user, err := p.Render(core.StageSynthesis, SynthesisPromptData{
		Files:          []string{"app.py"},
		Additions:      3,
		Deletions:      1,
		Stages:         `[{"stage":"security"}]`,
		Status:         core.ResultWarning,
		Confidence:     0.6,
		Recommendation: core.RecommendComment,
	})
	require.NoError(t, err)
	assert.Contains(t, user, "1 file(s) (+3 / -1): app.py")
	assert.Contains(t, user, "status warning, confidence 0.60, recommendation comment")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(user), `{"summary": "your text"}`))
}

func TestPrompts_UnknownStage(t *testing.T) {
	p, err := LoadPrompts()
	require.NoError(t, err)
	_, _, err = p.Render(core.StageID("style"), nil)
	assert.Error(t, err)
}

func TestSplitFrontmatter(t *testing.T) {
	fm, body, ok := splitFrontmatter("---\r\nid: x\r\n---\r\n\r\nbody\r\n")
	require.True(t, ok)
	assert.Equal(t, "id: x", fm)
	assert.Equal(t, "body\n", body)

	_, _, ok = splitFrontmatter("no frontmatter")
	assert.False(t, ok)
	_, _, ok = splitFrontmatter("---\nid: x\n")
	assert.False(t, ok)
}

func TestValidateMeta(t *testing.T) {
	valid := PromptMeta{ID: "security", Title: "t", Stage: "security", System: "s"}
	assert.NoError(t, validateMeta(valid, "security"))

	tests := []struct {
		name   string
		mutate func(*PromptMeta)
	}{
		{"id mismatch", func(m *PromptMeta) { m.ID = "other" }},
		{"no title", func(m *PromptMeta) { m.Title = " " }},
		{"bad stage", func(m *PromptMeta) { m.Stage = "style" }},
		{"no system", func(m *PromptMeta) { m.System = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid
			tt.mutate(&m)
			assert.Error(t, validateMeta(m, "security"))
		})
	}
}
