// Package report renders review comments as GitHub-flavoured markdown.
package report

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/diffutil"
)

// maxListedIssues caps the findings listed per stage.
const maxListedIssues = 20

// Data is everything a comment is rendered from. Rendering is a pure
// function of Data: no timestamps, so identical runs give identical bodies.
type Data struct {
	EventKey   string
	Input      string
	Stages     []core.StageOutcome
	Assessment core.Assessment

	// Prose is an optional narrative placed under the header.
	Prose string
}

// ========================================
// Helpers
// ========================================

func statusIcon(s core.ResultStatus) string {
	switch s {
	case core.ResultPassed:
		return "✅"
	case core.ResultWarning:
		return "⚠️"
	default:
		return "❌"
	}
}

func severityIcon(s core.Severity) string {
	switch s {
	case core.SeverityCritical:
		return "🔴"
	case core.SeverityHigh:
		return "🟠"
	case core.SeverityMedium:
		return "🟡"
	default:
		return "⚪"
	}
}

func stageTitle(id core.StageID) string {
	switch id {
	case core.StageSecurity:
		return "🔒 Security Analysis"
	case core.StageRuntime:
		return "🧮 Runtime & Logic Check"
	default:
		return "🔎 " + strings.ToUpper(string(id[:1])) + string(id[1:])
	}
}

func recommendationText(r core.Recommendation) string {
	switch r {
	case core.RecommendApprove:
		return "Approve"
	case core.RecommendComment:
		return "Comment"
	default:
		return "Request changes"
	}
}

// Slug turns an event key into a file-name-safe string.
func Slug(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.':
			b.WriteRune(unicode.ToLower(r))
		case r == ' ' || r == '/' || r == ':' || r == '#':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "-") {
				b.WriteRune('-')
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// ========================================
// Renderers
// ========================================

// Render produces the full review comment.
func Render(d Data) string {
	var sb strings.Builder
	a := d.Assessment

	sb.WriteString("## 🔍 Automated PR Review Summary\n\n")
	sb.WriteString(fmt.Sprintf("%s **Status:** %s · **Confidence:** %.0f%% · **Recommendation:** %s\n\n",
		statusIcon(a.Status), a.Status, a.Confidence*100, recommendationText(a.Recommendation)))

	if prose := strings.TrimSpace(d.Prose); prose != "" {
		sb.WriteString(prose)
		sb.WriteString("\n\n")
	}

	for _, s := range d.Stages {
		sb.WriteString("---\n\n")
		writeStage(&sb, s)
	}

	sb.WriteString("---\n\n")
	writeStatistics(&sb, diffutil.Summarize(d.Input), a)
	writeRecommendations(&sb, a)

	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// RenderDegraded produces the fallback comment used when synthesis could
// not run. It lists the stage outcomes and says so explicitly.
func RenderDegraded(d Data, reason string) string {
	var sb strings.Builder
	sb.WriteString("> [!WARNING]\n")
	sb.WriteString("> **Synthesis degraded.** The summary below was assembled from the raw stage results")
	if reason = strings.TrimSpace(reason); reason != "" {
		sb.WriteString(": ")
		sb.WriteString(strings.ReplaceAll(reason, "\n", " "))
	}
	sb.WriteString("\n\n")

	d.Prose = ""
	sb.WriteString(Render(d))
	return sb.String()
}

func writeStage(sb *strings.Builder, s core.StageOutcome) {
	sb.WriteString(fmt.Sprintf("### %s\n", stageTitle(s.Stage)))

	switch {
	case s.Status == core.StageStatusSkipped:
		sb.WriteString("**Status:** ⏭️ Skipped\n\n")
		return
	case s.Result == nil:
		sb.WriteString("**Status:** ❓ No result\n\n")
		if s.Error != "" {
			sb.WriteString(fmt.Sprintf("The stage failed: `%s`\n\n", oneLine(s.Error)))
		}
		return
	}

	r := s.Result
	if r.TotalIssues == 0 {
		sb.WriteString("**Status:** ✅ Passed\n\n")
	} else {
		sb.WriteString(fmt.Sprintf("**Status:** %s %d issue(s) found\n\n", statusIcon(r.Status), r.TotalIssues))
	}
	if r.Summary != "" {
		sb.WriteString(r.Summary)
		sb.WriteString("\n\n")
	}

	for i, is := range r.Issues {
		if i == maxListedIssues {
			sb.WriteString(fmt.Sprintf("- …and %d more\n", len(r.Issues)-maxListedIssues))
			break
		}
		sb.WriteString(fmt.Sprintf("- %s **%s** (%s)%s: %s\n",
			severityIcon(is.Severity), is.Type, is.Severity, location(is), is.Description))
		if is.Recommendation != "" {
			sb.WriteString(fmt.Sprintf("  - 💡 %s\n", is.Recommendation))
		}
	}
	if len(r.Issues) > 0 {
		sb.WriteString("\n")
	}
	if s.Backend != "" {
		sb.WriteString(fmt.Sprintf("<sub>analysed by `%s`</sub>\n\n", s.Backend))
	}
}

func location(is core.Issue) string {
	switch {
	case is.File != "" && is.Line > 0:
		return fmt.Sprintf(" at `%s:%d`", is.File, is.Line)
	case is.File != "":
		return fmt.Sprintf(" in `%s`", is.File)
	case is.Line > 0:
		return fmt.Sprintf(" at line %d", is.Line)
	default:
		return ""
	}
}

func writeStatistics(sb *strings.Builder, st diffutil.Stats, a core.Assessment) {
	sb.WriteString("### 📊 Change Statistics\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Files Changed | %d |\n", st.Files))
	sb.WriteString(fmt.Sprintf("| Lines Added | +%d |\n", st.Additions))
	sb.WriteString(fmt.Sprintf("| Lines Removed | -%d |\n", st.Deletions))
	sb.WriteString(fmt.Sprintf("| Net Change | %+d |\n", st.Net()))
	sb.WriteString(fmt.Sprintf("| Security Issues | %d |\n", a.SecurityIssues))
	sb.WriteString(fmt.Sprintf("| Runtime Issues | %d |\n", a.RuntimeIssues))
	sb.WriteString("\n")
}

func writeRecommendations(sb *strings.Builder, a core.Assessment) {
	sb.WriteString("### 💡 Recommendations\n\n")
	if a.SecurityIssues > 0 {
		sb.WriteString("- 🔒 **Security:** Address security vulnerabilities before merging\n")
	}
	if a.RuntimeIssues > 0 {
		sb.WriteString("- 🧮 **Runtime:** Fix runtime issues before merging\n")
	}
	for _, id := range a.FailedStages {
		sb.WriteString(fmt.Sprintf("- ❓ **%s:** Stage did not complete, review manually\n", id))
	}
	if a.SecurityIssues == 0 && a.RuntimeIssues == 0 && len(a.FailedStages) == 0 {
		sb.WriteString("- ✅ **Ready to Merge:** All checks passed!\n")
	}
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "`", "'")
	if len(s) > 300 {
		s = s[:300] + "…"
	}
	return s
}
