package backend

import (
	"context"
	"regexp"
	"strings"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/diffutil"
)

// loopLookahead bounds how far a loop body is searched for an exit.
const loopLookahead = 50

var (
	// An operand, a division or modulo operator and a literal zero that is
	// not the start of a larger number.
	divByZero = regexp.MustCompile(`[\w)\]]\s*(?://|/|%)\s*0+(?:\.0+)?(?:$|[^\w.])`)

	infiniteLoop = regexp.MustCompile(`^\s*(?:while\s*\(?\s*(?:True|true|1)\s*\)?\s*(?::|\{)|for\s*\{|loop\s*\{)\s*$`)

	loopExit = regexp.MustCompile(`\b(?:break|return|raise|panic|os\.Exit|sys\.exit|exit)\b`)

	bareExcept = regexp.MustCompile(`^\s*except\s*:`)
)

// StaticRuntime looks at added lines for code that fails or hangs when it
// runs: division by a literal zero, loops with no way out, and bare except
// clauses.
type StaticRuntime struct{}

// NewStaticRuntime creates the checker.
func NewStaticRuntime() *StaticRuntime {
	return &StaticRuntime{}
}

// Name returns "static".
func (s *StaticRuntime) Name() string { return StaticName }

// Configured always reports true.
func (s *StaticRuntime) Configured() bool { return true }

// Analyze checks the input.
func (s *StaticRuntime) Analyze(ctx context.Context, input string) (*core.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var issues []core.Issue
	for _, f := range diffutil.Parse(input) {
		for i, l := range f.Added {
			text := stripComment(l.Text)
			switch {
			case divByZero.MatchString(text):
				issues = append(issues, runtimeIssue(l, "Division by Zero", core.SeverityHigh,
					"Division by a literal zero raises at runtime",
					"Guard the divisor or fix the constant"))
			case infiniteLoop.MatchString(text) && !exits(f.Added[i+1:], l):
				issues = append(issues, runtimeIssue(l, "Infinite Loop", core.SeverityHigh,
					"Unconditional loop with no break or return",
					"Add an exit condition"))
			case bareExcept.MatchString(text):
				issues = append(issues, runtimeIssue(l, "Swallowed Exception", core.SeverityMedium,
					"Bare except catches every exception, including KeyboardInterrupt",
					"Catch the specific exceptions you expect"))
			}
		}
	}
	return verdict(issues, "runtime"), nil
}

func runtimeIssue(l diffutil.Line, typ string, sev core.Severity, desc, rec string) core.Issue {
	return core.Issue{
		Type:           typ,
		Severity:       sev,
		File:           l.File,
		Line:           l.Number,
		Description:    desc,
		Snippet:        snippet(l.Text),
		Recommendation: rec,
	}
}

// exits reports whether the loop opened at head has an exit in its body.
// The body ends at the first line indented no deeper than head, at a gap in
// the added lines, or after loopLookahead lines.
func exits(rest []diffutil.Line, head diffutil.Line) bool {
	depth := indent(head.Text)
	prev := head.Number
	for n, l := range rest {
		if n == loopLookahead || l.Number != prev+1 {
			// The body continues outside the change; assume it is fine.
			return true
		}
		prev = l.Number
		if strings.TrimSpace(l.Text) == "" {
			continue
		}
		if indent(l.Text) <= depth {
			return false
		}
		if loopExit.MatchString(stripComment(l.Text)) {
			return true
		}
	}
	return false
}

func indent(s string) int {
	n := 0
	for _, r := range s {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

// stripComment drops a trailing "#" comment and whole "//" comment lines.
// A "//" after code is floor division in Python and is kept.
func stripComment(s string) string {
	if strings.HasPrefix(strings.TrimSpace(s), "//") {
		return ""
	}
	if i := strings.Index(s, "#"); i >= 0 {
		s = s[:i]
	}
	return s
}
