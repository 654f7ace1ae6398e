// Package backend holds the interchangeable stage implementations: static
// scanners, hosted models reached through OpenAI-compatible APIs, and the
// template synthesizer.
package backend

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/diffutil"
)

// StaticName is the backend name of both static scanners. Their cache
// identities differ by stage.
const StaticName = "static"

const maxSnippet = 80

type linePattern struct {
	name           string
	re             *regexp.Regexp
	severity       core.Severity
	recommendation string
}

type scanCategory struct {
	issueType string
	snippet   bool
	patterns  []linePattern
}

var secretRecommendation = "Remove hardcoded secrets and use environment variables or a secret manager"

var securityCategories = []scanCategory{
	{
		issueType: "Hardcoded Secret",
		patterns: []linePattern{
			{"API Key", regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?secret)\s*[:=]\s*["']([a-zA-Z0-9_\-]{20,})["']`), core.SeverityCritical, secretRecommendation},
			{"AWS Access Key", regexp.MustCompile(`(?i)(aws[_-]?access[_-]?key[_-]?id|aws[_-]?secret)\s*[:=]\s*["']([A-Z0-9]{20,})["']`), core.SeverityCritical, secretRecommendation},
			{"Password", regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*["']([^"']{8,})["']`), core.SeverityCritical, secretRecommendation},
			{"Private Key", regexp.MustCompile(`-----BEGIN (?:RSA |EC )?PRIVATE KEY-----`), core.SeverityCritical, secretRecommendation},
			{"OAuth Token", regexp.MustCompile(`(?i)(oauth[_-]?token|access[_-]?token)\s*[:=]\s*["']([a-zA-Z0-9_\-.]{20,})["']`), core.SeverityCritical, secretRecommendation},
			{"GitHub Token", regexp.MustCompile(`(?i)(gh[ps]_[a-zA-Z0-9]{36,})`), core.SeverityCritical, secretRecommendation},
			{"Generic Secret", regexp.MustCompile(`(?i)(secret|token|bearer)\s*[:=]\s*["']([a-zA-Z0-9_\-]{32,})["']`), core.SeverityCritical, secretRecommendation},
		},
	},
	{
		issueType: "SQL Injection Vulnerability",
		snippet:   true,
		patterns: []linePattern{
			{"String concatenation in SQL", regexp.MustCompile(`(?i)(execute|exec|query)\s*\([^)]*[+%]\s*["']`), core.SeverityHigh, sqlRecommendation},
			{"F-string in SQL", regexp.MustCompile(`(?i)(execute|exec|query)\s*\([^)]*f["'].*\{`), core.SeverityHigh, sqlRecommendation},
			{"Format in SQL", regexp.MustCompile(`(?i)(execute|exec|query)\s*\([^)]*\.format\(`), core.SeverityHigh, sqlRecommendation},
			{"Unsafe SQL construction", regexp.MustCompile(`(?i)(select|insert|update|delete).*[+%].*(?:where|from|into)`), core.SeverityHigh, sqlRecommendation},
		},
	},
	{
		issueType: "Security Anti-Pattern",
		snippet:   true,
		patterns: []linePattern{
			{"eval() usage", regexp.MustCompile(`\beval\s*\(`), core.SeverityHigh, "Avoid eval(), it can execute arbitrary code"},
			{"exec() usage", regexp.MustCompile(`\bexec\s*\(`), core.SeverityHigh, "Avoid exec(), it can execute arbitrary code"},
			{"pickle.loads()", regexp.MustCompile(`pickle\.loads\s*\(`), core.SeverityMedium, "Pickle is unsafe for untrusted data, use JSON"},
			{"shell=True", regexp.MustCompile(`shell\s*=\s*True`), core.SeverityHigh, "Pass arguments as a list with shell=False"},
			{"md5 hashing", regexp.MustCompile(`\bhashlib\.md5\s*\(`), core.SeverityMedium, "MD5 is broken, use SHA-256 or better"},
			{"assert for validation", regexp.MustCompile(`^\s*assert\s+`), core.SeverityLow, "Asserts are stripped with -O, validate explicitly"},
			{"hardcoded localhost", regexp.MustCompile(`(?i)(localhost|127\.0\.0\.1):[0-9]+`), core.SeverityLow, "Read hosts and ports from configuration"},
		},
	},
}

const sqlRecommendation = "Use parameterized queries or an ORM"

// vulnerablePins lists dependency versions with published advisories.
var vulnerablePins = []struct {
	pkg      string
	versions []string
}{
	{"django", []string{"3.0", "3.0.1"}},
	{"flask", []string{"1.0", "1.0.1"}},
	{"pillow", []string{"8.1.0", "8.1.1"}},
	{"pyyaml", []string{"5.3", "5.3.1"}},
	{"requests", []string{"2.25.0", "2.26.0"}},
}

// StaticSecurity scans added lines for secrets, injection risks, vulnerable
// pins and unsafe constructs. It needs no credential and never fails.
type StaticSecurity struct{}

// NewStaticSecurity creates the scanner.
func NewStaticSecurity() *StaticSecurity {
	return &StaticSecurity{}
}

// Name returns "static".
func (s *StaticSecurity) Name() string { return StaticName }

// Configured always reports true.
func (s *StaticSecurity) Configured() bool { return true }

// Analyze scans the input. Each line yields at most one finding per category.
func (s *StaticSecurity) Analyze(ctx context.Context, input string) (*core.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lines := diffutil.AddedLines(input)
	var issues []core.Issue
	for _, l := range lines {
		for _, cat := range securityCategories[:2] {
			issues = appendMatch(issues, cat, l)
		}
		if is, ok := vulnerablePin(l); ok {
			issues = append(issues, is)
		}
		issues = appendMatch(issues, securityCategories[2], l)
	}
	return verdict(issues, "security"), nil
}

func appendMatch(issues []core.Issue, cat scanCategory, l diffutil.Line) []core.Issue {
	for _, p := range cat.patterns {
		if !p.re.MatchString(l.Text) {
			continue
		}
		is := core.Issue{
			Type:           cat.issueType,
			Severity:       p.severity,
			File:           l.File,
			Line:           l.Number,
			Description:    p.name,
			Recommendation: p.recommendation,
		}
		// Secrets are never copied into the report.
		if cat.snippet {
			is.Snippet = snippet(l.Text)
		}
		return append(issues, is)
	}
	return issues
}

func vulnerablePin(l diffutil.Line) (core.Issue, bool) {
	lower := strings.ToLower(l.Text)
	for _, vp := range vulnerablePins {
		for _, v := range vp.versions {
			for _, sep := range []string{"==", "@"} {
				if pinned(lower, vp.pkg+sep+v) {
					return core.Issue{
						Type:           "Vulnerable Dependency",
						Severity:       core.SeverityHigh,
						File:           l.File,
						Line:           l.Number,
						Description:    fmt.Sprintf("%s %s has known vulnerabilities", vp.pkg, v),
						Snippet:        snippet(l.Text),
						Recommendation: fmt.Sprintf("Update %s to the latest secure version", vp.pkg),
					}, true
				}
			}
		}
	}
	return core.Issue{}, false
}

// pinned reports whether spec occurs in line as a whole version, so that
// "flask==1.0" does not match "flask==1.0.2".
func pinned(line, spec string) bool {
	for i := 0; ; {
		j := strings.Index(line[i:], spec)
		if j < 0 {
			return false
		}
		end := i + j + len(spec)
		if end == len(line) || !isVersionChar(line[end]) {
			return true
		}
		i = end
	}
}

func isVersionChar(c byte) bool {
	return c == '.' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')
}

// snippet trims a line to at most maxSnippet bytes without splitting a
// UTF-8 sequence.
func snippet(text string) string {
	s := strings.TrimSpace(text)
	if len(s) <= maxSnippet {
		return s
	}
	n := maxSnippet
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// verdict builds a static result: any finding fails the stage.
func verdict(issues []core.Issue, kind string) *core.Result {
	if issues == nil {
		issues = []core.Issue{}
	}
	res := &core.Result{
		Status:      core.ResultPassed,
		Summary:     fmt.Sprintf("No %s issues found", kind),
		Issues:      issues,
		TotalIssues: len(issues),
	}
	if len(issues) > 0 {
		res.Status = core.ResultFailed
		res.Summary = fmt.Sprintf("Found %d %s issue(s) in %d file(s)", len(issues), kind, countFiles(issues))
	}
	return res
}

func countFiles(issues []core.Issue) int {
	seen := make(map[string]struct{})
	for _, is := range issues {
		seen[is.File] = struct{}{}
	}
	return len(seen)
}
