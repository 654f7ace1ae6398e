package tui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
)

// Printer writes human-readable summaries. With color off no style is applied.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter creates a printer.
func NewPrinter(w io.Writer, color bool) *Printer {
	return &Printer{w: w, color: color}
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *Printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

// stageOrder lists analysis stages first, then synthesis, then anything else
// alphabetically.
func stageOrder(stages map[core.StageID]*core.StageResult) []core.StageID {
	rank := map[core.StageID]int{core.StageSecurity: 0, core.StageRuntime: 1, core.StageSynthesis: 2}
	ids := make([]core.StageID, 0, len(stages))
	for id := range stages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ri, iok := rank[ids[i]]
		rj, jok := rank[ids[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return ids[i] < ids[j]
		}
	})
	return ids
}

// Outcome prints the stages, the assessment and what delivery did.
func (p *Printer) Outcome(out *core.Outcome) {
	if out == nil || out.Report == nil {
		return
	}
	rep := out.Report
	p.printf("%s\n", p.style(HeaderStyle, "Review of "+rep.EventKey))

	if out.Run != nil {
		for _, id := range stageOrder(out.Run.Stages) {
			p.stage(out.Run.Stages[id])
		}
		p.printf("\n")
	}

	status := strings.ToUpper(string(rep.Status))
	p.printf("  %-15s %s\n", "Status:", p.style(ResultStyle(rep.Status), status))
	p.printf("  %-15s %.0f%%\n", "Confidence:", rep.Confidence*100)
	p.printf("  %-15s %s\n", "Recommendation:", strings.ReplaceAll(string(rep.Recommendation), "_", " "))
	if rep.Degraded {
		p.printf("  %s\n", p.style(WarningStyle, "synthesis degraded: fallback report"))
	}
	if out.Delivery.Action != "" {
		line := string(out.Delivery.Action)
		if out.Delivery.ArtifactID != "" {
			line += " " + out.Delivery.ArtifactID
		}
		p.printf("  %-15s %s\n", "Delivery:", line)
	}
}

func (p *Printer) stage(sr *core.StageResult) {
	if sr == nil {
		return
	}
	icon := p.style(StageStyle(sr.Status), StageIcon(sr.Status))
	detail := sr.Backend
	if sr.FromCache {
		detail += " (cached)"
	}
	if sr.Result != nil {
		detail += fmt.Sprintf(", %d issue(s)", sr.Result.TotalIssues)
	}
	if d := sr.Duration(); d > 0 && !sr.FromCache {
		detail += ", " + d.Round(time.Millisecond).String()
	}
	if sr.Error != "" {
		detail += ": " + sr.Error
	}
	p.printf("  %s %-10s %s\n", icon, sr.Stage, p.style(MutedStyle, strings.TrimPrefix(detail, ", ")))
}

// CacheStats is the subset of cache statistics the printer shows.
type CacheStats struct {
	Total   int
	Active  int
	Expired int
	Bytes   int64
	Oldest  time.Time
	Newest  time.Time
	Agents  []AgentCount
}

// AgentCount is one row of the per-agent table.
type AgentCount struct {
	Agent   string
	Active  int
	Expired int
	Bytes   int64
}

// Stats prints cache statistics inside a box.
func (p *Printer) Stats(s CacheStats) {
	var b strings.Builder
	fmt.Fprintf(&b, "Entries: %d (%d active, %d expired)\n", s.Total, s.Active, s.Expired)
	fmt.Fprintf(&b, "Size:    %s", humanBytes(s.Bytes))
	if !s.Oldest.IsZero() {
		fmt.Fprintf(&b, "\nOldest:  %s\nNewest:  %s",
			s.Oldest.Local().Format(time.DateTime), s.Newest.Local().Format(time.DateTime))
	}
	for i, a := range s.Agents {
		if i == 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "\n  %-24s %4d active %4d expired %10s", a.Agent, a.Active, a.Expired, humanBytes(a.Bytes))
	}

	text := b.String()
	if p.color {
		text = BoxStyle.Render(text)
	}
	p.printf("%s\n%s\n", p.style(SectionStyle, "Cache"), text)
}

// Evicted prints how many cache entries were removed.
func (p *Printer) Evicted(n int, what string) {
	p.printf("%s %d %s\n", p.style(PassedStyle, "✓"), n, what)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
