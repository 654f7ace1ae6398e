// Package tui formats review results for the terminal.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
)

// Color palette
var (
	ColorPrimary   = lipgloss.Color("#7C3AED") // Purple
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan
	ColorSuccess   = lipgloss.Color("#10B981") // Green
	ColorWarning   = lipgloss.Color("#F59E0B") // Amber
	ColorError     = lipgloss.Color("#EF4444") // Red
	ColorTextMuted = lipgloss.Color("#9CA3AF") // Muted gray
	ColorBorder    = lipgloss.Color("#374151") // Dark gray
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginBottom(1)

	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSecondary)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	PassedStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning).
			Bold(true)

	FailedStyle = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)
)

// ResultStyle returns the style for an overall status.
func ResultStyle(status core.ResultStatus) lipgloss.Style {
	switch status {
	case core.ResultPassed:
		return PassedStyle
	case core.ResultWarning:
		return WarningStyle
	default:
		return FailedStyle
	}
}

// StageStyle returns the style for a stage status.
func StageStyle(status core.StageStatus) lipgloss.Style {
	switch status {
	case core.StageStatusSuccess:
		return PassedStyle
	case core.StageStatusFailed:
		return FailedStyle
	default:
		return MutedStyle
	}
}

// StageIcon returns a one-rune marker for a stage status.
func StageIcon(status core.StageStatus) string {
	switch status {
	case core.StageStatusSuccess:
		return "✓"
	case core.StageStatusFailed:
		return "✗"
	case core.StageStatusSkipped:
		return "⊘"
	case core.StageStatusRunning:
		return "●"
	default:
		return "○"
	}
}
