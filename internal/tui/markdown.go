package tui

import (
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
)

// RenderMarkdown renders a review comment for the terminal. Without color the
// notty style keeps the output free of escape sequences.
func RenderMarkdown(body string, width int, color bool) (string, error) {
	style := styles.NoTTYStyle
	if color {
		style = styles.DarkStyle
	}
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(body)
}
