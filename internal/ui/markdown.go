package ui

import (
	"github.com/charmbracelet/glamour"
)

// maxReadableWidth caps word wrap for rendered descriptions.
const maxReadableWidth = 100

// RenderMarkdown renders markdown for the terminal. It returns the input
// unchanged when colors are off or rendering fails.
func RenderMarkdown(markdown string) string {
	if !ShouldUseColor() {
		return markdown
	}
	return renderMarkdown(markdown, min(TerminalWidth(80), maxReadableWidth), glamour.WithAutoStyle())
}

func renderMarkdown(markdown string, width int, style glamour.TermRendererOption) string {
	renderer, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return rendered
}
