// Package ui provides terminal styling for lm output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Ayu theme palette
// Dark: https://terminalcolors.com/themes/ayu/dark/
// Light: https://terminalcolors.com/themes/ayu/light/
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
	ColorReview = lipgloss.AdaptiveColor{
		Light: "#a37acc",
		Dark:  "#d2a6ff",
	}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	ReviewStyle = lipgloss.NewStyle().Foreground(ColorReview)

	// CategoryStyle is used for section headers.
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	HeaderStyle   = lipgloss.NewStyle().Bold(true)
)

const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"
	IconInfo = "ℹ"
)

// Tree characters for detail lines under an outcome.
const (
	TreeChild  = "⎿ "
	TreeLast   = "└─ "
	TreeIndent = "  "
)

const SeparatorLight = "──────────────────────────────────────────"

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }

// RenderCategory renders a section header in uppercase.
func RenderCategory(s string) string {
	return CategoryStyle.Render(strings.ToUpper(s))
}

func RenderSeparator() string {
	return MutedStyle.Render(SeparatorLight)
}

// State buckets for `lm list`. Matching is case-insensitive on the state
// name as written in the manifest.
var (
	todoStates       = setOf("todo", "to do", "backlog", "triage", "planned", "ready")
	inProgressStates = setOf("in progress", "wip", "doing", "progress", "started", "working")
	reviewStates     = setOf("review", "in review", "feedback", "blocked", "qa", "testing")
	doneStates       = setOf("done", "completed", "complete", "closed", "resolved")
	cancelledStates  = setOf("canceled", "cancelled", "abandoned", "declined")
)

func setOf(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// StateBadge is the symbol and label shown for a manifest state.
type StateBadge struct {
	Symbol string
	Label  string
	Style  lipgloss.Style
}

// Render joins the styled symbol and the muted label.
func (b StateBadge) Render() string {
	return b.Style.Bold(true).Render(b.Symbol) + " " + MutedStyle.Render(b.Label)
}

// BadgeForState classifies state into a list badge. Unknown states get a
// neutral circle and keep their own name.
func BadgeForState(state string) StateBadge {
	state = strings.TrimSpace(state)
	key := strings.ToLower(state)
	orDefault := func(def string) string {
		if state == "" {
			return def
		}
		return state
	}

	switch {
	case doneStates[key]:
		return StateBadge{"[x]", orDefault("Complete"), PassStyle}
	case cancelledStates[key]:
		return StateBadge{"✖", orDefault("Cancelled"), FailStyle}
	case inProgressStates[key]:
		return StateBadge{"→", orDefault("In Progress"), AccentStyle}
	case reviewStates[key]:
		return StateBadge{"⧖", orDefault("Review"), ReviewStyle}
	case state == "":
		return StateBadge{"[ ]", "No state", WarnStyle}
	case todoStates[key]:
		return StateBadge{"[ ]", state, WarnStyle}
	default:
		return StateBadge{"○", state, AccentStyle}
	}
}

// RenderState renders the badge for state, with a check mark appended when
// the entry is flagged complete.
func RenderState(state string, complete bool) string {
	s := BadgeForState(state).Render()
	if complete {
		s += " " + PassStyle.Bold(true).Render("☑")
	}
	return s
}
