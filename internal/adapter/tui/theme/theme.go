// Package theme holds the terminal styles used by the chatstream CLI.
// Colors adapt to light and dark terminals, and lipgloss drops them
// entirely when NO_COLOR is set.
package theme

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	colorGreen  = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	colorRed    = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	colorAmber  = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	colorBlue   = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	colorPurple = lipgloss.AdaptiveColor{Light: "#6a1b9a", Dark: "#ce93d8"}
	colorGrey   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
	colorFaint  = lipgloss.AdaptiveColor{Light: "#9e9e9e", Dark: "#757575"}
	colorPanel  = lipgloss.AdaptiveColor{Light: "#f5f5f5", Dark: "#2d2d2d"}
)

var (
	Bold = lipgloss.NewStyle().Bold(true)
	Dim  = lipgloss.NewStyle().Faint(true)

	TextSuccess = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	TextError   = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	TextWarning = lipgloss.NewStyle().Foreground(colorAmber).Bold(true)
	TextInfo    = lipgloss.NewStyle().Foreground(colorBlue)
	TextMuted   = lipgloss.NewStyle().Foreground(colorGrey)

	ToolLabel = lipgloss.NewStyle().Foreground(colorAmber).Bold(true)
	Timestamp = lipgloss.NewStyle().Foreground(colorFaint).Faint(true)
	StatusBar = lipgloss.NewStyle().Foreground(colorFaint).Background(colorPanel).Padding(0, 1)
)

var roleStyles = map[string]lipgloss.Style{
	"user":      lipgloss.NewStyle().Foreground(colorBlue).Bold(true),
	"assistant": lipgloss.NewStyle().Foreground(colorPurple).Bold(true),
	"tool":      ToolLabel,
	"system":    TextMuted,
}

// RoleLabel renders a chat role name in its color.
func RoleLabel(role string) string {
	if s, ok := roleStyles[role]; ok {
		return s.Render(role)
	}
	return Bold.Render(role)
}

// MaxContentWidth is the wrap width for rendered messages.
const MaxContentWidth = 100

// Badge is the colored glyph shown in front of a turn, a tool call or a
// doctor check.
type Badge int

const (
	BadgeInfo Badge = iota
	BadgePending
	BadgeRunning
	BadgeOK
	BadgeWarn
	BadgeFail
)

// String renders the badge with the active symbol set.
func (b Badge) String() string {
	switch b {
	case BadgePending:
		return TextMuted.Render(Symbols.Pending)
	case BadgeRunning:
		return TextInfo.Render(Symbols.Running)
	case BadgeOK:
		return TextSuccess.Render(Symbols.Success)
	case BadgeWarn:
		return TextWarning.Render(Symbols.Warning)
	case BadgeFail:
		return TextError.Render(Symbols.Error)
	default:
		return TextInfo.Render(Symbols.Info)
	}
}
