// Package styles holds the lipgloss palette used for terminal output
package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Oxocarbon color scheme, base16 oxocarbon-dark palette
var (
	OxocarbonBase01 = lipgloss.Color("#393939")
	OxocarbonBase03 = lipgloss.Color("#767676")
	OxocarbonBase04 = lipgloss.Color("#dde1e6")
	OxocarbonWhite  = lipgloss.Color("#ffffff")

	OxocarbonTeal   = lipgloss.Color("#3ddbd9")
	OxocarbonBlue   = lipgloss.Color("#78a9ff")
	OxocarbonPink   = lipgloss.Color("#ee5396")
	OxocarbonRed    = lipgloss.Color("#ff5252")
	OxocarbonGreen  = lipgloss.Color("#42be65")
	OxocarbonPurple = lipgloss.Color("#be95ff")
	OxocarbonMauve  = lipgloss.Color("#d1aaff")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(OxocarbonWhite).
			Background(OxocarbonPurple).
			Padding(0, 1).
			Bold(true)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(OxocarbonMauve).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().Foreground(OxocarbonBase03)

	ValueStyle = lipgloss.NewStyle().Foreground(OxocarbonBase04)

	ErrorStyle = lipgloss.NewStyle().Foreground(OxocarbonRed).Bold(true)

	BoxStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(OxocarbonBase01)
)

// Badge renders text on a colored background
func Badge(text string, color lipgloss.Color) string {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#161616")).
		Background(color).
		Padding(0, 1).
		Render(text)
}

// EventColor picks a color for an event or call name: ads are pink, errors
// red, session boundaries purple, quartiles green, everything else blue
func EventColor(name string) lipgloss.Color {
	switch {
	case strings.Contains(name, "error"):
		return OxocarbonRed
	case strings.HasPrefix(name, "ad_"):
		return OxocarbonPink
	case strings.HasPrefix(name, "session_"):
		return OxocarbonPurple
	case name == "quartile":
		return OxocarbonGreen
	case name == "load" || name == "seek" || name == "rate" || name == "paused":
		return OxocarbonTeal
	default:
		return OxocarbonBlue
	}
}

// Event renders an event name as a fixed-width colored label
func Event(name string) string {
	return lipgloss.NewStyle().
		Foreground(EventColor(name)).
		Width(14).
		Render(name)
}
