// Package styles provides consistent styling for the report viewer TUI.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	Primary    = lipgloss.Color("#7C3AED")
	Secondary  = lipgloss.Color("#10B981")
	Warning    = lipgloss.Color("#F59E0B")
	Error      = lipgloss.Color("#EF4444")
	MutedColor = lipgloss.Color("#6B7280")
	White      = lipgloss.Color("#FFFFFF")

	// Muted text style
	Muted = lipgloss.NewStyle().Foreground(MutedColor)

	// Base styles
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		MarginBottom(1)

	Subtitle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	// Risk styles, keyed by confidence band
	RiskCritical = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	RiskHigh = lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true)

	RiskMedium = lipgloss.NewStyle().
			Foreground(Warning)

	RiskLow = lipgloss.NewStyle().
		Foreground(Secondary)

	// Tab styles
	TabActive = lipgloss.NewStyle().
			Foreground(White).
			Background(Primary).
			Padding(0, 2).
			Bold(true)

	TabInactive = lipgloss.NewStyle().
			Foreground(MutedColor).
			Padding(0, 2)

	// Help text
	Help = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)

	// Table styles
	TableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(MutedColor)

	// Metric card
	MetricValue = lipgloss.NewStyle().
			Bold(true).
			Foreground(Secondary)

	MetricLabel = lipgloss.NewStyle().
			Foreground(MutedColor)
)

// ForConfidence returns the style for a confidence or risk label.
func ForConfidence(label string) lipgloss.Style {
	switch {
	case len(label) >= 8 && label[:8] == "CRITICAL":
		return RiskCritical
	case len(label) >= 4 && label[:4] == "HIGH":
		return RiskHigh
	case len(label) >= 6 && label[:6] == "MEDIUM":
		return RiskMedium
	default:
		return RiskLow
	}
}
