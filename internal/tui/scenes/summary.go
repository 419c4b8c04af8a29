// Package scenes provides the report viewer scenes.
package scenes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"opsec-attrib/internal/correlation"
	"opsec-attrib/internal/tui/source"
	"opsec-attrib/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TickMsg is sent on each refresh tick. Exported for use by the parent
// model.
type TickMsg struct {
	Scene string
	Time  time.Time
}

// reportMsg carries a freshly loaded report.
type reportMsg struct {
	report *correlation.Report
	err    error
}

// refreshInterval is how often the active scene reloads its data.
const refreshInterval = 5 * time.Second

// SummaryScene displays the report overview: counts, layer breakdown, and
// the highest risk correlation.
type SummaryScene struct {
	src        source.Source
	report     *correlation.Report
	err        error
	width      int
	height     int
	lastUpdate time.Time
	loading    bool
}

// NewSummaryScene creates a summary scene.
func NewSummaryScene(src source.Source) *SummaryScene {
	return &SummaryScene{
		src:     src,
		loading: true,
	}
}

// Init fetches the initial report.
func (s *SummaryScene) Init() tea.Cmd {
	return s.fetchReport()
}

func (s *SummaryScene) fetchReport() tea.Cmd {
	return func() tea.Msg {
		report, err := s.src.Report(context.Background())
		return reportMsg{report: report, err: err}
	}
}

// TickCmd returns the refresh tick. Returned by the parent model only while
// this scene is active.
func (s *SummaryScene) TickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "summary", Time: t}
	})
}

// Update handles messages for the summary scene.
func (s *SummaryScene) Update(msg tea.Msg) (*SummaryScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.height = msg.Height
		return s, nil

	case reportMsg:
		s.loading = false
		s.err = msg.err
		if msg.err == nil {
			s.report = msg.report
			s.lastUpdate = time.Now()
		}
		return s, nil

	case TickMsg:
		if msg.Scene == "summary" {
			return s, s.fetchReport()
		}
		return s, nil

	case tea.KeyMsg:
		if msg.String() == "r" {
			s.loading = true
			return s, s.fetchReport()
		}
		return s, nil
	}

	return s, nil
}

// View renders the summary.
func (s *SummaryScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Attribution Summary"))
	b.WriteString("\n\n")

	if s.loading && s.report == nil {
		b.WriteString(styles.Muted.Render("  Loading report..."))
		return b.String()
	}

	if s.err != nil {
		if s.err == source.ErrNoReport {
			b.WriteString(styles.Muted.Render("  No report available yet."))
			b.WriteString("\n\n")
			b.WriteString(styles.Muted.Render("  Reports appear after the first correlation run. Press [r] to retry."))
		} else {
			b.WriteString(styles.RiskCritical.Render(fmt.Sprintf("  Error: %v", s.err)))
		}
		return b.String()
	}

	if s.report == nil {
		b.WriteString(styles.Muted.Render("  No report loaded."))
		return b.String()
	}

	summary := s.report.Summary

	cards := []string{
		renderMetricCard("Signals", fmt.Sprintf("%d", summary.TotalSignals)),
		renderMetricCard("Correlations", fmt.Sprintf("%d", summary.TotalCorrelations)),
		renderMetricCard("Critical", fmt.Sprintf("%d", summary.CorrelationsByConfidence["CRITICAL"])),
		renderMetricCard("High", fmt.Sprintf("%d", summary.CorrelationsByConfidence["HIGH"])),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cards...))
	b.WriteString("\n\n")

	b.WriteString(styles.Subtitle.Render("  Signals by layer"))
	b.WriteString("\n")
	b.WriteString(renderCountMap(summary.SignalsByLayer))
	b.WriteString("\n")

	if s.report.HighestRisk != nil {
		hr := s.report.HighestRisk
		b.WriteString(styles.Subtitle.Render("  Highest risk correlation"))
		b.WriteString("\n")
		label := styles.ForConfidence(hr.RiskLevel).Render(hr.RiskLevel)
		b.WriteString(fmt.Sprintf("  %s  %s (score %.2f)\n", label, hr.CorrelationType, hr.CorrelationScore))
		b.WriteString(styles.Muted.Render("  " + hr.Explanation))
		b.WriteString("\n")
	}

	if !s.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("\n  Report: %s  |  Updated: %s",
			s.report.Timestamp, s.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func renderMetricCard(label, value string) string {
	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.MutedColor).
		Padding(0, 2).
		Width(18).
		Align(lipgloss.Center)

	content := fmt.Sprintf("%s\n%s",
		styles.MetricValue.Render(value),
		styles.MetricLabel.Render(label),
	)
	return card.Render(content)
}

func renderCountMap(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var rows []string
	for _, k := range keys {
		rows = append(rows, fmt.Sprintf("  %-12s %d", k, counts[k]))
	}
	if len(rows) == 0 {
		rows = append(rows, styles.Muted.Render("  (none)"))
	}
	return strings.Join(rows, "\n")
}
