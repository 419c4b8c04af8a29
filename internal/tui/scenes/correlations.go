package scenes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"opsec-attrib/internal/correlation"
	"opsec-attrib/internal/tui/source"
	"opsec-attrib/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// CorrelationsScene displays the report's correlation list with a cursor
// for inspecting individual results.
type CorrelationsScene struct {
	src          source.Source
	correlations []correlation.ResultObject
	err          error
	width        int
	height       int
	cursor       int
	offset       int
	maxRows      int
	loading      bool
	lastUpdate   time.Time
}

// NewCorrelationsScene creates a correlations scene.
func NewCorrelationsScene(src source.Source) *CorrelationsScene {
	return &CorrelationsScene{
		src:     src,
		loading: true,
		maxRows: 10,
	}
}

// Init fetches the initial report.
func (c *CorrelationsScene) Init() tea.Cmd {
	return c.fetchReport()
}

func (c *CorrelationsScene) fetchReport() tea.Cmd {
	return func() tea.Msg {
		report, err := c.src.Report(context.Background())
		return reportMsg{report: report, err: err}
	}
}

// TickCmd returns the refresh tick for this scene.
func (c *CorrelationsScene) TickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "correlations", Time: t}
	})
}

// Update handles messages for the correlations scene.
func (c *CorrelationsScene) Update(msg tea.Msg) (*CorrelationsScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		c.width = msg.Width
		c.height = msg.Height
		c.maxRows = max(5, c.height-14)
		return c, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if c.cursor > 0 {
				c.cursor--
				if c.cursor < c.offset {
					c.offset = c.cursor
				}
			}
		case "down", "j":
			if c.cursor < len(c.correlations)-1 {
				c.cursor++
				if c.cursor >= c.offset+c.maxRows {
					c.offset = c.cursor - c.maxRows + 1
				}
			}
		case "r":
			c.loading = true
			return c, c.fetchReport()
		}
		return c, nil

	case reportMsg:
		c.loading = false
		c.err = msg.err
		if msg.err == nil && msg.report != nil {
			c.correlations = msg.report.AllCorrelations
			c.lastUpdate = time.Now()
		}
		if c.cursor >= len(c.correlations) {
			c.cursor = max(0, len(c.correlations)-1)
		}
		return c, nil

	case TickMsg:
		if msg.Scene == "correlations" {
			return c, c.fetchReport()
		}
		return c, nil
	}

	return c, nil
}

// View renders the correlation list plus detail for the selected row.
func (c *CorrelationsScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Correlations"))
	b.WriteString("\n\n")

	if c.loading && len(c.correlations) == 0 {
		b.WriteString(styles.Muted.Render("  Loading correlations..."))
		return b.String()
	}

	if c.err != nil {
		if c.err == source.ErrNoReport {
			b.WriteString(styles.Muted.Render("  No report available yet. Press [r] to retry."))
		} else {
			b.WriteString(styles.RiskCritical.Render(fmt.Sprintf("  Error: %v", c.err)))
		}
		return b.String()
	}

	if len(c.correlations) == 0 {
		b.WriteString(styles.Muted.Render("  No correlations in the latest report."))
		return b.String()
	}

	header := fmt.Sprintf("  %-28s %-10s %-8s %s", "Type", "Risk", "Score", "Layers")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	endIdx := min(c.offset+c.maxRows, len(c.correlations))
	for i, result := range c.correlations[c.offset:endIdx] {
		idx := c.offset + i
		b.WriteString(c.renderRow(result, idx == c.cursor))
		b.WriteString("\n")
	}

	if len(c.correlations) > c.maxRows {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("\n  %d-%d of %d",
			c.offset+1, endIdx, len(c.correlations))))
		b.WriteString("\n")
	}

	// Detail panel for the selected correlation.
	selected := c.correlations[c.cursor]
	b.WriteString("\n")
	b.WriteString(styles.Subtitle.Render("  Explanation"))
	b.WriteString("\n")
	b.WriteString(styles.Muted.Render("  " + selected.Explanation))
	b.WriteString("\n")
	b.WriteString(styles.Subtitle.Render("  Signals"))
	b.WriteString("\n")
	for _, sig := range selected.Signals {
		b.WriteString(fmt.Sprintf("  %-10s %-28s %s\n", sig.Layer, sig.SignalID, truncate(sig.Value, 40)))
	}

	if !c.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("\n  Updated: %s", c.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (c *CorrelationsScene) renderRow(result correlation.ResultObject, selected bool) string {
	risk := confidenceBand(result.RiskLevel)
	row := fmt.Sprintf("  %-28s %-10s %-8.2f %s",
		truncate(result.CorrelationType, 28),
		risk,
		result.CorrelationScore,
		strings.Join(result.SignalLayers, ","),
	)

	if selected {
		return lipgloss.NewStyle().
			Background(styles.Primary).
			Foreground(styles.White).
			Render(row)
	}
	return row
}

// confidenceBand shortens a full risk string to its leading band label.
func confidenceBand(risk string) string {
	if band, _, found := strings.Cut(risk, " "); found {
		return band
	}
	return risk
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
