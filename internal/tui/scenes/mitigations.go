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
)

// mitigationsMsg carries a freshly loaded recommendation set.
type mitigationsMsg struct {
	recs []correlation.Recommendation
	err  error
}

// MitigationsScene displays the current mitigation recommendations.
type MitigationsScene struct {
	src        source.Source
	recs       []correlation.Recommendation
	err        error
	width      int
	height     int
	loading    bool
	lastUpdate time.Time
}

// NewMitigationsScene creates a mitigations scene.
func NewMitigationsScene(src source.Source) *MitigationsScene {
	return &MitigationsScene{
		src:     src,
		loading: true,
	}
}

// Init fetches the initial recommendation set.
func (m *MitigationsScene) Init() tea.Cmd {
	return m.fetchMitigations()
}

func (m *MitigationsScene) fetchMitigations() tea.Cmd {
	return func() tea.Msg {
		recs, err := m.src.Mitigations(context.Background())
		return mitigationsMsg{recs: recs, err: err}
	}
}

// TickCmd returns the refresh tick for this scene.
func (m *MitigationsScene) TickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "mitigations", Time: t}
	})
}

// Update handles messages for the mitigations scene.
func (m *MitigationsScene) Update(msg tea.Msg) (*MitigationsScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case mitigationsMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.recs = msg.recs
			m.lastUpdate = time.Now()
		}
		return m, nil

	case TickMsg:
		if msg.Scene == "mitigations" {
			return m, m.fetchMitigations()
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "r" {
			m.loading = true
			return m, m.fetchMitigations()
		}
		return m, nil
	}

	return m, nil
}

// View renders the recommendation list.
func (m *MitigationsScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Mitigations"))
	b.WriteString("\n\n")

	if m.loading && len(m.recs) == 0 {
		b.WriteString(styles.Muted.Render("  Loading recommendations..."))
		return b.String()
	}

	if m.err != nil {
		b.WriteString(styles.RiskCritical.Render(fmt.Sprintf("  Error: %v", m.err)))
		return b.String()
	}

	if len(m.recs) == 0 {
		b.WriteString(styles.Muted.Render("  No outstanding recommendations."))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Recommendations appear when correlation finds known failure patterns."))
		return b.String()
	}

	for _, rec := range m.recs {
		label := styles.ForConfidence(rec.Priority).Render(fmt.Sprintf("[%s]", rec.Priority))
		b.WriteString(fmt.Sprintf("  %s %s\n", label, rec.Issue))
		b.WriteString(styles.Muted.Render("    " + rec.Recommendation))
		b.WriteString("\n")
		if len(rec.Layers) > 0 {
			b.WriteString(styles.Muted.Render("    Layers: " + strings.Join(rec.Layers, ", ")))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if !m.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  Updated: %s", m.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}
