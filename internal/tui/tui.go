// Package tui provides a terminal viewer for attribution reports.
package tui

import (
	"fmt"
	"strings"

	"opsec-attrib/internal/tui/scenes"
	"opsec-attrib/internal/tui/source"
	"opsec-attrib/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Scene represents the current view.
type Scene int

const (
	SceneSummary Scene = iota
	SceneCorrelations
	SceneMitigations
)

// Model is the main viewer model.
type Model struct {
	scene Scene

	// Scene models; only the active one receives ticks.
	summary      *scenes.SummaryScene
	correlations *scenes.CorrelationsScene
	mitigations  *scenes.MitigationsScene

	width  int
	height int

	quitting bool
}

// New creates a viewer model over a report source.
func New(src source.Source) *Model {
	return &Model{
		scene:        SceneSummary,
		summary:      scenes.NewSummaryScene(src),
		correlations: scenes.NewCorrelationsScene(src),
		mitigations:  scenes.NewMitigationsScene(src),
	}
}

// Init loads the initial scene's data.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.summary.Init(),
		m.activeTickCmd(),
	)
}

// activeTickCmd returns the tick command for the active scene only, so
// inactive scenes stop refreshing.
func (m *Model) activeTickCmd() tea.Cmd {
	switch m.scene {
	case SceneSummary:
		return m.summary.TickCmd()
	case SceneCorrelations:
		return m.correlations.TickCmd()
	case SceneMitigations:
		return m.mitigations.TickCmd()
	default:
		return nil
	}
}

// Update handles all messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "1":
			if m.scene != SceneSummary {
				m.scene = SceneSummary
				cmds = append(cmds, m.summary.Init(), m.summary.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "2":
			if m.scene != SceneCorrelations {
				m.scene = SceneCorrelations
				cmds = append(cmds, m.correlations.Init(), m.correlations.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "3":
			if m.scene != SceneMitigations {
				m.scene = SceneMitigations
				cmds = append(cmds, m.mitigations.Init(), m.mitigations.TickCmd())
			}
			return m, tea.Batch(cmds...)

		case "tab":
			m.scene = (m.scene + 1) % 3
			cmds = append(cmds, m.activeTickCmd())
			return m, tea.Batch(cmds...)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.summary, _ = m.summary.Update(msg)
		m.correlations, _ = m.correlations.Update(msg)
		m.mitigations, _ = m.mitigations.Update(msg)
		return m, nil

	case scenes.TickMsg:
		// Only the active scene ticks; schedule its next tick here.
		var cmd tea.Cmd
		switch m.scene {
		case SceneSummary:
			m.summary, cmd = m.summary.Update(msg)
			cmds = append(cmds, m.summary.TickCmd())
		case SceneCorrelations:
			m.correlations, cmd = m.correlations.Update(msg)
			cmds = append(cmds, m.correlations.TickCmd())
		case SceneMitigations:
			m.mitigations, cmd = m.mitigations.Update(msg)
			cmds = append(cmds, m.mitigations.TickCmd())
		}
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	// Forward other messages to the active scene only.
	var cmd tea.Cmd
	switch m.scene {
	case SceneSummary:
		m.summary, cmd = m.summary.Update(msg)
	case SceneCorrelations:
		m.correlations, cmd = m.correlations.Update(msg)
	case SceneMitigations:
		m.mitigations, cmd = m.mitigations.Update(msg)
	}
	if cmd != nil {
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View renders the current scene with the tab bar and footer.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	switch m.scene {
	case SceneSummary:
		b.WriteString(m.summary.View())
	case SceneCorrelations:
		b.WriteString(m.correlations.View())
	case SceneMitigations:
		b.WriteString(m.mitigations.View())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

func (m *Model) renderHeader() string {
	tabs := []struct {
		name  string
		key   string
		scene Scene
	}{
		{"Summary", "1", SceneSummary},
		{"Correlations", "2", SceneCorrelations},
		{"Mitigations", "3", SceneMitigations},
	}

	var tabViews []string
	for _, tab := range tabs {
		label := fmt.Sprintf(" %s %s ", tab.key, tab.name)
		if tab.scene == m.scene {
			tabViews = append(tabViews, styles.TabActive.Render(label))
		} else {
			tabViews = append(tabViews, styles.TabInactive.Render(label))
		}
	}

	tabBar := lipgloss.JoinHorizontal(lipgloss.Top, tabViews...)

	return lipgloss.NewStyle().
		BorderBottom(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.MutedColor).
		Width(m.width).
		Render(tabBar)
}

func (m *Model) renderFooter() string {
	help := " [1-3] Switch tabs  [Tab] Next tab  [up/down, jk] Navigate  [r] Refresh  [q] Quit "
	return styles.Help.Render(help)
}

// Run starts the viewer over a report source.
func Run(src source.Source) error {
	m := New(src)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
