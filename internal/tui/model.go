package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nip10/varyant/internal/analysis"
	"github.com/nip10/varyant/internal/monitor"
	"github.com/nip10/varyant/internal/recommend"
	"github.com/nip10/varyant/internal/store"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	staleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	reasonStyle = lipgloss.NewStyle().Italic(true)
	badgeStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("0"))
)

var actionColors = map[recommend.Action]lipgloss.Color{
	recommend.Ship:        lipgloss.Color("2"),
	recommend.Iterate:     lipgloss.Color("3"),
	recommend.End:         lipgloss.Color("1"),
	recommend.Wait:        lipgloss.Color("4"),
	recommend.Investigate: lipgloss.Color("5"),
}

type model struct {
	ctrl     Controller
	interval time.Duration
	view     analysis.View
	have     bool
	paused   bool
	notice   string
	table    table.Model
	width    int
}

func newModel(c Controller, interval time.Duration) model {
	cols := []table.Column{
		{Title: "Variant", Width: 18},
		{Title: "Participants", Width: 12},
		{Title: "Conversions", Width: 11},
		{Title: "Rate", Width: 8},
		{Title: "Improvement", Width: 11},
		{Title: "Significance", Width: 12},
	}
	t := table.New(table.WithColumns(cols), table.WithHeight(3), table.WithWidth(80))
	m := model{ctrl: c, interval: interval, table: t}
	m.view, m.have = c.Current()
	m.paused = c.State() == monitor.Paused
	m.setRows()
	return m
}

// Init pulls the session's current view once the program runs, so a
// fetch that finished before the display attached is not lost.
func (m model) Init() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if v, ok := ctrl.Current(); ok {
			return viewMsg{view: v}
		}
		return nil
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.table.SetWidth(msg.Width)
	case viewMsg:
		if m.have && msg.view.LastUpdated.Before(m.view.LastUpdated) {
			break
		}
		m.view = msg.view
		m.have = len(msg.view.Variants) > 0 || msg.view.ExperimentName != ""
		m.paused = msg.view.Paused
		m.notice = ""
		m.setRows()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "p", " ":
			var err error
			if m.paused {
				err = m.ctrl.Resume()
			} else {
				err = m.ctrl.Pause()
			}
			if err != nil {
				m.notice = err.Error()
				break
			}
			m.paused = !m.paused
			m.view.Paused = m.paused
			m.notice = ""
		case "r":
			switch err := m.ctrl.Refresh(); {
			case errors.Is(err, monitor.ErrBusy):
				m.notice = "refresh already running"
			case err != nil:
				m.notice = err.Error()
			default:
				m.notice = "refreshing..."
			}
		}
	}
	return m, nil
}

func (m *model) setRows() {
	rows := make([]table.Row, 0, len(m.view.Variants))
	for _, v := range m.view.Variants {
		improvement := "-"
		if v.Key != m.controlKey() {
			improvement = fmt.Sprintf("%+.1f%%", v.Improvement)
		}
		rows = append(rows, table.Row{
			v.Name,
			fmt.Sprintf("%d", v.Participants),
			fmt.Sprintf("%d", v.Conversions),
			fmt.Sprintf("%.2f%%", v.ConversionRate),
			improvement,
			fmt.Sprintf("%.1f%%", v.Significance),
		})
	}
	m.table.SetRows(rows)
	m.table.SetHeight(len(rows) + 1)
}

func (m model) controlKey() string {
	for _, v := range m.view.Variants {
		if v.Key == store.ControlKey {
			return v.Key
		}
	}
	if len(m.view.Variants) > 0 {
		return m.view.Variants[0].Key
	}
	return ""
}

func (m model) View() string {
	var b strings.Builder

	if !m.have {
		b.WriteString(titleStyle.Render(fmt.Sprintf("Experiment %d", m.view.ExperimentID)))
		b.WriteString("\n\n")
		if m.view.Error != "" {
			b.WriteString(errorStyle.Render("Error: " + m.view.Error))
		} else {
			b.WriteString(mutedStyle.Render("Loading..."))
		}
		b.WriteString("\n\n")
		b.WriteString(m.renderFooter())
		return b.String()
	}

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n\n")
	if m.view.Recommendation != "" {
		b.WriteString(renderBadge(m.view.Recommendation))
		b.WriteString(" ")
		b.WriteString(reasonStyle.Render(m.view.RecommendationReason))
		b.WriteString("\n")
	}
	if m.view.Commentary != "" {
		b.WriteString(m.view.Commentary)
		b.WriteString("\n")
	}
	if m.view.Stale {
		b.WriteString("\n")
		b.WriteString(staleStyle.Render("Showing last good data; latest refresh failed: " + m.view.Error))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m model) renderHeader() string {
	days := "not started"
	if m.view.DaysRunning != nil {
		days = fmt.Sprintf("%d days running", *m.view.DaysRunning)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render(m.view.ExperimentName),
		mutedStyle.Render(fmt.Sprintf("  %s · %s · %d participants", m.view.Status, days, m.view.TotalParticipants)),
	)
}

func (m model) renderFooter() string {
	state := fmt.Sprintf("auto-refresh every %s", m.interval)
	if m.paused {
		state = "paused"
	}
	updated := "never"
	if !m.view.LastUpdated.IsZero() {
		updated = m.view.LastUpdated.Local().Format("15:04:05")
	}
	line := fmt.Sprintf("updated %s · %s · p pause/resume · r refresh · q quit", updated, state)
	if m.notice != "" {
		line += " · " + m.notice
	}
	return mutedStyle.Render(line)
}

func renderBadge(a recommend.Action) string {
	c, ok := actionColors[a]
	if !ok {
		c = lipgloss.Color("7")
	}
	return badgeStyle.Background(c).Render(string(a))
}
