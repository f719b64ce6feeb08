// Package tui renders the live session status indicator for
// `workbench status --watch`: the terminal rendition of the authoring
// tool's header widget showing authentication state and time to expiry.
package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/einvoice-tools/registry-workbench/internal/session"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	hintStyle  = lipgloss.NewStyle().Faint(true)

	stateStyles = map[session.State]lipgloss.Style{
		session.StateUnauthenticated: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		session.StateActive:          lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		session.StateWarningShown:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		session.StateRefreshing:      lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		session.StateExpired:         lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

type tickMsg time.Time

type StatusModel struct {
	sessions *session.Manager
	interval time.Duration

	status   session.Status
	lastPoll time.Time
	quitting bool
}

func NewStatusModel(sessions *session.Manager, interval time.Duration) StatusModel {
	if interval <= 0 {
		interval = time.Second
	}
	return StatusModel{
		sessions: sessions,
		interval: interval,
		status:   sessions.Status(),
		lastPoll: time.Now(),
	}
}

func (m StatusModel) Init() tea.Cmd {
	return m.tick()
}

func (m StatusModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.status = m.sessions.Status()
		m.lastPoll = time.Time(msg)
		return m, m.tick()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			// Fire-and-forget; the next poll picks up the outcome.
			sessions := m.sessions
			return m, func() tea.Msg {
				_ = sessions.ForceRefresh(context.Background())
				return nil
			}
		}
	}
	return m, nil
}

func (m StatusModel) View() string {
	if m.quitting {
		return ""
	}
	style, ok := stateStyles[m.status.State]
	if !ok {
		style = lipgloss.NewStyle()
	}
	line := fmt.Sprintf("%s %s", titleStyle.Render("session:"), style.Render(m.status.State.String()))
	if m.status.TimeLeft > 0 {
		line += hintStyle.Render(fmt.Sprintf("  expires in %s", m.status.TimeLeft.Round(time.Second)))
	}
	return line + "\n" + hintStyle.Render("r refresh now · q quit") + "\n"
}

// RunStatusWatch blocks until the user quits the watch view.
func RunStatusWatch(sessions *session.Manager, interval time.Duration) error {
	_, err := tea.NewProgram(NewStatusModel(sessions, interval)).Run()
	return err
}
