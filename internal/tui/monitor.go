// Package tui renders a live-refreshing broker status view, polling
// internal/httpapi's /stats and /events endpoints.
package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#50FA7B"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	eventStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#BD93F9"))
)

type stats struct {
	WorkersKnown       int       `json:"WorkersKnown"`
	WorkersAvailable   int       `json:"WorkersAvailable"`
	RequestsDispatched uint64    `json:"RequestsDispatched"`
	RepliesForwarded   uint64    `json:"RepliesForwarded"`
	Purges             uint64    `json:"Purges"`
	StartTime          time.Time `json:"StartTime"`
}

type event struct {
	Seq      uint64    `json:"seq"`
	Kind     string    `json:"kind"`
	WorkerID string    `json:"worker_id"`
	At       time.Time `json:"at"`
}

type tickMsg time.Time

type dataMsg struct {
	stats  stats
	events []event
	err    error
}

// Model is the bubbletea model for the monitor screen.
type Model struct {
	apiAddress string
	client     *http.Client

	stats  stats
	events []event
	err    error
	quit   bool
}

// NewModel constructs a monitor model polling apiAddress (e.g.
// "http://127.0.0.1:8080").
func NewModel(apiAddress string) Model {
	return Model{
		apiAddress: apiAddress,
		client:     &http.Client{Timeout: 2 * time.Second},
	}
}

// Init kicks off the first poll and the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		s, err := m.fetchStats()
		if err != nil {
			return dataMsg{err: err}
		}
		e, err := m.fetchEvents()
		if err != nil {
			return dataMsg{err: err}
		}
		return dataMsg{stats: s, events: e}
	}
}

func (m Model) fetchStats() (stats, error) {
	var s stats
	resp, err := m.client.Get(m.apiAddress + "/stats")
	if err != nil {
		return s, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return s, err
	}
	err = json.Unmarshal(body, &s)
	return s, err
}

func (m Model) fetchEvents() ([]event, error) {
	var e []event
	resp, err := m.client.Get(m.apiAddress + "/events")
	if err != nil {
		return e, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return e, err
	}
	err = json.Unmarshal(body, &e)
	return e, err
}

// Update handles bubbletea messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quit = true
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(m.fetch(), tick())
	case dataMsg:
		m.err = msg.err
		if msg.err == nil {
			m.stats = msg.stats
			m.events = msg.events
		}
		return m, nil
	}
	return m, nil
}

// View renders the status table.
func (m Model) View() string {
	if m.quit {
		return "stopped monitoring\n"
	}

	out := headerStyle.Render("pirate broker monitor") + "\n\n"
	if m.err != nil {
		out += errorStyle.Render(fmt.Sprintf("error: %v", m.err)) + "\n"
		return out
	}

	out += fmt.Sprintf("%s %d\n", labelStyle.Render("workers known:"), m.stats.WorkersKnown)
	out += fmt.Sprintf("%s %d\n", labelStyle.Render("workers available:"), m.stats.WorkersAvailable)
	out += fmt.Sprintf("%s %d\n", labelStyle.Render("dispatched:"), m.stats.RequestsDispatched)
	out += fmt.Sprintf("%s %d\n", labelStyle.Render("replies forwarded:"), m.stats.RepliesForwarded)
	out += fmt.Sprintf("%s %d\n", labelStyle.Render("purges:"), m.stats.Purges)
	out += "\n" + headerStyle.Render("recent events") + "\n"

	start := 0
	if len(m.events) > 10 {
		start = len(m.events) - 10
	}
	for _, e := range m.events[start:] {
		out += eventStyle.Render(fmt.Sprintf("[%s] %s worker=%s", e.At.Format(time.TimeOnly), e.Kind, e.WorkerID)) + "\n"
	}

	out += "\n(press q to quit)\n"
	return out
}

// Run starts the TUI program against apiAddress and blocks until exit.
func Run(apiAddress string) error {
	p := tea.NewProgram(NewModel(apiAddress), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
