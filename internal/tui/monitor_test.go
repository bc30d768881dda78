package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func TestUpdateQuitsOnCtrlCOrQ(t *testing.T) {
	keys := []tea.KeyMsg{
		{Type: tea.KeyCtrlC},
		{Type: tea.KeyRunes, Runes: []rune("q")},
	}
	for _, key := range keys {
		m := NewModel("http://127.0.0.1:8080")
		updated, cmd := m.Update(key)
		model := updated.(Model)
		if !model.quit {
			t.Errorf("key %q: expected quit to be set", key.String())
		}
		if cmd == nil {
			t.Errorf("key %q: expected a quit command", key.String())
		}
	}
}

func TestUpdateDataMsgStoresStatsAndClearsError(t *testing.T) {
	m := NewModel("http://127.0.0.1:8080")
	m.err = errors.New("stale error")

	updated, _ := m.Update(dataMsg{stats: stats{WorkersKnown: 3}, events: []event{{Kind: "dispatch"}}})
	model := updated.(Model)

	if model.err != nil {
		t.Errorf("expected error to be cleared on a successful fetch, got %v", model.err)
	}
	if model.stats.WorkersKnown != 3 {
		t.Errorf("expected stats to be stored, got %+v", model.stats)
	}
	if len(model.events) != 1 {
		t.Errorf("expected events to be stored, got %+v", model.events)
	}
}

func TestUpdateDataMsgErrorPreservesLastGoodStats(t *testing.T) {
	m := NewModel("http://127.0.0.1:8080")
	m.stats = stats{WorkersKnown: 5}

	updated, _ := m.Update(dataMsg{err: errors.New("connection refused")})
	model := updated.(Model)

	if model.err == nil {
		t.Error("expected the fetch error to be recorded")
	}
	if model.stats.WorkersKnown != 5 {
		t.Errorf("expected stale stats to survive a failed fetch, got %+v", model.stats)
	}
}

func TestViewShowsErrorWhenSet(t *testing.T) {
	m := NewModel("http://127.0.0.1:8080")
	m.err = errors.New("boom")

	view := m.View()
	if !strings.Contains(view, "error: boom") {
		t.Errorf("expected error view to mention the error, got: %s", view)
	}
}

func TestViewTruncatesToLastTenEvents(t *testing.T) {
	m := NewModel("http://127.0.0.1:8080")
	now := time.Now()
	for i := 0; i < 15; i++ {
		m.events = append(m.events, event{Kind: "dispatch", WorkerID: "w" + string(rune('a'+i)), At: now})
	}

	view := m.View()
	if strings.Count(view, "dispatch worker=") != 10 {
		t.Errorf("expected exactly 10 rendered events, got %d", strings.Count(view, "dispatch worker="))
	}
}

func TestViewAfterQuit(t *testing.T) {
	m := NewModel("http://127.0.0.1:8080")
	m.quit = true

	if got := m.View(); got != "stopped monitoring\n" {
		t.Errorf("unexpected quit view: %q", got)
	}
}
