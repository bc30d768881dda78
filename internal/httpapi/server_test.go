package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pirateq/internal/eventlog"
	"pirateq/internal/pirate"
)

type fakeStatsSource struct {
	stats pirate.BrokerStats
}

func (f fakeStatsSource) Stats() pirate.BrokerStats { return f.stats }

func TestHandleStatsReturnsJSON(t *testing.T) {
	events := eventlog.New(4)
	s := New("127.0.0.1:0", fakeStatsSource{stats: pirate.BrokerStats{
		WorkersKnown:       2,
		WorkersAvailable:   1,
		RequestsDispatched: 5,
	}}, events)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got pirate.BrokerStats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.WorkersKnown != 2 || got.RequestsDispatched != 5 {
		t.Errorf("unexpected stats payload: %+v", got)
	}
}

func TestHandleEventsReturnsRecentHistory(t *testing.T) {
	events := eventlog.New(4)
	now := time.Now()
	events.Append("worker_registered", "w1", now)
	events.Append("dispatch", "w1", now.Add(time.Second))

	s := New("127.0.0.1:0", fakeStatsSource{}, events)

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got []eventlog.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Kind != "worker_registered" || got[1].Kind != "dispatch" {
		t.Errorf("unexpected event ordering: %+v", got)
	}
}

func TestHandleStatsRejectsWrongMethod(t *testing.T) {
	events := eventlog.New(4)
	s := New("127.0.0.1:0", fakeStatsSource{}, events)

	req := httptest.NewRequest(http.MethodPost, "/stats", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST /stats, got %d", rec.Code)
	}
}
