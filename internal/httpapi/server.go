// Package httpapi exposes broker status over HTTP for operational
// visibility: current worker/queue counts and a recent lifecycle event
// feed, both read-only.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"pirateq/internal/eventlog"
	"pirateq/internal/logger"
	"pirateq/internal/pirate"
)

// StatsSource is implemented by *pirate.Broker.
type StatsSource interface {
	Stats() pirate.BrokerStats
}

// Server serves /stats and /events.
type Server struct {
	stats  StatsSource
	events *eventlog.Log
	log    zerolog.Logger
	srv    *http.Server
}

// New constructs a Server bound to addr, backed by stats and events.
func New(addr string, stats StatsSource, events *eventlog.Log) *Server {
	s := &Server{stats: stats, events: events, log: logger.New()}

	router := mux.NewRouter()
	router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("address", s.srv.Addr).Msg("http api listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.stats.Stats()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.log.Error().Err(err).Msg("failed to encode stats response")
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	entries := s.events.Recent()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		s.log.Error().Err(err).Msg("failed to encode events response")
	}
}
