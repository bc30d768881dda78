package pirate

import (
	"context"
	"fmt"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/rs/zerolog"

	"pirateq/internal/logger"
)

// BrokerStats is a point-in-time snapshot of broker state, safe to read
// concurrently with the running event loop via Stats().
type BrokerStats struct {
	WorkersKnown       int
	WorkersAvailable   int
	RequestsDispatched uint64
	RepliesForwarded   uint64
	Purges             uint64
	StartTime          time.Time
}

// EventKind identifies a broker lifecycle event, reported to an
// optional observer for operational visibility (see internal/eventlog).
type EventKind string

const (
	EventWorkerRegistered EventKind = "worker_registered"
	EventWorkerPurged     EventKind = "worker_purged"
	EventDispatch         EventKind = "dispatch"
	EventReply            EventKind = "reply"
)

// Event is one broker lifecycle occurrence.
type Event struct {
	Kind     EventKind
	WorkerID string
	At       time.Time
}

// BrokerConfig configures the broker's bind addresses and timing.
type BrokerConfig struct {
	FrontendAddress   string
	BackendAddress    string
	HeartbeatInterval time.Duration
	// OnEvent, if set, is invoked synchronously from the event loop for
	// every lifecycle event. It must not block.
	OnEvent func(Event)
}

// DefaultBrokerConfig returns the conventional frontend/backend
// addresses and the spec's heartbeat interval.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		FrontendAddress:   DefaultFrontendAddress,
		BackendAddress:    DefaultBackendAddress,
		HeartbeatInterval: HeartbeatInterval,
	}
}

// Broker is the dispatcher: it owns the worker registry, the available
// queue, and the heartbeat/purge timer. It runs as a single-threaded
// event loop; Run is the only goroutine that ever touches its
// registry or counters. External callers only see BrokerStats through
// Stats(), which is answered by the loop itself over a channel.
type Broker struct {
	cfg      BrokerConfig
	log      zerolog.Logger
	registry *workerRegistry

	frontend *zmq4.Socket
	backend  *zmq4.Socket

	stats   BrokerStats
	statsCh chan chan BrokerStats
}

// NewBroker constructs a broker that has not yet bound its sockets.
func NewBroker(cfg BrokerConfig) *Broker {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = HeartbeatInterval
	}
	return &Broker{
		cfg:      cfg,
		log:      logger.New(),
		registry: newWorkerRegistry(),
		statsCh:  make(chan chan BrokerStats),
	}
}

// Run binds both sockets and drives the event loop until ctx is
// cancelled, at which point it closes both sockets and returns. No
// in-flight request is recovered on cancellation, matching §5.
func (b *Broker) Run(ctx context.Context) error {
	frontend, err := zmq4.NewSocket(zmq4.ROUTER)
	if err != nil {
		return fmt.Errorf("create frontend socket: %w", err)
	}
	defer frontend.Close()

	backend, err := zmq4.NewSocket(zmq4.ROUTER)
	if err != nil {
		return fmt.Errorf("create backend socket: %w", err)
	}
	defer backend.Close()

	if err := frontend.SetLinger(0); err != nil {
		return fmt.Errorf("set frontend linger: %w", err)
	}
	if err := backend.SetLinger(0); err != nil {
		return fmt.Errorf("set backend linger: %w", err)
	}

	if err := frontend.Bind(b.cfg.FrontendAddress); err != nil {
		return fmt.Errorf("bind frontend %s: %w", b.cfg.FrontendAddress, err)
	}
	if err := backend.Bind(b.cfg.BackendAddress); err != nil {
		return fmt.Errorf("bind backend %s: %w", b.cfg.BackendAddress, err)
	}

	b.frontend = frontend
	b.backend = backend
	b.stats.StartTime = time.Now()

	b.log.Info().
		Str("frontend", b.cfg.FrontendAddress).
		Str("backend", b.cfg.BackendAddress).
		Msg("broker started")

	poller := zmq4.NewPoller()
	poller.Add(backend, zmq4.POLLIN)
	poller.Add(frontend, zmq4.POLLIN)

	nextHeartbeat := time.Now().Add(b.cfg.HeartbeatInterval)

	for {
		if ctx.Err() != nil {
			b.log.Info().Msg("broker stopping")
			return nil
		}

		timeout := time.Until(nextHeartbeat)
		if timeout < 0 {
			timeout = 0
		}
		polled, err := poller.Poll(timeout)
		if err != nil {
			// Interrupted or context torn down concurrently; let the
			// ctx.Err() check above decide whether this is a real error.
			if ctx.Err() != nil {
				return nil
			}
			b.log.Error().Err(err).Msg("poll failed")
			continue
		}

		backendReady, frontendReady := false, false
		for _, p := range polled {
			switch p.Socket {
			case backend:
				backendReady = true
			case frontend:
				frontendReady = true
			}
		}

		if backendReady {
			b.drainBackend()
		}
		if frontendReady && b.registry.hasAvailable() {
			b.drainFrontend()
		}

		if !time.Now().Before(nextHeartbeat) {
			b.heartbeatTick()
			nextHeartbeat = time.Now().Add(b.cfg.HeartbeatInterval)
		}

		b.serviceStatsRequests()
	}
}

// drainBackend implements accept-backend-message, repeatedly, until
// the socket reports no further pending input (the edge-triggered
// drain-until-empty requirement of §5).
func (b *Broker) drainBackend() {
	for {
		msg, err := b.backend.RecvMessageBytes(zmq4.DONTWAIT)
		if err != nil {
			return // EAGAIN: drained
		}
		b.handleBackendMessage(msg)
	}
}

func (b *Broker) handleBackendMessage(msg [][]byte) {
	if len(msg) < 2 {
		b.log.Warn().Int("frames", len(msg)).Msg("malformed backend message, dropping")
		return
	}
	identity := msg[0]
	body := msg[1:]

	now := time.Now()
	w, created := b.registry.touch(identity, now)
	if created {
		b.stats.WorkersKnown = len(b.registry.byID)
		b.emit(EventWorkerRegistered, w.id)
		b.log.Info().Str("worker", w.id).Msg("worker registered")
	}

	if _, ok := isControlBody(body); ok {
		if w.currentClient == nil {
			b.registry.markAvailable(w)
		}
		return
	}

	if len(body) != 3 || len(body[1]) != 0 {
		b.log.Warn().Str("worker", w.id).Int("frames", len(body)).Msg("malformed worker reply, dropping")
		return
	}

	if err := b.frontend.SendMessage(body); err != nil {
		b.log.Error().Err(err).Str("worker", w.id).Msg("failed to forward reply to frontend")
	}
	b.stats.RepliesForwarded++
	b.emit(EventReply, w.id)
	w.currentClient = nil
	b.registry.markAvailable(w)
}

// drainFrontend implements accept-frontend-message, repeatedly.
// Callers must only invoke this when the registry has an available
// worker, per the frontend admission gate.
func (b *Broker) drainFrontend() {
	for b.registry.hasAvailable() {
		msg, err := b.frontend.RecvMessageBytes(zmq4.DONTWAIT)
		if err != nil {
			return // EAGAIN: drained
		}
		b.handleFrontendMessage(msg)
	}
}

func (b *Broker) handleFrontendMessage(msg [][]byte) {
	if len(msg) < 2 {
		b.log.Warn().Int("frames", len(msg)).Msg("malformed frontend message, dropping")
		return
	}
	clientIdentity := msg[0]
	rest := msg[1:]

	w := b.registry.dispatch()
	if w == nil {
		// drainFrontend checks the gate before every receive, so this
		// is only a guard for direct callers; requeue is impossible on
		// a ROUTER socket, so log and drop per §7.
		b.log.Warn().Msg("no worker available at dispatch time, dropping request")
		return
	}

	w.currentClient = clientIdentity
	out := make([][]byte, 0, len(rest)+2)
	out = append(out, w.identity, clientIdentity)
	out = append(out, rest...)

	if err := b.backend.SendMessage(out); err != nil {
		b.log.Error().Err(err).Str("worker", w.id).Msg("failed to dispatch to worker")
		return
	}
	b.stats.RequestsDispatched++
	b.emit(EventDispatch, w.id)
}

// heartbeatTick implements heartbeat-tick: heartbeat every known
// worker, then purge any worker whose expiry has elapsed.
func (b *Broker) heartbeatTick() {
	now := time.Now()
	for _, w := range b.registry.all() {
		if err := b.backend.SendMessage([][]byte{w.identity, heartbeatFrame}); err != nil {
			b.log.Error().Err(err).Str("worker", w.id).Msg("failed to send heartbeat")
		}
	}

	for _, w := range b.registry.expired(now) {
		b.purgeWorker(w)
	}

	b.stats.WorkersKnown = len(b.registry.byID)
	b.stats.WorkersAvailable = len(b.registry.available)
}

// purgeWorker removes an expired worker. If it had a client request in
// flight, synthesizes a KO to that client so the client can retry.
func (b *Broker) purgeWorker(w *worker) {
	b.log.Warn().Str("worker", w.id).Msg("purging unresponsive worker")
	if w.currentClient != nil {
		if err := b.frontend.SendMessage([][]byte{w.currentClient, {}, koFrame}); err != nil {
			b.log.Error().Err(err).Str("worker", w.id).Msg("failed to notify client of purge")
		}
	}
	b.registry.remove(w)
	b.stats.Purges++
	b.emit(EventWorkerPurged, w.id)
}

func (b *Broker) emit(kind EventKind, workerID string) {
	if b.cfg.OnEvent != nil {
		b.cfg.OnEvent(Event{Kind: kind, WorkerID: workerID, At: time.Now()})
	}
}

func (b *Broker) serviceStatsRequests() {
	for {
		select {
		case reply := <-b.statsCh:
			snapshot := b.stats
			snapshot.WorkersKnown = len(b.registry.byID)
			snapshot.WorkersAvailable = len(b.registry.available)
			reply <- snapshot
		default:
			return
		}
	}
}

// Stats returns a snapshot of broker counters. Safe to call from any
// goroutine; answered by the event loop itself.
func (b *Broker) Stats() BrokerStats {
	reply := make(chan BrokerStats, 1)
	b.statsCh <- reply
	return <-reply
}
