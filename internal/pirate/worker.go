package pirate

import (
	"context"
	"fmt"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/rs/zerolog"

	"pirateq/internal/logger"
)

// Handler is the user-supplied task logic. Handle is invoked
// synchronously with the request payload and must not block; it
// returns whether the task was accepted. Completion of an accepted
// task is signalled later via Worker.TaskDone.
type Handler interface {
	Handle(request []byte) bool
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(request []byte) bool

// Handle calls f.
func (f HandlerFunc) Handle(request []byte) bool { return f(request) }

// WorkerConfig configures one worker endpoint.
type WorkerConfig struct {
	BrokerAddress string
	Identity      string // optional explicit DEALER identity; empty = transport-assigned
	OnEvent       func(kind string, detail string)
}

// DefaultWorkerConfig connects to the conventional backend address.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{BrokerAddress: "tcp://localhost:5556"}
}

type taskDoneRequest struct {
	reply   []byte
	success bool
	result  chan bool
}

// Worker is the worker endpoint: a single-threaded event loop that
// registers with the broker, receives dispatched tasks, invokes the
// handler, emits heartbeats, and reconnects with exponential backoff
// on broker silence. Only Run's goroutine touches socket or retained
// task state; TaskDone is safe to call from any goroutine because it
// is routed into the loop over a channel.
type Worker struct {
	cfg     WorkerConfig
	log     zerolog.Logger
	handler Handler

	socket            *zmq4.Socket
	liveness          int
	reconnectInterval time.Duration

	retainedEnvelope [][]byte // [clientIdentity, empty, payload-or-reply]; nil if no task in flight

	taskDoneCh chan taskDoneRequest
}

// NewWorker constructs a worker bound to handler but not yet connected.
func NewWorker(cfg WorkerConfig, handler Handler) *Worker {
	return &Worker{
		cfg:               cfg,
		log:               logger.New(),
		handler:           handler,
		reconnectInterval: IntervalInit,
		taskDoneCh:        make(chan taskDoneRequest),
	}
}

// TaskDone completes the in-flight task: rewrites the retained
// envelope's last frame to reply (on success) or the KO marker (on
// failure), sends it, and clears the retained task. Returns false if
// no task is currently in flight.
func (w *Worker) TaskDone(reply []byte, success bool) bool {
	req := taskDoneRequest{reply: reply, success: success, result: make(chan bool, 1)}
	w.taskDoneCh <- req
	return <-req.result
}

func (w *Worker) completeTask(reply []byte, success bool) bool {
	if w.retainedEnvelope == nil {
		return false
	}
	env := w.retainedEnvelope
	if success {
		env[2] = reply
	} else {
		env[2] = koFrame
	}
	err := w.socket.SendMessage(env)
	w.retainedEnvelope = nil
	if err != nil {
		w.log.Error().Err(err).Msg("failed to send task completion")
		return false
	}
	return true
}

// Run connects and drives the event loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.connect(); err != nil {
		return err
	}
	defer func() {
		if w.socket != nil {
			w.socket.Close()
		}
	}()

	w.log.Info().Str("broker", w.cfg.BrokerAddress).Msg("worker started")

	poller := zmq4.NewPoller()
	poller.Add(w.socket, zmq4.POLLIN)
	nextHeartbeat := time.Now().Add(HeartbeatInterval)

	for {
		if ctx.Err() != nil {
			return nil
		}

		timeout := time.Until(nextHeartbeat)
		if timeout < 0 {
			timeout = 0
		}
		polled, err := poller.Poll(timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Error().Err(err).Msg("poll failed")
			continue
		}

		if len(polled) > 0 {
			w.drain()
		}

		if !time.Now().Before(nextHeartbeat) {
			if done, err := w.heartbeatTick(ctx); done {
				return err
			}
			// heartbeatTick replaces the socket on reconnect, so the
			// poller is rebuilt here around the current socket.
			poller = zmq4.NewPoller()
			poller.Add(w.socket, zmq4.POLLIN)
			nextHeartbeat = time.Now().Add(HeartbeatInterval)
		}

		w.serviceTaskDone()
	}
}

func (w *Worker) drain() {
	for {
		msg, err := w.socket.RecvMessageBytes(zmq4.DONTWAIT)
		if err != nil {
			return
		}
		w.handleMessage(msg)
	}
}

func (w *Worker) handleMessage(msg [][]byte) {
	switch len(msg) {
	case 3:
		if len(msg[1]) != 0 {
			w.log.Warn().Msg("malformed dispatch, dropping")
			return
		}
		w.liveness = HeartbeatLiveness
		w.reconnectInterval = IntervalInit
		clientIdentity, payload := msg[0], msg[2]
		w.retainedEnvelope = [][]byte{clientIdentity, {}, payload}
		if !w.handler.Handle(payload) {
			w.completeTask(nil, false)
		}
	case 1:
		if !isControlFrame(msg[0], Heartbeat) {
			w.log.Warn().Msg("malformed single-frame message, dropping")
			return
		}
		w.liveness = HeartbeatLiveness
		w.reconnectInterval = IntervalInit
	default:
		w.log.Warn().Int("frames", len(msg)).Msg("unexpected message shape, dropping")
	}
}

// heartbeatTick decrements liveness; on expiry it tears down the
// socket, waits out the current reconnect interval, and reconnects;
// the interval is doubled (capped) for the next round. Returns
// (true, nil) if ctx was cancelled while waiting out the reconnect
// delay, or (true, err) if reconnecting fails, signalling Run to stop.
func (w *Worker) heartbeatTick(ctx context.Context) (stopped bool, err error) {
	w.liveness--
	if w.liveness > 0 {
		if err := w.socket.SendMessage(heartbeatFrame); err != nil {
			w.log.Error().Err(err).Msg("failed to send heartbeat")
		}
		return false, nil
	}

	w.log.Warn().Msg("broker presumed dead, tearing down connection")
	w.socket.Close()
	w.socket = nil
	w.retainedEnvelope = nil

	delay := w.reconnectInterval
	if w.reconnectInterval < IntervalMax {
		w.reconnectInterval *= 2
		if w.reconnectInterval > IntervalMax {
			w.reconnectInterval = IntervalMax
		}
	}

	w.log.Info().Dur("delay", delay).Msg("scheduling reconnect")
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case <-timer.C:
			if err := w.connect(); err != nil {
				return true, err
			}
			return false, nil
		case req := <-w.taskDoneCh:
			req.result <- false
		}
	}
}

func (w *Worker) serviceTaskDone() {
	for {
		select {
		case req := <-w.taskDoneCh:
			req.result <- w.completeTask(req.reply, req.success)
		default:
			return
		}
	}
}

// connect creates the DEALER socket, connects, and announces readiness.
// Identical logic backs both startup and reconnect.
func (w *Worker) connect() error {
	socket, err := zmq4.NewSocket(zmq4.DEALER)
	if err != nil {
		return fmt.Errorf("create worker socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return fmt.Errorf("set linger: %w", err)
	}
	if w.cfg.Identity != "" {
		if err := socket.SetIdentity(w.cfg.Identity); err != nil {
			socket.Close()
			return fmt.Errorf("set identity: %w", err)
		}
	}
	if err := socket.Connect(w.cfg.BrokerAddress); err != nil {
		socket.Close()
		return fmt.Errorf("connect to broker: %w", err)
	}
	if err := socket.SendMessage(readyFrame); err != nil {
		socket.Close()
		return fmt.Errorf("send READY: %w", err)
	}

	w.socket = socket
	w.liveness = HeartbeatLiveness
	return nil
}
