package pirate

import (
	"context"
	"fmt"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/rs/zerolog"

	"pirateq/internal/logger"
)

// CompletionFunc is a client's request-completion callback: invoked
// exactly once per Submit with the terminal outcome.
type CompletionFunc func(success bool, reply []byte)

// pendingRequest is the client's single outstanding request.
type pendingRequest struct {
	request    []byte
	retries    int
	completion CompletionFunc
}

type submitRequest struct {
	request    []byte
	retries    int
	completion CompletionFunc
	result     chan bool
}

// ClientConfig configures one client endpoint.
type ClientConfig struct {
	BrokerAddress string
	Identity      string // optional explicit REQ identity
}

// DefaultClientConfig connects to the conventional frontend address.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{BrokerAddress: "tcp://localhost:5555"}
}

// Client is the client endpoint: a single-threaded event loop
// enforcing at most one outstanding request, with bounded or unbounded
// retry on explicit KO failure. Submit is safe to call from any
// goroutine; it is routed into the loop over a channel.
type Client struct {
	cfg ClientConfig
	log zerolog.Logger

	socket      *zmq4.Socket
	outstanding *pendingRequest

	submitCh chan submitRequest
}

// NewClient constructs a client that has not yet connected.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		cfg:      cfg,
		log:      logger.New(),
		submitCh: make(chan submitRequest),
	}
}

// Submit sends request with the given retries budget (pirate.Unbounded
// for "retry forever"). Returns false without sending if a request is
// already outstanding. completion fires exactly once with the terminal
// outcome.
func (c *Client) Submit(request []byte, retries int, completion CompletionFunc) bool {
	result := make(chan bool, 1)
	c.submitCh <- submitRequest{request: request, retries: retries, completion: completion, result: result}
	return <-result
}

// Run connects and drives the event loop until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	socket, err := zmq4.NewSocket(zmq4.REQ)
	if err != nil {
		return fmt.Errorf("create client socket: %w", err)
	}
	defer socket.Close()

	if err := socket.SetLinger(0); err != nil {
		return fmt.Errorf("set linger: %w", err)
	}
	if c.cfg.Identity != "" {
		if err := socket.SetIdentity(c.cfg.Identity); err != nil {
			return fmt.Errorf("set identity: %w", err)
		}
	}
	if err := socket.Connect(c.cfg.BrokerAddress); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	c.socket = socket

	c.log.Info().Str("broker", c.cfg.BrokerAddress).Msg("client started")

	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)

	for {
		if ctx.Err() != nil {
			return nil
		}

		select {
		case req := <-c.submitCh:
			c.handleSubmit(req)
		default:
		}

		polled, err := poller.Poll(100 * time.Millisecond)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error().Err(err).Msg("poll failed")
			continue
		}
		if len(polled) > 0 && c.outstanding != nil {
			c.drain()
		}
	}
}

func (c *Client) handleSubmit(req submitRequest) {
	if c.outstanding != nil {
		req.result <- false
		return
	}
	c.outstanding = &pendingRequest{request: req.request, retries: req.retries, completion: req.completion}
	if err := c.socket.SendMessage(req.request); err != nil {
		c.log.Error().Err(err).Msg("failed to send request")
	}
	req.result <- true
}

func (c *Client) drain() {
	for {
		msg, err := c.socket.RecvMessageBytes(zmq4.DONTWAIT)
		if err != nil {
			return
		}
		c.handleReply(msg)
		if c.outstanding == nil {
			return // terminal outcome delivered; REQ has nothing further to drain
		}
	}
}

func (c *Client) handleReply(msg [][]byte) {
	if c.outstanding == nil {
		c.log.Warn().Msg("reply received with no outstanding request, dropping")
		return
	}
	if len(msg) != 1 {
		c.log.Warn().Int("frames", len(msg)).Msg("malformed reply, dropping")
		return
	}
	body := msg[0]

	if isControlFrame(body, KO) {
		if c.outstanding.retries == 0 {
			req := c.outstanding
			c.outstanding = nil
			req.completion(false, nil)
			return
		}
		if c.outstanding.retries != Unbounded {
			c.outstanding.retries--
		}
		if err := c.socket.SendMessage(c.outstanding.request); err != nil {
			c.log.Error().Err(err).Msg("failed to resend request")
		}
		return
	}

	req := c.outstanding
	c.outstanding = nil
	req.completion(true, body)
}
