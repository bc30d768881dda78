// Package pirate implements the Paranoid Pirate reliable request-reply
// pattern: a broker dispatching client requests to a dynamic pool of
// workers on a least-recently-used basis, with bidirectional heartbeat
// liveness detection and client-side bounded retry.
package pirate

import "time"

// Control frame markers exchanged between broker and worker. A control
// message is always a single frame equal to one of these values; any
// other single byte is not a valid marker.
const (
	Ready     byte = 0x01
	Heartbeat byte = 0x02
	KO        byte = 0x03
)

var (
	readyFrame     = []byte{Ready}
	heartbeatFrame = []byte{Heartbeat}
	koFrame        = []byte{KO}
)

// Unbounded is the retries sentinel meaning "retry forever."
const Unbounded = -1

// Timing constants from the wire protocol. HeartbeatInterval governs
// both broker and worker ticks; HeartbeatLiveness is the number of
// missed intervals tolerated before a peer is presumed dead.
const (
	HeartbeatInterval = 1 * time.Second
	HeartbeatLiveness = 3

	// Worker reconnect backoff. No jitter: the sequence observed across
	// consecutive failures must be the exact prefix of
	// {1s, 2s, 4s, 8s, 16s, 32s, 32s, ...}.
	IntervalInit = 1 * time.Second
	IntervalMax  = 32 * time.Second
)

// DefaultFrontendAddress and DefaultBackendAddress are the conventional
// broker bind addresses; both are configurable.
const (
	DefaultFrontendAddress = "tcp://*:5555"
	DefaultBackendAddress  = "tcp://*:5556"
)

func isControlFrame(frame []byte, marker byte) bool {
	return len(frame) == 1 && frame[0] == marker
}

// isControlBody reports whether a single-frame backend body is a
// control message rather than a reply envelope's leading frame.
func isControlBody(body [][]byte) (marker byte, ok bool) {
	if len(body) != 1 || len(body[0]) != 1 {
		return 0, false
	}
	switch body[0][0] {
	case Ready, Heartbeat:
		return body[0][0], true
	default:
		return 0, false
	}
}
