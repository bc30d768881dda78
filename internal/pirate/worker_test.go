package pirate

import (
	"context"
	"testing"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerFuncAdapter(t *testing.T) {
	var seen []byte
	f := HandlerFunc(func(request []byte) bool {
		seen = request
		return true
	})
	if !f.Handle([]byte("payload")) {
		t.Error("expected HandlerFunc.Handle to return true")
	}
	assert.Equal(t, "payload", string(seen))
}

func TestDefaultWorkerConfig(t *testing.T) {
	cfg := DefaultWorkerConfig()
	assert.Equal(t, "tcp://localhost:5556", cfg.BrokerAddress)
}

// newConnectedWorker binds a ROUTER peer over inproc and connects a
// real Worker's DEALER socket to it via connect(), draining the READY
// announcement so later assertions start from a clean queue.
func newConnectedWorker(t *testing.T, addr string, handler Handler) (*Worker, *zmq4.Socket) {
	t.Helper()

	peer, err := zmq4.NewSocket(zmq4.ROUTER)
	require.NoError(t, err)
	require.NoError(t, peer.SetLinger(0))
	require.NoError(t, peer.Bind(addr))

	w := NewWorker(WorkerConfig{BrokerAddress: addr}, handler)
	require.NoError(t, w.connect())

	time.Sleep(20 * time.Millisecond)
	_, err = peer.RecvMessageBytes(0) // the READY announcement
	require.NoError(t, err)

	return w, peer
}

func TestWorkerConnectSendsReady(t *testing.T) {
	w, peer := newConnectedWorker(t, "inproc://test-worker-connect", HandlerFunc(func([]byte) bool { return true }))
	defer w.socket.Close()
	defer peer.Close()

	assert.NotNil(t, w.socket)
	assert.Equal(t, HeartbeatLiveness, w.liveness)
}

func TestWorkerHandleMessageAcceptedTaskRetainsEnvelope(t *testing.T) {
	w, peer := newConnectedWorker(t, "inproc://test-worker-accept", HandlerFunc(func([]byte) bool { return true }))
	defer w.socket.Close()
	defer peer.Close()

	w.handleMessage([][]byte{[]byte("client-1"), {}, []byte("payload")})

	require.NotNil(t, w.retainedEnvelope)
	assert.Equal(t, "client-1", string(w.retainedEnvelope[0]))
	assert.Empty(t, w.retainedEnvelope[1])
	assert.Equal(t, HeartbeatLiveness, w.liveness)
	assert.Equal(t, IntervalInit, w.reconnectInterval)
}

func TestWorkerHandleMessageRejectedTaskCompletesWithKO(t *testing.T) {
	w, peer := newConnectedWorker(t, "inproc://test-worker-reject", HandlerFunc(func([]byte) bool { return false }))
	defer w.socket.Close()
	defer peer.Close()

	w.handleMessage([][]byte{[]byte("client-1"), {}, []byte("payload")})

	assert.Nil(t, w.retainedEnvelope, "a synchronously rejected task must complete immediately")

	reply, err := peer.RecvMessageBytes(0)
	require.NoError(t, err)
	require.Len(t, reply, 4) // worker identity prepended by the ROUTER peer
	assert.Equal(t, "client-1", string(reply[1]))
	assert.Equal(t, []byte{KO}, reply[3])
}

func TestWorkerCompleteTaskSendsSuccessReply(t *testing.T) {
	w, peer := newConnectedWorker(t, "inproc://test-worker-complete", HandlerFunc(func([]byte) bool { return true }))
	defer w.socket.Close()
	defer peer.Close()

	w.handleMessage([][]byte{[]byte("client-1"), {}, []byte("payload")})
	require.NotNil(t, w.retainedEnvelope)

	ok := w.completeTask([]byte("result"), true)
	assert.True(t, ok)
	assert.Nil(t, w.retainedEnvelope)

	reply, err := peer.RecvMessageBytes(0)
	require.NoError(t, err)
	require.Len(t, reply, 4)
	assert.Equal(t, "result", string(reply[3]))
}

func TestWorkerCompleteTaskWithoutInFlightTaskReturnsFalse(t *testing.T) {
	w := NewWorker(WorkerConfig{BrokerAddress: "inproc://unused"}, HandlerFunc(func([]byte) bool { return true }))
	assert.False(t, w.completeTask([]byte("reply"), true))
}

func TestWorkerHandleMessageHeartbeatResetsLiveness(t *testing.T) {
	w := NewWorker(WorkerConfig{}, HandlerFunc(func([]byte) bool { return true }))
	w.liveness = 1
	w.reconnectInterval = 16 * time.Second

	w.handleMessage([][]byte{{Heartbeat}})

	assert.Equal(t, HeartbeatLiveness, w.liveness)
	assert.Equal(t, IntervalInit, w.reconnectInterval)
}

func TestWorkerHandleMessageMalformedSingleFrameIgnored(t *testing.T) {
	w := NewWorker(WorkerConfig{}, HandlerFunc(func([]byte) bool { return true }))
	w.liveness = 1

	w.handleMessage([][]byte{{KO}})

	assert.Equal(t, 1, w.liveness, "a non-heartbeat single frame must not reset liveness")
}

func TestWorkerHeartbeatTickSendsWhileAlive(t *testing.T) {
	w, peer := newConnectedWorker(t, "inproc://test-worker-tick", HandlerFunc(func([]byte) bool { return true }))
	defer w.socket.Close()
	defer peer.Close()

	w.liveness = 2
	stopped, err := w.heartbeatTick(context.Background())
	assert.False(t, stopped)
	assert.NoError(t, err)
	assert.Equal(t, 1, w.liveness)

	msg, err := peer.RecvMessageBytes(0)
	require.NoError(t, err)
	require.Len(t, msg, 2)
	assert.Equal(t, []byte{Heartbeat}, msg[1])
}

func TestWorkerHeartbeatTickReconnectsAndDoublesBackoff(t *testing.T) {
	addr := "inproc://test-worker-expiry"
	peer, err := zmq4.NewSocket(zmq4.ROUTER)
	require.NoError(t, err)
	require.NoError(t, peer.SetLinger(0))
	require.NoError(t, peer.Bind(addr))
	defer peer.Close()

	w := NewWorker(WorkerConfig{BrokerAddress: addr}, HandlerFunc(func([]byte) bool { return true }))
	require.NoError(t, w.connect())
	defer func() {
		if w.socket != nil {
			w.socket.Close()
		}
	}()
	_, err = peer.RecvMessageBytes(0) // drain initial READY
	require.NoError(t, err)

	w.liveness = 1
	w.reconnectInterval = 10 * time.Millisecond

	stopped, err := w.heartbeatTick(context.Background())
	assert.False(t, stopped)
	assert.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, w.reconnectInterval, "backoff must double for the next round")
	assert.NotNil(t, w.socket, "a successful reconnect must leave a live socket")

	_, err = peer.RecvMessageBytes(0) // the post-reconnect READY
	require.NoError(t, err)
}

func TestWorkerHeartbeatTickStopsOnContextCancel(t *testing.T) {
	addr := "inproc://test-worker-cancel"
	peer, err := zmq4.NewSocket(zmq4.ROUTER)
	require.NoError(t, err)
	require.NoError(t, peer.SetLinger(0))
	require.NoError(t, peer.Bind(addr))
	defer peer.Close()

	w := NewWorker(WorkerConfig{BrokerAddress: addr}, HandlerFunc(func([]byte) bool { return true }))
	require.NoError(t, w.connect())
	_, err = peer.RecvMessageBytes(0)
	require.NoError(t, err)

	w.liveness = 1
	w.reconnectInterval = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stopped, err := w.heartbeatTick(ctx)
	assert.True(t, stopped)
	assert.NoError(t, err)
}
