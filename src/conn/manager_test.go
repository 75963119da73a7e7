package conn

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/waseem2959/flextasker-realtime/config"
	"github.com/waseem2959/flextasker-realtime/src/backoff"
	"github.com/waseem2959/flextasker-realtime/src/bus"
	"github.com/waseem2959/flextasker-realtime/src/types"
)

// fakeConn implements types.Conn without a network. Frames written by
// the manager are captured; frames delivered by the test flow through
// ReadJSON.
type fakeConn struct {
	mu       sync.Mutex
	written  []types.Frame
	readCh   chan types.Frame
	closed   bool
	closedCh chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		readCh:   make(chan types.Frame, 16),
		closedCh: make(chan struct{}),
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	if f, ok := v.(*types.Frame); ok {
		c.written = append(c.written, *f)
	}
	return nil
}

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case f := <-c.readCh:
		if ptr, ok := v.(*types.Frame); ok {
			*ptr = f
		}
		return nil
	case <-c.closedCh:
		return errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}

func (c *fakeConn) deliver(f types.Frame) { c.readCh <- f }

func (c *fakeConn) sent() []types.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]types.Frame, len(c.written))
	copy(cp, c.written)
	return cp
}

// fakeDialer hands out scripted results, one per dial.
type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	errs    []error
	dials   int
	headers []http.Header
}

func (d *fakeDialer) Dial(url string, header http.Header) (types.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.dials
	d.dials++
	d.headers = append(d.headers, header)
	if i < len(d.errs) && d.errs[i] != nil {
		return nil, d.errs[i]
	}
	if i < len(d.conns) {
		return d.conns[i], nil
	}
	return nil, errors.New("no scripted connection")
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testConfig() *config.ClientConfig {
	cfg := config.DefaultClientConfig()
	cfg.Token = "test-token"
	cfg.ReconnectAttempts = 0
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	cfg.RequestTimeout = time.Second
	cfg.PingInterval = 0
	return cfg
}

func newTestManager(t *testing.T, cfg *config.ClientConfig, d Dialer) (*Manager, *bus.Bus) {
	t.Helper()
	b := bus.New()
	m := New(cfg, b, zerolog.Nop(),
		WithDialer(d),
		WithBackoff(backoff.Policy{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond, Factor: 2}),
	)
	t.Cleanup(m.Close)
	return m, b
}

func TestConnectTransitionsToConnected(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	m, b := newTestManager(t, testConfig(), d)

	connected := make(chan struct{}, 1)
	b.On(types.EventConnected, func(any) { connected <- struct{}{} })

	require.NoError(t, m.Connect())
	require.Equal(t, Connected, m.State())
	require.False(t, m.LastConnectedAt().IsZero())

	select {
	case <-connected:
	default:
		t.Fatal("expected connected event")
	}
}

func TestConnectSendsBearerToken(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	m, _ := newTestManager(t, testConfig(), d)

	require.NoError(t, m.Connect())
	require.Equal(t, "Bearer test-token", d.headers[0].Get("Authorization"))
}

func TestConnectIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	m, _ := newTestManager(t, testConfig(), d)

	require.NoError(t, m.Connect())
	require.NoError(t, m.Connect())
	require.Equal(t, 1, d.dialCount())
}

func TestCallResolvesOnAck(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	m, _ := newTestManager(t, testConfig(), d)
	require.NoError(t, m.Connect())

	done := make(chan error, 1)
	var data map[string]any
	go func() {
		var err error
		data, err = m.Call(context.Background(), types.CallJoinRoom, map[string]any{"room_id": "r1"})
		done <- err
	}()

	var corrID string
	require.Eventually(t, func() bool {
		for _, f := range conn.sent() {
			if f.Event == types.CallJoinRoom {
				corrID = f.CorrelationID
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	conn.deliver(types.Frame{
		Event:         types.EventAck,
		CorrelationID: corrID,
		Payload:       map[string]any{"room_id": "r1"},
	})

	require.NoError(t, <-done)
	require.Equal(t, "r1", data["room_id"])
	require.Equal(t, 0, m.PendingCalls())
}

func TestCallRejectsOnErrorAck(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	m, _ := newTestManager(t, testConfig(), d)
	require.NoError(t, m.Connect())

	done := make(chan error, 1)
	go func() {
		_, err := m.Call(context.Background(), types.CallSendMessage, map[string]any{"room_id": "r1"})
		done <- err
	}()

	var corrID string
	require.Eventually(t, func() bool {
		frames := conn.sent()
		if len(frames) == 0 {
			return false
		}
		corrID = frames[0].CorrelationID
		return true
	}, time.Second, 5*time.Millisecond)

	conn.deliver(types.Frame{
		Event:         types.EventAck,
		CorrelationID: corrID,
		Payload: map[string]any{
			"error": map[string]any{"code": "bad_request", "message": "content required"},
		},
	})

	err := <-done
	var serr *types.ServerError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, "bad_request", serr.Code)
}

func TestCallTimesOutAfterSend(t *testing.T) {
	cfg := testConfig()
	cfg.RequestTimeout = 30 * time.Millisecond
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	m, _ := newTestManager(t, cfg, d)
	require.NoError(t, m.Connect())

	_, err := m.Call(context.Background(), types.CallPing, nil)
	require.ErrorIs(t, err, types.ErrTimeout)
}

func TestUnmatchedAckIsIgnored(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	m, b := newTestManager(t, testConfig(), d)
	require.NoError(t, m.Connect())

	var emitted int
	b.On(types.EventAck, func(any) { emitted++ })
	seen := make(chan struct{}, 1)
	b.On(types.EventMessageReceived, func(any) { seen <- struct{}{} })

	conn.deliver(types.Frame{Event: types.EventAck, CorrelationID: "never-issued"})
	conn.deliver(types.Frame{Event: types.EventMessageReceived, Payload: map[string]any{"id": "m1"}})

	// The message frame arriving proves the stray ack was processed
	// first; it must resolve nothing and reach no subscriber.
	select {
	case <-seen:
	case <-time.After(time.Second):
		t.Fatal("expected message frame to dispatch")
	}
	require.Equal(t, 0, m.PendingCalls())
	require.Equal(t, 0, emitted)
}

func TestQueueReplaysInOrderOnConnect(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	m, _ := newTestManager(t, testConfig(), d)

	require.NoError(t, m.Cast("first", map[string]any{"n": 1}))
	require.NoError(t, m.Cast("second", map[string]any{"n": 2}))
	require.NoError(t, m.Cast("third", map[string]any{"n": 3}))
	require.Equal(t, 3, m.QueueLen())

	require.NoError(t, m.Connect())
	require.Equal(t, 0, m.QueueLen())

	frames := conn.sent()
	require.Len(t, frames, 3)
	require.Equal(t, "first", frames[0].Event)
	require.Equal(t, "second", frames[1].Event)
	require.Equal(t, "third", frames[2].Event)
}

func TestQueueDisabledRejectsWhileDisconnected(t *testing.T) {
	cfg := testConfig()
	cfg.MessageQueue = false
	m, _ := newTestManager(t, cfg, &fakeDialer{})

	require.ErrorIs(t, m.Cast("evt", nil), types.ErrNotConnected)
	_, err := m.Call(context.Background(), "evt", nil)
	require.ErrorIs(t, err, types.ErrNotConnected)
}

func TestQueuedCallResolvesAfterReconnect(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	m, _ := newTestManager(t, testConfig(), d)

	done := make(chan error, 1)
	go func() {
		_, err := m.Call(context.Background(), types.CallJoinRoom, map[string]any{"room_id": "r1"})
		done <- err
	}()

	require.Eventually(t, func() bool { return m.QueueLen() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Connect())

	var corrID string
	require.Eventually(t, func() bool {
		frames := conn.sent()
		if len(frames) == 0 {
			return false
		}
		corrID = frames[0].CorrelationID
		return true
	}, time.Second, 5*time.Millisecond)

	conn.deliver(types.Frame{Event: types.EventAck, CorrelationID: corrID, Payload: map[string]any{}})
	require.NoError(t, <-done)
}

func TestDialFailureSchedulesRetry(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{
		errs:  []error{errors.New("refused"), nil},
		conns: []*fakeConn{nil, conn},
	}
	m, _ := newTestManager(t, testConfig(), d)

	err := m.Connect()
	var cerr *types.ConnectionError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, 1, m.ReconnectAttempt())

	require.Eventually(t, func() bool {
		return m.State() == Connected
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, m.ReconnectAttempt())
	require.Equal(t, 2, d.dialCount())
}

func TestReconnectCeilingIsTerminal(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectAttempts = 1
	d := &fakeDialer{errs: []error{errors.New("refused")}}
	m, b := newTestManager(t, cfg, d)

	terminal := make(chan any, 1)
	b.On(types.EventConnectionError, func(payload any) { terminal <- payload })

	require.Error(t, m.Connect())

	select {
	case payload := <-terminal:
		var cerr *types.ConnectionError
		require.ErrorAs(t, payload.(error), &cerr)
	case <-time.After(time.Second):
		t.Fatal("expected terminal connection error event")
	}

	// No further dials happen on their own.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, d.dialCount())
	require.Equal(t, Disconnected, m.State())
}

func TestManualReconnectResetsAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectAttempts = 1
	conn := newFakeConn()
	d := &fakeDialer{
		errs:  []error{errors.New("refused"), nil},
		conns: []*fakeConn{nil, conn},
	}
	m, _ := newTestManager(t, cfg, d)

	require.Error(t, m.Connect())
	require.NoError(t, m.Reconnect())
	require.Equal(t, Connected, m.State())
}

func TestTransportLossTriggersReconnect(t *testing.T) {
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn1, conn2}}
	m, b := newTestManager(t, testConfig(), d)

	dropped := make(chan struct{}, 1)
	b.On(types.EventDisconnected, func(any) { dropped <- struct{}{} })

	require.NoError(t, m.Connect())
	conn1.Close() // read loop fails and drives the reconnect

	select {
	case <-dropped:
	case <-time.After(time.Second):
		t.Fatal("expected disconnected event")
	}

	require.Eventually(t, func() bool {
		return m.State() == Connected && d.dialCount() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestDisconnectKeepsQueue(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	m, _ := newTestManager(t, testConfig(), d)

	require.NoError(t, m.Cast("queued", nil))
	m.Disconnect()
	require.Equal(t, Disconnected, m.State())
	require.Equal(t, 1, m.QueueLen())
}

func TestCloseRejectsPendingAndClearsQueue(t *testing.T) {
	m, _ := newTestManager(t, testConfig(), &fakeDialer{})

	done := make(chan error, 1)
	go func() {
		_, err := m.Call(context.Background(), "evt", nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return m.QueueLen() == 1 }, time.Second, 5*time.Millisecond)

	m.Close()

	require.ErrorIs(t, <-done, types.ErrQueueDiscarded)
	require.Equal(t, 0, m.QueueLen())
	require.Equal(t, Closed, m.State())
	require.ErrorIs(t, m.Connect(), types.ErrClosed)
	require.ErrorIs(t, m.Cast("evt", nil), types.ErrClosed)
}

func TestInboundFramesDispatchInOrder(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	m, b := newTestManager(t, testConfig(), d)

	var mu sync.Mutex
	var got []string
	b.On(types.EventMessageReceived, func(payload any) {
		f := payload.(*types.Frame)
		mu.Lock()
		got = append(got, f.Payload["id"].(string))
		mu.Unlock()
	})

	require.NoError(t, m.Connect())
	for _, id := range []string{"m1", "m2", "m3"} {
		conn.deliver(types.Frame{Event: types.EventMessageReceived, Payload: map[string]any{"id": id}})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"m1", "m2", "m3"}, got)
}
