// Package conn owns the single websocket channel: the
// connect/disconnect/backoff state machine, the outbound queue, the
// request/reply correlation table, and inbound frame dispatch.
package conn

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/waseem2959/flextasker-realtime/config"
	"github.com/waseem2959/flextasker-realtime/src/backoff"
	"github.com/waseem2959/flextasker-realtime/src/bus"
	"github.com/waseem2959/flextasker-realtime/src/types"
)

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Manager is the sole owner of the channel. Inbound frames are
// dispatched synchronously onto the bus in arrival order; ack frames
// resolve the matching pending call instead.
type Manager struct {
	cfg    *config.ClientConfig
	dialer Dialer
	bus    *bus.Bus
	policy backoff.Policy
	logger zerolog.Logger

	mu              sync.Mutex
	state           State
	conn            types.Conn
	gen             int // connection generation, guards stale pump callbacks
	attempt         int
	lastConnectedAt time.Time
	retryTimer      *time.Timer

	wmu sync.Mutex // serializes writes to the active connection

	queue   queue
	pending *pendingTable
}

// Option configures the Manager.
type Option func(*Manager)

// WithDialer substitutes the transport dialer, used by tests.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithBackoff overrides the reconnect schedule.
func WithBackoff(p backoff.Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// New creates a Manager in the Disconnected state. Nothing is dialed
// until Connect is called.
func New(cfg *config.ClientConfig, b *bus.Bus, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		dialer: wsDialer{handshakeTimeout: cfg.RequestTimeout},
		bus:    b,
		policy: backoff.Policy{
			Base:   cfg.ReconnectDelay,
			Max:    cfg.MaxReconnectDelay,
			Factor: 2,
		},
		logger:  logger.With().Str("component", "conn").Logger(),
		pending: newPendingTable(cfg.RequestTimeout),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens the channel. It is a no-op while Connecting or
// Connected. On failure a reconnect is scheduled per the backoff
// policy and the dial error is returned.
func (m *Manager) Connect() error {
	m.mu.Lock()
	switch m.state {
	case Closed:
		m.mu.Unlock()
		return types.ErrClosed
	case Connecting, Connected:
		m.mu.Unlock()
		return nil
	}
	m.state = Connecting
	m.stopRetryLocked()
	m.mu.Unlock()

	return m.dial()
}

// Reconnect resets the attempt counter and dials again. It is the
// manual escape hatch after the automatic retry ceiling is exceeded.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	switch m.state {
	case Closed:
		m.mu.Unlock()
		return types.ErrClosed
	case Connecting, Connected:
		m.attempt = 0
		m.mu.Unlock()
		return nil
	}
	m.attempt = 0
	m.state = Connecting
	m.stopRetryLocked()
	m.mu.Unlock()

	return m.dial()
}

func (m *Manager) dial() error {
	header := http.Header{}
	if m.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+m.cfg.Token)
	}

	c, err := m.dialer.Dial(m.cfg.URL, header)
	if err != nil {
		return m.dialFailed(err)
	}

	m.mu.Lock()
	if m.state != Connecting {
		// Closed or explicitly disconnected while the dial was in flight.
		m.mu.Unlock()
		c.Close()
		return types.ErrNotConnected
	}
	m.gen++
	gen := m.gen
	m.conn = c

	// Replay the backlog in enqueue order before anything issued after
	// reconnection can reach the wire. Enqueueing requires m.mu and the
	// state only flips to Connected once the backlog is flushed, so no
	// frame can jump the queue.
	ops := m.queue.drain()
	for i, f := range ops {
		if werr := c.WriteJSON(f); werr != nil {
			m.queue.requeue(ops[i:])
			m.conn = nil
			m.mu.Unlock()
			c.Close()
			return m.dialFailed(werr)
		}
		m.pending.arm(f.CorrelationID)
	}
	replayed := len(ops)

	m.state = Connected
	m.attempt = 0
	m.lastConnectedAt = time.Now()
	m.mu.Unlock()

	go m.readLoop(c, gen)
	if m.cfg.PingInterval > 0 {
		go m.pingLoop(gen)
	}

	m.logger.Info().Int("replayed", replayed).Msg("connected")
	m.bus.Emit(types.EventConnected, nil)
	return nil
}

// dialFailed records a failed attempt and either schedules the next
// one or, past the ceiling, surfaces a terminal connection error.
func (m *Manager) dialFailed(err error) error {
	cerr := &types.ConnectionError{Op: "dial", Err: err}

	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		return types.ErrClosed
	}
	m.state = Disconnected
	m.attempt++
	n := m.attempt

	if m.cfg.ReconnectAttempts > 0 && n >= m.cfg.ReconnectAttempts {
		m.mu.Unlock()
		m.logger.Error().Err(err).Int("attempts", n).Msg("reconnect ceiling exceeded")
		m.bus.Emit(types.EventConnectionError, cerr)
		return cerr
	}

	delay := m.policy.Delay(n - 1)
	m.retryTimer = time.AfterFunc(delay, m.retry)
	m.mu.Unlock()

	m.logger.Warn().Err(err).Int("attempt", n).Dur("retry_in", delay).Msg("connect failed")
	return cerr
}

func (m *Manager) retry() {
	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return
	}
	m.state = Connecting
	m.mu.Unlock()

	_ = m.dial() // failures reschedule themselves
}

// Disconnect closes the channel and cancels any scheduled reconnect.
// Queued operations survive and replay on a later Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		return
	}
	m.stopRetryLocked()
	already := m.state == Disconnected
	c := m.conn
	m.conn = nil
	m.gen++
	m.state = Disconnected
	m.mu.Unlock()

	if c != nil {
		c.Close()
	}
	if !already {
		m.logger.Info().Msg("disconnected")
		m.bus.Emit(types.EventDisconnected, nil)
	}
}

// Close shuts the manager down for good. Every pending call and every
// queued operation rejects with ErrQueueDiscarded.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		return
	}
	m.stopRetryLocked()
	wasConnected := m.state == Connected
	c := m.conn
	m.conn = nil
	m.gen++
	m.state = Closed
	m.queue.clear()
	m.mu.Unlock()

	if c != nil {
		c.Close()
	}
	m.pending.rejectAll(types.ErrQueueDiscarded)
	if wasConnected {
		m.bus.Emit(types.EventDisconnected, nil)
	}
	m.logger.Info().Msg("closed")
}

// Call sends a frame that expects a reply and waits for the matching
// ack, the deadline, or ctx. While disconnected the frame is queued
// (unless queueing is disabled) and the deadline starts at send time.
func (m *Manager) Call(ctx context.Context, event string, payload map[string]any) (map[string]any, error) {
	f := &types.Frame{
		Event:         event,
		Payload:       payload,
		CorrelationID: uuid.NewString(),
		Timestamp:     time.Now(),
	}
	p := m.pending.add(f.CorrelationID)
	defer m.pending.remove(f.CorrelationID)

	m.mu.Lock()
	switch m.state {
	case Closed:
		m.mu.Unlock()
		return nil, types.ErrClosed
	case Connected:
		c := m.conn
		m.pending.arm(f.CorrelationID)
		m.mu.Unlock()
		if err := m.writeFrame(c, f); err != nil {
			return nil, err
		}
	default:
		if !m.cfg.MessageQueue {
			m.mu.Unlock()
			return nil, types.ErrNotConnected
		}
		m.queue.push(f)
		m.mu.Unlock()
	}

	select {
	case res := <-p.ch:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cast sends a fire-and-forget frame, queueing it while disconnected.
func (m *Manager) Cast(event string, payload map[string]any) error {
	f := &types.Frame{Event: event, Payload: payload, Timestamp: time.Now()}

	m.mu.Lock()
	switch m.state {
	case Closed:
		m.mu.Unlock()
		return types.ErrClosed
	case Connected:
		c := m.conn
		m.mu.Unlock()
		return m.writeFrame(c, f)
	default:
		if !m.cfg.MessageQueue {
			m.mu.Unlock()
			return types.ErrNotConnected
		}
		m.queue.push(f)
		m.mu.Unlock()
		return nil
	}
}

func (m *Manager) writeFrame(c types.Conn, f *types.Frame) error {
	m.wmu.Lock()
	err := c.WriteJSON(f)
	m.wmu.Unlock()
	if err != nil {
		c.Close() // the read loop notices and drives the reconnect
		return &types.ConnectionError{Op: "write", Err: err}
	}
	return nil
}

func (m *Manager) readLoop(c types.Conn, gen int) {
	for {
		var f types.Frame
		if err := c.ReadJSON(&f); err != nil {
			m.transportLost(c, gen, err)
			return
		}
		m.dispatch(&f)
	}
}

// dispatch routes one inbound frame: acks resolve their pending call,
// everything else goes to subscribers synchronously in arrival order.
func (m *Manager) dispatch(f *types.Frame) {
	if f.Event == types.EventAck {
		m.pending.settle(f)
		return
	}
	m.bus.Emit(f.Event, f)
}

func (m *Manager) transportLost(c types.Conn, gen int, err error) {
	m.mu.Lock()
	if m.gen != gen || m.state == Closed {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.gen++
	m.state = Disconnected
	m.mu.Unlock()

	c.Close()
	m.logger.Warn().Err(err).Msg("connection lost")
	m.bus.Emit(types.EventDisconnected, err)

	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return
	}
	delay := m.policy.Delay(m.attempt)
	m.retryTimer = time.AfterFunc(delay, m.retry)
	m.mu.Unlock()
}

func (m *Manager) pingLoop(gen int) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		if m.gen != gen || m.state != Connected {
			m.mu.Unlock()
			return
		}
		c := m.conn
		m.mu.Unlock()

		if m.writeFrame(c, &types.Frame{Event: types.CallPing, Timestamp: time.Now()}) != nil {
			return
		}
	}
}

func (m *Manager) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReconnectAttempt returns the consecutive failed attempt count.
func (m *Manager) ReconnectAttempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// LastConnectedAt returns when the channel last opened, or the zero
// time if it never has.
func (m *Manager) LastConnectedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConnectedAt
}

// QueueLen returns the number of operations waiting for replay.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.len()
}

// PendingCalls returns the number of unresolved correlated calls.
func (m *Manager) PendingCalls() int {
	return m.pending.len()
}
