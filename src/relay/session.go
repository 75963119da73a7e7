package relay

import (
	"sync"
	"time"

	"github.com/waseem2959/flextasker-realtime/src/types"
)

// Session wraps one client connection and manages its frame flow.
type Session struct {
	ID       string
	UserID   string
	UserName string
	Platform string

	conn        types.Conn
	hub         *Hub
	send        chan *types.Frame
	connectedAt time.Time

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewSession creates a session wrapper for an upgraded connection.
func NewSession(id string, p Principal, platform string, conn types.Conn, h *Hub) *Session {
	return &Session{
		ID:          id,
		UserID:      p.UserID,
		UserName:    p.UserName,
		Platform:    platform,
		conn:        conn,
		hub:         h,
		send:        make(chan *types.Frame, 256),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// ReadPump reads frames from the connection and routes them to the
// hub until the connection drops.
func (s *Session) ReadPump() {
	defer func() {
		s.hub.Unregister(s)
		s.conn.Close()
	}()

	for {
		var f types.Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			return
		}
		s.hub.handleFrame(s, &f)
	}
}

// WritePump writes frames from the send channel to the connection.
func (s *Session) WritePump() {
	defer s.conn.Close()

	for {
		select {
		case f, ok := <-s.send:
			if !ok {
				return
			}
			if err := s.conn.WriteJSON(f); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// trySend queues a frame without blocking; a full buffer drops it.
func (s *Session) trySend(f *types.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- f:
		return true
	default:
		return false
	}
}

// Close signals the session to stop its pumps.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
		close(s.send)
	}
}
