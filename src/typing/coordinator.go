// Package typing debounces local typing signals outbound and expires
// remote typing signals inbound. A lost stop frame costs at most one
// TTL window.
package typing

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/waseem2959/flextasker-realtime/config"
	"github.com/waseem2959/flextasker-realtime/src/bus"
	"github.com/waseem2959/flextasker-realtime/src/types"
)

// Sender puts a fire-and-forget frame on the wire.
type Sender func(event string, payload map[string]any) error

// Coordinator tracks who is typing where. Outbound signals are
// rate-limited and auto-stopped after an inactivity window; inbound
// signals carry an expiry and are swept periodically.
type Coordinator struct {
	ttl        time.Duration
	inactivity time.Duration
	debounce   time.Duration
	send       Sender
	logger     zerolog.Logger
	now        func() time.Time

	mu         sync.Mutex
	lastSent   map[string]time.Time           // roomID -> last start frame
	stopTimers map[string]*time.Timer         // roomID -> auto-stop
	remote     map[string]map[string]time.Time // roomID -> userID -> expiresAt

	done    chan struct{}
	stopped bool
}

// New creates a Coordinator. Start must be called to run the sweep.
func New(cfg *config.ClientConfig, send Sender, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		ttl:        cfg.TypingTTL,
		inactivity: cfg.TypingInactivity,
		debounce:   cfg.TypingDebounce,
		send:       send,
		logger:     logger.With().Str("component", "typing").Logger(),
		now:        time.Now,
		lastSent:   make(map[string]time.Time),
		stopTimers: make(map[string]*time.Timer),
		remote:     make(map[string]map[string]time.Time),
		done:       make(chan struct{}),
	}
}

// Bind subscribes the coordinator to inbound typing frames and to the
// disconnect signal.
func (c *Coordinator) Bind(b *bus.Bus) {
	b.On(types.EventTypingStarted, func(payload any) {
		if f, ok := payload.(*types.Frame); ok {
			c.HandleStarted(stringField(f.Payload, "user_id"), stringField(f.Payload, "room_id"))
		}
	})
	b.On(types.EventTypingStopped, func(payload any) {
		if f, ok := payload.(*types.Frame); ok {
			c.HandleStopped(stringField(f.Payload, "user_id"), stringField(f.Payload, "room_id"))
		}
	})
	b.On(types.EventDisconnected, func(any) { c.Reset() })
}

// Start runs the periodic sweep that expires remote signals.
func (c *Coordinator) Start() {
	interval := c.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-c.done:
				return
			}
		}
	}()
}

// Stop halts the sweep and cancels outbound timers.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	for room, timer := range c.stopTimers {
		timer.Stop()
		delete(c.stopTimers, room)
	}
	c.mu.Unlock()
	close(c.done)
}

// SetTyping reports local typing activity in a room. Start signals
// within the debounce window are coalesced; an automatic stop fires
// after the inactivity window unless renewed.
func (c *Coordinator) SetTyping(roomID string, isTyping bool) {
	if roomID == "" {
		return
	}
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	if !isTyping {
		if timer, ok := c.stopTimers[roomID]; ok {
			timer.Stop()
			delete(c.stopTimers, roomID)
		}
		sent := !c.lastSent[roomID].IsZero()
		delete(c.lastSent, roomID)
		c.mu.Unlock()
		if sent {
			c.emit(roomID, false)
		}
		return
	}

	renewOnly := c.now().Sub(c.lastSent[roomID]) < c.debounce
	if !renewOnly {
		c.lastSent[roomID] = c.now()
	}
	if timer, ok := c.stopTimers[roomID]; ok {
		timer.Stop()
	}
	c.stopTimers[roomID] = time.AfterFunc(c.inactivity, func() {
		c.autoStop(roomID)
	})
	c.mu.Unlock()

	if !renewOnly {
		c.emit(roomID, true)
	}
}

func (c *Coordinator) autoStop(roomID string) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	delete(c.stopTimers, roomID)
	sent := !c.lastSent[roomID].IsZero()
	delete(c.lastSent, roomID)
	c.mu.Unlock()
	if sent {
		c.emit(roomID, false)
	}
}

func (c *Coordinator) emit(roomID string, isTyping bool) {
	if err := c.send(types.CallTyping, map[string]any{
		"room_id": roomID,
		"typing":  isTyping,
	}); err != nil {
		// Typing frames are best-effort; loss self-heals via TTL.
		c.logger.Debug().Err(err).Str("room_id", roomID).Msg("typing frame dropped")
	}
}

// HandleStarted records or refreshes a remote typing signal.
func (c *Coordinator) HandleStarted(userID, roomID string) {
	if userID == "" || roomID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.remote[roomID]
	if room == nil {
		room = make(map[string]time.Time)
		c.remote[roomID] = room
	}
	room[userID] = c.now().Add(c.ttl)
}

// HandleStopped removes a remote typing signal.
func (c *Coordinator) HandleStopped(userID, roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room, ok := c.remote[roomID]; ok {
		delete(room, userID)
		if len(room) == 0 {
			delete(c.remote, roomID)
		}
	}
}

// Typists returns the users currently typing in a room, expired
// signals excluded.
func (c *Coordinator) Typists(roomID string) []string {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.remote[roomID]
	ids := make([]string, 0, len(room))
	for id, expiresAt := range room {
		if expiresAt.After(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Signals returns every live typing signal.
func (c *Coordinator) Signals() []types.TypingSignal {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.TypingSignal
	for roomID, room := range c.remote {
		for userID, expiresAt := range room {
			if expiresAt.After(now) {
				out = append(out, types.TypingSignal{UserID: userID, RoomID: roomID, ExpiresAt: expiresAt})
			}
		}
	}
	return out
}

// Reset drops all remote signals and outbound state. Called on
// disconnection.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for room, timer := range c.stopTimers {
		timer.Stop()
		delete(c.stopTimers, room)
	}
	c.lastSent = make(map[string]time.Time)
	c.remote = make(map[string]map[string]time.Time)
}

func (c *Coordinator) sweep() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for roomID, room := range c.remote {
		for userID, expiresAt := range room {
			if !expiresAt.After(now) {
				delete(room, userID)
			}
		}
		if len(room) == 0 {
			delete(c.remote, roomID)
		}
	}
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}
