package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/waseem2959/flextasker-realtime/config"
	"github.com/waseem2959/flextasker-realtime/src/bus"
	"github.com/waseem2959/flextasker-realtime/src/types"
)

type sentFrame struct {
	event   string
	payload map[string]any
}

type captureSender struct {
	mu     sync.Mutex
	frames []sentFrame
}

func (c *captureSender) send(event string, payload map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, sentFrame{event: event, payload: payload})
	return nil
}

func (c *captureSender) all() []sentFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]sentFrame, len(c.frames))
	copy(cp, c.frames)
	return cp
}

func newCoordinator(t *testing.T) (*Coordinator, *captureSender) {
	t.Helper()
	cfg := config.DefaultClientConfig()
	cfg.TypingTTL = 3 * time.Second
	cfg.TypingInactivity = 50 * time.Millisecond
	cfg.TypingDebounce = 300 * time.Millisecond
	sender := &captureSender{}
	c := New(cfg, sender.send, zerolog.Nop())
	t.Cleanup(c.Stop)
	return c, sender
}

func TestSetTypingSendsStartOnce(t *testing.T) {
	c, sender := newCoordinator(t)

	now := time.Now()
	c.now = func() time.Time { return now }

	c.SetTyping("room-1", true)
	c.SetTyping("room-1", true) // within the debounce window
	c.SetTyping("room-1", true)

	frames := sender.all()
	require.Len(t, frames, 1)
	require.Equal(t, types.CallTyping, frames[0].event)
	require.Equal(t, "room-1", frames[0].payload["room_id"])
	require.Equal(t, true, frames[0].payload["typing"])
}

func TestSetTypingResendsAfterDebounceWindow(t *testing.T) {
	c, sender := newCoordinator(t)

	now := time.Now()
	c.now = func() time.Time { return now }
	c.SetTyping("room-1", true)

	now = now.Add(time.Second)
	c.SetTyping("room-1", true)

	require.Len(t, sender.all(), 2)
}

func TestExplicitStopSendsStopFrame(t *testing.T) {
	c, sender := newCoordinator(t)

	c.SetTyping("room-1", true)
	c.SetTyping("room-1", false)

	frames := sender.all()
	require.Len(t, frames, 2)
	require.Equal(t, false, frames[1].payload["typing"])
}

func TestStopWithoutStartSendsNothing(t *testing.T) {
	c, sender := newCoordinator(t)
	c.SetTyping("room-1", false)
	require.Empty(t, sender.all())
}

func TestAutoStopAfterInactivity(t *testing.T) {
	c, sender := newCoordinator(t)

	c.SetTyping("room-1", true)

	require.Eventually(t, func() bool {
		frames := sender.all()
		return len(frames) == 2 && frames[1].payload["typing"] == false
	}, time.Second, 10*time.Millisecond)
}

func TestRemoteSignalExpiresAfterTTL(t *testing.T) {
	c, _ := newCoordinator(t)

	now := time.Now()
	c.now = func() time.Time { return now }

	c.HandleStarted("u1", "room-1")
	require.Equal(t, []string{"u1"}, c.Typists("room-1"))

	now = now.Add(4 * time.Second)
	require.Empty(t, c.Typists("room-1"))
}

func TestHandleStartedRefreshesExpiry(t *testing.T) {
	c, _ := newCoordinator(t)

	now := time.Now()
	c.now = func() time.Time { return now }

	c.HandleStarted("u1", "room-1")
	now = now.Add(2 * time.Second)
	c.HandleStarted("u1", "room-1")
	now = now.Add(2 * time.Second)

	// Refreshed at t+2s with a 3s TTL, so still live at t+4s.
	require.Equal(t, []string{"u1"}, c.Typists("room-1"))
}

func TestHandleStoppedRemovesSignal(t *testing.T) {
	c, _ := newCoordinator(t)

	c.HandleStarted("u1", "room-1")
	c.HandleStarted("u2", "room-1")
	c.HandleStopped("u1", "room-1")

	require.Equal(t, []string{"u2"}, c.Typists("room-1"))
}

func TestSweepDropsExpiredSignals(t *testing.T) {
	c, _ := newCoordinator(t)

	now := time.Now()
	c.now = func() time.Time { return now }

	c.HandleStarted("u1", "room-1")
	now = now.Add(4 * time.Second)
	c.sweep()

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Empty(t, c.remote)
}

func TestBindRoutesInboundFrames(t *testing.T) {
	b := bus.New()
	c, _ := newCoordinator(t)
	c.Bind(b)

	b.Emit(types.EventTypingStarted, &types.Frame{
		Event:   types.EventTypingStarted,
		Payload: map[string]any{"user_id": "u1", "room_id": "room-1"},
	})
	require.Equal(t, []string{"u1"}, c.Typists("room-1"))

	b.Emit(types.EventTypingStopped, &types.Frame{
		Event:   types.EventTypingStopped,
		Payload: map[string]any{"user_id": "u1", "room_id": "room-1"},
	})
	require.Empty(t, c.Typists("room-1"))
}

func TestResetOnDisconnect(t *testing.T) {
	b := bus.New()
	c, _ := newCoordinator(t)
	c.Bind(b)

	c.HandleStarted("u1", "room-1")
	c.SetTyping("room-2", true)

	b.Emit(types.EventDisconnected, nil)

	require.Empty(t, c.Typists("room-1"))
	require.Empty(t, c.Signals())
}
