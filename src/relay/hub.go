// Package relay is a development pub/sub hub speaking the realtime
// frame protocol. It stands in for the production transport server in
// local development and in the integration tests; an optional Redis
// bridge fans broadcasts out across relay instances.
package relay

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/waseem2959/flextasker-realtime/src/types"
)

// Bridge publishes room broadcasts to other relay instances.
type Bridge interface {
	Publish(roomID string, f *types.Frame) error
	Available() bool
}

// Hub tracks sessions, room subscriptions, presence, and a bounded
// per-room message history.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]bool // roomID -> set of session ids
	presence map[string]types.PresenceRecord
	history  map[string][]types.Message
	msgRooms map[string]string // message id -> room id
	limit    int
	bridge   Bridge
	logger   zerolog.Logger
}

// NewHub creates an empty Hub.
func NewHub(cfg *Config, logger zerolog.Logger) *Hub {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = 200
	}
	return &Hub{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]bool),
		presence: make(map[string]types.PresenceRecord),
		history:  make(map[string][]types.Message),
		msgRooms: make(map[string]string),
		limit:    limit,
		logger:   logger.With().Str("component", "relay").Logger(),
	}
}

// SetBridge attaches a cross-instance bridge. Room broadcasts are
// then also forwarded to other relay instances.
func (h *Hub) SetBridge(b Bridge) {
	h.mu.Lock()
	h.bridge = b
	h.mu.Unlock()
}

// Register adds a session and announces the user as online.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	rec := types.PresenceRecord{
		UserID:   s.UserID,
		UserName: s.UserName,
		Status:   types.PresenceOnline,
		LastSeen: time.Now(),
		Platform: s.Platform,
	}
	h.presence[s.UserID] = rec
	h.mu.Unlock()

	h.logger.Info().Str("session_id", s.ID).Str("user_id", s.UserID).Msg("session registered")
	h.broadcastPresence(rec, s.ID)
}

// Unregister removes a session, drops its room subscriptions, and
// announces the user as offline.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.ID)

	var left []string
	for roomID, members := range h.rooms {
		if members[s.ID] {
			delete(members, s.ID)
			left = append(left, roomID)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}

	rec := types.PresenceRecord{
		UserID:   s.UserID,
		UserName: s.UserName,
		Status:   types.PresenceOffline,
		LastSeen: time.Now(),
		Platform: s.Platform,
	}
	h.presence[s.UserID] = rec
	h.mu.Unlock()

	s.Close()
	h.logger.Info().Str("session_id", s.ID).Str("user_id", s.UserID).Msg("session unregistered")

	for _, roomID := range left {
		h.broadcastRoom(roomID, &types.Frame{
			Event: types.EventUserLeft,
			Payload: map[string]any{
				"room_id":   roomID,
				"user_id":   s.UserID,
				"user_name": s.UserName,
			},
			Timestamp: time.Now(),
		}, s.ID, true)
	}
	h.broadcastPresence(rec, s.ID)
}

// BroadcastToLocal delivers a bridged frame to local subscribers only,
// so bridged messages never loop back into Redis.
func (h *Hub) BroadcastToLocal(roomID string, f *types.Frame) {
	h.broadcastRoom(roomID, f, "", false)
}

// broadcastRoom sends a frame to every member of a room except the
// named session. With publish set, the frame is also forwarded to the
// bridge for other instances.
func (h *Hub) broadcastRoom(roomID string, f *types.Frame, exceptSession string, publish bool) {
	h.mu.RLock()
	members := h.rooms[roomID]
	ids := make([]string, 0, len(members))
	for id := range members {
		if id != exceptSession {
			ids = append(ids, id)
		}
	}
	b := h.bridge
	h.mu.RUnlock()

	for _, id := range ids {
		h.sendTo(id, f)
	}

	if publish && b != nil && b.Available() {
		if err := b.Publish(roomID, f); err != nil {
			h.logger.Error().Err(err).Str("room_id", roomID).Msg("bridge publish failed")
		}
	}
}

// broadcastPresence fans a presence record out to every session.
func (h *Hub) broadcastPresence(rec types.PresenceRecord, exceptSession string) {
	payload, err := types.EncodePayload(rec)
	if err != nil {
		return
	}
	f := &types.Frame{Event: types.EventPresenceUpdate, Payload: payload, Timestamp: time.Now()}

	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		if id != exceptSession {
			ids = append(ids, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.sendTo(id, f)
	}
}

func (h *Hub) sendTo(sessionID string, f *types.Frame) {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if !s.trySend(f) {
		h.logger.Warn().Str("session_id", sessionID).Msg("send buffer full, dropping")
	}
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Rooms returns room ids with their member counts.
func (h *Hub) Rooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.rooms))
	for id, members := range h.rooms {
		out[id] = len(members)
	}
	return out
}

// record appends a message to its room history, evicting the oldest
// entry past the history limit.
func (h *Hub) record(msg types.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append(h.history[msg.RoomID], msg)
	if len(list) > h.limit {
		evicted := list[0]
		delete(h.msgRooms, evicted.ID)
		list = list[1:]
	}
	h.history[msg.RoomID] = list
	h.msgRooms[msg.ID] = msg.RoomID
}

// roomOf returns the room a recorded message belongs to.
func (h *Hub) roomOf(messageID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	roomID, ok := h.msgRooms[messageID]
	return roomID, ok
}
