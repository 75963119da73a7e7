// Package reconcile merges optimistic local messages with their
// server-confirmed counterparts. A message created locally is visible
// immediately under a temporary id; confirmation swaps in the
// permanent id at the same list position, never appending a second
// entry for the same logical message.
package reconcile

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/waseem2959/flextasker-realtime/src/bus"
	"github.com/waseem2959/flextasker-realtime/src/types"
)

// Store holds the visible message list and reconciliation state.
// Every change is republished on the bus as a message_updated event
// carrying a copy of the affected message.
type Store struct {
	mu        sync.RWMutex
	order     []string                 // visible ids in arrival order
	byID      map[string]*types.Message
	tempToID  map[string]string        // temporary id -> permanent id
	onConfirm map[string][]func(id string)
	bus       *bus.Bus
	logger    zerolog.Logger
}

// New creates an empty Store publishing to b.
func New(b *bus.Bus, logger zerolog.Logger) *Store {
	return &Store{
		byID:      make(map[string]*types.Message),
		tempToID:  make(map[string]string),
		onConfirm: make(map[string][]func(string)),
		bus:       b,
		logger:    logger.With().Str("component", "reconcile").Logger(),
	}
}

// resolve maps a possibly-temporary id to the current visible id.
func (s *Store) resolve(id string) string {
	if mapped, ok := s.tempToID[id]; ok {
		return mapped
	}
	return id
}

// AddLocal inserts an optimistic message in Sending state and
// publishes it immediately, before any round trip.
func (s *Store) AddLocal(msg *types.Message) {
	s.mu.Lock()
	msg.DeliveryStatus = types.StatusSending
	s.byID[msg.ID] = msg
	s.order = append(s.order, msg.ID)
	snapshot := *msg
	s.mu.Unlock()

	s.bus.Emit(types.EventMessageUpdated, &snapshot)
}

// AddRemote appends a message from another sender. No reconciliation
// is needed since there is no local temporary copy.
func (s *Store) AddRemote(msg *types.Message) {
	s.mu.Lock()
	if _, exists := s.byID[msg.ID]; exists {
		s.mu.Unlock()
		return
	}
	if msg.DeliveryStatus == "" {
		msg.DeliveryStatus = types.StatusDelivered
	}
	s.byID[msg.ID] = msg
	s.order = append(s.order, msg.ID)
	snapshot := *msg
	s.mu.Unlock()

	s.bus.Emit(types.EventMessageUpdated, &snapshot)
}

// Confirm replaces the local record keyed by tempID with the server
// id, preserving its position, and marks it Sent. Mutations deferred
// against the temporary id run afterwards with the permanent id.
func (s *Store) Confirm(tempID, permanentID string, ts time.Time) bool {
	s.mu.Lock()
	msg, ok := s.byID[tempID]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug().Str("temporary_id", tempID).Msg("confirm for unknown message")
		return false
	}
	delete(s.byID, tempID)
	msg.ID = permanentID
	msg.TemporaryID = tempID
	msg.DeliveryStatus = types.StatusSent
	if !ts.IsZero() {
		msg.Timestamp = ts
	}
	s.byID[permanentID] = msg
	s.tempToID[tempID] = permanentID
	for i, id := range s.order {
		if id == tempID {
			s.order[i] = permanentID
			break
		}
	}
	deferred := s.onConfirm[tempID]
	delete(s.onConfirm, tempID)
	snapshot := *msg
	s.mu.Unlock()

	s.bus.Emit(types.EventMessageUpdated, &snapshot)
	for _, fn := range deferred {
		fn(permanentID)
	}
	return true
}

// OnceConfirmed runs fn with the permanent id of the given message.
// If the id is already permanent (or an already-confirmed temporary
// id) fn runs immediately; otherwise it is deferred until Confirm.
// This is the queue-and-reapply policy for mutations that target an
// unconfirmed optimistic message.
func (s *Store) OnceConfirmed(id string, fn func(permanentID string)) {
	s.mu.Lock()
	resolved := s.resolve(id)
	if msg, ok := s.byID[resolved]; ok && msg.DeliveryStatus == types.StatusSending {
		s.onConfirm[resolved] = append(s.onConfirm[resolved], fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn(resolved)
}

// Fail marks a local message as failed after its correlated send
// rejected. There is no automatic retry; a retry is a new send.
func (s *Store) Fail(tempID string) {
	s.mu.Lock()
	msg, ok := s.byID[s.resolve(tempID)]
	if !ok {
		s.mu.Unlock()
		return
	}
	msg.DeliveryStatus = types.StatusFailed
	snapshot := *msg
	deferred := s.onConfirm[msg.ID]
	delete(s.onConfirm, msg.ID)
	s.mu.Unlock()

	s.bus.Emit(types.EventMessageUpdated, &snapshot)
	// Deferred mutations against a failed message are dropped along
	// with it; the caller sees the Failed status.
	_ = deferred
}

// ApplyEdit updates a message's content by id.
func (s *Store) ApplyEdit(id, content string, editedAt time.Time) bool {
	s.mu.Lock()
	msg, ok := s.byID[s.resolve(id)]
	if !ok {
		s.mu.Unlock()
		return false
	}
	msg.Content = content
	msg.EditedAt = &editedAt
	snapshot := *msg
	s.mu.Unlock()

	s.bus.Emit(types.EventMessageUpdated, &snapshot)
	return true
}

// ApplyDelete removes a message from the visible list.
func (s *Store) ApplyDelete(id string) bool {
	s.mu.Lock()
	resolved := s.resolve(id)
	msg, ok := s.byID[resolved]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.byID, resolved)
	for i, oid := range s.order {
		if oid == resolved {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	snapshot := *msg
	s.mu.Unlock()

	s.bus.Emit(types.EventMessageDeleted, &snapshot)
	return true
}

// AddReaction attaches a reaction to a message.
func (s *Store) AddReaction(id string, r types.Reaction) bool {
	s.mu.Lock()
	msg, ok := s.byID[s.resolve(id)]
	if !ok {
		s.mu.Unlock()
		return false
	}
	for _, existing := range msg.Reactions {
		if existing.UserID == r.UserID && existing.Emoji == r.Emoji {
			s.mu.Unlock()
			return true
		}
	}
	msg.Reactions = append(msg.Reactions, r)
	snapshot := *msg
	s.mu.Unlock()

	s.bus.Emit(types.EventMessageUpdated, &snapshot)
	return true
}

// RemoveReaction detaches a reaction from a message.
func (s *Store) RemoveReaction(id string, r types.Reaction) bool {
	s.mu.Lock()
	msg, ok := s.byID[s.resolve(id)]
	if !ok {
		s.mu.Unlock()
		return false
	}
	for i, existing := range msg.Reactions {
		if existing.UserID == r.UserID && existing.Emoji == r.Emoji {
			msg.Reactions = append(msg.Reactions[:i], msg.Reactions[i+1:]...)
			break
		}
	}
	snapshot := *msg
	s.mu.Unlock()

	s.bus.Emit(types.EventMessageUpdated, &snapshot)
	return true
}

// MarkRead advances a message's delivery status to Read.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	msg, ok := s.byID[s.resolve(id)]
	if !ok {
		s.mu.Unlock()
		return false
	}
	msg.DeliveryStatus = types.StatusRead
	snapshot := *msg
	s.mu.Unlock()

	s.bus.Emit(types.EventMessageUpdated, &snapshot)
	return true
}

// Get returns a copy of the message with the given id (temporary ids
// of confirmed messages resolve to the permanent record).
func (s *Store) Get(id string) (types.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.byID[s.resolve(id)]
	if !ok {
		return types.Message{}, false
	}
	return *msg, true
}

// Messages returns copies of the visible messages for a room, in
// arrival order. An empty roomID returns everything.
func (s *Store) Messages(roomID string) []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Message, 0, len(s.order))
	for _, id := range s.order {
		msg, ok := s.byID[id]
		if !ok {
			continue
		}
		if roomID != "" && msg.RoomID != roomID {
			continue
		}
		out = append(out, *msg)
	}
	return out
}

// Len returns the number of visible messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
