package relay

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/waseem2959/flextasker-realtime/src/types"
)

// handleFrame routes one inbound frame from a session.
func (h *Hub) handleFrame(s *Session, f *types.Frame) {
	switch f.Event {
	case types.CallJoinRoom:
		h.handleJoin(s, f)
	case types.CallLeaveRoom:
		h.handleLeave(s, f)
	case types.CallSendMessage, types.CallThreadReply:
		h.handleSend(s, f)
	case types.CallEditMessage:
		h.handleEdit(s, f)
	case types.CallDeleteMessage:
		h.handleDelete(s, f)
	case types.CallMarkAsRead:
		h.handleMarkRead(s, f)
	case types.CallMessageReaction:
		h.handleReaction(s, f)
	case types.CallTyping:
		h.handleTyping(s, f)
	case types.CallPresence:
		h.handlePresence(s, f)
	case types.CallSearchMessages:
		h.handleSearch(s, f)
	case types.CallPing:
		s.trySend(&types.Frame{Event: types.EventPong, Timestamp: time.Now()})
	default:
		h.logger.Debug().Str("event", f.Event).Str("session_id", s.ID).Msg("unknown event")
		h.nack(s, f, "unknown_event", "unrecognized event: "+f.Event)
	}
}

// ack answers a correlated request. Frames without a correlation id
// get no reply.
func (h *Hub) ack(s *Session, req *types.Frame, data map[string]any) {
	if req.CorrelationID == "" {
		return
	}
	s.trySend(&types.Frame{
		Event:         types.EventAck,
		Payload:       data,
		CorrelationID: req.CorrelationID,
		Timestamp:     time.Now(),
	})
}

func (h *Hub) nack(s *Session, req *types.Frame, code, msg string) {
	if req.CorrelationID == "" {
		return
	}
	s.trySend(&types.Frame{
		Event: types.EventAck,
		Payload: map[string]any{
			"error": map[string]any{"code": code, "message": msg},
		},
		CorrelationID: req.CorrelationID,
		Timestamp:     time.Now(),
	})
}

func (h *Hub) handleJoin(s *Session, f *types.Frame) {
	roomID := stringField(f.Payload, "room_id")
	if roomID == "" {
		h.nack(s, f, "bad_request", "room_id is required")
		return
	}

	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]bool)
	}
	h.rooms[roomID][s.ID] = true
	memberRecs := make([]types.PresenceRecord, 0, len(h.rooms[roomID]))
	for id := range h.rooms[roomID] {
		if member, ok := h.sessions[id]; ok && id != s.ID {
			if rec, ok := h.presence[member.UserID]; ok {
				memberRecs = append(memberRecs, rec)
			}
		}
	}
	h.mu.Unlock()

	h.ack(s, f, map[string]any{"room_id": roomID})
	s.trySend(&types.Frame{
		Event:     types.EventRoomJoined,
		Payload:   map[string]any{"room_id": roomID},
		Timestamp: time.Now(),
	})

	// Re-broadcast current member presence to the joiner; the client
	// does not re-request presence after reconnecting.
	for _, rec := range memberRecs {
		if payload, err := types.EncodePayload(rec); err == nil {
			s.trySend(&types.Frame{Event: types.EventPresenceUpdate, Payload: payload, Timestamp: time.Now()})
		}
	}

	h.broadcastRoom(roomID, &types.Frame{
		Event: types.EventUserJoined,
		Payload: map[string]any{
			"room_id":   roomID,
			"user_id":   s.UserID,
			"user_name": s.UserName,
		},
		Timestamp: time.Now(),
	}, s.ID, true)
}

func (h *Hub) handleLeave(s *Session, f *types.Frame) {
	roomID := stringField(f.Payload, "room_id")
	if roomID == "" {
		h.nack(s, f, "bad_request", "room_id is required")
		return
	}

	h.mu.Lock()
	if members, ok := h.rooms[roomID]; ok {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()

	h.ack(s, f, map[string]any{"room_id": roomID})
	s.trySend(&types.Frame{
		Event:     types.EventRoomLeft,
		Payload:   map[string]any{"room_id": roomID},
		Timestamp: time.Now(),
	})
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

func (h *Hub) handleSend(s *Session, f *types.Frame) {
	roomID := stringField(f.Payload, "room_id")
	content := stringField(f.Payload, "content")
	tempID := stringField(f.Payload, "temporary_id")
	if roomID == "" || content == "" {
		h.nack(s, f, "bad_request", "room_id and content are required")
		return
	}

	now := time.Now()
	msg := types.Message{
		ID:             uuid.NewString(),
		SenderID:       s.UserID,
		SenderName:     s.UserName,
		RoomID:         roomID,
		Content:        content,
		Type:           stringField(f.Payload, "type"),
		Timestamp:      now,
		DeliveryStatus: types.StatusDelivered,
		ReplyTo:        stringField(f.Payload, "parent_id"),
	}
	h.record(msg)

	h.ack(s, f, map[string]any{"id": msg.ID, "temporary_id": tempID})

	// Permanent id travels to the sender on a dedicated frame, keyed
	// by the temporary id so the client can reconcile its optimistic
	// copy.
	s.trySend(&types.Frame{
		Event: types.EventMessageSent,
		Payload: map[string]any{
			"id":           msg.ID,
			"temporary_id": tempID,
			"room_id":      roomID,
			"timestamp":    now.Format(time.RFC3339Nano),
		},
		Timestamp: now,
	})

	event := types.EventMessageReceived
	if f.Event == types.CallThreadReply {
		event = types.EventThreadReply
	}
	payload, err := types.EncodePayload(msg)
	if err != nil {
		return
	}
	h.broadcastRoom(roomID, &types.Frame{Event: event, Payload: payload, Timestamp: now}, s.ID, true)
}

func (h *Hub) handleEdit(s *Session, f *types.Frame) {
	messageID := stringField(f.Payload, "message_id")
	content := stringField(f.Payload, "content")
	roomID, ok := h.roomOf(messageID)
	if !ok {
		h.nack(s, f, "not_found", "unknown message: "+messageID)
		return
	}

	now := time.Now()
	h.mu.Lock()
	for i := range h.history[roomID] {
		if h.history[roomID][i].ID == messageID {
			h.history[roomID][i].Content = content
			h.history[roomID][i].EditedAt = &now
			break
		}
	}
	h.mu.Unlock()

	h.ack(s, f, map[string]any{"message_id": messageID})
	h.broadcastRoom(roomID, &types.Frame{
		Event: types.EventMessageEdited,
		Payload: map[string]any{
			"message_id": messageID,
			"content":    content,
			"edited_at":  now.Format(time.RFC3339Nano),
		},
		Timestamp: now,
	}, s.ID, true)
}

func (h *Hub) handleDelete(s *Session, f *types.Frame) {
	messageID := stringField(f.Payload, "message_id")
	roomID, ok := h.roomOf(messageID)
	if !ok {
		h.nack(s, f, "not_found", "unknown message: "+messageID)
		return
	}

	h.mu.Lock()
	list := h.history[roomID]
	for i := range list {
		if list[i].ID == messageID {
			h.history[roomID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	delete(h.msgRooms, messageID)
	h.mu.Unlock()

	h.ack(s, f, map[string]any{"message_id": messageID})
	h.broadcastRoom(roomID, &types.Frame{
		Event:     types.EventMessageDeleted,
		Payload:   map[string]any{"message_id": messageID},
		Timestamp: time.Now(),
	}, s.ID, true)
}

func (h *Hub) handleMarkRead(s *Session, f *types.Frame) {
	roomID := stringField(f.Payload, "room_id")
	if roomID == "" {
		return // fire-and-forget, nothing to answer
	}
	h.broadcastRoom(roomID, &types.Frame{
		Event: types.EventMessageRead,
		Payload: map[string]any{
			"room_id":     roomID,
			"message_ids": f.Payload["message_ids"],
			"user_id":     s.UserID,
		},
		Timestamp: time.Now(),
	}, s.ID, true)
}

func (h *Hub) handleReaction(s *Session, f *types.Frame) {
	messageID := stringField(f.Payload, "message_id")
	emoji := stringField(f.Payload, "emoji")
	roomID, ok := h.roomOf(messageID)
	if !ok {
		h.nack(s, f, "not_found", "unknown message: "+messageID)
		return
	}

	event := types.EventReactionAdded
	if stringField(f.Payload, "op") == "remove" {
		event = types.EventReactionRemoved
	}

	h.ack(s, f, map[string]any{"message_id": messageID})
	h.broadcastRoom(roomID, &types.Frame{
		Event: event,
		Payload: map[string]any{
			"message_id": messageID,
			"user_id":    s.UserID,
			"emoji":      emoji,
		},
		Timestamp: time.Now(),
	}, s.ID, true)
}

func (h *Hub) handleTyping(s *Session, f *types.Frame) {
	roomID := stringField(f.Payload, "room_id")
	if roomID == "" {
		return
	}
	event := types.EventTypingStopped
	if isTyping, _ := f.Payload["typing"].(bool); isTyping {
		event = types.EventTypingStarted
	}
	h.broadcastRoom(roomID, &types.Frame{
		Event: event,
		Payload: map[string]any{
			"room_id":   roomID,
			"user_id":   s.UserID,
			"user_name": s.UserName,
		},
		Timestamp: time.Now(),
	}, s.ID, true)
}

func (h *Hub) handlePresence(s *Session, f *types.Frame) {
	status := types.PresenceStatus(stringField(f.Payload, "status"))
	switch status {
	case types.PresenceOnline, types.PresenceAway, types.PresenceBusy, types.PresenceOffline:
	default:
		return
	}

	rec := types.PresenceRecord{
		UserID:   s.UserID,
		UserName: s.UserName,
		Status:   status,
		LastSeen: time.Now(),
		Platform: s.Platform,
	}
	h.mu.Lock()
	h.presence[s.UserID] = rec
	h.mu.Unlock()

	h.broadcastPresence(rec, s.ID)
}

func (h *Hub) handleSearch(s *Session, f *types.Frame) {
	roomID := stringField(f.Payload, "room_id")
	query := strings.ToLower(stringField(f.Payload, "query"))
	limit := 50
	if raw, ok := f.Payload["limit"].(float64); ok && raw > 0 {
		limit = int(raw)
	}

	h.mu.RLock()
	var results []types.Message
	for _, msg := range h.history[roomID] {
		if query == "" || strings.Contains(strings.ToLower(msg.Content), query) {
			results = append(results, msg)
			if len(results) >= limit {
				break
			}
		}
	}
	h.mu.RUnlock()

	payload, err := types.EncodePayload(struct {
		Results []types.Message `json:"results"`
	}{Results: results})
	if err != nil {
		h.nack(s, f, "internal", "failed to encode results")
		return
	}
	h.ack(s, f, payload)
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}
