// Package chat is the high-level realtime client: one persistent
// connection plus presence, typing, and optimistic message state,
// exposed to consumers through a subscribe/unsubscribe event bus.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/waseem2959/flextasker-realtime/config"
	"github.com/waseem2959/flextasker-realtime/src/bus"
	"github.com/waseem2959/flextasker-realtime/src/conn"
	"github.com/waseem2959/flextasker-realtime/src/presence"
	"github.com/waseem2959/flextasker-realtime/src/reconcile"
	"github.com/waseem2959/flextasker-realtime/src/typing"
	"github.com/waseem2959/flextasker-realtime/src/types"
)

// Identity is the authenticated user this client acts as. The token
// is issued elsewhere; the client only carries it on the handshake.
type Identity struct {
	UserID   string
	UserName string
	Platform string
}

// MessageOptions are the optional attributes of an outbound message.
type MessageOptions struct {
	Type    string
	ReplyTo string
}

// Client is an explicitly constructed, caller-owned realtime client.
// There is no shared module-level state; lifecycle is Connect/Close.
type Client struct {
	cfg      *config.ClientConfig
	identity Identity
	logger   zerolog.Logger

	bus      *bus.Bus
	mgr      *conn.Manager
	presence *presence.Tracker
	typing   *typing.Coordinator
	store    *reconcile.Store
}

// New wires a client together. With cfg.AutoConnect the dial starts
// in the background; otherwise call Connect.
func New(cfg *config.ClientConfig, identity Identity, logger zerolog.Logger, opts ...conn.Option) *Client {
	b := bus.New()
	c := &Client{
		cfg:      cfg,
		identity: identity,
		logger:   logger.With().Str("component", "chat").Logger(),
		bus:      b,
		mgr:      conn.New(cfg, b, logger, opts...),
		store:    reconcile.New(b, logger),
	}

	if cfg.PresenceEnabled {
		c.presence = presence.New(logger)
		c.presence.Bind(b)
	}
	if cfg.TypingEnabled {
		// Typing frames are ephemeral: never queue them for replay,
		// just drop them while disconnected.
		send := func(event string, payload map[string]any) error {
			if c.mgr.State() != conn.Connected {
				return nil
			}
			return c.mgr.Cast(event, payload)
		}
		c.typing = typing.New(cfg, send, logger)
		c.typing.Bind(b)
		c.typing.Start()
	}
	c.bindMessageEvents()

	if cfg.AutoConnect {
		go func() {
			_ = c.mgr.Connect() // failures feed the backoff machinery
		}()
	}
	return c
}

// bindMessageEvents routes inbound wire frames into the reconciler.
// These handlers are registered before any consumer handler, so the
// store is already updated when consumers observe the same frame.
func (c *Client) bindMessageEvents() {
	c.bus.On(types.EventMessageReceived, func(payload any) {
		if msg := decodeMessage(payload); msg != nil {
			c.store.AddRemote(msg)
		}
	})
	c.bus.On(types.EventThreadReply, func(payload any) {
		if msg := decodeMessage(payload); msg != nil {
			c.store.AddRemote(msg)
		}
	})
	c.bus.On(types.EventMessageSent, func(payload any) {
		f, ok := payload.(*types.Frame)
		if !ok {
			return
		}
		tempID := stringField(f.Payload, "temporary_id")
		permID := stringField(f.Payload, "id")
		if tempID == "" || permID == "" {
			return
		}
		ts := time.Time{}
		if raw, ok := f.Payload["timestamp"].(string); ok {
			ts, _ = time.Parse(time.RFC3339Nano, raw)
		}
		c.store.Confirm(tempID, permID, ts)
	})
	c.bus.On(types.EventMessageEdited, func(payload any) {
		f, ok := payload.(*types.Frame)
		if !ok {
			return
		}
		editedAt := time.Now()
		if raw, ok := f.Payload["edited_at"].(string); ok {
			if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				editedAt = parsed
			}
		}
		c.store.ApplyEdit(stringField(f.Payload, "message_id"), stringField(f.Payload, "content"), editedAt)
	})
	c.bus.On(types.EventMessageDeleted, func(payload any) {
		if f, ok := payload.(*types.Frame); ok {
			c.store.ApplyDelete(stringField(f.Payload, "message_id"))
		}
	})
	c.bus.On(types.EventMessageRead, func(payload any) {
		f, ok := payload.(*types.Frame)
		if !ok {
			return
		}
		if ids, ok := f.Payload["message_ids"].([]any); ok {
			for _, raw := range ids {
				if id, ok := raw.(string); ok {
					c.store.MarkRead(id)
				}
			}
		}
	})
	c.bus.On(types.EventReactionAdded, func(payload any) {
		if f, ok := payload.(*types.Frame); ok {
			c.store.AddReaction(stringField(f.Payload, "message_id"), types.Reaction{
				UserID: stringField(f.Payload, "user_id"),
				Emoji:  stringField(f.Payload, "emoji"),
			})
		}
	})
	c.bus.On(types.EventReactionRemoved, func(payload any) {
		if f, ok := payload.(*types.Frame); ok {
			c.store.RemoveReaction(stringField(f.Payload, "message_id"), types.Reaction{
				UserID: stringField(f.Payload, "user_id"),
				Emoji:  stringField(f.Payload, "emoji"),
			})
		}
	})
}

// Connect opens the channel.
func (c *Client) Connect() error { return c.mgr.Connect() }

// Reconnect resets the retry counter and dials again.
func (c *Client) Reconnect() error { return c.mgr.Reconnect() }

// Disconnect closes the channel but keeps queued operations for a
// later Connect.
func (c *Client) Disconnect() { c.mgr.Disconnect() }

// Close tears the client down; everything outstanding rejects.
func (c *Client) Close() {
	if c.typing != nil {
		c.typing.Stop()
	}
	c.mgr.Close()
}

// On subscribes to a bus event and returns the unsubscribe func.
func (c *Client) On(event string, fn bus.Handler) func() { return c.bus.On(event, fn) }

// Emit publishes a local event to bus subscribers. Consumers use this
// to fan application events through the same pipe.
func (c *Client) Emit(event string, payload any) { c.bus.Emit(event, payload) }

// State returns the connection state.
func (c *Client) State() conn.State { return c.mgr.State() }

// JoinRoom subscribes this client to a room's events.
func (c *Client) JoinRoom(ctx context.Context, roomID, roomType string) error {
	_, err := c.mgr.Call(ctx, types.CallJoinRoom, map[string]any{
		"room_id":   roomID,
		"room_type": roomType,
	})
	return err
}

// LeaveRoom unsubscribes this client from a room.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	_, err := c.mgr.Call(ctx, types.CallLeaveRoom, map[string]any{"room_id": roomID})
	return err
}

// SendMessage creates an optimistic message, publishes it right away,
// and issues the correlated send in the background. The returned copy
// carries the temporary id and Sending status; confirmation and
// failure arrive as message_updated events. There is no automatic
// retry: a retry is another SendMessage call.
func (c *Client) SendMessage(roomID, content string, opts *MessageOptions) (types.Message, error) {
	if c.mgr.State() == conn.Closed {
		return types.Message{}, types.ErrClosed
	}
	if opts == nil {
		opts = &MessageOptions{}
	}
	msgType := opts.Type
	if msgType == "" {
		msgType = "text"
	}

	tempID := uuid.NewString()
	msg := &types.Message{
		ID:          tempID,
		TemporaryID: tempID,
		SenderID:    c.identity.UserID,
		SenderName:  c.identity.UserName,
		RoomID:      roomID,
		Content:     content,
		Type:        msgType,
		Timestamp:   time.Now(),
		ReplyTo:     opts.ReplyTo,
	}
	c.store.AddLocal(msg)

	event := types.CallSendMessage
	payload := map[string]any{
		"room_id":      roomID,
		"content":      content,
		"type":         msgType,
		"temporary_id": tempID,
	}
	if opts.ReplyTo != "" {
		event = types.CallThreadReply
		payload["parent_id"] = opts.ReplyTo
	}

	go func() {
		if _, err := c.mgr.Call(context.Background(), event, payload); err != nil {
			c.logger.Warn().Err(err).Str("temporary_id", tempID).Msg("send failed")
			c.store.Fail(tempID)
		}
	}()

	return *msg, nil
}

// ThreadReply sends a message as a reply in a thread.
func (c *Client) ThreadReply(roomID, parentID, content string) (types.Message, error) {
	return c.SendMessage(roomID, content, &MessageOptions{ReplyTo: parentID})
}

// EditMessage updates a message's content. Edits against a message
// whose send is still unconfirmed are deferred until the permanent id
// arrives, then reissued against it.
func (c *Client) EditMessage(ctx context.Context, messageID, content string) {
	c.store.OnceConfirmed(messageID, func(id string) {
		c.store.ApplyEdit(id, content, time.Now())
		go func() {
			if _, err := c.mgr.Call(ctx, types.CallEditMessage, map[string]any{
				"message_id": id,
				"content":    content,
			}); err != nil {
				c.logger.Warn().Err(err).Str("message_id", id).Msg("edit failed")
			}
		}()
	})
}

// DeleteMessage removes a message, deferring like EditMessage when the
// target is still unconfirmed.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) {
	c.store.OnceConfirmed(messageID, func(id string) {
		c.store.ApplyDelete(id)
		go func() {
			if _, err := c.mgr.Call(ctx, types.CallDeleteMessage, map[string]any{
				"message_id": id,
			}); err != nil {
				c.logger.Warn().Err(err).Str("message_id", id).Msg("delete failed")
			}
		}()
	})
}

// MarkAsRead reports messages as read. Fire-and-forget.
func (c *Client) MarkAsRead(roomID string, messageIDs []string) error {
	return c.mgr.Cast(types.CallMarkAsRead, map[string]any{
		"room_id":     roomID,
		"message_ids": messageIDs,
	})
}

// AddReaction attaches an emoji reaction to a message.
func (c *Client) AddReaction(ctx context.Context, messageID, emoji string) {
	c.reaction(ctx, messageID, emoji, "add")
}

// RemoveReaction detaches an emoji reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, messageID, emoji string) {
	c.reaction(ctx, messageID, emoji, "remove")
}

func (c *Client) reaction(ctx context.Context, messageID, emoji, op string) {
	c.store.OnceConfirmed(messageID, func(id string) {
		r := types.Reaction{UserID: c.identity.UserID, Emoji: emoji}
		if op == "add" {
			c.store.AddReaction(id, r)
		} else {
			c.store.RemoveReaction(id, r)
		}
		go func() {
			if _, err := c.mgr.Call(ctx, types.CallMessageReaction, map[string]any{
				"message_id": id,
				"emoji":      emoji,
				"op":         op,
			}); err != nil {
				c.logger.Warn().Err(err).Str("message_id", id).Msg("reaction failed")
			}
		}()
	})
}

// SetTyping reports local typing activity in a room.
func (c *Client) SetTyping(roomID string, isTyping bool) {
	if c.typing == nil {
		return
	}
	c.typing.SetTyping(roomID, isTyping)
}

// SearchMessages asks the server for messages matching query.
func (c *Client) SearchMessages(ctx context.Context, roomID, query string, limit int) ([]types.Message, error) {
	data, err := c.mgr.Call(ctx, types.CallSearchMessages, map[string]any{
		"room_id": roomID,
		"query":   query,
		"limit":   limit,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Results []types.Message `json:"results"`
	}
	if err := types.DecodePayload(data, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Presence returns the last known presence for a user.
func (c *Client) Presence(userID string) (types.PresenceRecord, bool) {
	if c.presence == nil {
		return types.PresenceRecord{}, false
	}
	return c.presence.Get(userID)
}

// PresenceSnapshot returns a copy of the presence table.
func (c *Client) PresenceSnapshot() map[string]types.PresenceRecord {
	if c.presence == nil {
		return nil
	}
	return c.presence.Snapshot()
}

// Typists returns who is currently typing in a room.
func (c *Client) Typists(roomID string) []string {
	if c.typing == nil {
		return nil
	}
	return c.typing.Typists(roomID)
}

// Messages returns the visible messages for a room in arrival order.
func (c *Client) Messages(roomID string) []types.Message {
	return c.store.Messages(roomID)
}

// Message returns a single message by (temporary or permanent) id.
func (c *Client) Message(id string) (types.Message, bool) {
	return c.store.Get(id)
}

func decodeMessage(payload any) *types.Message {
	f, ok := payload.(*types.Frame)
	if !ok {
		return nil
	}
	var msg types.Message
	if err := types.DecodePayload(f.Payload, &msg); err != nil || msg.ID == "" {
		return nil
	}
	return &msg
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}
