package types

import "time"

// DeliveryStatus tracks how far a message has progressed from the
// sender's point of view.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// Reaction is an emoji reaction attached to a message.
type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// Message is a chat message. A locally created message first exists
// under a client-generated temporary id in "sending" state; once the
// server confirms it the record carries the permanent id while
// TemporaryID is retained for identity across the swap.
type Message struct {
	ID             string         `json:"id"`
	TemporaryID    string         `json:"temporary_id,omitempty"`
	SenderID       string         `json:"sender_id"`
	SenderName     string         `json:"sender_name,omitempty"`
	RoomID         string         `json:"room_id"`
	Content        string         `json:"content"`
	Type           string         `json:"type,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	EditedAt       *time.Time     `json:"edited_at,omitempty"`
	Reactions      []Reaction     `json:"reactions,omitempty"`
	ReplyTo        string         `json:"reply_to,omitempty"`
}

// PresenceStatus is a remote user's reported availability.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceRecord is the last known presence for a remote user.
// Records are overwritten wholesale on each update, never merged.
type PresenceRecord struct {
	UserID   string         `json:"user_id"`
	UserName string         `json:"user_name,omitempty"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
	Platform string         `json:"platform,omitempty"`
}

// TypingSignal marks a remote user as composing in a room. Signals
// expire after a fixed TTL even if the stop frame is lost.
type TypingSignal struct {
	UserID    string    `json:"user_id"`
	RoomID    string    `json:"room_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
