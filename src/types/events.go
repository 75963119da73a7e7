package types

// Wire events received from the server.
const (
	EventAck             = "ack"
	EventMessageReceived = "message_received"
	EventMessageSent     = "message_sent"
	EventMessageEdited   = "message_edited"
	EventMessageDeleted  = "message_deleted"
	EventMessageRead     = "message_read"
	EventReactionAdded   = "reaction_added"
	EventReactionRemoved = "reaction_removed"
	EventThreadReply     = "thread_reply"
	EventPresenceUpdate  = "presence_update"
	EventTypingStarted   = "typing_started"
	EventTypingStopped   = "typing_stopped"
	EventRoomJoined      = "room_joined"
	EventRoomLeft        = "room_left"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventError           = "error"
	EventPong            = "pong"
)

// Wire events sent to the server.
const (
	CallJoinRoom        = "join_room"
	CallLeaveRoom       = "leave_room"
	CallSendMessage     = "send_message"
	CallEditMessage     = "edit_message"
	CallDeleteMessage   = "delete_message"
	CallMarkAsRead      = "mark_as_read"
	CallMessageReaction = "message_reaction"
	CallThreadReply     = "thread_reply"
	CallTyping          = "typing"
	CallSearchMessages  = "search_messages"
	CallPresence        = "presence"
	CallPing            = "ping"
)

// Local events emitted on the client bus, never sent over the wire.
const (
	EventConnected       = "connected"
	EventDisconnected    = "disconnected"
	EventConnectionError = "connection_error"
	EventMessageUpdated  = "message_updated"
)
