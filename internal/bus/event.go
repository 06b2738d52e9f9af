package bus

import "time"

// Event kinds. The prefix before the dot is the namespace used by Subscribe.
const (
	KindNewMessage          = "message.new"
	KindMessageStatus       = "message.status_changed"
	KindNewConversation     = "conversation.new"
	KindConversationAssign  = "conversation.assigned"
	KindConversationRead    = "conversation.read"
	KindConversationUnread  = "conversation.unread"
	KindConversationReset   = "conversation.unread_reset"
	KindDaemonStatusChanged = "daemon.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any

	// ConversationID scopes the event to a conversation room (0 = none).
	ConversationID int64
	// UserID addresses the event to one user's connections (0 = none).
	UserID int64
}

// Publisher is the capability handed to services that emit events.
type Publisher interface {
	Publish(evt Event)
}

// Assignment is the payload of conversation.assigned.
type Assignment struct {
	ConversationID int64  `json:"conversation_id"`
	AgentID        *int64 `json:"agent_id"`
	BotID          *int64 `json:"bot_id"`
}

// UnreadChange is the payload of the read/unread/unread_reset kinds.
type UnreadChange struct {
	ConversationID int64 `json:"conversation_id"`
	UnreadCount    int   `json:"unread_count"`
	Read           bool  `json:"read"`
	UserID         int64 `json:"user_id,omitempty"`
}

// StatusChange is the payload of message.status_changed.
type StatusChange struct {
	ConversationID int64      `json:"conversation_id"`
	MessageID      int64      `json:"message_id"`
	Status         string     `json:"status"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}
