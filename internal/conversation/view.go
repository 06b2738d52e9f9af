package conversation

import (
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/store"
)

// View is the client-facing shape of a conversation.
type View struct {
	ID                   int64      `json:"id"`
	ContactID            int64      `json:"contact_id"`
	IntegrationID        int64      `json:"integration_id"`
	AssignedAgentID      *int64     `json:"assigned_agent_id"`
	AssignedBotID        *int64     `json:"assigned_bot_id"`
	UnreadCount          int        `json:"unread_count"`
	Read                 bool       `json:"read"`
	LastActivityAt       *time.Time `json:"last_activity_at"`
	LastContactMessageAt *time.Time `json:"last_contact_message_at"`
	CreatedAt            time.Time  `json:"created_at"`
}

// NewView converts a stored conversation.
func NewView(c *store.Conversation) View {
	return View{
		ID:                   c.ID,
		ContactID:            c.ContactID,
		IntegrationID:        c.IntegrationID,
		AssignedAgentID:      c.AssignedAgentID,
		AssignedBotID:        c.AssignedBotID,
		UnreadCount:          c.UnreadCount,
		Read:                 c.Read,
		LastActivityAt:       millisPtr(c.LastActivityAt),
		LastContactMessageAt: millisPtr(c.LastContactMessageAt),
		CreatedAt:            time.UnixMilli(c.CreatedAt).UTC(),
	}
}

func millisPtr(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
