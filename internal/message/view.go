// Package message persists conversation messages and serves their history.
package message

import (
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/store"
)

// View is the client-facing shape of a message.
type View struct {
	ID             int64            `json:"id"`
	ConversationID int64            `json:"conversation_id"`
	SenderType     string           `json:"sender_type"`
	AgentID        *int64           `json:"agent_id"`
	BotID          *int64           `json:"bot_id"`
	Body           string           `json:"body"`
	MessageType    string           `json:"message_type"`
	WAMessageID    string           `json:"wa_message_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	DeliveredAt    time.Time        `json:"delivered_at"`
	ReadAt         *time.Time       `json:"read_at"`
	Attachments    []AttachmentView `json:"attachments"`
}

type AttachmentView struct {
	ID              int64  `json:"id"`
	Kind            string `json:"kind"`
	URL             string `json:"url"`
	MimeType        string `json:"mime_type"`
	SizeBytes       int64  `json:"size_bytes"`
	FileName        string `json:"file_name,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
	Width           int64  `json:"width,omitempty"`
	Height          int64  `json:"height,omitempty"`
	PreviewURL      string `json:"preview_url,omitempty"`
}

// NewView converts a stored message.
func NewView(m *store.Message) View {
	v := View{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderType:     m.SenderType,
		AgentID:        m.AgentID,
		BotID:          m.BotID,
		Body:           m.Body,
		MessageType:    m.MessageType,
		WAMessageID:    m.WAMessageID,
		CreatedAt:      time.UnixMilli(m.CreatedAt).UTC(),
		DeliveredAt:    time.UnixMilli(m.DeliveredAt).UTC(),
		Attachments:    make([]AttachmentView, 0, len(m.Attachments)),
	}
	if m.ReadAt != 0 {
		t := time.UnixMilli(m.ReadAt).UTC()
		v.ReadAt = &t
	}
	for _, a := range m.Attachments {
		v.Attachments = append(v.Attachments, AttachmentView{
			ID:              a.ID,
			Kind:            a.Kind,
			URL:             a.URL,
			MimeType:        a.MimeType,
			SizeBytes:       a.SizeBytes,
			FileName:        a.FileName,
			DurationSeconds: a.DurationSeconds,
			Width:           a.Width,
			Height:          a.Height,
			PreviewURL:      a.PreviewURL,
		})
	}
	return v
}

// Views converts a slice of stored messages.
func Views(msgs []store.Message) []View {
	out := make([]View, 0, len(msgs))
	for i := range msgs {
		out = append(out, NewView(&msgs[i]))
	}
	return out
}
