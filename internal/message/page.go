package message

import (
	"context"
	"fmt"

	"github.com/aifocusdev/focos-ia-sub000/internal/store"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// PageStore loads raw message pages.
type PageStore interface {
	MessagesPage(ctx context.Context, conversationID int64, cursor *store.PageCursor, ascending bool, fetch int) ([]store.Message, error)
}

// PageRequest selects one page of a conversation's history.
type PageRequest struct {
	ConversationID int64
	Cursor         string
	Ascending      bool
	Limit          int
}

// Page is one page of history plus the token for the next one.
type Page struct {
	Messages   []View `json:"messages"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// LoadPage fetches limit+1 rows past the cursor. The extra row only signals
// that another page exists and is dropped before the next cursor is built.
func LoadPage(ctx context.Context, s PageStore, req PageRequest) (*Page, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	var cursor *store.PageCursor
	if req.Cursor != "" {
		c, err := DecodeCursor(req.Cursor)
		if err != nil {
			return nil, err
		}
		cursor = &c
	}

	rows, err := s.MessagesPage(ctx, req.ConversationID, cursor, req.Ascending, limit+1)
	if err != nil {
		return nil, fmt.Errorf("load messages of conversation %d: %w", req.ConversationID, err)
	}

	page := &Page{}
	if len(rows) > limit {
		page.HasMore = true
		rows = rows[:limit]
	}
	if page.HasMore {
		last := rows[len(rows)-1]
		page.NextCursor = EncodeCursor(store.PageCursor{ID: last.ID, DeliveredAt: last.DeliveredAt})
	}
	page.Messages = Views(rows)
	return page, nil
}
