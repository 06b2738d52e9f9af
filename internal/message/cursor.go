package message

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/store"
)

// ErrInvalidCursor is returned for tokens that do not decode to a cursor.
var ErrInvalidCursor = errors.New("invalid cursor")

type cursorToken struct {
	ID          int64  `json:"id"`
	DeliveredAt string `json:"delivered_at"`
}

// EncodeCursor builds the opaque token for a page boundary.
func EncodeCursor(c store.PageCursor) string {
	b, _ := json.Marshal(cursorToken{
		ID:          c.ID,
		DeliveredAt: time.UnixMilli(c.DeliveredAt).UTC().Format(time.RFC3339Nano),
	})
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeCursor parses a token produced by EncodeCursor.
func DecodeCursor(token string) (store.PageCursor, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		// Tolerate tokens that lost their padding.
		if raw, err = base64.RawStdEncoding.DecodeString(token); err != nil {
			return store.PageCursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
	}
	var tok cursorToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return store.PageCursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	at, err := time.Parse(time.RFC3339Nano, tok.DeliveredAt)
	if err != nil {
		return store.PageCursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if tok.ID <= 0 {
		return store.PageCursor{}, fmt.Errorf("%w: id must be positive", ErrInvalidCursor)
	}
	return store.PageCursor{ID: tok.ID, DeliveredAt: at.UnixMilli()}, nil
}
