package message

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/store"
)

const DefaultCacheTTL = 30 * time.Second

// LastMessageLoader loads the newest message of a conversation.
type LastMessageLoader interface {
	LastMessage(ctx context.Context, conversationID int64) (*store.Message, error)
}

type cachedMessage struct {
	msg       *store.Message // nil for conversations without messages
	expiresAt time.Time
}

// LastMessageCache memoizes the newest message per conversation for the
// conversation list. Ingestion invalidates the entry on every write.
type LastMessageCache struct {
	loader  LastMessageLoader
	ttl     time.Duration
	now     func() time.Time
	entries sync.Map // int64 -> *cachedMessage
}

func NewLastMessageCache(loader LastMessageLoader, ttl time.Duration) *LastMessageCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &LastMessageCache{loader: loader, ttl: ttl, now: time.Now}
}

// Get returns the newest message of the conversation, or nil when it has none.
func (c *LastMessageCache) Get(ctx context.Context, conversationID int64) (*store.Message, error) {
	if v, ok := c.entries.Load(conversationID); ok {
		if cm := v.(*cachedMessage); c.now().Before(cm.expiresAt) {
			return cm.msg, nil
		}
	}

	msg, err := c.loader.LastMessage(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		msg, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.entries.Store(conversationID, &cachedMessage{msg: msg, expiresAt: c.now().Add(c.ttl)})
	return msg, nil
}

// Invalidate drops the entry for a conversation.
func (c *LastMessageCache) Invalidate(conversationID int64) {
	c.entries.Delete(conversationID)
}

// Prune evicts expired entries and returns how many were removed.
func (c *LastMessageCache) Prune() int {
	now := c.now()
	n := 0
	c.entries.Range(func(key, value any) bool {
		if cm, ok := value.(*cachedMessage); ok && !now.Before(cm.expiresAt) {
			c.entries.Delete(key)
			n++
		}
		return true
	})
	return n
}
