package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/aifocusdev/focos-ia-sub000/internal/store"
	"go.uber.org/zap"
)

// ErrNoIntegration is returned when a conversation must be created but no
// integration exists.
var ErrNoIntegration = errors.New("conversation: no integration available")

// ResolverStore is the persistence the resolver needs.
type ResolverStore interface {
	FindOrCreateConversation(ctx context.Context, contactID, integrationID int64) (*store.Conversation, bool, error)
	GetConversation(ctx context.Context, id int64) (*store.Conversation, error)
}

// Resolver owns conversation creation.
type Resolver struct {
	store ResolverStore
	log   *zap.Logger
}

func NewResolver(s ResolverStore, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{store: s, log: log.Named("conversation")}
}

// FindOrCreate returns the contact's most recent conversation or allocates
// one bound to integrationID (zero picks the lowest-id integration). created
// reports whether the conversation is new.
func (r *Resolver) FindOrCreate(ctx context.Context, contactID, integrationID int64) (conv *store.Conversation, created bool, err error) {
	conv, created, err = r.store.FindOrCreateConversation(ctx, contactID, integrationID)
	if errors.Is(err, store.ErrNoIntegration) {
		return nil, false, ErrNoIntegration
	}
	if err != nil {
		return nil, false, fmt.Errorf("find or create conversation for contact %d: %w", contactID, err)
	}
	if created {
		r.log.Info("conversation created",
			zap.Int64("conversation_id", conv.ID),
			zap.Int64("contact_id", contactID),
			zap.Int64("integration", conv.IntegrationID))
	}
	return conv, created, nil
}

// Get loads a conversation by id.
func (r *Resolver) Get(ctx context.Context, id int64) (*store.Conversation, error) {
	conv, err := r.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return conv, err
}
