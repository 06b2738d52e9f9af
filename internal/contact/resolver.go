// Package contact maps external channel identities to contact records.
package contact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aifocusdev/focos-ia-sub000/internal/store"
	"go.uber.org/zap"
)

// ErrEmptyIdentity is returned for a blank external id.
var ErrEmptyIdentity = errors.New("contact: empty external id")

// Store is the persistence the resolver needs.
type Store interface {
	UpsertContact(ctx context.Context, externalID, name string) (*store.Contact, error)
}

// Resolver finds or creates contacts by external identity.
type Resolver struct {
	store Store
	log   *zap.Logger
}

func NewResolver(s Store, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{store: s, log: log.Named("contact")}
}

// FindOrCreate returns the contact for externalID, creating it on first
// sight. A non-empty name fills in a contact whose stored name is empty.
func (r *Resolver) FindOrCreate(ctx context.Context, externalID, name string) (*store.Contact, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, ErrEmptyIdentity
	}
	c, err := r.store.UpsertContact(ctx, externalID, strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("upsert contact %q: %w", externalID, err)
	}
	return c, nil
}
