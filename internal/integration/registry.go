// Package integration resolves inbound channel identifiers to integration
// credentials through a TTL cache in front of the store.
package integration

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/aifocusdev/focos-ia-sub000/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a resolved integration stays cached.
const DefaultTTL = 10 * time.Minute

// ErrNotFound is returned when no integration matches.
var ErrNotFound = errors.New("integration not found")

// Store is the persistence the registry reads through.
type Store interface {
	IntegrationByPhoneNumberID(ctx context.Context, phoneNumberID string) (*store.Integration, error)
	IntegrationByID(ctx context.Context, id int64) (*store.Integration, error)
	UpsertIntegration(ctx context.Context, in *store.Integration) (*store.Integration, error)
	DeleteIntegration(ctx context.Context, id int64) error
}

type cachedIntegration struct {
	expiresAt   time.Time
	integration store.Integration
}

// Registry is a cache-aside lookup of integrations, indexed by inbound
// phone number id and by internal id.
type Registry struct {
	store Store
	ttl   time.Duration
	log   *zap.Logger
	now   func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	byPhone map[string]cachedIntegration
	byID    map[int64]cachedIntegration
	// gen is bumped by every invalidation; a load that started under an
	// older generation is returned but not cached.
	gen uint64
}

// NewRegistry creates a registry. A non-positive ttl uses DefaultTTL.
func NewRegistry(s Store, ttl time.Duration, log *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		store:   s,
		ttl:     ttl,
		log:     log.Named("integration"),
		now:     time.Now,
		byPhone: make(map[string]cachedIntegration),
		byID:    make(map[int64]cachedIntegration),
	}
}

// Lookup resolves an inbound phone number id.
func (r *Registry) Lookup(ctx context.Context, phoneNumberID string) (*store.Integration, error) {
	if phoneNumberID == "" {
		return nil, ErrNotFound
	}
	r.mu.Lock()
	cached, ok := r.byPhone[phoneNumberID]
	r.mu.Unlock()
	if ok && r.now().Before(cached.expiresAt) {
		in := cached.integration
		return &in, nil
	}

	return r.load(ctx, phoneKey(phoneNumberID), func() (*store.Integration, error) {
		return r.store.IntegrationByPhoneNumberID(ctx, phoneNumberID)
	})
}

// Get resolves an integration by internal id.
func (r *Registry) Get(ctx context.Context, id int64) (*store.Integration, error) {
	r.mu.Lock()
	cached, ok := r.byID[id]
	r.mu.Unlock()
	if ok && r.now().Before(cached.expiresAt) {
		in := cached.integration
		return &in, nil
	}

	return r.load(ctx, idKey(id), func() (*store.Integration, error) {
		return r.store.IntegrationByID(ctx, id)
	})
}

// load queries the store once per key across concurrent misses and fills
// both indexes.
func (r *Registry) load(ctx context.Context, key string, query func() (*store.Integration, error)) (*store.Integration, error) {
	v, err, _ := r.group.Do(key, func() (any, error) {
		r.mu.Lock()
		gen := r.gen
		r.mu.Unlock()

		in, err := query()
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		if r.put(*in, gen) {
			r.log.Debug("integration cached", zap.Int64("integration", in.ID), zap.String("phone_number_id", in.PhoneNumberID))
		} else {
			r.log.Debug("integration changed during load, not cached", zap.Int64("integration", in.ID))
		}
		return *in, nil
	})
	if err != nil {
		return nil, err
	}
	in := v.(store.Integration)
	return &in, nil
}

// put caches in unless an invalidation happened since gen was read.
func (r *Registry) put(in store.Integration, gen uint64) bool {
	entry := cachedIntegration{expiresAt: r.now().Add(r.ttl), integration: in}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return false
	}
	r.byPhone[in.PhoneNumberID] = entry
	r.byID[in.ID] = entry
	return true
}

// Invalidate drops an integration from both indexes.
func (r *Registry) Invalidate(id int64) {
	r.invalidate(id)
}

// invalidate drops id and any extra known phone number ids, and detaches
// in-flight loads for them so later callers query the store again.
func (r *Registry) invalidate(id int64, phones ...string) {
	r.mu.Lock()
	r.gen++
	if cached, ok := r.byID[id]; ok {
		phones = append(phones, cached.integration.PhoneNumberID)
	}
	delete(r.byID, id)
	for phone, cached := range r.byPhone {
		if cached.integration.ID == id {
			phones = append(phones, phone)
		}
	}
	for _, phone := range phones {
		delete(r.byPhone, phone)
	}
	r.mu.Unlock()

	r.group.Forget(idKey(id))
	for _, phone := range phones {
		r.group.Forget(phoneKey(phone))
	}
}

func idKey(id int64) string { return "id:" + strconv.FormatInt(id, 10) }

func phoneKey(phone string) string { return "phone:" + phone }

// Upsert writes an integration and invalidates its cache entries.
func (r *Registry) Upsert(ctx context.Context, in *store.Integration) (*store.Integration, error) {
	saved, err := r.store.UpsertIntegration(ctx, in)
	if err != nil {
		return nil, err
	}
	r.invalidate(saved.ID, saved.PhoneNumberID, in.PhoneNumberID)
	return saved, nil
}

// Delete removes an integration and invalidates its cache entries.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	var phones []string
	if cur, err := r.store.IntegrationByID(ctx, id); err == nil {
		phones = append(phones, cur.PhoneNumberID)
	}
	err := r.store.DeleteIntegration(ctx, id)
	r.invalidate(id, phones...)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Len returns the number of cached entries by internal id.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
