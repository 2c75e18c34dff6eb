package apikey

import (
	"context"
	"sync"
)

// MemoryStore is a thread-safe in-memory Store, suitable for tests and for
// single-process deployments that don't need durability across restarts.
type MemoryStore struct {
	mu    sync.RWMutex
	byKey map[string]*Key // plaintext key -> Key
	byID  map[string]*Key
	byOrg map[string][]*Key
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey: make(map[string]*Key),
		byID:  make(map[string]*Key),
		byOrg: make(map[string][]*Key),
	}
}

// FindByKey retrieves a key by its plaintext value.
func (s *MemoryStore) FindByKey(_ context.Context, key string) (*Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, exists := s.byKey[key]
	if !exists {
		return nil, false
	}

	cp := *k

	return &cp, true
}

// Add stores a new key. k.Plaintext must be set; it is used only as the
// lookup index and is never itself persisted by a durable Store.
func (s *MemoryStore) Add(_ context.Context, k *Key) error {
	if k == nil {
		return ErrKeyNil
	}

	if k.Plaintext == "" {
		return ErrKeyStringEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[k.ID]; exists {
		return ErrKeyAlreadyExists
	}

	if _, exists := s.byKey[k.Plaintext]; exists {
		return ErrKeyAlreadyExists
	}

	cp := *k
	s.byKey[cp.Plaintext] = &cp
	s.byID[cp.ID] = &cp
	s.byOrg[cp.OrganizationID] = append(s.byOrg[cp.OrganizationID], &cp)

	return nil
}

// Update modifies an existing key in place, identified by ID.
func (s *MemoryStore) Update(_ context.Context, k *Key) error {
	if k == nil {
		return ErrKeyNil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.byID[k.ID]
	if !exists {
		return ErrKeyNotFound
	}

	plaintext := existing.Plaintext
	cp := *k
	cp.Plaintext = plaintext
	*existing = cp

	return nil
}

// Delete soft-deletes a key by ID, matching the Postgres store's semantics.
func (s *MemoryStore) Delete(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.byID[keyID]
	if !exists {
		return ErrKeyNotFound
	}

	existing.Active = false

	return nil
}

// ListByOrganization returns all keys belonging to an organization.
func (s *MemoryStore) ListByOrganization(_ context.Context, organizationID string) ([]*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.byOrg[organizationID]
	result := make([]*Key, len(keys))

	for i, k := range keys {
		cp := *k
		result[i] = &cp
	}

	return result, nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}
