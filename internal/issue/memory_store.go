package issue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a thread-safe, single-process Store, suited to tests and
// to a standalone deployment that doesn't need the Postgres aggregate.
type MemoryStore struct {
	mu   sync.Mutex
	byFP map[string]*Issue
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byFP: make(map[string]*Issue)}
}

func key(organizationID, projectID, fingerprint string) string {
	return organizationID + "/" + projectID + "/" + fingerprint
}

func (s *MemoryStore) Upsert(
	_ context.Context, organizationID, projectID, fingerprint, eventType, severity, title string, seenAt time.Time,
) (*Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(organizationID, projectID, fingerprint)

	if existing, ok := s.byFP[k]; ok {
		existing.EventCount++
		if seenAt.After(existing.LastSeenAt) {
			existing.LastSeenAt = seenAt
		}

		copied := *existing

		return &copied, nil
	}

	created := &Issue{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		ProjectID:      projectID,
		Fingerprint:    fingerprint,
		Type:           eventType,
		Severity:       severity,
		Title:          title,
		Status:         StatusOpen,
		FirstSeenAt:    seenAt,
		LastSeenAt:     seenAt,
		EventCount:     1,
	}
	s.byFP[k] = created

	copied := *created

	return &copied, nil
}

func (s *MemoryStore) Get(_ context.Context, organizationID, projectID, fingerprint string) (*Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byFP[key(organizationID, projectID, fingerprint)]
	if !ok {
		return nil, ErrNotFound
	}

	copied := *i

	return &copied, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, organizationID, projectID, fingerprint string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byFP[key(organizationID, projectID, fingerprint)]
	if !ok {
		return ErrNotFound
	}

	i.Status = status

	return nil
}

func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}
