package asyncquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tracelake/tracelake/internal/cache"
)

const keyPrefix = "asyncquery:"

func keyFor(queryID string) string {
	return keyPrefix + queryID
}

// Store is the async query lifecycle store (spec §4.7), a thin layer of
// named transitions over a cache.Store so every write is a single Mutate
// call and two goroutines racing to append facets or bump progress can
// never clobber each other.
type Store struct {
	cache cache.Store
	now   func() time.Time
}

// New builds a Store atop an existing cache.Store.
func New(c cache.Store) *Store {
	return &Store{cache: c, now: time.Now}
}

func (s *Store) read(ctx context.Context, queryID string) (*State, bool, error) {
	raw, ok, err := s.cache.Get(ctx, keyFor(queryID))
	if err != nil {
		return nil, false, err
	}

	if !ok {
		return nil, false, nil
	}

	var st State

	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, false, fmt.Errorf("asyncquery: decode state for %s: %w", queryID, err)
	}

	return &st, true, nil
}

// GetQueryState returns the current state for queryID, or ErrNotFound.
func (s *Store) GetQueryState(ctx context.Context, queryID string) (*State, error) {
	st, ok, err := s.read(ctx, queryID)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, ErrNotFound
	}

	return st, nil
}

// mutate loads the current state (ErrNotFound if absent and required),
// applies fn, and writes the result back with the TTL appropriate to its
// (possibly now-terminal) status.
func (s *Store) mutate(ctx context.Context, queryID string, requireExists bool, fn func(st *State) error) error {
	return s.cache.Mutate(ctx, keyFor(queryID), func(current []byte, exists bool) ([]byte, time.Duration, bool, error) {
		var st State

		if exists {
			if err := json.Unmarshal(current, &st); err != nil {
				return nil, 0, false, fmt.Errorf("asyncquery: decode state for %s: %w", queryID, err)
			}
		} else {
			if requireExists {
				return nil, 0, false, ErrNotFound
			}

			st = State{QueryID: queryID, CreatedAt: s.now()}
		}

		if err := fn(&st); err != nil {
			return nil, 0, false, err
		}

		st.UpdatedAt = s.now()

		next, err := json.Marshal(&st)
		if err != nil {
			return nil, 0, false, fmt.Errorf("asyncquery: encode state for %s: %w", queryID, err)
		}

		return next, st.ttl(), true, nil
	})
}

// InitializeQuery creates a new pending query record for queryID.
func (s *Store) InitializeQuery(ctx context.Context, queryID, userID, organizationID string, request json.RawMessage) error {
	return s.mutate(ctx, queryID, false, func(st *State) error {
		st.Status = StatusPending
		st.Progress = 0
		st.UserID = userID
		st.OrganizationID = organizationID
		st.QueryRequest = request

		return nil
	})
}

// MarkInProgress transitions queryID to in_progress with the given initial progress.
func (s *Store) MarkInProgress(ctx context.Context, queryID string, progress int) error {
	return s.mutate(ctx, queryID, true, func(st *State) error {
		if st.IsTerminal() {
			return ErrAlreadyTerminal
		}

		st.Status = StatusInProgress
		st.Progress = progress

		return nil
	})
}

// UpdateProgress bumps the progress percentage of an in-progress query.
func (s *Store) UpdateProgress(ctx context.Context, queryID string, progress int) error {
	return s.mutate(ctx, queryID, true, func(st *State) error {
		if st.IsTerminal() {
			return ErrAlreadyTerminal
		}

		st.Progress = progress

		return nil
	})
}

// StoreResult marks queryID completed and attaches its result payload.
func (s *Store) StoreResult(ctx context.Context, queryID string, result json.RawMessage) error {
	return s.mutate(ctx, queryID, true, func(st *State) error {
		if st.IsTerminal() {
			return ErrAlreadyTerminal
		}

		now := s.now()
		st.Status = StatusCompleted
		st.Progress = 100
		st.Result = result
		st.CompletedAt = &now

		return nil
	})
}

// StoreError marks queryID failed with the given message.
func (s *Store) StoreError(ctx context.Context, queryID string, message string) error {
	return s.mutate(ctx, queryID, true, func(st *State) error {
		if st.IsTerminal() {
			return ErrAlreadyTerminal
		}

		now := s.now()
		st.Status = StatusFailed
		st.Error = message
		st.CompletedAt = &now

		return nil
	})
}

// RequestCancellation flags queryID for cancellation. It is a no-op error
// if the query is already terminal: cancellation only makes sense while
// work is still outstanding.
func (s *Store) RequestCancellation(ctx context.Context, queryID string) error {
	return s.mutate(ctx, queryID, true, func(st *State) error {
		if st.IsTerminal() {
			return ErrAlreadyTerminal
		}

		st.CancelRequested = true

		return nil
	})
}

// MarkCancelled transitions queryID to the terminal cancelled state. Unlike
// the other terminal transitions this is allowed even if CancelRequested
// was never set, so a worker can self-cancel on context deadline.
func (s *Store) MarkCancelled(ctx context.Context, queryID string) error {
	return s.mutate(ctx, queryID, true, func(st *State) error {
		if st.IsTerminal() {
			return ErrAlreadyTerminal
		}

		now := s.now()
		st.Status = StatusCancelled
		st.CompletedAt = &now

		return nil
	})
}

// IsCancelled reports whether cancellation has been requested for queryID.
// Query executors poll this cheaply between rows via their isCancelled hook.
func (s *Store) IsCancelled(ctx context.Context, queryID string) (bool, error) {
	st, ok, err := s.read(ctx, queryID)
	if err != nil {
		return false, err
	}

	if !ok {
		return false, ErrNotFound
	}

	return st.CancelRequested || st.Status == StatusCancelled, nil
}

// DeleteQuery removes queryID's record entirely, ahead of its TTL.
func (s *Store) DeleteQuery(ctx context.Context, queryID string) error {
	return s.cache.Delete(ctx, keyFor(queryID))
}
