package asyncquery

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelake/tracelake/internal/cache"
)

func newStore() *Store {
	return New(cache.NewMemoryStore(time.Minute))
}

func TestStore_LifecycleHappyPath(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	require.NoError(t, s.InitializeQuery(ctx, "q1", "user-1", "org-1", json.RawMessage(`{"groupBy":""}`)))

	st, err := s.GetQueryState(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st.Status)

	require.NoError(t, s.MarkInProgress(ctx, "q1", 10))
	require.NoError(t, s.UpdateProgress(ctx, "q1", 55))

	st, err = s.GetQueryState(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, st.Status)
	assert.Equal(t, 55, st.Progress)

	require.NoError(t, s.StoreResult(ctx, "q1", json.RawMessage(`{"total":3}`)))

	st, err = s.GetQueryState(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, 100, st.Progress)
	assert.NotNil(t, st.CompletedAt)
}

func TestStore_TerminalTransitionsAreRejected(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	require.NoError(t, s.InitializeQuery(ctx, "q1", "user-1", "org-1", nil))
	require.NoError(t, s.StoreError(ctx, "q1", "boom"))

	assert.ErrorIs(t, s.MarkInProgress(ctx, "q1", 1), ErrAlreadyTerminal)
	assert.ErrorIs(t, s.UpdateProgress(ctx, "q1", 1), ErrAlreadyTerminal)
	assert.ErrorIs(t, s.StoreResult(ctx, "q1", nil), ErrAlreadyTerminal)
	assert.ErrorIs(t, s.RequestCancellation(ctx, "q1"), ErrAlreadyTerminal)
}

func TestStore_CancellationFlow(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	require.NoError(t, s.InitializeQuery(ctx, "q1", "user-1", "org-1", nil))
	require.NoError(t, s.MarkInProgress(ctx, "q1", 0))

	cancelled, err := s.IsCancelled(ctx, "q1")
	require.NoError(t, err)
	assert.False(t, cancelled)

	require.NoError(t, s.RequestCancellation(ctx, "q1"))

	cancelled, err = s.IsCancelled(ctx, "q1")
	require.NoError(t, err)
	assert.True(t, cancelled)

	require.NoError(t, s.MarkCancelled(ctx, "q1"))

	st, err := s.GetQueryState(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, st.Status)
}

func TestStore_GetQueryStateNotFound(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	_, err := s.GetQueryState(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteQuery(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	require.NoError(t, s.InitializeQuery(ctx, "q1", "user-1", "org-1", nil))
	require.NoError(t, s.DeleteQuery(ctx, "q1"))

	_, err := s.GetQueryState(ctx, "q1")
	assert.ErrorIs(t, err, ErrNotFound)
}
