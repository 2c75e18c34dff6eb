package asyncquery

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelake/tracelake/internal/bus"
	"github.com/tracelake/tracelake/internal/query"
	"github.com/tracelake/tracelake/internal/reader"
	"github.com/tracelake/tracelake/internal/storage"
	"github.com/tracelake/tracelake/internal/wevent"
	"github.com/tracelake/tracelake/internal/writer"
)

func publishExecuteQuery(t *testing.T, b bus.Bus, queryID string, req query.Request) {
	t.Helper()

	payload, err := json.Marshal(ExecuteQueryPayload{QueryID: queryID, Request: req})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), bus.TopicExecuteQuery,
		bus.Message{Type: bus.TypeExecuteQuery, Key: queryID, Payload: payload}))
}

func TestProcessor_HandleExecuteQuery_HappyPath(t *testing.T) {
	ctx := context.Background()

	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	w := writer.New(backend, nil)
	model := "Pixel 9"
	require.NoError(t, w.AddEvent(ctx, &wevent.Event{
		EventID: "e1", Timestamp: 1_700_000_000_000, ProjectID: "proj-1",
		EventType: string(wevent.EventTypeLog), DeviceModel: &model,
	}))
	require.NoError(t, w.Flush(ctx))

	r := reader.New(backend, nil)
	executor := query.New(r)

	s := newStore()
	memBus := bus.NewMemoryBus()
	defer memBus.Close()

	proc := NewProcessor(s, executor, memBus, nil)

	req := query.Request{ProjectID: "proj-1"}
	require.NoError(t, s.InitializeQuery(ctx, "q1", "user-1", "org-1", nil))

	payload, err := json.Marshal(ExecuteQueryPayload{QueryID: "q1", Request: req})
	require.NoError(t, err)

	require.NoError(t, proc.HandleExecuteQuery(ctx, bus.Message{Type: bus.TypeExecuteQuery, Key: "q1", Payload: payload}))

	st, err := s.GetQueryState(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Contains(t, string(st.Result), `"total":1`)

	pending, err := s.GetPendingFacetBatches(ctx, "q1")
	require.NoError(t, err)
	assert.NotEmpty(t, pending)
}

func TestProcessor_HandleExecuteQuery_Cancelled(t *testing.T) {
	ctx := context.Background()

	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	r := reader.New(backend, nil)
	executor := query.New(r)

	s := newStore()
	memBus := bus.NewMemoryBus()
	defer memBus.Close()

	proc := NewProcessor(s, executor, memBus, nil)

	require.NoError(t, s.InitializeQuery(ctx, "q1", "user-1", "org-1", nil))
	require.NoError(t, s.RequestCancellation(ctx, "q1"))

	payload, err := json.Marshal(ExecuteQueryPayload{QueryID: "q1", Request: query.Request{ProjectID: "proj-1"}})
	require.NoError(t, err)

	require.NoError(t, proc.HandleExecuteQuery(ctx, bus.Message{Type: bus.TypeExecuteQuery, Key: "q1", Payload: payload}))

	st, err := s.GetQueryState(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, st.Status)
}

func TestProcessor_HandleComputeFacetBatch(t *testing.T) {
	ctx := context.Background()

	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	w := writer.New(backend, nil)
	model := "Pixel 9"
	require.NoError(t, w.AddEvent(ctx, &wevent.Event{
		EventID: "e1", Timestamp: 1_700_000_000_000, ProjectID: "proj-1",
		EventType: string(wevent.EventTypeLog), DeviceModel: &model,
	}))
	require.NoError(t, w.Flush(ctx))

	r := reader.New(backend, nil)
	executor := query.New(r)

	s := newStore()
	memBus := bus.NewMemoryBus()
	defer memBus.Close()

	proc := NewProcessor(s, executor, memBus, nil)

	require.NoError(t, s.InitializeQuery(ctx, "q1", "user-1", "org-1", nil))
	require.NoError(t, s.InitializeFacetBatches(ctx, "q1", []string{"device"}))

	payload, err := json.Marshal(ComputeFacetBatchPayload{
		QueryID: "q1", BatchID: "device", Request: query.Request{ProjectID: "proj-1"},
	})
	require.NoError(t, err)

	require.NoError(t, proc.HandleComputeFacetBatch(ctx,
		bus.Message{Type: bus.TypeComputeFacetBatch, Key: "q1/device", Payload: payload}))

	completed, err := s.GetCompletedFacetBatches(ctx, "q1")
	require.NoError(t, err)
	assert.Contains(t, completed, "device")
}
