package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelake/tracelake/internal/reader"
	"github.com/tracelake/tracelake/internal/storage"
	"github.com/tracelake/tracelake/internal/wevent"
	"github.com/tracelake/tracelake/internal/writer"
)

func seedEvents(t *testing.T, backend storage.Backend) {
	t.Helper()

	ctx := context.Background()
	w := writer.New(backend, nil)

	users := []string{"u1", "u1", "u2"}
	devices := []string{"android", "android", "ios"}

	for i, u := range users {
		ts := int64(1_700_000_000_000 + i)
		user := u
		device := devices[i]

		e := &wevent.Event{
			EventID:     "e" + string(rune('0'+i)),
			Timestamp:   ts,
			ProjectID:   "proj-a",
			EventType:   string(wevent.EventTypeLog),
			UserID:      &user,
			DeviceModel: &device,
		}
		require.NoError(t, w.AddEvent(ctx, e))
	}

	require.NoError(t, w.Flush(ctx))
}

func TestExecutor_GroupByCountsDistinctUsers(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	seedEvents(t, backend)

	ex := New(reader.New(backend, nil))
	result, err := ex.Execute(ctx, Request{ProjectID: "proj-a", GroupBy: "device_model", Limit: 10}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	require.Len(t, result.GroupedResults, 2)
	assert.Nil(t, result.Events)
}

func TestExecutor_PaginationOrdersByTimestampDesc(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	seedEvents(t, backend)

	ex := New(reader.New(backend, nil))
	result, err := ex.Execute(ctx, Request{ProjectID: "proj-a", Page: 0, Limit: 2}, nil)
	require.NoError(t, err)

	require.Len(t, result.Events, 2)
	assert.True(t, result.Events[0].Timestamp >= result.Events[1].Timestamp)
}

func TestExecutor_FacetsCountedAcrossAllRows(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	seedEvents(t, backend)

	ex := New(reader.New(backend, nil))
	result, err := ex.Execute(ctx, Request{ProjectID: "proj-a", Limit: 10}, nil)
	require.NoError(t, err)

	var deviceFacet *Facet

	for i := range result.Facets {
		if result.Facets[i].Attribute == "device_model" {
			deviceFacet = &result.Facets[i]
		}
	}

	require.NotNil(t, deviceFacet)
	assert.Len(t, deviceFacet.Values, 2)
}

func TestExecutor_CancellationStopsEarly(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	seedEvents(t, backend)

	ex := New(reader.New(backend, nil))
	calls := 0
	cancelled := func() bool {
		calls++

		return calls > 1
	}

	result, err := ex.Execute(ctx, Request{ProjectID: "proj-a", Limit: 10}, cancelled)
	require.NoError(t, err)
	assert.Less(t, result.Total, 3)
}
