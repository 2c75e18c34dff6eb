package compaction

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelake/tracelake/internal/storage"
	"github.com/tracelake/tracelake/internal/wevent"
	"github.com/tracelake/tracelake/internal/writer"
)

const testDir = "organization_id=unknown/project_id=proj1/event_type=log/dt=2023-11-14"

func writeSourceFiles(t *testing.T, backend storage.Backend, fileCount, eventsPerFile int) {
	t.Helper()

	ctx := context.Background()
	w := writer.New(backend, nil)

	for f := 0; f < fileCount; f++ {
		for i := 0; i < eventsPerFile; i++ {
			e := &wevent.Event{
				EventID:   uuidLike(f, i),
				Timestamp: 1_700_000_000_000,
				ProjectID: "proj1",
				EventType: string(wevent.EventTypeLog),
			}
			require.NoError(t, w.AddEvent(ctx, e))
		}

		require.NoError(t, w.Flush(ctx))
	}
}

func uuidLike(f, i int) string {
	return "evt-" + string(rune('a'+f)) + "-" + string(rune('0'+i%10))
}

func TestEngine_CompactsSourcesIntoBlocks(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	writeSourceFiles(t, backend, 5, 200)

	eng := New(backend, nil)
	summary := eng.CompactPartitions(ctx, []string{testDir})

	require.Len(t, summary.Results, 1)
	result := summary.Results[0]
	require.NoError(t, result.Err)
	assert.Equal(t, 5, result.FilesRemoved)
	assert.Equal(t, 1000, result.EventsCount)
	require.Len(t, result.Outputs, 1)

	files, err := backend.List(ctx, testDir)
	require.NoError(t, err)

	for _, f := range files {
		assert.True(t, strings.Contains(f.Path, "block_"))
	}
}

func TestEngine_EmptyPartitionIsNotAnError(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	eng := New(backend, nil)
	summary := eng.CompactPartitions(ctx, []string{testDir})

	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].Empty)
	assert.Equal(t, 0, summary.Errors)
}

func TestLocker_SecondTryLockFailsWhileHeld(t *testing.T) {
	l := NewLocker()

	release, ok := l.TryLock("compact:abc")
	require.True(t, ok)

	_, ok = l.TryLock("compact:abc")
	assert.False(t, ok)

	release()

	_, ok = l.TryLock("compact:abc")
	assert.True(t, ok)
}
