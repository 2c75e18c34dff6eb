package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))

	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
}

func TestMemoryStore_GetExpiredIsAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_MutateSerializesConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = s.Mutate(ctx, "counter", func(current []byte, exists bool) ([]byte, time.Duration, bool, error) {
				n := 0
				if exists {
					n = int(current[0])
				}

				return []byte{byte(n + 1)}, 0, true, nil
			})
		}()
	}

	wg.Wait()

	v, ok, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, byte(100), v[0])
}

func TestMemoryStore_MutateNoWriteLeavesEntryUntouched(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, s.Mutate(ctx, "k", func(current []byte, exists bool) ([]byte, time.Duration, bool, error) {
		return nil, 0, false, nil
	}))

	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
}
