package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis, suitable for a multi-process
// deployment where the async query store must be visible to every worker.
// Mutate uses WATCH/MULTI optimistic locking so a concurrent writer's
// change is never silently lost to a stale read.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing *redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the value for key, or exists=false if absent.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	return v, true, nil
}

// Set stores value under key with the given ttl (no expiry if ttl <= 0).
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Mutate runs fn inside a WATCH transaction: if another client changes key
// between the read and the MULTI/EXEC, Redis aborts the transaction and
// this retries the whole read-compute-write cycle.
func (s *RedisStore) Mutate(ctx context.Context, key string, fn MutateFunc) error {
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()

		exists := true

		if errors.Is(err, redis.Nil) {
			exists = false
			err = nil
		}

		if err != nil {
			return err
		}

		next, ttl, write, err := fn(current, exists)
		if err != nil {
			return err
		}

		if !write {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, ttl)

			return nil
		})

		return err
	}

	for attempt := 0; attempt < 10; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}

		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}

	return errors.New("cache: redis mutate exceeded retry attempts due to sustained contention")
}
