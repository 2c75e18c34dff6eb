// Package compaction implements the background compaction engine: merging
// small events_*.parquet files into larger block_*.parquet files per
// partition, coordinated by a named, leased mutual-exclusion lock so
// concurrent compactor workers never race on the same partition.
package compaction

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// leaseDuration is how long a named lock is held before it is considered
// abandoned and eligible for another worker to acquire (spec §4.5 step 2).
const leaseDuration = 300 * time.Second

// Locker grants named, leased, mutually-exclusive locks keyed by partition
// path. It never blocks: TryLock either acquires immediately or reports the
// partition busy, so a compaction run treats contention as a deliberate
// skip rather than a failure.
type Locker struct {
	mu    sync.Mutex
	locks map[string]time.Time // key -> lease expiry
}

// NewLocker creates an empty in-memory Locker, suitable for a single
// compactor process. Its locks are not visible to other processes.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]time.Time)}
}

// LockKey derives the named lock key for a partition directory path.
func LockKey(partitionPath string) string {
	sum := sha256.Sum256([]byte(partitionPath))

	return "compact:" + hex.EncodeToString(sum[:])[:16]
}

// TryLock attempts to acquire the lock for key, granting it immediately if
// unheld or its lease has expired. Returns a release func on success, or
// ok=false if another worker currently holds it.
func (l *Locker) TryLock(key string) (release func(), ok bool) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, held := l.locks[key]; held && now.Before(expiry) {
		return nil, false
	}

	l.locks[key] = now.Add(leaseDuration)

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		delete(l.locks, key)
	}, true
}
