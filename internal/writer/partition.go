// Package writer implements the partitioned event writer: an in-memory,
// per-partition buffer manager that flushes batches to columnar files named
// and laid out per the Hive-style partition grammar.
package writer

import (
	"fmt"
	"time"

	"github.com/tracelake/tracelake/internal/wevent"
)

// Key identifies one partition bucket in memory: organization, project,
// event type, and the UTC calendar date of the event timestamp.
type Key struct {
	OrganizationID string
	ProjectID      string
	EventType      string
	Date           string // YYYY-MM-DD
}

// Dir returns the Hive-style partition directory for k, relative to a
// backend's BasePath.
func (k Key) Dir() string {
	org := k.OrganizationID
	if org == "" {
		org = "unknown"
	}

	return fmt.Sprintf("organization_id=%s/project_id=%s/event_type=%s/dt=%s", org, k.ProjectID, k.EventType, k.Date)
}

// KeyFor computes the partition key an event belongs to.
func KeyFor(e *wevent.Event) Key {
	org := ""
	if e.OrganizationID != nil {
		org = *e.OrganizationID
	}

	t := time.Unix(0, e.Timestamp*int64(time.Millisecond)).UTC()

	return Key{
		OrganizationID: org,
		ProjectID:      e.ProjectID,
		EventType:      e.EventType,
		Date:           t.Format("2006-01-02"),
	}
}

// bucket is the in-memory accumulation for one partition, flushed once it
// reaches BatchSize events or on an explicit/shutdown flush.
type bucket struct {
	events []*wevent.Event
}

func newBucket() *bucket {
	return &bucket{events: make([]*wevent.Event, 0, BatchSize)}
}

func (b *bucket) add(e *wevent.Event) {
	b.events = append(b.events, e)
}

func (b *bucket) isEmpty() bool {
	return len(b.events) == 0
}

func (b *bucket) drain() []*wevent.Event {
	out := b.events
	b.events = make([]*wevent.Event, 0, BatchSize)

	return out
}
