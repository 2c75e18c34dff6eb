// Package bus provides the message bus abstraction sitting between ingest
// intake, the event processor, the async query dispatcher, and the facet
// batch dispatcher: a small sealed set of typed messages (ProcessEvent,
// ExecuteQuery, ComputeFacetBatch), each idempotent under redelivery, FIFO
// per queue with multiple consumers competing for messages (spec §5).
package bus

import (
	"context"
	"encoding/json"
)

// Type enumerates the sealed set of message shapes the bus carries.
type Type string

const (
	TypeProcessEvent      Type = "process_event"
	TypeExecuteQuery      Type = "execute_query"
	TypeComputeFacetBatch Type = "compute_facet_batch"
)

// Message is one bus payload. Key is the redelivery idempotency key: an
// eventId for ProcessEvent, queryId for ExecuteQuery, queryId+batchId for
// ComputeFacetBatch (spec §5's "handlers are idempotent under redelivery").
type Message struct {
	Type    Type            `json:"type"`
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

// Handler processes one Message. A non-nil error causes the bus to retry
// redelivery per its own policy; handlers must tolerate being called more
// than once for the same Key.
type Handler func(ctx context.Context, msg Message) error

// Bus is the publish/consume abstraction. Consume blocks until ctx is
// cancelled or an unrecoverable transport error occurs.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Consume(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Topic names for the three message types, one topic each so consumer
// groups can scale independently per workload.
const (
	TopicProcessEvent      = "tracelake.process-event"
	TopicExecuteQuery      = "tracelake.execute-query"
	TopicComputeFacetBatch = "tracelake.compute-facet-batch"
)
