package asyncquery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tracelake/tracelake/internal/bus"
	"github.com/tracelake/tracelake/internal/query"
)

// ExecuteQueryPayload is the bus.TypeExecuteQuery message body: the queryID
// assigned at submit time plus the query.Request the submitter captured.
type ExecuteQueryPayload struct {
	QueryID string        `json:"queryId"`
	Request query.Request `json:"request"`
}

// ComputeFacetBatchPayload is the bus.TypeComputeFacetBatch message body.
type ComputeFacetBatchPayload struct {
	QueryID string        `json:"queryId"`
	BatchID string        `json:"batchId"`
	Request query.Request `json:"request"`
}

// Processor consumes bus.TypeExecuteQuery and bus.TypeComputeFacetBatch
// messages, driving the Store's state machine around the query.Executor
// (spec §4.7/§4.8/§4.11). It is the async counterpart to submit(): submit()
// only initializes pending state and publishes the message this processor
// consumes.
type Processor struct {
	store      *Store
	executor   *query.Executor
	dispatcher *Dispatcher
	bus        bus.Bus
	logger     *slog.Logger
}

// NewProcessor constructs a Processor over store, executor, and bus.
func NewProcessor(store *Store, executor *query.Executor, b bus.Bus, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		store:      store,
		executor:   executor,
		dispatcher: NewDispatcher(store, executor, logger),
		bus:        b,
		logger:     logger,
	}
}

// HandleExecuteQuery implements bus.Handler for bus.TopicExecuteQuery. It
// runs the main query pass, stores the result, and fans the deferred facet
// batches out as individual bus.TypeComputeFacetBatch messages so they
// compute independently (spec §4.8) rather than serially in-process.
func (p *Processor) HandleExecuteQuery(ctx context.Context, msg bus.Message) error {
	var payload ExecuteQueryPayload

	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("asyncquery: decode execute-query payload: %w", err)
	}

	isCancelled := func() bool {
		cancelled, err := p.store.IsCancelled(ctx, payload.QueryID)

		return err == nil && cancelled
	}

	if isCancelled() {
		return p.store.MarkCancelled(ctx, payload.QueryID)
	}

	if err := p.store.MarkInProgress(ctx, payload.QueryID, 0); err != nil {
		return fmt.Errorf("asyncquery: mark in progress %s: %w", payload.QueryID, err)
	}

	result, err := p.executor.Execute(ctx, payload.Request, isCancelled)
	if err != nil {
		if storeErr := p.store.StoreError(ctx, payload.QueryID, err.Error()); storeErr != nil {
			p.logger.Error("asyncquery: store error failed", "query_id", payload.QueryID, "error", storeErr)
		}

		return nil
	}

	if isCancelled() {
		return p.store.MarkCancelled(ctx, payload.QueryID)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("asyncquery: encode result %s: %w", payload.QueryID, err)
	}

	if err := p.store.StoreResult(ctx, payload.QueryID, encoded); err != nil {
		return fmt.Errorf("asyncquery: store result %s: %w", payload.QueryID, err)
	}

	return p.fanOutFacetBatches(ctx, payload.QueryID, payload.Request)
}

// fanOutFacetBatches initializes every default facet batch for queryID and
// publishes one ComputeFacetBatch message per batch. If the bus publish
// fails for a batch, it is marked failed immediately rather than left
// pending forever.
func (p *Processor) fanOutFacetBatches(ctx context.Context, queryID string, req query.Request) error {
	ids := DefaultBatchIDs()

	if err := p.store.InitializeFacetBatches(ctx, queryID, ids); err != nil {
		return fmt.Errorf("asyncquery: initialize facet batches %s: %w", queryID, err)
	}

	for _, batchID := range ids {
		payload, err := json.Marshal(ComputeFacetBatchPayload{QueryID: queryID, BatchID: batchID, Request: req})
		if err != nil {
			return fmt.Errorf("asyncquery: encode facet batch payload %s/%s: %w", queryID, batchID, err)
		}

		msg := bus.Message{Type: bus.TypeComputeFacetBatch, Key: queryID + "/" + batchID, Payload: payload}

		if err := p.bus.Publish(ctx, bus.TopicComputeFacetBatch, msg); err != nil {
			if markErr := p.store.MarkFacetBatchFailed(ctx, queryID, batchID, err.Error()); markErr != nil {
				p.logger.Error("asyncquery: mark facet batch failed", "query_id", queryID, "batch_id", batchID, "error", markErr)
			}
		}
	}

	return nil
}

// HandleComputeFacetBatch implements bus.Handler for
// bus.TopicComputeFacetBatch. Each batch runs and records independently of
// its siblings (spec §4.8).
func (p *Processor) HandleComputeFacetBatch(ctx context.Context, msg bus.Message) error {
	var payload ComputeFacetBatchPayload

	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("asyncquery: decode compute-facet-batch payload: %w", err)
	}

	p.dispatcher.RunBatch(ctx, payload.QueryID, payload.BatchID, payload.Request)

	return nil
}
