package asyncquery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tracelake/tracelake/internal/query"
	"github.com/tracelake/tracelake/internal/wevent"
)

// DefaultBatchIDs is the deterministic order facet batches are registered
// and dispatched in (spec §4.8's four default batches).
func DefaultBatchIDs() []string {
	ids := make([]string, 0, len(wevent.FacetBatchAttributes))
	for id := range wevent.FacetBatchAttributes {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Dispatcher runs each facet batch's deferred computation and records it
// against the Store, independently of the other batches and of the main
// query result they supplement.
type Dispatcher struct {
	store    *Store
	executor *query.Executor
	logger   *slog.Logger
}

// NewDispatcher builds a Dispatcher over store and executor.
func NewDispatcher(store *Store, executor *query.Executor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{store: store, executor: executor, logger: logger}
}

// RunBatch computes batchID's facets for req and records the outcome on
// queryID. It never returns an error itself: a computation failure is
// recorded via MarkFacetBatchFailed so the rest of the batches still run
// (spec §4.8: deferred batches fail independently of each other).
func (d *Dispatcher) RunBatch(ctx context.Context, queryID, batchID string, req query.Request) {
	attrs, ok := wevent.FacetBatchAttributes[batchID]
	if !ok {
		d.fail(ctx, queryID, batchID, fmt.Sprintf("unknown facet batch %q", batchID))

		return
	}

	isCancelled := func() bool {
		cancelled, err := d.store.IsCancelled(ctx, queryID)

		return err == nil && cancelled
	}

	if isCancelled() {
		// Cancelled before the batch started: leave it pending rather than
		// marking it failed (spec §4.8).
		return
	}

	facets, err := d.executor.ComputeFacetBatch(ctx, req, attrs, isCancelled)
	if err != nil {
		d.fail(ctx, queryID, batchID, err.Error())

		return
	}

	payload, err := json.Marshal(facets)
	if err != nil {
		d.fail(ctx, queryID, batchID, err.Error())

		return
	}

	if err := d.store.AppendFacets(ctx, queryID, batchID, payload); err != nil {
		d.logger.Error("asyncquery: append facets failed", "query_id", queryID, "batch_id", batchID, "error", err)
	}
}

func (d *Dispatcher) fail(ctx context.Context, queryID, batchID, message string) {
	if err := d.store.MarkFacetBatchFailed(ctx, queryID, batchID, message); err != nil {
		d.logger.Error("asyncquery: mark facet batch failed", "query_id", queryID, "batch_id", batchID, "error", err)
	}
}

// DispatchAll initializes every default batch for queryID and runs each in
// turn. Callers that want concurrent batches should instead publish one
// ComputeFacetBatch bus message per DefaultBatchIDs() entry; DispatchAll is
// the synchronous/in-process fallback (used by tests and the in-memory bus).
func (d *Dispatcher) DispatchAll(ctx context.Context, queryID string, req query.Request) error {
	ids := DefaultBatchIDs()

	if err := d.store.InitializeFacetBatches(ctx, queryID, ids); err != nil {
		return err
	}

	for _, id := range ids {
		d.RunBatch(ctx, queryID, id, req)
	}

	return nil
}
