package asyncquery

import (
	"context"
	"encoding/json"
	"sort"
)

// InitializeFacetBatches seeds queryID with a pending entry for each batchID,
// called once when the query is split into deferred facet-computation work
// (spec §4.8's four default batches: device, app, trace, user attributes).
func (s *Store) InitializeFacetBatches(ctx context.Context, queryID string, batchIDs []string) error {
	return s.mutate(ctx, queryID, true, func(st *State) error {
		if st.IsTerminal() {
			return ErrAlreadyTerminal
		}

		if st.FacetBatches == nil {
			st.FacetBatches = make(map[string]*FacetBatch, len(batchIDs))
		}

		for _, id := range batchIDs {
			st.FacetBatches[id] = &FacetBatch{Status: BatchPending}
		}

		return nil
	})
}

// AppendFacets marks batchID completed and attaches its computed facets.
func (s *Store) AppendFacets(ctx context.Context, queryID, batchID string, facets json.RawMessage) error {
	return s.mutate(ctx, queryID, true, func(st *State) error {
		b, ok := st.FacetBatches[batchID]
		if !ok {
			return ErrNotFound
		}

		if b.Status != BatchPending {
			return ErrBatchAlreadySet
		}

		b.Status = BatchCompleted
		b.Facets = facets

		return nil
	})
}

// MarkFacetBatchFailed marks batchID failed with the given error message.
// A failed batch still counts toward completeness: partial facet results
// are returned to the client rather than failing the whole query.
func (s *Store) MarkFacetBatchFailed(ctx context.Context, queryID, batchID, message string) error {
	return s.mutate(ctx, queryID, true, func(st *State) error {
		b, ok := st.FacetBatches[batchID]
		if !ok {
			return ErrNotFound
		}

		if b.Status != BatchPending {
			return ErrBatchAlreadySet
		}

		b.Status = BatchFailed
		b.Error = message

		return nil
	})
}

// GetPendingFacetBatches returns the batch IDs still awaiting a result, sorted for determinism.
func (s *Store) GetPendingFacetBatches(ctx context.Context, queryID string) ([]string, error) {
	st, err := s.GetQueryState(ctx, queryID)
	if err != nil {
		return nil, err
	}

	var pending []string

	for id, b := range st.FacetBatches {
		if b.Status == BatchPending {
			pending = append(pending, id)
		}
	}

	sort.Strings(pending)

	return pending, nil
}

// AreFacetBatchesComplete reports whether every registered batch has
// resolved to completed or failed.
func (s *Store) AreFacetBatchesComplete(ctx context.Context, queryID string) (bool, error) {
	st, err := s.GetQueryState(ctx, queryID)
	if err != nil {
		return false, err
	}

	if len(st.FacetBatches) == 0 {
		return true, nil
	}

	for _, b := range st.FacetBatches {
		if b.Status == BatchPending {
			return false, nil
		}
	}

	return true, nil
}

// GetCompletedFacetBatches returns the facet payloads of every batch that
// completed successfully, keyed by batch ID. Failed batches are omitted:
// callers report them separately via the batch's Error field if needed.
func (s *Store) GetCompletedFacetBatches(ctx context.Context, queryID string) (map[string]json.RawMessage, error) {
	st, err := s.GetQueryState(ctx, queryID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]json.RawMessage)

	for id, b := range st.FacetBatches {
		if b.Status == BatchCompleted {
			out[id] = b.Facets
		}
	}

	return out, nil
}
