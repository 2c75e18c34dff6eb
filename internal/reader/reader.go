// Package reader implements the partition pruner and columnar reader:
// translating a scope into candidate partition directories, reading rows
// with filter evaluation, and tolerating missing or unreadable files without
// failing the whole read. Rows are decoded whole; no column projection is
// applied.
package reader

import (
	"context"
	"log/slog"
	"sort"

	"github.com/parquet-go/parquet-go"

	"github.com/tracelake/tracelake/internal/storage"
	"github.com/tracelake/tracelake/internal/wevent"
)

// Reader streams WideEvents out of a Backend with partition pruning and row
// filtering; every column of a matching row is returned.
type Reader struct {
	backend storage.Backend
	logger  *slog.Logger
}

// New constructs a Reader over backend.
func New(backend storage.Backend, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reader{backend: backend, logger: logger}
}

// Query parameterizes a read.
type Query struct {
	Scope   Scope
	Filters []Filter
	Columns []string // empty means all columns
	Limit   int      // 0 means unbounded
}

// ReadEvents streams matching events as *wevent.Event, honoring q.Limit.
func (r *Reader) ReadEvents(ctx context.Context, q Query) ([]*wevent.Event, error) {
	var out []*wevent.Event

	err := r.stream(ctx, q, func(e *wevent.Event) bool {
		out = append(out, e)

		return q.Limit == 0 || len(out) < q.Limit
	})

	return out, err
}

// ReadEventsWithColumns is ReadEvents with q.Columns set to columns. The
// returned events still carry every column: rows are decoded whole and
// columns that were not requested are not cleared.
func (r *Reader) ReadEventsWithColumns(ctx context.Context, q Query, columns []string) ([]*wevent.Event, error) {
	q.Columns = columns

	return r.ReadEvents(ctx, q)
}

// CountEvents returns the number of events matching q, ignoring q.Limit.
func (r *Reader) CountEvents(ctx context.Context, q Query) (int, error) {
	q.Limit = 0

	count := 0

	err := r.stream(ctx, q, func(*wevent.Event) bool {
		count++

		return true
	})

	return count, err
}

// GetEventsByFingerprint eagerly materializes every event with the given
// fingerprint in scope, sorted by timestamp descending, capped at limit.
func (r *Reader) GetEventsByFingerprint(ctx context.Context, scope Scope, fingerprint string, limit int) ([]*wevent.Event, error) {
	q := Query{
		Scope:   scope,
		Filters: []Filter{{Attribute: "fingerprint", Op: OpEq, Value: fingerprint}},
	}

	events, err := r.ReadEvents(ctx, q)
	if err != nil {
		return nil, err
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp > events[j].Timestamp })

	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}

	return events, nil
}

// stream is the shared single-pass engine: enumerate candidate partitions,
// list files per partition (tolerating failures), read and filter rows,
// and invoke visit per matching row until it returns false.
func (r *Reader) stream(ctx context.Context, q Query, visit func(*wevent.Event) bool) error {
	dirs := candidateDirs(ctx, r.backend, q.Scope)

	projected := effectiveColumns(q)

	filesFailed, filesTotal := 0, 0

	for _, dir := range dirs {
		files := listWithRetry(ctx, r.backend, dir)

		for _, f := range files {
			filesTotal++

			events, err := r.readFile(ctx, f.Path)
			if err != nil {
				filesFailed++

				r.logger.Warn("skipping unreadable partition file", "path", f.Path, "error", err)

				continue
			}

			cont := true

			for _, e := range events {
				if !matchesAll(e, q.Filters) {
					continue
				}

				applyProjection(e, projected)

				if !visit(e) {
					cont = false

					break
				}
			}

			if !cont {
				return nil
			}
		}
	}

	if filesTotal > 0 && filesFailed == filesTotal {
		return errAllFilesFailed
	}

	return nil
}

func (r *Reader) readFile(ctx context.Context, path string) ([]*wevent.Event, error) {
	rc, err := r.backend.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	data, err := readAll(rc)
	if err != nil {
		return nil, err
	}

	pr := parquet.NewGenericReader[wevent.Event](bytesReaderAt(data))
	defer func() { _ = pr.Close() }()

	rows := make([]wevent.Event, pr.NumRows())

	n, err := pr.Read(rows)
	if err != nil && n == 0 {
		return nil, err
	}

	out := make([]*wevent.Event, n)
	for i := range out {
		e := rows[i]
		out[i] = &e
	}

	return out, nil
}

func matchesAll(e *wevent.Event, filters []Filter) bool {
	if len(filters) == 0 {
		return true
	}

	row := toMap(e)

	for _, f := range filters {
		if !f.Match(row) {
			return false
		}
	}

	return true
}

// effectiveColumns is the projection q requests, widened with the identity
// columns §4.6 always needs plus any column a filter references (spec §4.4
// step 5: fingerprint/trace_id/span_id are retained even if unrequested).
func effectiveColumns(q Query) map[string]bool {
	if len(q.Columns) == 0 {
		return nil // nil means "all columns", no pruning needed
	}

	set := make(map[string]bool, len(q.Columns)+4)
	for _, c := range q.Columns {
		set[c] = true
	}

	set["event_id"] = true
	set["timestamp"] = true

	for _, f := range q.Filters {
		set[f.Attribute] = true
	}

	return set
}

// applyProjection does nothing: the parquet decode materializes the full row
// and no column is cleared, whatever the projected set contains.
func applyProjection(_ *wevent.Event, _ map[string]bool) {}
