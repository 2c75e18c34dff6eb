// Package query implements the single-pass query executor: one streaming
// pass over the reader that simultaneously accumulates paginated rows (or
// grouped aggregates) and per-attribute facet counts.
package query

import (
	"context"
	"sort"

	"github.com/tracelake/tracelake/internal/metrics"
	"github.com/tracelake/tracelake/internal/reader"
	"github.com/tracelake/tracelake/internal/wevent"
)

// Request mirrors the public QueryRequest shape (spec §4.6), scoped to one
// organization ambiently by the caller.
type Request struct {
	OrganizationID string
	ProjectID      string
	Filters        []reader.Filter
	GroupBy        string
	Page           int
	Limit          int
	StartDate      string // YYYY-MM-DD
	EndDate        string // YYYY-MM-DD
}

// Facet is one attribute's top-N value/count breakdown.
type Facet struct {
	Attribute string
	Values    []FacetValue
}

// FacetValue is one (value, count) pair within a Facet.
type FacetValue struct {
	Value    string
	Count    int
	Selected bool
}

// GroupedResult is one group's aggregate in groupBy mode.
type GroupedResult struct {
	Value string
	Count int
	Users int
}

// Result is the executor's output (spec §4.6).
type Result struct {
	Events         []*wevent.Event
	Total          int
	Facets         []Facet
	GroupedResults []GroupedResult
	Page           int
	Limit          int
}

const (
	facetTopN           = 10
	exportLimit         = 10_000
	defaultRequiredCols = 4
)

// identityColumns are always in the required-columns set (spec §4.6 step 1).
var identityColumns = []string{"timestamp", "event_id", "user_id", "device_id"}

// Executor runs Request against a reader.Reader in a single streaming pass.
type Executor struct {
	reader *reader.Reader
}

// New constructs an Executor over r.
func New(r *reader.Reader) *Executor {
	return &Executor{reader: r}
}

// Execute runs req and returns its Result. isCancelled is polled at least
// once per scanned row batch so cooperative cancellation (spec §5) can abort
// early; it may be nil.
func (ex *Executor) Execute(ctx context.Context, req Request, isCancelled func() bool) (Result, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryDuration, "execute")

	columns := requiredColumns(req)

	scope := scopeFor(req)

	q := reader.Query{Scope: scope, Filters: req.Filters, Columns: columns}

	facetCounts := make(map[string]map[string]int)
	for _, attr := range wevent.FacetableAttributes {
		facetCounts[attr] = make(map[string]int)
	}

	grouped := make(map[string]*groupAccum)

	var (
		total       int
		accumulated []*wevent.Event
	)

	err := ex.streamAll(ctx, q, func(e *wevent.Event) bool {
		if isCancelled != nil && isCancelled() {
			return false
		}

		total++

		tallyFacets(facetCounts, e)

		if req.GroupBy != "" {
			key := groupKeyOf(e, req.GroupBy)
			if key != "" {
				accumGroup(grouped, key, e)
			}
		} else {
			accumulated = append(accumulated, e)
		}

		return true
	})
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("execute", "error").Inc()

		return Result{}, err
	}

	metrics.QueriesTotal.WithLabelValues("execute", "success").Inc()

	result := Result{Total: total, Page: req.Page, Limit: req.Limit}

	if req.GroupBy != "" {
		result.GroupedResults = sortedGroups(grouped)
	} else {
		result.Events = paginate(accumulated, req.Page, req.Limit)
	}

	result.Facets = buildFacets(facetCounts, req.Filters)

	return result, nil
}

// Export runs the same reader pipeline but skips facets/grouping entirely,
// returning a full sorted row list capped at exportLimit (spec §4.6).
func (ex *Executor) Export(ctx context.Context, req Request) ([]*wevent.Event, error) {
	scope := scopeFor(req)
	q := reader.Query{Scope: scope, Filters: req.Filters, Limit: exportLimit}

	var out []*wevent.Event

	err := ex.streamAll(ctx, q, func(e *wevent.Event) bool {
		out = append(out, e)

		return len(out) < exportLimit
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return tiebreak(out[i], out[j]) })

	return out, nil
}

// ComputeFacetBatch replays the reader restricted to attributes, tallying
// only those columns (spec §4.8: each deferred batch runs independently over
// its own attribute subset rather than the full FacetableAttributes set).
func (ex *Executor) ComputeFacetBatch(ctx context.Context, req Request, attributes []string, isCancelled func() bool) ([]Facet, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryDuration, "facet_batch")

	columns := append(requiredColumns(req), attributes...)
	scope := scopeFor(req)
	q := reader.Query{Scope: scope, Filters: req.Filters, Columns: columns}

	counts := make(map[string]map[string]int, len(attributes))
	for _, attr := range attributes {
		counts[attr] = make(map[string]int)
	}

	err := ex.streamAll(ctx, q, func(e *wevent.Event) bool {
		if isCancelled != nil && isCancelled() {
			return false
		}

		for _, attr := range attributes {
			v := fieldValue(e, attr)
			if v == "" {
				continue
			}

			counts[attr][v]++
		}

		return true
	})
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("facet_batch", "error").Inc()

		return nil, err
	}

	metrics.QueriesTotal.WithLabelValues("facet_batch", "success").Inc()

	return buildFacetsFor(attributes, counts, req.Filters), nil
}

func (ex *Executor) streamAll(ctx context.Context, q reader.Query, visit func(*wevent.Event) bool) error {
	events, err := ex.reader.ReadEvents(ctx, q)
	if err != nil {
		return err
	}

	for _, e := range events {
		if !visit(e) {
			break
		}
	}

	return nil
}

func scopeFor(req Request) reader.Scope {
	scope := reader.Scope{OrganizationID: req.OrganizationID, ProjectID: req.ProjectID}

	if req.StartDate != "" {
		scope.From = parseDate(req.StartDate)
	}

	if req.EndDate != "" {
		scope.To = parseDate(req.EndDate)
	}

	return scope
}

// requiredColumns computes the union of identity columns, filter
// attributes, facetable attributes, and groupBy (spec §4.6 step 1).
func requiredColumns(req Request) []string {
	set := make(map[string]bool, defaultRequiredCols+len(wevent.FacetableAttributes))

	for _, c := range identityColumns {
		set[c] = true
	}

	for _, f := range req.Filters {
		set[f.Attribute] = true
	}

	for _, a := range wevent.FacetableAttributes {
		set[a] = true
	}

	if req.GroupBy != "" {
		set[req.GroupBy] = true
	}

	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}

	return out
}
