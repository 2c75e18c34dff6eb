package query

import (
	"sort"
	"time"

	"github.com/tracelake/tracelake/internal/reader"
	"github.com/tracelake/tracelake/internal/wevent"
)

// groupAccum tracks one groupBy bucket's count and distinct user/device set
// (spec §4.6 step 3c: never raw events in this mode).
type groupAccum struct {
	count int
	users map[string]bool
}

func accumGroup(grouped map[string]*groupAccum, key string, e *wevent.Event) {
	g, ok := grouped[key]
	if !ok {
		g = &groupAccum{users: make(map[string]bool)}
		grouped[key] = g
	}

	g.count++

	if id := distinctIdentifier(e); id != "" {
		g.users[id] = true
	}
}

// distinctIdentifier prefers user_id, falling back to device_id (spec §4.6 step 3c).
func distinctIdentifier(e *wevent.Event) string {
	if e.UserID != nil && *e.UserID != "" {
		return *e.UserID
	}

	if e.DeviceID != nil && *e.DeviceID != "" {
		return *e.DeviceID
	}

	return ""
}

func groupKeyOf(e *wevent.Event, attr string) string {
	row := fieldValue(e, attr)

	return row
}

func sortedGroups(grouped map[string]*groupAccum) []GroupedResult {
	out := make([]GroupedResult, 0, len(grouped))

	for value, g := range grouped {
		out = append(out, GroupedResult{Value: value, Count: g.count, Users: len(g.users)})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}

		return out[i].Value < out[j].Value
	})

	return out
}

func tallyFacets(counts map[string]map[string]int, e *wevent.Event) {
	for _, attr := range wevent.FacetableAttributes {
		v := fieldValue(e, attr)
		if v == "" {
			continue
		}

		counts[attr][v]++
	}
}

// buildFacets converts raw counts into sorted, top-N Facet entries, marking
// values selected by an active eq/in filter on that attribute (spec §4.6 step 6).
func buildFacets(counts map[string]map[string]int, filters []reader.Filter) []Facet {
	selected := selectedValues(filters)

	facets := make([]Facet, 0, len(wevent.FacetableAttributes))

	for _, attr := range wevent.FacetableAttributes {
		byValue := counts[attr]
		if len(byValue) == 0 {
			continue
		}

		values := make([]FacetValue, 0, len(byValue))
		for v, c := range byValue {
			values = append(values, FacetValue{Value: v, Count: c, Selected: selected[attr][v]})
		}

		sort.Slice(values, func(i, j int) bool {
			if values[i].Count != values[j].Count {
				return values[i].Count > values[j].Count
			}

			return values[i].Value < values[j].Value
		})

		if len(values) > facetTopN {
			values = values[:facetTopN]
		}

		facets = append(facets, Facet{Attribute: attr, Values: values})
	}

	return facets
}

// buildFacetsFor is buildFacets restricted to an explicit attribute list,
// used by facet-batch replays that only tally a subset of FacetableAttributes.
func buildFacetsFor(attributes []string, counts map[string]map[string]int, filters []reader.Filter) []Facet {
	selected := selectedValues(filters)

	facets := make([]Facet, 0, len(attributes))

	for _, attr := range attributes {
		byValue := counts[attr]
		if len(byValue) == 0 {
			continue
		}

		values := make([]FacetValue, 0, len(byValue))
		for v, c := range byValue {
			values = append(values, FacetValue{Value: v, Count: c, Selected: selected[attr][v]})
		}

		sort.Slice(values, func(i, j int) bool {
			if values[i].Count != values[j].Count {
				return values[i].Count > values[j].Count
			}

			return values[i].Value < values[j].Value
		})

		if len(values) > facetTopN {
			values = values[:facetTopN]
		}

		facets = append(facets, Facet{Attribute: attr, Values: values})
	}

	return facets
}

func selectedValues(filters []reader.Filter) map[string]map[string]bool {
	out := make(map[string]map[string]bool)

	for _, f := range filters {
		if f.Op != reader.OpEq && f.Op != reader.OpIn {
			continue
		}

		if out[f.Attribute] == nil {
			out[f.Attribute] = make(map[string]bool)
		}

		if f.Op == reader.OpEq {
			out[f.Attribute][stringOf(f.Value)] = true
		} else {
			for _, v := range f.Values {
				out[f.Attribute][stringOf(v)] = true
			}
		}
	}

	return out
}

func stringOf(v any) string {
	if s, ok := v.(string); ok {
		return s
	}

	return ""
}

// paginate sorts by timestamp descending with event_id tiebreak (spec §4.6
// step 4 / §4.6 contract), then slices [offset, offset+limit).
func paginate(events []*wevent.Event, page, limit int) []*wevent.Event {
	sort.Slice(events, func(i, j int) bool { return tiebreak(events[i], events[j]) })

	if limit <= 0 {
		return events
	}

	if page < 0 {
		page = 0
	}

	offset := page * limit
	if offset >= len(events) {
		return nil
	}

	end := offset + limit
	if end > len(events) {
		end = len(events)
	}

	return events[offset:end]
}

// tiebreak orders by timestamp descending, then event_id ascending for equal
// timestamps (spec §4.6 contract: deterministic given identical on-disk state).
func tiebreak(a, b *wevent.Event) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}

	return a.EventID < b.EventID
}

func parseDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}

	return t
}

// fieldValue reads attr off e by name, returning "" for null/absent values.
// Mirrors reader.toMap's column set; kept local since query only needs a
// handful of facetable/groupBy attributes rather than the full row.
func fieldValue(e *wevent.Event, attr string) string {
	deref := func(p *string) string {
		if p == nil {
			return ""
		}

		return *p
	}

	switch attr {
	case "device_model":
		return deref(e.DeviceModel)
	case "os_name":
		return deref(e.OSName)
	case "os_version":
		return deref(e.OSVersion)
	case "app_version":
		return deref(e.AppVersion)
	case "app_build":
		return deref(e.AppBuild)
	case "operation":
		return deref(e.Operation)
	case "span_status":
		return deref(e.SpanStatus)
	case "user_id":
		return deref(e.UserID)
	case "locale":
		return deref(e.Locale)
	case "device_id":
		return deref(e.DeviceID)
	case "project_id":
		return e.ProjectID
	case "event_type":
		return e.EventType
	case "severity":
		return deref(e.Severity)
	default:
		return ""
	}
}
