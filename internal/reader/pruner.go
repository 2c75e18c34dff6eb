package reader

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/tracelake/tracelake/internal/storage"
)

// retryDelays is the bounded-retry backoff schedule for a flaky List call
// against an eventually-consistent object store (SPEC_FULL §9.3).
var retryDelays = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// Scope narrows the set of partition directories a read considers. Empty
// string fields enumerate over that dimension instead of pinning it.
type Scope struct {
	OrganizationID string
	ProjectID      string
	EventType      string
	From           time.Time
	To             time.Time
}

var dirPattern = regexp.MustCompile(
	`^organization_id=([^/]+)/project_id=([^/]+)/event_type=([^/]+)/dt=(\d{4}-\d{2}-\d{2})/`)

// candidateDirs resolves scope to a set of partition directories, one per
// calendar day in [From, To] crossed with every (org, project, event_type)
// triple that matches the fixed dimensions. Per spec §4.4 this never
// collapses to a dt=* wildcard: each day is a literal path segment so a
// file-system- or object-store-level prefix scan still prunes effectively.
func candidateDirs(ctx context.Context, backend storage.Backend, scope Scope) []string {
	from, to := scope.From, scope.To
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}

	if to.IsZero() {
		to = time.Now().UTC()
	}

	triples := [][3]string{{scope.OrganizationID, scope.ProjectID, scope.EventType}}
	if scope.OrganizationID == "" || scope.ProjectID == "" || scope.EventType == "" {
		triples = discoverTriples(ctx, backend, scope)
	}

	var dirs []string

	seen := make(map[string]bool)

	for _, t := range triples {
		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			dir := fmt.Sprintf("organization_id=%s/project_id=%s/event_type=%s/dt=%s",
				t[0], t[1], t[2], d.Format("2006-01-02"))

			if !seen[dir] {
				seen[dir] = true

				dirs = append(dirs, dir)
			}
		}
	}

	return dirs
}

// discoverTriples walks the backend once to find every distinct
// (organization_id, project_id, event_type) triple present, filtered down
// to those matching scope's fixed dimensions.
func discoverTriples(ctx context.Context, backend storage.Backend, scope Scope) [][3]string {
	files := listWithRetry(ctx, backend, "")

	seen := make(map[[3]string]bool)

	var out [][3]string

	for _, f := range files {
		m := dirPattern.FindStringSubmatch(f.Path)
		if m == nil {
			continue
		}

		t := [3]string{m[1], m[2], m[3]}

		if scope.OrganizationID != "" && scope.OrganizationID != t[0] {
			continue
		}

		if scope.ProjectID != "" && scope.ProjectID != t[1] {
			continue
		}

		if scope.EventType != "" && scope.EventType != t[2] {
			continue
		}

		if !seen[t] {
			seen[t] = true

			out = append(out, t)
		}
	}

	return out
}

// listWithRetry lists pathPrefix, retrying per retryDelays on error before
// treating the prefix as empty. It never returns an error: per spec §4.4's
// missing-file tolerance, a failed or empty listing just yields no files for
// that partition rather than failing the whole query.
func listWithRetry(ctx context.Context, backend storage.Backend, pathPrefix string) []storage.FileStatus {
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		files, err := backend.List(ctx, pathPrefix)
		if err == nil {
			return files
		}

		if attempt < len(retryDelays) {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelays[attempt]):
			}
		}
	}

	return nil
}
