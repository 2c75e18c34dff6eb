// Package ingest implements the intake boundary and the event processor
// (spec §4.10/§4.11): authenticate, validate, enqueue a ProcessEvent
// message per accepted event, and — on the consuming side — fingerprint,
// upsert the Issue aggregate, and hand the event to the writer.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tracelake/tracelake/internal/apikey"
	"github.com/tracelake/tracelake/internal/bus"
	"github.com/tracelake/tracelake/internal/metrics"
	"github.com/tracelake/tracelake/internal/wevent"
)

// MaxBatchSize is the largest accepted batch ingest request (spec §4.10).
const MaxBatchSize = 100

// ErrBatchTooLarge is returned when a batch exceeds MaxBatchSize.
var ErrBatchTooLarge = errors.New("ingest: batch exceeds maximum size")

// ProcessEventPayload is the bus.Message payload for bus.TypeProcessEvent.
type ProcessEventPayload struct {
	EventData   map[string]any `json:"eventData"`
	ProjectID   string         `json:"projectId"`
	Environment string         `json:"environment"`
}

// ItemResult is one event's outcome within a batch ingest call.
type ItemResult struct {
	Index   int    `json:"index"`
	Valid   bool   `json:"valid"`
	Error   string `json:"error,omitempty"`
	EventID string `json:"eventId,omitempty"`
}

// BatchResult is the outcome of IngestBatch.
type BatchResult struct {
	Results  []ItemResult `json:"results"`
	Accepted int          `json:"accepted"`
	Rejected int          `json:"rejected"`
}

// Intake authenticates callers and enqueues valid events for processing.
type Intake struct {
	keys apikey.Store
	bus  bus.Bus
}

// NewIntake constructs an Intake over keys and bus.
func NewIntake(keys apikey.Store, b bus.Bus) *Intake {
	return &Intake{keys: keys, bus: b}
}

// Authenticate resolves rawKey to its owning apikey.Key, rejecting expired
// or deactivated keys.
func (in *Intake) Authenticate(ctx context.Context, rawKey string) (*apikey.Key, error) {
	k, ok := in.keys.FindByKey(ctx, rawKey)
	if !ok {
		return nil, apikey.ErrKeyNotFound
	}

	if !k.ValidateKey(rawKey) {
		return nil, apikey.ErrInvalidKeyFormat
	}

	return k, nil
}

// IngestOne validates eventData against §4.2 and, on success, enqueues a
// ProcessEvent message. The returned error is a validation error when
// non-nil; enqueue failures are returned directly.
func (in *Intake) IngestOne(ctx context.Context, projectID, environment string, eventData map[string]any) error {
	if errs := wevent.Validate(eventData); len(errs) > 0 {
		metrics.IngestEventsTotal.WithLabelValues("rejected").Inc()

		return errors.Join(errs...)
	}

	if err := in.enqueue(ctx, projectID, environment, eventData); err != nil {
		return err
	}

	metrics.IngestEventsTotal.WithLabelValues("accepted").Inc()

	return nil
}

// IngestBatch validates each of events independently, enqueuing the valid
// ones and reporting every item's outcome by index (spec §4.10: partial
// validation failures are reported per index, valid ones are enqueued).
func (in *Intake) IngestBatch(
	ctx context.Context, projectID, environment string, events []map[string]any,
) (BatchResult, error) {
	if len(events) > MaxBatchSize {
		return BatchResult{}, ErrBatchTooLarge
	}

	result := BatchResult{Results: make([]ItemResult, len(events))}

	for i, e := range events {
		if errs := wevent.Validate(e); len(errs) > 0 {
			result.Results[i] = ItemResult{Index: i, Valid: false, Error: errors.Join(errs...).Error()}
			result.Rejected++
			metrics.IngestEventsTotal.WithLabelValues("rejected").Inc()

			continue
		}

		if err := in.enqueue(ctx, projectID, environment, e); err != nil {
			result.Results[i] = ItemResult{Index: i, Valid: false, Error: err.Error()}
			result.Rejected++
			metrics.IngestEventsTotal.WithLabelValues("rejected").Inc()

			continue
		}

		eventID, _ := e["event_id"].(string)
		result.Results[i] = ItemResult{Index: i, Valid: true, EventID: eventID}
		result.Accepted++
		metrics.IngestEventsTotal.WithLabelValues("accepted").Inc()
	}

	return result, nil
}

func (in *Intake) enqueue(ctx context.Context, projectID, environment string, eventData map[string]any) error {
	eventID, _ := eventData["event_id"].(string)

	payload, err := json.Marshal(ProcessEventPayload{EventData: eventData, ProjectID: projectID, Environment: environment})
	if err != nil {
		return fmt.Errorf("ingest: encode process-event payload: %w", err)
	}

	return in.bus.Publish(ctx, bus.TopicProcessEvent, bus.Message{
		Type:    bus.TypeProcessEvent,
		Key:     eventID,
		Payload: payload,
	})
}
