package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/tracelake/tracelake/internal/errkind"
	"github.com/tracelake/tracelake/internal/metrics"
	"github.com/tracelake/tracelake/internal/storage"
	"github.com/tracelake/tracelake/internal/wevent"
)

// BatchSize is the event count that triggers an automatic partition flush.
const BatchSize = 1000

// Writer buckets incoming events by partition key in memory and flushes
// each bucket to a single columnar file once it reaches BatchSize or on an
// explicit Flush or FlushPartition. Writer has no Close method; events still
// buffered are written only by such a flush.
type Writer struct {
	backend storage.Backend
	logger  *slog.Logger

	mu      sync.Mutex
	buckets map[Key]*bucket
}

// New constructs a Writer over backend.
func New(backend storage.Backend, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{
		backend: backend,
		logger:  logger,
		buckets: make(map[Key]*bucket),
	}
}

// AddEvent buckets e by its partition key, flushing the bucket synchronously
// if it has just reached BatchSize.
func (w *Writer) AddEvent(ctx context.Context, e *wevent.Event) error {
	key := KeyFor(e)

	w.mu.Lock()
	b, ok := w.buckets[key]
	if !ok {
		b = newBucket()
		w.buckets[key] = b
	}

	b.add(e)
	full := len(b.events) >= BatchSize
	w.mu.Unlock()

	if full {
		return w.FlushPartition(ctx, key)
	}

	return nil
}

// AddEvents buckets multiple events, propagating the first flush error but
// continuing to bucket the rest.
func (w *Writer) AddEvents(ctx context.Context, events []*wevent.Event) error {
	var firstErr error

	for _, e := range events {
		if err := w.AddEvent(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Flush flushes every non-empty partition bucket.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	keys := make([]Key, 0, len(w.buckets))

	for k, b := range w.buckets {
		if !b.isEmpty() {
			keys = append(keys, k)
		}
	}
	w.mu.Unlock()

	var firstErr error

	for _, k := range keys {
		if err := w.FlushPartition(ctx, k); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// FlushPartition writes and clears the bucket for key, if non-empty. On
// write failure the bucket is left intact so a retry can re-attempt it —
// spec §4.3 requires the in-memory buffer survive a failed flush.
func (w *Writer) FlushPartition(ctx context.Context, key Key) error {
	w.mu.Lock()
	b, ok := w.buckets[key]
	if !ok || b.isEmpty() {
		w.mu.Unlock()

		return nil
	}

	events := b.events
	w.mu.Unlock()

	timer := metrics.NewTimer()

	path, err := w.WriteEvents(ctx, events, key)
	if err != nil {
		metrics.WriterFlushesTotal.WithLabelValues("error").Inc()

		return err
	}

	timer.ObserveDuration(metrics.WriterFlushDuration)
	metrics.WriterFlushesTotal.WithLabelValues("success").Inc()
	metrics.WriterFlushedEventsTotal.Add(float64(len(events)))

	w.mu.Lock()
	if cur, ok := w.buckets[key]; ok && len(cur.events) >= len(events) {
		cur.events = cur.events[len(events):]
	}
	w.mu.Unlock()

	w.logger.Info("flushed partition", "partition", key.Dir(), "path", path, "events", len(events))

	return nil
}

// WriteEvents encodes events as one columnar file under key's partition
// directory, named events_<HHMMSS>_<uuidv7>.parquet, and returns its path.
// The write is single-shot: the backend either produces the fully-formed
// object or nothing becomes visible under the final name.
func (w *Writer) WriteEvents(ctx context.Context, events []*wevent.Event, key Key) (string, error) {
	if len(events) == 0 {
		return "", errkind.Wrap(errkind.KindValidation, "writeEvents: empty batch", nil)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", errkind.Wrap(errkind.KindFatalIO, "generate file id", err)
	}

	name := fmt.Sprintf("events_%s_%s.parquet", time.Now().UTC().Format("150405"), id.String())
	path := key.Dir() + "/" + name

	out, err := w.backend.WriteTo(ctx, path)
	if err != nil {
		return "", errkind.Wrap(errkind.KindTransientIO, "open write stream", err)
	}

	rows := make([]wevent.Event, len(events))
	for i, e := range events {
		rows[i] = *e
	}

	pw := parquet.NewGenericWriter[wevent.Event](out)

	if _, err := pw.Write(rows); err != nil {
		_ = out.Close()

		return "", errkind.Wrap(errkind.KindFatalIO, "encode parquet rows", err)
	}

	if err := pw.Close(); err != nil {
		_ = out.Close()

		return "", errkind.Wrap(errkind.KindFatalIO, "close parquet writer", err)
	}

	if err := out.Close(); err != nil {
		return "", errkind.Wrap(errkind.KindTransientIO, "commit write stream", err)
	}

	return path, nil
}
