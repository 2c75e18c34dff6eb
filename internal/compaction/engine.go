package compaction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/tracelake/tracelake/internal/metrics"
	"github.com/tracelake/tracelake/internal/storage"
	"github.com/tracelake/tracelake/internal/wevent"
)

// MaxFilesPerBatch bounds how many source files a single partition run
// reads in one pass, to bound memory (spec §4.5 step 1).
const MaxFilesPerBatch = 100

// compressionFactor and block row bounds drive the rows-per-block estimate
// (spec §4.5 step 5): sample a few events' JSON-encoded size, divide by this
// factor to approximate the on-disk columnar size, then clamp.
const (
	compressionFactor = 3
	targetBlockBytes  = 50 * 1024 * 1024
	minRowsPerBlock   = 1_000
	maxRowsPerBlock   = 1_000_000
	sampleSize        = 20
)

// Result reports the outcome of compacting a single partition.
type Result struct {
	PartitionPath string
	FilesRemoved  int
	EventsCount   int
	Outputs       []string
	Empty         bool
	Err           error
}

// Summary aggregates Results across one compaction run.
type Summary struct {
	Results []Result
	Errors  int
}

// Engine runs the compaction algorithm described in spec §4.5.
type Engine struct {
	backend storage.Backend
	locker  *Locker
	logger  *slog.Logger
}

// New constructs an Engine over backend, with its own Locker.
func New(backend storage.Backend, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{backend: backend, locker: NewLocker(), logger: logger}
}

// CompactPartitions compacts every partition directory in dirs, returning a
// Summary. A per-partition error is non-fatal and counted in Summary.Errors;
// a skipped (lock-held) partition is neither an error nor a Result.
func (e *Engine) CompactPartitions(ctx context.Context, dirs []string) Summary {
	var summary Summary

	for _, dir := range dirs {
		key := LockKey(dir)

		release, ok := e.locker.TryLock(key)
		if !ok {
			e.logger.Info("skipping partition, lock held by another worker", "partition", dir)

			continue
		}

		timer := metrics.NewTimer()
		result := e.compactOne(ctx, dir)
		timer.ObserveDuration(metrics.CompactionDuration)
		release()

		if result.Err != nil {
			summary.Errors++
			metrics.CompactionRunsTotal.WithLabelValues("error").Inc()
			e.logger.Error("partition compaction failed", "partition", dir, "error", result.Err)
		} else {
			metrics.CompactionRunsTotal.WithLabelValues("success").Inc()
			metrics.CompactionFilesRemoved.Add(float64(result.FilesRemoved))
			metrics.CompactionEventsProcessed.Add(float64(result.EventsCount))
		}

		summary.Results = append(summary.Results, result)
	}

	return summary
}

// compactOne runs the read-all/write-all/delete-sources algorithm for one
// partition directory, already holding its lock.
func (e *Engine) compactOne(ctx context.Context, dir string) Result {
	files, err := e.backend.List(ctx, dir)
	if err != nil {
		return Result{PartitionPath: dir, Err: fmt.Errorf("list sources: %w", err)}
	}

	sources := sourceFiles(files)
	if len(sources) > MaxFilesPerBatch {
		sources = sources[:MaxFilesPerBatch]
	}

	if len(sources) == 0 {
		return Result{PartitionPath: dir, Empty: true}
	}

	var events []*wevent.Event

	for _, f := range sources {
		rows, err := e.readFile(ctx, f.Path)
		if err != nil {
			return Result{PartitionPath: dir, Err: fmt.Errorf("read %s: %w", f.Path, err)}
		}

		events = append(events, rows...)
	}

	if len(events) == 0 {
		for _, f := range sources {
			_ = e.backend.Remove(ctx, f.Path)
		}

		return Result{PartitionPath: dir, FilesRemoved: len(sources), Empty: true}
	}

	rowsPerBlock := estimateRowsPerBlock(events)

	outputs, err := e.writeBlocks(ctx, dir, events, rowsPerBlock)
	if err != nil {
		// Step 6: a failure here must leave old and any partial new files
		// coexisting; the next run re-merges. Sources are NOT deleted.
		return Result{PartitionPath: dir, Outputs: outputs, Err: fmt.Errorf("write blocks: %w", err)}
	}

	for _, f := range sources {
		if err := e.backend.Remove(ctx, f.Path); err != nil {
			e.logger.Warn("failed to remove compacted source file", "path", f.Path, "error", err)
		}
	}

	return Result{
		PartitionPath: dir,
		FilesRemoved:  len(sources),
		EventsCount:   len(events),
		Outputs:       outputs,
	}
}

func sourceFiles(files []storage.FileStatus) []storage.FileStatus {
	out := make([]storage.FileStatus, 0, len(files))

	for _, f := range files {
		base := f.Path
		if i := strings.LastIndex(base, "/"); i >= 0 {
			base = base[i+1:]
		}

		if strings.HasPrefix(base, "events_") {
			out = append(out, f)
		}
	}

	return out
}

func (e *Engine) readFile(ctx context.Context, path string) ([]*wevent.Event, error) {
	rc, err := e.backend.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, err
	}

	pr := parquet.NewGenericReader[wevent.Event](bytes.NewReader(buf.Bytes()))
	defer func() { _ = pr.Close() }()

	rows := make([]wevent.Event, pr.NumRows())

	n, err := pr.Read(rows)
	if err != nil && n == 0 {
		return nil, err
	}

	out := make([]*wevent.Event, n)
	for i := range out {
		r := rows[i]
		out[i] = &r
	}

	return out, nil
}

// estimateRowsPerBlock samples up to sampleSize events, JSON-encodes them to
// approximate serialized size, divides by compressionFactor to approximate
// the columnar on-disk size, and derives a rows-per-block target clamped to
// [minRowsPerBlock, maxRowsPerBlock] (spec §4.5 step 5).
func estimateRowsPerBlock(events []*wevent.Event) int {
	n := len(events)
	if n > sampleSize {
		n = sampleSize
	}

	var sampledBytes int

	for _, e := range events[:n] {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}

		sampledBytes += len(data)
	}

	if sampledBytes == 0 || n == 0 {
		return minRowsPerBlock
	}

	avgBytes := sampledBytes / n
	estimatedColumnarBytes := avgBytes / compressionFactor

	if estimatedColumnarBytes <= 0 {
		return maxRowsPerBlock
	}

	rows := targetBlockBytes / estimatedColumnarBytes

	if rows < minRowsPerBlock {
		return minRowsPerBlock
	}

	if rows > maxRowsPerBlock {
		return maxRowsPerBlock
	}

	return rows
}

// writeBlocks splits events into contiguous chunks of rowsPerBlock and
// writes each as a fresh block_<HHMMSS>_<idx2>_<uuidv7>.parquet file.
func (e *Engine) writeBlocks(ctx context.Context, dir string, events []*wevent.Event, rowsPerBlock int) ([]string, error) {
	var outputs []string

	hhmmss := time.Now().UTC().Format("150405")

	for idx := 0; idx*rowsPerBlock < len(events); idx++ {
		start := idx * rowsPerBlock
		end := start + rowsPerBlock

		if end > len(events) {
			end = len(events)
		}

		id, err := uuid.NewV7()
		if err != nil {
			return outputs, fmt.Errorf("generate block id: %w", err)
		}

		name := fmt.Sprintf("block_%s_%02d_%s.parquet", hhmmss, idx, id.String())
		path := dir + "/" + name

		if err := e.writeBlock(ctx, path, events[start:end]); err != nil {
			return outputs, err
		}

		outputs = append(outputs, path)
	}

	return outputs, nil
}

func (e *Engine) writeBlock(ctx context.Context, path string, events []*wevent.Event) error {
	out, err := e.backend.WriteTo(ctx, path)
	if err != nil {
		return fmt.Errorf("open write stream for %s: %w", path, err)
	}

	rows := make([]wevent.Event, len(events))
	for i, ev := range events {
		rows[i] = *ev
	}

	pw := parquet.NewGenericWriter[wevent.Event](out)

	if _, err := pw.Write(rows); err != nil {
		_ = out.Close()

		return fmt.Errorf("encode block %s: %w", path, err)
	}

	if err := pw.Close(); err != nil {
		_ = out.Close()

		return fmt.Errorf("close block writer %s: %w", path, err)
	}

	return out.Close()
}
