// Package main provides the tracelake compactor: a cron-scheduled worker
// that merges small per-flush event files into larger block files across
// every partition in the columnar store.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/tracelake/tracelake/internal/compaction"
	"github.com/tracelake/tracelake/internal/config"
	"github.com/tracelake/tracelake/internal/storage"
)

const (
	version = "1.0.0-dev"
	name    = "compactor"

	// defaultSchedule runs a compaction sweep every 10 minutes.
	defaultSchedule = "0 */10 * * * *"
)

var partitionDirPattern = regexp.MustCompile(
	`^(organization_id=[^/]+/project_id=[^/]+/event_type=[^/]+/dt=\d{4}-\d{2}-\d{2})/`)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	schedule := flag.String("schedule", defaultSchedule, "cron schedule for compaction sweeps")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	appConfig := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	backend, err := newBackend(appConfig.Storage)
	if err != nil {
		logger.Error("failed to initialize storage backend", slog.Any("error", err))
		os.Exit(1)
	}

	engine := compaction.New(backend, logger)

	logger.Info("starting tracelake compactor",
		slog.String("version", version),
		slog.String("schedule", *schedule),
		slog.Int64("max_block_bytes", appConfig.Compaction.MaxBlockBytes),
		slog.Int("max_files_per_batch", appConfig.Compaction.MaxFilesPerBatch),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := cron.New(cron.WithSeconds())

	_, err = scheduler.AddFunc(*schedule, func() {
		runSweep(ctx, engine, backend, logger)
	})
	if err != nil {
		logger.Error("invalid cron schedule", slog.String("schedule", *schedule), slog.Any("error", err))
		os.Exit(1)
	}

	scheduler.Start()
	defer scheduler.Stop()

	<-ctx.Done()
	logger.Info("shutdown signal received, compactor stopping")
}

// runSweep discovers every partition directory and compacts each, logging
// a summary. A failing partition never blocks the rest of the sweep.
func runSweep(ctx context.Context, engine *compaction.Engine, backend storage.Backend, logger *slog.Logger) {
	dirs, err := discoverPartitions(ctx, backend)
	if err != nil {
		logger.Error("failed to discover partitions", slog.Any("error", err))

		return
	}

	if len(dirs) == 0 {
		logger.Info("compaction sweep found no partitions")

		return
	}

	summary := engine.CompactPartitions(ctx, dirs)

	logger.Info("compaction sweep complete",
		slog.Int("partitions", len(dirs)),
		slog.Int("results", len(summary.Results)),
		slog.Int("errors", summary.Errors),
	)
}

// discoverPartitions walks the backend once and returns every distinct
// partition directory it names, matching the Hive-style layout the writer
// produces (organization_id=.../project_id=.../event_type=.../dt=...).
func discoverPartitions(ctx context.Context, backend storage.Backend) ([]string, error) {
	files, err := backend.List(ctx, "")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)

	var dirs []string

	for _, f := range files {
		m := partitionDirPattern.FindStringSubmatch(f.Path)
		if m == nil {
			continue
		}

		if !seen[m[1]] {
			seen[m[1]] = true

			dirs = append(dirs, m[1])
		}
	}

	return dirs, nil
}

// newBackend constructs the columnar storage.Backend selected by
// STORAGE_KIND: "local" (default, directory tree) or "s3".
func newBackend(cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Kind {
	case "s3":
		return storage.NewS3Backend(context.Background(), storage.S3Config{
			Bucket:   cfg.S3.Bucket,
			Endpoint: cfg.S3.Endpoint,
			Region:   cfg.S3.Region,
			Key:      cfg.S3.Key,
			Secret:   cfg.S3.Secret,
		})
	default:
		return storage.NewLocalBackend(cfg.BasePath)
	}
}
