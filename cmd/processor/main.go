// Package main provides the tracelake processor: the background worker
// that drains the message bus, writing ingested events to the columnar
// store and executing async queries and facet batches against it.
//
// It runs one consumer goroutine per bus topic (ProcessEvent, ExecuteQuery,
// ComputeFacetBatch) until a SIGINT/SIGTERM is received.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/tracelake/tracelake/internal/asyncquery"
	"github.com/tracelake/tracelake/internal/bus"
	"github.com/tracelake/tracelake/internal/cache"
	"github.com/tracelake/tracelake/internal/config"
	"github.com/tracelake/tracelake/internal/db"
	"github.com/tracelake/tracelake/internal/ingest"
	"github.com/tracelake/tracelake/internal/issue"
	"github.com/tracelake/tracelake/internal/query"
	"github.com/tracelake/tracelake/internal/reader"
	"github.com/tracelake/tracelake/internal/storage"
	"github.com/tracelake/tracelake/internal/writer"
)

const (
	version = "1.0.0-dev"
	name    = "processor"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	appConfig := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger.Info("starting tracelake processor",
		slog.String("version", version),
		slog.String("storage_kind", appConfig.Storage.Kind),
		slog.String("cache_kind", appConfig.Cache.Kind),
		slog.String("bus_kind", appConfig.Bus.Kind),
	)

	backend, err := newBackend(appConfig.Storage)
	if err != nil {
		logger.Error("failed to initialize storage backend", slog.Any("error", err))
		os.Exit(1)
	}

	cacheStore, closeCache := newCache(appConfig.Cache, logger)
	defer closeCache()

	messageBus := newBus(appConfig.Bus)

	issueStore, closeIssueStore := newIssueStore(logger)
	defer closeIssueStore()

	eventWriter := writer.New(backend, logger)
	eventReader := reader.New(backend, logger)
	executor := query.New(eventReader)
	queryStore := asyncquery.New(cacheStore)

	eventProcessor := ingest.NewProcessor(issueStore, eventWriter, logger)
	queryProcessor := asyncquery.NewProcessor(queryStore, executor, messageBus, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	consume := func(topic string, handler bus.Handler) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := messageBus.Consume(ctx, topic, handler); err != nil && ctx.Err() == nil {
				logger.Error("consumer stopped unexpectedly", slog.String("topic", topic), slog.Any("error", err))
			}
		}()
	}

	consume(bus.TopicProcessEvent, eventProcessor.HandleProcessEvent)
	consume(bus.TopicExecuteQuery, queryProcessor.HandleExecuteQuery)
	consume(bus.TopicComputeFacetBatch, queryProcessor.HandleComputeFacetBatch)

	logger.Info("processor consuming bus topics",
		slog.String("process_event", bus.TopicProcessEvent),
		slog.String("execute_query", bus.TopicExecuteQuery),
		slog.String("compute_facet_batch", bus.TopicComputeFacetBatch),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining consumers")
	wg.Wait()

	if err := messageBus.Close(); err != nil {
		logger.Error("failed to close bus", slog.Any("error", err))
	}

	logger.Info("tracelake processor stopped")
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

// newCache constructs the cache.Store backing the async query store,
// selected by CACHE_KIND: "memory" (default) or "redis".
func newCache(cfg config.CacheConfig, logger *slog.Logger) (cache.Store, func()) {
	switch cfg.Kind {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

		return cache.NewRedisStore(client), func() {
			if err := client.Close(); err != nil {
				logger.Error("failed to close redis client", slog.Any("error", err))
			}
		}
	default:
		store := cache.NewMemoryStore(cfg.MemorySweep)

		return store, store.Close
	}
}

// newBus constructs the bus.Bus selected by BUS_KIND: "memory" (default,
// single-process) or "kafka".
func newBus(cfg config.BusConfig) bus.Bus {
	switch cfg.Kind {
	case "kafka":
		return bus.NewKafkaBus(bus.KafkaConfig{
			Brokers: cfg.Brokers,
			GroupID: cfg.GroupID,
		})
	default:
		return bus.NewMemoryBus()
	}
}

// newIssueStore constructs the issue.Store. Postgres-backed when
// DATABASE_URL is set (multi-node deployment); otherwise in-memory.
func newIssueStore(logger *slog.Logger) (issue.Store, func()) {
	dbConfig := db.LoadConfig()
	if err := dbConfig.Validate(); err != nil {
		logger.Warn("DATABASE_URL not set, using in-memory issue store")

		return issue.NewMemoryStore(), func() {}
	}

	conn, err := db.NewConnection(dbConfig)
	if err != nil {
		logger.Error("failed to connect to database, falling back to in-memory issue store",
			slog.String("database_url", dbConfig.MaskDatabaseURL()),
			slog.Any("error", err))

		return issue.NewMemoryStore(), func() {}
	}

	store := issue.NewPostgresStore(conn)

	return store, func() {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		}
	}
}
