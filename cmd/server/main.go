// Package main provides the tracelake HTTP server: the ingest and
// async-query entrypoint over the columnar event store.
//
// It wires the cache, message bus, and API key store per environment
// configuration, then serves the ingest/query wire protocol described by
// the API package until a SIGINT/SIGTERM is received. The reader/writer
// and query executor live in cmd/processor, which consumes events and
// queries off the same bus.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/tracelake/tracelake/internal/api"
	"github.com/tracelake/tracelake/internal/api/middleware"
	"github.com/tracelake/tracelake/internal/apikey"
	"github.com/tracelake/tracelake/internal/asyncquery"
	"github.com/tracelake/tracelake/internal/bus"
	"github.com/tracelake/tracelake/internal/cache"
	"github.com/tracelake/tracelake/internal/config"
	"github.com/tracelake/tracelake/internal/db"
	"github.com/tracelake/tracelake/internal/ingest"
	"github.com/tracelake/tracelake/internal/sse"
)

const (
	version = "1.0.0-dev"
	name    = "server"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()
	appConfig := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting tracelake server",
		slog.String("version", version),
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("storage_kind", appConfig.Storage.Kind),
		slog.String("cache_kind", appConfig.Cache.Kind),
		slog.String("bus_kind", appConfig.Bus.Kind),
	)

	cacheStore, closeCache := newCache(appConfig.Cache, logger)
	defer closeCache()

	messageBus := newBus(appConfig.Bus)

	keyStore, closeKeyStore := newAPIKeyStore(logger)
	defer closeKeyStore()

	queryStore := asyncquery.New(cacheStore)
	intake := ingest.NewIntake(keyStore, messageBus)
	streamer := sse.New(queryStore, logger)

	rateLimiter := middleware.NewInMemoryRateLimiter(middleware.LoadConfig())
	defer rateLimiter.Close()

	server := api.NewServer(&serverConfig, keyStore, rateLimiter, intake, queryStore, streamer, messageBus)

	if err := server.Start(); err != nil {
		logger.Error("server failed to start", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("tracelake server stopped")
}

// newCache constructs the cache.Store backing the async query store,
// selected by CACHE_KIND: "memory" (default) or "redis". The returned
// closer releases the underlying client/sweep goroutine.
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

// newAPIKeyStore constructs the apikey.Store. Postgres-backed when
// DATABASE_URL is set (multi-node deployment); otherwise an in-memory
// store, suitable for single-node/dev use.
func newAPIKeyStore(logger *slog.Logger) (apikey.Store, func()) {
	dbConfig := db.LoadConfig()
	if err := dbConfig.Validate(); err != nil {
		logger.Warn("DATABASE_URL not set, using in-memory API key store")

		return apikey.NewMemoryStore(), func() {}
	}

	conn, err := db.NewConnection(dbConfig)
	if err != nil {
		logger.Error("failed to connect to database, falling back to in-memory API key store",
			slog.String("database_url", dbConfig.MaskDatabaseURL()),
			slog.Any("error", err))

		return apikey.NewMemoryStore(), func() {}
	}

	store := apikey.NewPostgresStore(conn, logger)

	return store, func() {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		}
	}
}
