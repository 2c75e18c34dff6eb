// Package api provides HTTP API server implementation for the ingest and query service.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tracelake/tracelake/internal/api/middleware"
	"github.com/tracelake/tracelake/internal/apikey"
	"github.com/tracelake/tracelake/internal/asyncquery"
	"github.com/tracelake/tracelake/internal/bus"
	"github.com/tracelake/tracelake/internal/ingest"
	"github.com/tracelake/tracelake/internal/sse"
)

// Server is the HTTP entrypoint over the ingest and async-query engine: it
// wires the API key store, rate limiter, intake, async query store, and SSE
// streamer behind the middleware chain, and owns their lifecycle.
type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	config      *ServerConfig
	startTime   time.Time
	apiKeyStore apikey.Store
	rateLimiter middleware.RateLimiter
	intake      *ingest.Intake
	queryStore  *asyncquery.Store
	streamer    *sse.Streamer
	bus         bus.Bus
}

// NewServer wires the HTTP surface over its collaborators and builds the
// middleware chain (correlation ID, recovery, auth, rate limit, request
// logging, CORS) around the mux (spec §9: collaborators passed explicitly,
// no module-level singletons).
func NewServer(
	cfg *ServerConfig,
	apiKeyStore apikey.Store,
	rateLimiter middleware.RateLimiter,
	intake *ingest.Intake,
	queryStore *asyncquery.Store,
	streamer *sse.Streamer,
	b bus.Bus,
) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if intake == nil || queryStore == nil || streamer == nil || b == nil {
		panic("api: intake, queryStore, streamer, and bus are required")
	}

	mux := http.NewServeMux()

	server := &Server{
		logger:      logger,
		config:      cfg,
		startTime:   time.Now(),
		apiKeyStore: apiKeyStore,
		rateLimiter: rateLimiter,
		intake:      intake,
		queryStore:  queryStore,
		streamer:    streamer,
		bus:         b,
	}

	server.setupRoutes(mux)

	logger.Info("server dependencies configured",
		slog.Bool("api_key_store", apiKeyStore != nil),
		slog.Bool("rate_limiter", rateLimiter != nil),
	)

	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAuth(apiKeyStore, logger),
		middleware.WithRateLimit(rateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start runs the HTTP server until a SIGINT/SIGTERM is received or
// ListenAndServe fails, then shuts down its dependencies.
func (s *Server) Start() error {
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", slog.String("address", s.httpServer.Addr))

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown drains in-flight requests and closes every closeable dependency.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("graceful shutdown failed, forcing close", slog.Any("error", err))

		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("forced close failed: %w", closeErr)
		}
	}

	s.closeDependency("api_key_store", s.apiKeyStore)
	s.closeDependency("bus", s.bus)

	return nil
}

// closeDependency closes dep if it implements io.Closer, logging the outcome.
func (s *Server) closeDependency(name string, dep any) {
	closer, ok := dep.(io.Closer)
	if !ok || closer == nil {
		return
	}

	if err := closer.Close(); err != nil {
		s.logger.Error("failed to close dependency", slog.String("dependency", name), slog.Any("error", err))

		return
	}

	s.logger.Info("dependency closed", slog.String("dependency", name))
}
