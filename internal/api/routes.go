// Package api provides HTTP API server implementation for the ingest and query service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tracelake/tracelake/internal/api/middleware"
	"github.com/tracelake/tracelake/internal/asyncquery"
	"github.com/tracelake/tracelake/internal/bus"
	"github.com/tracelake/tracelake/internal/ingest"
	"github.com/tracelake/tracelake/internal/metrics"
	"github.com/tracelake/tracelake/internal/query"
)

const (
	healthCheckTimeout = 2 * time.Second
	expectedURLParts   = 2
)

// Route represents an HTTP route configuration with a path and handler.
// Used for declarative route registration with middleware bypass support.
type Route struct {
	Path    string           // The URL path for this route (e.g., "/ping", "/api/v1/health")
	Handler http.HandlerFunc // The HTTP handler function for this route
}

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Public endpoints
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", s.handlePing},       // K8s liveness probe
		Route{"GET /ready", s.handleReady},     // K8s readiness probe
		Route{"GET /health", s.handleHealth},   // Basic health check - status, uptime, version
		Route{"GET /metrics", s.handleMetrics}, // Prometheus scrape target
		Route{"/", s.handleNotFound},           // Catch-all handler for 404 responses
	)

	// Ingest endpoints (spec §6: wire protocol (ingest))
	mux.HandleFunc("POST /events", s.handleIngestEvent)
	mux.HandleFunc("POST /events/batch", s.handleIngestBatch)

	// Query surface (spec §6: submit/status/cancel/stream)
	mux.HandleFunc("POST /query", s.handleSubmitQuery)
	mux.HandleFunc("GET /query/{queryId}/status", s.handleQueryStatus)
	mux.HandleFunc("POST /query/{queryId}/cancel", s.handleQueryCancel)
	mux.HandleFunc("GET /query/{queryId}/stream", s.handleQueryStream)
}

// registerPublicRoutes registers HTTP routes that bypass authentication and rate limiting.
// This is a convenience method that:
//  1. Registers the route handler with the HTTP mux
//  2. Automatically registers the path as a public endpoint (bypasses auth middleware)
//
// Public routes should only be used for health check endpoints that need to be accessible
// without authentication (e.g., K8s liveness/readiness probes, monitoring tools).
//
// Security Warning: Never register business logic endpoints as public routes.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	validHTTPMethods := map[string]bool{
		"GET":    true,
		"POST":   true,
		"PUT":    true,
		"PATCH":  true,
		"DELETE": true,
	}

	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		// Strip method prefix for public endpoint bypass registration
		// Go 1.22+ method-based routing uses "GET /path" format
		// But r.URL.Path is just "/path" (no method prefix)
		path := route.Path

		parts := strings.Fields(path)
		if len(parts) == expectedURLParts && validHTTPMethods[parts[0]] {
			path = strings.TrimSpace(parts[1])
		}

		if path == "" {
			s.logger.Warn("Malformed route path detected, ignoring route", slog.String("path", path))

			continue
		}

		middleware.RegisterPublicEndpoint(path)
	}
}

// handlePing responds to ping requests for basic server validation.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logger.Error("Failed to write ping response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleReady responds to Kubernetes readiness probes with a dependency health check.
//
// Response codes:
//   - 200 OK: the API key store is healthy and ready to serve traffic
//   - 503 Service Unavailable: the API key store is unhealthy or unreachable
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if s.apiKeyStore == nil { // pragma: allowlist secret
		s.logger.Warn("API key store not configured - readiness check disabled",
			slog.String("correlation_id", correlationID),
		)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))

		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.apiKeyStore.HealthCheck(ctx); err != nil {
		s.logger.Error("API key store health check failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("storage unavailable"))

		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleHealth returns detailed health status information.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	var uptime string
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	health := HealthStatus{
		Status:      "healthy",
		ServiceName: "tracelake",
		Version:     "v1.0.0",
		Uptime:      uptime,
	}

	data, err := json.Marshal(health)
	if err != nil {
		s.logger.Error("Failed to encode health response",
			slog.String("correlation_id", correlationID), slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode health response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write health response",
			slog.String("correlation_id", correlationID), slog.String("error", err.Error()))
	}
}

// handleMetrics serves the Prometheus exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.Handler().ServeHTTP(w, r)
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// decodeJSONBody enforces Content-Type and size limits before decoding v from r's body.
func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return false
	}

	if r.ContentLength == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("Request body cannot be empty"))

		return false
	}

	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		WriteErrorResponse(w, r, s.logger,
			PayloadTooLarge(fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize)))

		return false
	}

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(v); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON: "+err.Error()))

		return false
	}

	return true
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}

// handleIngestEvent handles POST /events: a single event, or an
// {events: [...]} wrapper carrying exactly one (spec §6).
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	authCtx, _ := middleware.GetAuthContext(r.Context())

	raw := json.RawMessage{}
	if !s.decodeJSONBody(w, r, &raw) {
		return
	}

	event, problem := extractSingleEvent(raw)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	environment, _ := event["environment"].(string)

	if err := s.intake.IngestOne(r.Context(), authCtx.ProjectID, environment, event); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	writeJSON(w, r, s.logger, http.StatusAccepted,
		IngestAcceptedResponse{Status: "accepted", Message: "event queued for processing"})
}

// extractSingleEvent accepts either a bare event object or {events: [...]}
// wrapping exactly one event.
func extractSingleEvent(raw json.RawMessage) (map[string]any, *ProblemDetail) {
	var envelope EventEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Events != nil {
		if len(envelope.Events) != 1 {
			return nil, BadRequest("events wrapper must contain exactly one event")
		}

		return envelope.Events[0], nil
	}

	var event map[string]any
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, BadRequest("Invalid JSON: " + err.Error())
	}

	return event, nil
}

// handleIngestBatch handles POST /events/batch: {events: [...]} or a bare
// array, capped at ingest.MaxBatchSize (spec §6, §4.10).
func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	authCtx, _ := middleware.GetAuthContext(r.Context())

	raw := json.RawMessage{}
	if !s.decodeJSONBody(w, r, &raw) {
		return
	}

	events, problem := extractBatchEvents(raw)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	var environment string
	if len(events) > 0 {
		environment, _ = events[0]["environment"].(string)
	}

	result, err := s.intake.IngestBatch(r.Context(), authCtx.ProjectID, environment, events)
	if err != nil {
		if errors.Is(err, ingest.ErrBatchTooLarge) {
			WriteErrorResponse(w, r, s.logger,
				BadRequest(fmt.Sprintf("batch exceeds maximum size of %d events", ingest.MaxBatchSize)))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to process batch"))

		return
	}

	resp := BatchIngestResponse{Status: "accepted", Accepted: result.Accepted, Total: len(events)}

	for _, item := range result.Results {
		if !item.Valid {
			resp.Errors = append(resp.Errors, fmt.Sprintf("index %d: %s", item.Index, item.Error))
		}
	}

	statusCode := http.StatusOK
	if result.Rejected > 0 && result.Accepted == 0 {
		statusCode = http.StatusUnprocessableEntity
	}

	writeJSON(w, r, s.logger, statusCode, resp)
}

// extractBatchEvents accepts either {events: [...]} or a bare JSON array.
func extractBatchEvents(raw json.RawMessage) ([]map[string]any, *ProblemDetail) {
	var envelope BatchEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Events != nil {
		if len(envelope.Events) == 0 {
			return nil, BadRequest("events array cannot be empty")
		}

		return envelope.Events, nil
	}

	var events []map[string]any
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, BadRequest("Invalid JSON: " + err.Error())
	}

	if len(events) == 0 {
		return nil, BadRequest("events array cannot be empty")
	}

	return events, nil
}

// handleSubmitQuery handles submit(request) (spec §6): it initializes
// pending async-query state and publishes one ExecuteQuery message; the
// asyncquery.Processor consuming that topic drives the rest of the
// lifecycle.
func (s *Server) handleSubmitQuery(w http.ResponseWriter, r *http.Request) {
	authCtx, _ := middleware.GetAuthContext(r.Context())

	var req query.Request
	if !s.decodeJSONBody(w, r, &req) {
		return
	}

	req.OrganizationID = authCtx.OrganizationID
	if req.ProjectID == "" {
		req.ProjectID = authCtx.ProjectID
	}

	queryID := uuid.NewString()

	requestJSON, err := json.Marshal(req)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode query request"))

		return
	}

	if err := s.queryStore.InitializeQuery(r.Context(), queryID, authCtx.KeyID, authCtx.OrganizationID, requestJSON); err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to initialize query"))

		return
	}

	payload, err := json.Marshal(asyncquery.ExecuteQueryPayload{QueryID: queryID, Request: req})
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode execute-query message"))

		return
	}

	msg := bus.Message{Type: bus.TypeExecuteQuery, Key: queryID, Payload: payload}
	if err := s.bus.Publish(r.Context(), bus.TopicExecuteQuery, msg); err != nil {
		s.logger.Error("Failed to publish execute-query message",
			slog.String("query_id", queryID), slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to submit query"))

		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, QuerySubmitResponse{
		QueryID:   queryID,
		StreamURL: "/query/" + queryID + "/stream",
		CancelURL: "/query/" + queryID + "/cancel",
		StatusURL: "/query/" + queryID + "/status",
	})
}

// handleQueryStatus handles status(queryId) (spec §6).
func (s *Server) handleQueryStatus(w http.ResponseWriter, r *http.Request) {
	queryID := r.PathValue("queryId")

	state, err := s.queryStore.GetQueryState(r.Context(), queryID)
	if err != nil {
		if errors.Is(err, asyncquery.ErrNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("query not found"))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load query state"))

		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, QueryStatusResponse{
		Status:    string(state.Status),
		Progress:  state.Progress,
		Error:     state.Error,
		HasResult: len(state.Result) > 0,
	})
}

// handleQueryCancel handles cancel(queryId) (spec §6). Cancellation is
// cooperative: it only flags the query for the executor to notice on its
// next checkpoint (spec §5).
func (s *Server) handleQueryCancel(w http.ResponseWriter, r *http.Request) {
	queryID := r.PathValue("queryId")

	if err := s.queryStore.RequestCancellation(r.Context(), queryID); err != nil {
		if errors.Is(err, asyncquery.ErrNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("query not found"))

			return
		}

		writeJSON(w, r, s.logger, http.StatusOK, QueryCancelResponse{Success: false, Message: err.Error()})

		return
	}

	writeJSON(w, r, s.logger, http.StatusOK, QueryCancelResponse{Success: true, Message: "cancellation requested"})
}

// handleQueryStream handles stream(queryId): server-sent events per spec §4.9.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	queryID := r.PathValue("queryId")

	if err := s.streamer.Stream(r.Context(), w, queryID); err != nil {
		if errors.Is(err, asyncquery.ErrNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("query not found"))

			return
		}

		s.logger.Error("SSE stream terminated with error",
			slog.String("query_id", queryID), slog.String("error", err.Error()))
	}
}

// writeJSON marshals and writes v as the JSON response body with statusCode.
func writeJSON(w http.ResponseWriter, r *http.Request, logger *slog.Logger, statusCode int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		correlationID := middleware.GetCorrelationID(r.Context())
		logger.Error("Failed to marshal response",
			slog.String("correlation_id", correlationID), slog.String("error", err.Error()))
		WriteErrorResponse(w, r, logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if _, err := w.Write(data); err != nil {
		correlationID := middleware.GetCorrelationID(r.Context())
		logger.Error("Failed to write response",
			slog.String("correlation_id", correlationID), slog.String("error", err.Error()))
	}
}
