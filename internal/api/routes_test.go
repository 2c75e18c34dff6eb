package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelake/tracelake/internal/api/middleware"
	"github.com/tracelake/tracelake/internal/apikey"
	"github.com/tracelake/tracelake/internal/asyncquery"
	"github.com/tracelake/tracelake/internal/bus"
	"github.com/tracelake/tracelake/internal/cache"
	"github.com/tracelake/tracelake/internal/ingest"
	"github.com/tracelake/tracelake/internal/sse"
	"github.com/tracelake/tracelake/internal/wevent"
)

// newTestServer builds a Server over in-memory collaborators, suitable for
// exercising handlers directly without a real storage/cache backend.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := LoadServerConfig()
	b := bus.NewMemoryBus()
	keys := apikey.NewMemoryStore()
	cacheStore := cache.NewMemoryStore(0)
	t.Cleanup(cacheStore.Close)
	queryStore := asyncquery.New(cacheStore)
	intake := ingest.NewIntake(keys, b)
	streamer := sse.New(queryStore, nil)
	rateLimiter := middleware.NewInMemoryRateLimiter(middleware.LoadConfig())
	t.Cleanup(rateLimiter.Close)

	return NewServer(&cfg, keys, rateLimiter, intake, queryStore, streamer, b)
}

// withAuth returns r with an authenticated AuthContext for orgID/projectID
// installed, as the auth middleware would after a successful API key check.
func withAuth(r *http.Request, orgID, projectID string) *http.Request {
	ctx := middleware.SetAuthContext(r.Context(), middleware.AuthContext{
		OrganizationID: orgID,
		ProjectID:      projectID,
		KeyID:          "key-1",
	})

	return r.WithContext(ctx)
}

func validEventBody(id string) map[string]any {
	return map[string]any{
		"event_id":   id,
		"timestamp":  int64(1_700_000_000_000),
		"project_id": "proj-1",
		"event_type": string(wevent.EventTypeLog),
		"message":    "hello",
	}
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	r := httptest.NewRequest(method, target, bytes.NewReader(data))
	r.Header.Set("Content-Type", "application/json")

	return r
}

func TestHandlePing(t *testing.T) {
	s := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()

	s.handlePing(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var health HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "tracelake", health.ServiceName)
}

func TestHandleReady(t *testing.T) {
	s := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", w.Body.String())
}

func TestHandleNotFound(t *testing.T) {
	s := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()

	s.handleNotFound(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, "not_found", problem.Code)
}

func TestDecodeJSONBody(t *testing.T) {
	s := newTestServer(t)

	t.Run("rejects missing content type", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader([]byte(`{}`)))
		w := httptest.NewRecorder()

		var v map[string]any
		ok := s.decodeJSONBody(w, r, &v)

		assert.False(t, ok)
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	})

	t.Run("rejects empty body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/events", nil)
		r.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		var v map[string]any
		ok := s.decodeJSONBody(w, r, &v)

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects oversized body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader([]byte(`{"a":1}`)))
		r.Header.Set("Content-Type", "application/json")
		r.ContentLength = s.config.MaxRequestSize + 1
		w := httptest.NewRecorder()

		var v map[string]any
		ok := s.decodeJSONBody(w, r, &v)

		assert.False(t, ok)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader([]byte(`{not json`)))
		r.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		var v map[string]any
		ok := s.decodeJSONBody(w, r, &v)

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("accepts charset parameter", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/events", bytes.NewReader([]byte(`{"a":1}`)))
		r.Header.Set("Content-Type", "application/json; charset=utf-8")
		w := httptest.NewRecorder()

		var v map[string]any
		ok := s.decodeJSONBody(w, r, &v)

		assert.True(t, ok)
		assert.Equal(t, float64(1), v["a"])
	})
}

func TestHandleIngestEvent(t *testing.T) {
	t.Run("accepts a bare event object", func(t *testing.T) {
		s := newTestServer(t)
		r := withAuth(jsonRequest(t, http.MethodPost, "/events", validEventBody("e1")), "org-1", "proj-1")
		w := httptest.NewRecorder()

		s.handleIngestEvent(w, r)

		assert.Equal(t, http.StatusAccepted, w.Code)

		var resp IngestAcceptedResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "accepted", resp.Status)
	})

	t.Run("accepts an events wrapper carrying exactly one event", func(t *testing.T) {
		s := newTestServer(t)
		body := map[string]any{"events": []map[string]any{validEventBody("e1")}}
		r := withAuth(jsonRequest(t, http.MethodPost, "/events", body), "org-1", "proj-1")
		w := httptest.NewRecorder()

		s.handleIngestEvent(w, r)

		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("rejects an events wrapper carrying more than one event", func(t *testing.T) {
		s := newTestServer(t)
		body := map[string]any{"events": []map[string]any{validEventBody("e1"), validEventBody("e2")}}
		r := withAuth(jsonRequest(t, http.MethodPost, "/events", body), "org-1", "proj-1")
		w := httptest.NewRecorder()

		s.handleIngestEvent(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects an invalid event", func(t *testing.T) {
		s := newTestServer(t)
		r := withAuth(jsonRequest(t, http.MethodPost, "/events", map[string]any{"event_id": "e1"}), "org-1", "proj-1")
		w := httptest.NewRecorder()

		s.handleIngestEvent(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleIngestBatch(t *testing.T) {
	t.Run("accepts a bare array", func(t *testing.T) {
		s := newTestServer(t)
		body := []map[string]any{validEventBody("e1"), validEventBody("e2")}
		r := withAuth(jsonRequest(t, http.MethodPost, "/events/batch", body), "org-1", "proj-1")
		w := httptest.NewRecorder()

		s.handleIngestBatch(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp BatchIngestResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Accepted)
		assert.Equal(t, 2, resp.Total)
	})

	t.Run("accepts an events wrapper", func(t *testing.T) {
		s := newTestServer(t)
		body := map[string]any{"events": []map[string]any{validEventBody("e1")}}
		r := withAuth(jsonRequest(t, http.MethodPost, "/events/batch", body), "org-1", "proj-1")
		w := httptest.NewRecorder()

		s.handleIngestBatch(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejects an empty array", func(t *testing.T) {
		s := newTestServer(t)
		r := withAuth(jsonRequest(t, http.MethodPost, "/events/batch", []map[string]any{}), "org-1", "proj-1")
		w := httptest.NewRecorder()

		s.handleIngestBatch(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects an empty events wrapper", func(t *testing.T) {
		s := newTestServer(t)
		body := map[string]any{"events": []map[string]any{}}
		r := withAuth(jsonRequest(t, http.MethodPost, "/events/batch", body), "org-1", "proj-1")
		w := httptest.NewRecorder()

		s.handleIngestBatch(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects a batch over the maximum size", func(t *testing.T) {
		s := newTestServer(t)

		events := make([]map[string]any, ingest.MaxBatchSize+1)
		for i := range events {
			events[i] = validEventBody("e")
		}

		r := withAuth(jsonRequest(t, http.MethodPost, "/events/batch", events), "org-1", "proj-1")
		w := httptest.NewRecorder()

		s.handleIngestBatch(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("reports partial success with per-index errors", func(t *testing.T) {
		s := newTestServer(t)
		body := []map[string]any{validEventBody("e1"), {"event_id": "bad"}}
		r := withAuth(jsonRequest(t, http.MethodPost, "/events/batch", body), "org-1", "proj-1")
		w := httptest.NewRecorder()

		s.handleIngestBatch(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp BatchIngestResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Accepted)
		require.Len(t, resp.Errors, 1)
	})

	t.Run("returns unprocessable entity when every event is rejected", func(t *testing.T) {
		s := newTestServer(t)
		body := []map[string]any{{"event_id": "bad"}}
		r := withAuth(jsonRequest(t, http.MethodPost, "/events/batch", body), "org-1", "proj-1")
		w := httptest.NewRecorder()

		s.handleIngestBatch(w, r)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestHandleSubmitQuery(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{"projectId": "proj-1", "limit": 50}
	r := withAuth(jsonRequest(t, http.MethodPost, "/query", body), "org-1", "proj-1")
	w := httptest.NewRecorder()

	s.handleSubmitQuery(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp QuerySubmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.QueryID)
	assert.Equal(t, "/query/"+resp.QueryID+"/stream", resp.StreamURL)
	assert.Equal(t, "/query/"+resp.QueryID+"/cancel", resp.CancelURL)
	assert.Equal(t, "/query/"+resp.QueryID+"/status", resp.StatusURL)

	state, err := s.queryStore.GetQueryState(r.Context(), resp.QueryID)
	require.NoError(t, err)
	assert.Equal(t, "org-1", state.OrganizationID)
}

func TestHandleQueryStatus(t *testing.T) {
	s := newTestServer(t)

	t.Run("returns not found for an unknown query", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/query/missing/status", nil)
		r.SetPathValue("queryId", "missing")
		w := httptest.NewRecorder()

		s.handleQueryStatus(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("returns the current state", func(t *testing.T) {
		ctx := t.Context()
		require.NoError(t, s.queryStore.InitializeQuery(ctx, "q1", "key-1", "org-1", []byte(`{}`)))

		r := httptest.NewRequest(http.MethodGet, "/query/q1/status", nil)
		r.SetPathValue("queryId", "q1")
		w := httptest.NewRecorder()

		s.handleQueryStatus(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp QueryStatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "pending", resp.Status)
	})
}

func TestHandleQueryCancel(t *testing.T) {
	s := newTestServer(t)

	t.Run("returns not found for an unknown query", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/query/missing/cancel", nil)
		r.SetPathValue("queryId", "missing")
		w := httptest.NewRecorder()

		s.handleQueryCancel(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("requests cancellation for a pending query", func(t *testing.T) {
		ctx := t.Context()
		require.NoError(t, s.queryStore.InitializeQuery(ctx, "q2", "key-1", "org-1", []byte(`{}`)))

		r := httptest.NewRequest(http.MethodPost, "/query/q2/cancel", nil)
		r.SetPathValue("queryId", "q2")
		w := httptest.NewRecorder()

		s.handleQueryCancel(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp QueryCancelResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
	})
}
