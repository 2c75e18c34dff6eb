package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProblemDetailConstructors(t *testing.T) {
	cases := []struct {
		name       string
		problem    *ProblemDetail
		wantStatus int
		wantCode   string
	}{
		{"bad request", BadRequest("bad"), http.StatusBadRequest, "bad_request"},
		{"not found", NotFound("missing"), http.StatusNotFound, "not_found"},
		{"unauthorized", Unauthorized("nope"), http.StatusUnauthorized, "unauthorized"},
		{"forbidden", Forbidden("nope"), http.StatusForbidden, "forbidden"},
		{"rate limited", TooManyRequests("slow down"), http.StatusTooManyRequests, "rate_limited"},
		{"internal error", InternalServerError("oops"), http.StatusInternalServerError, "error"},
		{"unprocessable", UnprocessableEntity("bad shape"), http.StatusUnprocessableEntity, "bad_request"},
		{"unsupported media type", UnsupportedMediaType("wrong type"), http.StatusUnsupportedMediaType, "bad_request"},
		{"payload too large", PayloadTooLarge("too big"), http.StatusRequestEntityTooLarge, "bad_request"},
		{"method not allowed", MethodNotAllowed("nope"), http.StatusMethodNotAllowed, "bad_request"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantStatus, tc.problem.Status)
			assert.Equal(t, tc.wantCode, tc.problem.Code)
		})
	}
}

func TestWriteErrorResponseFillsInstanceAndCorrelationID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()

	WriteErrorResponse(w, r, nil, BadRequest("bad input"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, "/events", problem.Instance)
	assert.Equal(t, "bad_request", problem.Code)
}

func TestWriteErrorResponsePreservesExplicitInstance(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()

	problem := BadRequest("bad input").WithInstance("/custom").WithCorrelationID("corr-1")
	WriteErrorResponse(w, r, nil, problem)

	var got ProblemDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "/custom", got.Instance)
	assert.Equal(t, "corr-1", got.CorrelationID)
}
