// Package api provides HTTP API server implementation for the ingest and query service.
package api

// Version represents the API version response structure.
type Version struct {
	Version     string `json:"version"`
	ServiceName string `json:"serviceName"`
	BuildInfo   string `json:"buildInfo,omitempty"`
}

// HealthStatus represents the health check response structure.
type HealthStatus struct {
	Status      string `json:"status"`
	ServiceName string `json:"serviceName"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime,omitempty"`
}

// EventEnvelope wraps a single-event POST /events body, allowing either a
// bare event object or an {events: [...]} wrapper carrying exactly one.
type EventEnvelope struct {
	Events []map[string]any `json:"events,omitempty"`
}

// IngestAcceptedResponse is the POST /events response body.
type IngestAcceptedResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// BatchEnvelope wraps a POST /events/batch body, allowing either a bare
// array or an {events: [...]} wrapper.
type BatchEnvelope struct {
	Events []map[string]any `json:"events"`
}

// BatchIngestResponse is the POST /events/batch response body.
type BatchIngestResponse struct {
	Status   string   `json:"status"`
	Accepted int      `json:"accepted"`
	Total    int      `json:"total"`
	Errors   []string `json:"errors,omitempty"`
}

// QuerySubmitResponse is submit(request)'s response body.
type QuerySubmitResponse struct {
	QueryID   string `json:"queryId"`
	StreamURL string `json:"streamUrl"`
	CancelURL string `json:"cancelUrl"`
	StatusURL string `json:"statusUrl"`
}

// QueryStatusResponse is status(queryId)'s response body.
type QueryStatusResponse struct {
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Error     string `json:"error,omitempty"`
	HasResult bool   `json:"hasResult"`
}

// QueryCancelResponse is cancel(queryId)'s response body.
type QueryCancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
