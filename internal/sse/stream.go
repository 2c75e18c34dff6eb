// Package sse implements the server-push streaming surface for one async
// query: polling the async query store on a fixed interval and emitting
// framed status/progress/result/error/cancelled/heartbeat events until a
// terminal state, a hard timeout, or client disconnect (spec §4.9).
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tracelake/tracelake/internal/asyncquery"
	"github.com/tracelake/tracelake/internal/metrics"
)

const (
	pollInterval      = 500 * time.Millisecond
	heartbeatInterval = 15 * time.Second
	hardTimeout       = 120 * time.Second
)

// Frame is one SSE event: "event: <event>\ndata: <data>\n\n".
type Frame struct {
	Event string
	Data  any
}

// Streamer polls a query's lifecycle state and renders it as an SSE stream.
type Streamer struct {
	store  *asyncquery.Store
	logger *slog.Logger
}

// New constructs a Streamer over store.
func New(store *asyncquery.Store, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Streamer{store: store, logger: logger}
}

// Stream writes queryID's lifecycle as SSE frames to w until a terminal
// frame is sent, the hard timeout elapses, or the request context is
// cancelled (client disconnect). w must implement http.Flusher; Stream
// disables response buffering itself via headers, but a reverse proxy
// buffering the connection is outside this package's control.
func (s *Streamer) Stream(ctx context.Context, w http.ResponseWriter, queryID string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("sse: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.SSEActiveStreams.Inc()

	reason := "disconnect"
	defer func() {
		metrics.SSEActiveStreams.Dec()
		metrics.SSEStreamsTotal.WithLabelValues(reason).Inc()
	}()

	deadline := time.NewTimer(hardTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var (
		lastStatus   asyncquery.Status
		lastProgress = -1
		lastEventAt  = time.Now()
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			reason = "timeout"
			s.write(w, flusher, Frame{Event: "error", Data: errorPayload("query stream timed out after 120s")})

			return nil
		case <-ticker.C:
			st, err := s.store.GetQueryState(ctx, queryID)
			if err != nil {
				reason = "not_found"
				s.write(w, flusher, Frame{Event: "error", Data: errorPayload("query not found")})

				return nil
			}

			if st.Status != lastStatus {
				lastStatus = st.Status
				lastEventAt = time.Now()
				s.write(w, flusher, Frame{Event: "status", Data: statusPayload{Status: string(st.Status)}})
			}

			if st.Progress > lastProgress {
				lastProgress = st.Progress
				lastEventAt = time.Now()
				s.write(w, flusher, Frame{Event: "progress", Data: progressPayload{Progress: st.Progress}})
			}

			switch st.Status {
			case asyncquery.StatusCompleted:
				reason = "completed"
				s.write(w, flusher, Frame{Event: "result", Data: json.RawMessage(st.Result)})

				return nil
			case asyncquery.StatusFailed:
				reason = "failed"
				s.write(w, flusher, Frame{Event: "error", Data: errorPayload(st.Error)})

				return nil
			case asyncquery.StatusCancelled:
				reason = "cancelled"
				s.write(w, flusher, Frame{Event: "cancelled", Data: cancelledPayload{}})

				return nil
			}

			if time.Since(lastEventAt) >= heartbeatInterval {
				lastEventAt = time.Now()
				s.write(w, flusher, Frame{Event: "heartbeat", Data: heartbeatPayload{Time: lastEventAt.UTC()}})
			}
		}
	}
}

func (s *Streamer) write(w http.ResponseWriter, flusher http.Flusher, f Frame) {
	data, err := json.Marshal(f.Data)
	if err != nil {
		s.logger.Error("sse: encode frame failed", "event", f.Event, "error", err)

		return
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Event, data); err != nil {
		s.logger.Warn("sse: write frame failed, client likely disconnected", "event", f.Event, "error", err)

		return
	}

	flusher.Flush()
}

type statusPayload struct {
	Status string `json:"status"`
}

type progressPayload struct {
	Progress int `json:"progress"`
}

type cancelledPayload struct{}

type heartbeatPayload struct {
	Time time.Time `json:"time"`
}

type errPayload struct {
	Message string `json:"message"`
}

func errorPayload(message string) errPayload {
	return errPayload{Message: message}
}
