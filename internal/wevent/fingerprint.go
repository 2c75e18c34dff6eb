package wevent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
)

const topStackFrames = 5

var (
	digitRun = regexp.MustCompile(`\d+`)
	uuidRun  = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

// stackFrame mirrors the handful of fields a JSON-encoded stack_trace frame
// carries; unknown shapes degrade gracefully to an empty frame list rather
// than failing fingerprinting.
type stackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Fingerprint derives a stable grouping key for e, per event_type, following
// the decision recorded in SPEC_FULL.md §9.1. It never reads Timestamp or
// EventID, so retries of the same logical event always collide to the same
// fingerprint.
func Fingerprint(e *Event) string {
	var basis string

	switch EventType(e.EventType) {
	case EventTypeCrash, EventTypeError:
		basis = deref(e.ExceptionType) + "|" + normalizedFrames(deref(e.StackTrace))
	case EventTypeLog:
		basis = deref(e.Severity) + "|" + templatize(deref(e.Message))
	case EventTypeMetric:
		basis = deref(e.MetricName)
	case EventTypeSpan:
		basis = deref(e.Operation) + "|" + deref(e.SpanStatus)
	default:
		basis = e.EventType
	}

	sum := sha256.Sum256([]byte(basis))

	return hex.EncodeToString(sum[:])
}

func normalizedFrames(stackTraceJSON string) string {
	if stackTraceJSON == "" {
		return ""
	}

	var frames []stackFrame
	if err := json.Unmarshal([]byte(stackTraceJSON), &frames); err != nil {
		return ""
	}

	if len(frames) > topStackFrames {
		frames = frames[:topStackFrames]
	}

	parts := make([]string, len(frames))
	for i, f := range frames {
		parts[i] = f.Function + ":" + f.File
	}

	return strings.Join(parts, ",")
}

// templatize strips high-cardinality substitutions (digit runs, UUIDs) from
// a log message so structurally identical messages with different runtime
// values still collide to the same fingerprint.
func templatize(message string) string {
	out := uuidRun.ReplaceAllString(message, "<id>")

	return digitRun.ReplaceAllString(out, "<n>")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}
