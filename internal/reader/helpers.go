package reader

import (
	"bytes"
	"errors"
	"io"

	"github.com/tracelake/tracelake/internal/wevent"
)

// errAllFilesFailed is returned by stream only when every candidate file in
// the scanned partitions failed to read — a single bad file is tolerated
// and logged per spec §4.4's missing-file tolerance.
var errAllFilesFailed = errors.New("reader: every candidate partition file failed to read")

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

// bytesReaderAt adapts an in-memory file body to the io.ReaderAt+Size
// shape parquet-go's generic reader needs for random-access column reads.
func bytesReaderAt(data []byte) *bytes.Reader {
	return bytes.NewReader(data)
}

// toMap flattens e's populated columns into a string-keyed map for filter
// evaluation, matching the column names used throughout spec §3/§6.
func toMap(e *wevent.Event) map[string]any {
	m := map[string]any{
		"event_id":   e.EventID,
		"timestamp":  e.Timestamp,
		"project_id": e.ProjectID,
		"event_type": e.EventType,
	}

	putStr(m, "organization_id", e.OrganizationID)
	putStr(m, "fingerprint", e.Fingerprint)
	putStr(m, "severity", e.Severity)
	putStr(m, "message", e.Message)
	putStr(m, "exception_type", e.ExceptionType)
	putStr(m, "stack_trace", e.StackTrace)
	putStr(m, "app_version", e.AppVersion)
	putStr(m, "app_build", e.AppBuild)
	putStr(m, "bundle_id", e.BundleID)
	putStr(m, "environment", e.Environment)
	putStr(m, "device_model", e.DeviceModel)
	putStr(m, "device_id", e.DeviceID)
	putStr(m, "os_name", e.OSName)
	putStr(m, "os_version", e.OSVersion)
	putStr(m, "locale", e.Locale)
	putStr(m, "timezone", e.Timezone)
	putInt(m, "memory_used", e.MemoryUsed)
	putInt(m, "memory_total", e.MemoryTotal)
	putInt(m, "disk_free", e.DiskFree)
	putFloat(m, "battery_level", e.BatteryLevel)
	putStr(m, "trace_id", e.TraceID)
	putStr(m, "span_id", e.SpanID)
	putStr(m, "parent_span_id", e.ParentSpanID)
	putStr(m, "operation", e.Operation)
	putFloat(m, "duration_ms", e.DurationMs)
	putStr(m, "span_status", e.SpanStatus)
	putStr(m, "metric_name", e.MetricName)
	putFloat(m, "metric_value", e.MetricValue)
	putStr(m, "metric_unit", e.MetricUnit)
	putStr(m, "user_id", e.UserID)
	putStr(m, "session_id", e.SessionID)
	putStr(m, "tags", e.Tags)
	putStr(m, "context", e.Context)
	putStr(m, "breadcrumbs", e.Breadcrumbs)

	return m
}

func putStr(m map[string]any, key string, v *string) {
	if v != nil {
		m[key] = *v
	}
}

func putInt(m map[string]any, key string, v *int64) {
	if v != nil {
		m[key] = *v
	}
}

func putFloat(m map[string]any, key string, v *float64) {
	if v != nil {
		m[key] = *v
	}
}
