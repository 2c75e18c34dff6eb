package wevent

import (
	"encoding/json"
	"fmt"
)

// jsonEncodedFields are the dimensions normalize() always serializes to a
// JSON string before write, per spec §3/§4.2.
var jsonEncodedFields = map[string]bool{
	"tags": true, "context": true, "breadcrumbs": true, "stack_trace": true,
}

// Normalize fills every schema column from a loosely-typed input map,
// leaving unset columns as null, and JSON-encodes any structured value
// supplied for tags/context/breadcrumbs/stack_trace.
func Normalize(input map[string]any) (*Event, error) {
	e := &Event{}

	if v, ok := input["event_id"].(string); ok {
		e.EventID = v
	}

	if ts, err := toInt64(input["timestamp"]); err == nil {
		e.Timestamp = ts
	}

	e.OrganizationID = strPtr(input, "organization_id")
	if v, ok := input["project_id"].(string); ok {
		e.ProjectID = v
	}

	if v, ok := input["event_type"].(string); ok {
		e.EventType = v
	}

	e.Fingerprint = strPtr(input, "fingerprint")
	e.Severity = strPtr(input, "severity")
	e.Message = strPtr(input, "message")
	e.ExceptionType = strPtr(input, "exception_type")
	e.AppVersion = strPtr(input, "app_version")
	e.AppBuild = strPtr(input, "app_build")
	e.BundleID = strPtr(input, "bundle_id")
	e.Environment = strPtr(input, "environment")
	e.DeviceModel = strPtr(input, "device_model")
	e.DeviceID = strPtr(input, "device_id")
	e.OSName = strPtr(input, "os_name")
	e.OSVersion = strPtr(input, "os_version")
	e.Locale = strPtr(input, "locale")
	e.Timezone = strPtr(input, "timezone")
	e.TraceID = strPtr(input, "trace_id")
	e.SpanID = strPtr(input, "span_id")
	e.ParentSpanID = strPtr(input, "parent_span_id")
	e.Operation = strPtr(input, "operation")
	e.SpanStatus = strPtr(input, "span_status")
	e.MetricName = strPtr(input, "metric_name")
	e.MetricUnit = strPtr(input, "metric_unit")
	e.UserID = strPtr(input, "user_id")
	e.SessionID = strPtr(input, "session_id")

	e.MemoryUsed = intPtr(input, "memory_used")
	e.MemoryTotal = intPtr(input, "memory_total")
	e.DiskFree = intPtr(input, "disk_free")
	e.BatteryLevel = floatPtr(input, "battery_level")
	e.DurationMs = floatPtr(input, "duration_ms")
	e.MetricValue = floatPtr(input, "metric_value")

	var err error
	if e.StackTrace, err = jsonField(input, "stack_trace"); err != nil {
		return nil, fmt.Errorf("normalize stack_trace: %w", err)
	}

	if e.Tags, err = jsonField(input, "tags"); err != nil {
		return nil, fmt.Errorf("normalize tags: %w", err)
	}

	if e.Context, err = jsonField(input, "context"); err != nil {
		return nil, fmt.Errorf("normalize context: %w", err)
	}

	if e.Breadcrumbs, err = jsonField(input, "breadcrumbs"); err != nil {
		return nil, fmt.Errorf("normalize breadcrumbs: %w", err)
	}

	return e, nil
}

// jsonField encodes input[key] to a JSON string when it is a structured
// value (map/slice), passes an already-string value through untouched, and
// returns nil for an absent key.
func jsonField(input map[string]any, key string) (*string, error) {
	v, ok := input[key]
	if !ok || v == nil {
		return nil, nil
	}

	if s, ok := v.(string); ok {
		return &s, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	s := string(data)

	return &s, nil
}

func strPtr(input map[string]any, key string) *string {
	v, ok := input[key]
	if !ok || v == nil {
		return nil
	}

	if s, ok := v.(string); ok && s != "" {
		return &s
	}

	return nil
}

func intPtr(input map[string]any, key string) *int64 {
	v, err := toInt64(input[key])
	if err != nil {
		return nil
	}

	return &v
}

func floatPtr(input map[string]any, key string) *float64 {
	raw, ok := input[key]
	if !ok || raw == nil {
		return nil
	}

	switch n := raw.(type) {
	case float64:
		return &n
	case float32:
		f := float64(n)

		return &f
	case int:
		f := float64(n)

		return &f
	default:
		return nil
	}
}

func toInt64(raw any) (int64, error) {
	switch n := raw.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("wevent: value %v is not numeric", raw)
	}
}
