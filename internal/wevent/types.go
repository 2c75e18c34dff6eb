// Package wevent defines the wide-event schema: the single flat record type
// written to the columnar store, plus normalization, validation, and
// fingerprinting for issue grouping.
package wevent

// EventType enumerates the fixed domain of event_type.
type EventType string

// Severity enumerates the fixed domain of severity.
type Severity string

const (
	EventTypeCrash  EventType = "crash"
	EventTypeError  EventType = "error"
	EventTypeLog    EventType = "log"
	EventTypeMetric EventType = "metric"
	EventTypeSpan   EventType = "span"

	SeverityTrace   Severity = "trace"
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// ValidEventTypes is the fixed event_type domain, used by validate and by
// the facet-batch dispatcher's attribute sets.
var ValidEventTypes = map[EventType]bool{
	EventTypeCrash:  true,
	EventTypeError:  true,
	EventTypeLog:    true,
	EventTypeMetric: true,
	EventTypeSpan:   true,
}

// ValidSeverities is the fixed severity domain.
var ValidSeverities = map[Severity]bool{
	SeverityTrace:   true,
	SeverityDebug:   true,
	SeverityInfo:    true,
	SeverityWarning: true,
	SeverityError:   true,
	SeverityFatal:   true,
}

// Event is the flat record type written to the columnar store. Nullable
// columns are pointer types so parquet-go encodes a true null rather than a
// zero value; struct tags mirror the on-disk schema order from spec §3/§6.
type Event struct {
	// Identity
	EventID        string  `parquet:"event_id"`
	Timestamp      int64   `parquet:"timestamp"`
	OrganizationID *string `parquet:"organization_id,optional"`
	ProjectID      string  `parquet:"project_id"`
	EventType      string  `parquet:"event_type,dict"`
	Fingerprint    *string `parquet:"fingerprint,optional,dict"`

	// Classification
	Severity *string `parquet:"severity,optional,dict"`

	// Content
	Message       *string `parquet:"message,optional"`
	ExceptionType *string `parquet:"exception_type,optional,dict"`
	StackTrace    *string `parquet:"stack_trace,optional"`

	// Application
	AppVersion  *string `parquet:"app_version,optional,dict"`
	AppBuild    *string `parquet:"app_build,optional,dict"`
	BundleID    *string `parquet:"bundle_id,optional,dict"`
	Environment *string `parquet:"environment,optional,dict"`

	// Device
	DeviceModel *string `parquet:"device_model,optional,dict"`
	DeviceID    *string `parquet:"device_id,optional"`
	OSName      *string `parquet:"os_name,optional,dict"`
	OSVersion   *string `parquet:"os_version,optional,dict"`
	Locale      *string `parquet:"locale,optional,dict"`
	Timezone    *string `parquet:"timezone,optional,dict"`

	// Resource
	MemoryUsed   *int64   `parquet:"memory_used,optional"`
	MemoryTotal  *int64   `parquet:"memory_total,optional"`
	DiskFree     *int64   `parquet:"disk_free,optional"`
	BatteryLevel *float64 `parquet:"battery_level,optional"`

	// Trace/span
	TraceID      *string  `parquet:"trace_id,optional"`
	SpanID       *string  `parquet:"span_id,optional"`
	ParentSpanID *string  `parquet:"parent_span_id,optional"`
	Operation    *string  `parquet:"operation,optional,dict"`
	DurationMs   *float64 `parquet:"duration_ms,optional"`
	SpanStatus   *string  `parquet:"span_status,optional,dict"`

	// Metric
	MetricName  *string  `parquet:"metric_name,optional,dict"`
	MetricValue *float64 `parquet:"metric_value,optional"`
	MetricUnit  *string  `parquet:"metric_unit,optional,dict"`

	// User
	UserID    *string `parquet:"user_id,optional"`
	SessionID *string `parquet:"session_id,optional"`

	// Extensible dimensions — always JSON-encoded strings after normalize.
	Tags        *string `parquet:"tags,optional"`
	Context     *string `parquet:"context,optional"`
	Breadcrumbs *string `parquet:"breadcrumbs,optional"`
}

// RequiredFields names the columns validate() treats as mandatory.
var RequiredFields = []string{"event_id", "timestamp", "project_id", "event_type"}

// KnownFields is the full set of wide-event columns Validate accepts; any
// other top-level key in the input map is rejected (spec §4.2: unknown
// fields are rejected, not silently dropped). Mirrors the key set
// normalize.go reads off the input map.
var KnownFields = map[string]bool{
	"event_id": true, "timestamp": true, "organization_id": true, "project_id": true,
	"event_type": true, "fingerprint": true, "severity": true,
	"message": true, "exception_type": true, "stack_trace": true,
	"app_version": true, "app_build": true, "bundle_id": true, "environment": true,
	"device_model": true, "device_id": true, "os_name": true, "os_version": true,
	"locale": true, "timezone": true,
	"memory_used": true, "memory_total": true, "disk_free": true, "battery_level": true,
	"trace_id": true, "span_id": true, "parent_span_id": true, "operation": true,
	"duration_ms": true, "span_status": true,
	"metric_name": true, "metric_value": true, "metric_unit": true,
	"user_id": true, "session_id": true,
	"tags": true, "context": true, "breadcrumbs": true,
}

// FacetableAttributes lists attributes the query executor may build Facet[]
// entries for; also the union of the facet-batch dispatcher's per-batch sets.
var FacetableAttributes = []string{
	"device_model", "os_name", "os_version",
	"app_version", "app_build",
	"operation", "span_status",
	"user_id", "locale",
}

// FacetBatchAttributes maps the four default deferred facet batches to their
// attribute sets (spec §4.8).
var FacetBatchAttributes = map[string][]string{
	"device": {"device_model", "os_name", "os_version"},
	"app":    {"app_version", "app_build"},
	"trace":  {"operation", "span_status"},
	"user":   {"user_id", "locale"},
}
