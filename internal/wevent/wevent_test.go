package wevent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		input   map[string]any
		wantErr int
	}{
		{
			name: "all required fields present",
			input: map[string]any{
				"event_id": "id", "timestamp": int64(1), "project_id": "p", "event_type": "log",
			},
			wantErr: 0,
		},
		{
			name:    "all required fields missing",
			input:   map[string]any{},
			wantErr: 4,
		},
		{
			name: "empty string counts as missing",
			input: map[string]any{
				"event_id": "", "timestamp": int64(1), "project_id": "p", "event_type": "log",
			},
			wantErr: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(tt.input)
			assert.Len(t, errs, tt.wantErr)
		})
	}
}

func TestValidate_InvalidEnum(t *testing.T) {
	input := map[string]any{
		"event_id": "id", "timestamp": int64(1), "project_id": "p",
		"event_type": "not-a-type", "severity": "not-a-severity",
	}

	errs := Validate(input)
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], ErrInvalidEnum)
	assert.ErrorIs(t, errs[1], ErrInvalidEnum)
}

func TestValidate_UnknownField(t *testing.T) {
	input := map[string]any{
		"event_id": "id", "timestamp": int64(1), "project_id": "p", "event_type": "log",
		"not_a_real_column": "x",
	}

	errs := Validate(input)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrUnknownField)
}

func TestNormalize_JSONEncodesStructuredFields(t *testing.T) {
	input := map[string]any{
		"event_id":   "id",
		"timestamp":  int64(1000),
		"project_id": "p",
		"event_type": "log",
		"tags":       map[string]any{"k": "v"},
	}

	e, err := Normalize(input)
	require.NoError(t, err)
	require.NotNil(t, e.Tags)
	assert.JSONEq(t, `{"k":"v"}`, *e.Tags)
}

func TestNormalize_PassesThroughAlreadyEncodedString(t *testing.T) {
	input := map[string]any{
		"event_id":   "id",
		"timestamp":  int64(1000),
		"project_id": "p",
		"event_type": "log",
		"context":    `{"already":"json"}`,
	}

	e, err := Normalize(input)
	require.NoError(t, err)
	require.NotNil(t, e.Context)
	assert.Equal(t, `{"already":"json"}`, *e.Context)
}

func TestFingerprint_DeterministicAcrossRetries(t *testing.T) {
	msg1 := "user 123 logged in"
	msg2 := "user 456 logged in"
	sev := "info"

	e1 := &Event{EventType: string(EventTypeLog), Severity: &sev, Message: &msg1}
	e2 := &Event{EventType: string(EventTypeLog), Severity: &sev, Message: &msg2}

	assert.Equal(t, Fingerprint(e1), Fingerprint(e2), "digit-only differences must collapse to the same template")
}

func TestFingerprint_IndependentOfTimestampAndEventID(t *testing.T) {
	name := "cpu_usage"
	e1 := &Event{EventID: "a", Timestamp: 1, EventType: string(EventTypeMetric), MetricName: &name}
	e2 := &Event{EventID: "b", Timestamp: 2, EventType: string(EventTypeMetric), MetricName: &name}

	assert.Equal(t, Fingerprint(e1), Fingerprint(e2))
}

func TestFingerprint_DiffersByOperationAndStatus(t *testing.T) {
	op1, status1 := "GET /a", "ok"
	op2, status2 := "GET /b", "ok"

	e1 := &Event{EventType: string(EventTypeSpan), Operation: &op1, SpanStatus: &status1}
	e2 := &Event{EventType: string(EventTypeSpan), Operation: &op2, SpanStatus: &status2}

	assert.NotEqual(t, Fingerprint(e1), Fingerprint(e2))
}
