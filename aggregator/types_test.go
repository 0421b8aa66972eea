package main

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEventJSON() []byte {
	return []byte(`{
		"topic": "orders",
		"event_id": "evt-1",
		"timestamp": "2025-01-01T12:00:00Z",
		"source": "checkout",
		"payload": {"nested": {"data": 123}, "list": [1, 2]}
	}`)
}

func TestParseEvent_Valid(t *testing.T) {
	event, verr := ParseEvent(validEventJSON())
	require.Nil(t, verr)

	assert.Equal(t, "orders", event.Topic)
	assert.Equal(t, "evt-1", event.EventID)
	assert.Equal(t, "checkout", event.Source)
	assert.Equal(t, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), event.Timestamp.Time())

	var payload map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, map[string]any{
		"nested": map[string]any{"data": float64(123)},
		"list":   []any{float64(1), float64(2)},
	}, payload)
}

func TestParseEvent_MissingFields(t *testing.T) {
	for _, field := range []string{"topic", "event_id", "timestamp", "source", "payload"} {
		t.Run(field, func(t *testing.T) {
			var doc map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(validEventJSON(), &doc))
			delete(doc, field)
			raw, err := json.Marshal(doc)
			require.NoError(t, err)

			_, verr := ParseEvent(raw)
			require.NotNil(t, verr)
			require.Len(t, verr.Fields, 1)
			assert.Equal(t, field, verr.Fields[0].Field)
			assert.Equal(t, "required", verr.Fields[0].Message)
		})
	}
}

func TestParseEvent_IllTypedStrings(t *testing.T) {
	raw := []byte(`{"topic": 7, "event_id": "e", "timestamp": "2025-01-01T00:00:00Z", "source": "s", "payload": {}}`)
	_, verr := ParseEvent(raw)
	require.NotNil(t, verr)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "topic", verr.Fields[0].Field)
	assert.Equal(t, "must be a string", verr.Fields[0].Message)
}

func TestParseEvent_EmptyTopic(t *testing.T) {
	raw := []byte(`{"topic": "", "event_id": "e", "timestamp": "2025-01-01T00:00:00Z", "source": "s", "payload": {}}`)
	_, verr := ParseEvent(raw)
	require.NotNil(t, verr)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "topic", verr.Fields[0].Field)
	assert.Equal(t, "must not be empty", verr.Fields[0].Message)
}

func TestParseEvent_PayloadMustBeObject(t *testing.T) {
	for name, payload := range map[string]string{
		"array":  `[1, 2, 3]`,
		"string": `"scalar"`,
		"number": `42`,
		"null":   `null`,
	} {
		t.Run(name, func(t *testing.T) {
			raw := fmt.Appendf(nil,
				`{"topic": "t", "event_id": "e", "timestamp": "2025-01-01T00:00:00Z", "source": "s", "payload": %s}`,
				payload)
			_, verr := ParseEvent(raw)
			require.NotNil(t, verr)
			require.Len(t, verr.Fields, 1)
			assert.Equal(t, "payload", verr.Fields[0].Field)
			assert.Equal(t, "must be an object", verr.Fields[0].Message)
		})
	}
}

func TestParseEvent_NotAnObject(t *testing.T) {
	for name, body := range map[string]string{
		"array":     `[]`,
		"scalar":    `"x"`,
		"malformed": `{not json`,
	} {
		t.Run(name, func(t *testing.T) {
			_, verr := ParseEvent([]byte(body))
			require.NotNil(t, verr)
			assert.Equal(t, "body", verr.Fields[0].Field)
		})
	}
}

func TestParseEvent_TimestampForms(t *testing.T) {
	cases := map[string]struct {
		input string
		want  time.Time
	}{
		"zulu":            {"2025-01-01T12:00:00Z", time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)},
		"zero offset":     {"2025-01-01T12:00:00+00:00", time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)},
		"positive offset": {"2025-01-01T14:00:00+02:00", time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)},
		"negative offset": {"2025-01-01T07:30:00-04:30", time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)},
		"naive":           {"2025-01-01T12:00:00", time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)},
		"naive frac":      {"2025-01-01T12:00:00.123456", time.Date(2025, 1, 1, 12, 0, 0, 123456000, time.UTC)},
		"space sep":       {"2025-01-01 12:00:00", time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			raw := fmt.Appendf(nil,
				`{"topic": "t", "event_id": "e", "timestamp": %q, "source": "s", "payload": {}}`,
				tc.input)
			event, verr := ParseEvent(raw)
			require.Nil(t, verr)
			assert.True(t, tc.want.Equal(event.Timestamp.Time()),
				"want %v, got %v", tc.want, event.Timestamp.Time())
		})
	}
}

func TestParseEvent_BadTimestamps(t *testing.T) {
	for name, ts := range map[string]string{
		"garbage":   `"yesterday"`,
		"number":    `1735732800`,
		"empty":     `""`,
		"date only": `"2025-01-01"`,
	} {
		t.Run(name, func(t *testing.T) {
			raw := fmt.Appendf(nil,
				`{"topic": "t", "event_id": "e", "timestamp": %s, "source": "s", "payload": {}}`, ts)
			_, verr := ParseEvent(raw)
			require.NotNil(t, verr)
			assert.Equal(t, "timestamp", verr.Fields[0].Field)
		})
	}
}

func TestEvent_RenderParseRoundTrip(t *testing.T) {
	event, verr := ParseEvent(validEventJSON())
	require.Nil(t, verr)

	envelope, err := json.Marshal(event)
	require.NoError(t, err)

	parsed, verr := ParseEvent(envelope)
	require.Nil(t, verr)

	assert.Equal(t, event.Topic, parsed.Topic)
	assert.Equal(t, event.EventID, parsed.EventID)
	assert.Equal(t, event.Source, parsed.Source)
	assert.True(t, event.Timestamp.Time().Equal(parsed.Timestamp.Time()))
	assert.JSONEq(t, string(event.Payload), string(parsed.Payload))
}

func TestEvent_RenderNormalizesOffsetToUTC(t *testing.T) {
	raw := []byte(`{"topic": "t", "event_id": "e", "timestamp": "2025-01-01T14:00:00+02:00", "source": "s", "payload": {}}`)
	event, verr := ParseEvent(raw)
	require.Nil(t, verr)

	envelope, err := json.Marshal(event)
	require.NoError(t, err)

	var rendered struct {
		Timestamp string `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(envelope, &rendered))
	assert.Equal(t, "2025-01-01T12:00:00Z", rendered.Timestamp)
}

func TestEvent_PayloadPreservedVerbatim(t *testing.T) {
	payload := `{"a":{"deep":[1,2,{"b":null}]},"unicode":"héllo","big":12345678901234567890}`
	raw := fmt.Appendf(nil,
		`{"topic": "t", "event_id": "e", "timestamp": "2025-01-01T00:00:00Z", "source": "s", "payload": %s}`,
		payload)

	event, verr := ParseEvent(raw)
	require.Nil(t, verr)

	// Raw bytes carried through untouched, no re-encoding
	assert.Equal(t, payload, string(event.Payload))
}
