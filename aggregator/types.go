package main

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Event is the in-flight envelope submitted by producers. The payload is
// opaque to the pipeline and carried byte-for-byte from the ingress to the
// store. (topic, event_id) is the dedup identity, scoped per topic.
type Event struct {
	Topic     string          `json:"topic"`
	EventID   string          `json:"event_id"`
	Timestamp EventTime       `json:"timestamp"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
}

// EventLog is the persisted record: an Event plus the surrogate key and
// the commit instant assigned by the store.
type EventLog struct {
	ID          int64           `json:"id"`
	Topic       string          `json:"topic"`
	EventID     string          `json:"event_id"`
	Timestamp   EventTime       `json:"timestamp"`
	Source      string          `json:"source"`
	Payload     json.RawMessage `json:"payload"`
	ProcessedAt time.Time       `json:"processed_at"`
}

// TopicCount is one row of the per-topic aggregate.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int64  `json:"count"`
}

// StatsResponse reconciles the broker-side received counter against the
// store. total_received_queued keeps its historical wire name even though
// the counter is incremented at consume time, not enqueue time.
type StatsResponse struct {
	TotalReceivedQueued       int64        `json:"total_received_queued"`
	UniqueProcessedDB         int64        `json:"unique_processed_db"`
	EstimatedDuplicateDropped int64        `json:"estimated_duplicate_dropped"`
	TopicsCount               []TopicCount `json:"topics_count"`
	UptimeSeconds             float64      `json:"uptime_seconds"`
}

// EventTime is a timestamp that accepts ISO-8601 input with or without a
// timezone offset. Offset-bearing values are converted to UTC and the
// offset is discarded, because the store column is timezone-naive and must
// hold the producer's instant as a UTC clock reading.
type EventTime time.Time

// Accepted on input: RFC 3339 (Z or ±hh:mm offset) and naive forms with a
// "T" or space separator, each with optional fractional seconds.
var eventTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseEventTime(s string) (EventTime, error) {
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return EventTime(t.UTC()), nil
		}
	}
	return EventTime{}, fmt.Errorf("invalid ISO-8601 timestamp: %q", s)
}

// UnmarshalJSON parses a JSON string into an EventTime.
func (t *EventTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := parseEventTime(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON renders the normalised UTC instant in ISO-8601 form.
func (t EventTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(time.RFC3339Nano))
}

// Time returns the underlying time.Time.
func (t EventTime) Time() time.Time {
	return time.Time(t)
}

// Scan implements sql.Scanner for the naive timestamp column.
func (t *EventTime) Scan(value interface{}) error {
	switch v := value.(type) {
	case time.Time:
		*t = EventTime(v.UTC())
		return nil
	case nil:
		*t = EventTime{}
		return nil
	default:
		return fmt.Errorf("cannot scan type %T into EventTime", value)
	}
}

// Value implements driver.Valuer for database insertion.
func (t EventTime) Value() (driver.Value, error) {
	return time.Time(t).UTC(), nil
}

// FieldError names one rejected field of an inbound event.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"error"`
}

// ValidationError is the schema-rejection error for inbound payloads,
// surfaced at the ingress as a 422 with field-level detail.
type ValidationError struct {
	Fields []FieldError `json:"detail"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation error"
	}
	return fmt.Sprintf("validation error: %s %s", e.Fields[0].Field, e.Fields[0].Message)
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// ParseEvent parses and validates one inbound event document. All five
// fields are required; topic, event_id and source must be strings, topic
// non-empty; payload must be a JSON object (scalars and arrays at the top
// level are rejected). The payload is kept as raw bytes and never
// re-encoded on the way to the broker.
func ParseEvent(raw []byte) (*Event, *ValidationError) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		ve := &ValidationError{}
		ve.add("body", "invalid JSON object")
		return nil, ve
	}

	ve := &ValidationError{}
	event := &Event{}

	event.Topic = requireString(fields, "topic", ve)
	if _, ok := fields["topic"]; ok && event.Topic == "" && !hasError(ve, "topic") {
		ve.add("topic", "must not be empty")
	}
	event.EventID = requireString(fields, "event_id", ve)
	event.Source = requireString(fields, "source", ve)

	if raw, ok := fields["timestamp"]; !ok {
		ve.add("timestamp", "required")
	} else if err := event.Timestamp.UnmarshalJSON(raw); err != nil {
		ve.add("timestamp", "must be an ISO-8601 timestamp")
	}

	if raw, ok := fields["payload"]; !ok {
		ve.add("payload", "required")
	} else if !isJSONObject(raw) {
		ve.add("payload", "must be an object")
	} else {
		event.Payload = raw
	}

	if len(ve.Fields) > 0 {
		return nil, ve
	}
	return event, nil
}

func requireString(fields map[string]json.RawMessage, name string, ve *ValidationError) string {
	raw, ok := fields[name]
	if !ok {
		ve.add(name, "required")
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		ve.add(name, "must be a string")
		return ""
	}
	return s
}

func hasError(ve *ValidationError, field string) bool {
	for _, fe := range ve.Fields {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
