package main

import "context"

// InsertResult reports the outcome of a dedup insert. Duplicate is not an
// error: the row already existed and the event is silently dropped.
type InsertResult int

const (
	Inserted InsertResult = iota
	Duplicate
)

// EventStore persists events under the (topic, event_id) uniqueness
// constraint and serves the aggregate queries behind /events and /stats.
type EventStore interface {
	// InsertDedup atomically inserts the event or reports Duplicate on a
	// (topic, event_id) collision. Implementations must resolve the race
	// in a single statement, never read-then-write.
	InsertDedup(ctx context.Context, event *Event) (InsertResult, error)

	// CountUnique returns the number of persisted rows.
	CountUnique(ctx context.Context) (int64, error)

	// CountByTopic returns (topic, cardinality) pairs with no defined order.
	CountByTopic(ctx context.Context) ([]TopicCount, error)

	// SelectRecent returns up to limit events newest-first by event
	// timestamp, filtered by topic when topic is non-empty.
	SelectRecent(ctx context.Context, topic string, limit int) ([]*EventLog, error)

	Close() error
}
