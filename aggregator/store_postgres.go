package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore implements EventStore on PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and verifies it with a ping
func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InitSchema creates the event_logs table and its indexes if absent.
// The composite unique constraint on (topic, event_id) is the dedup
// identity; everything else is query-performance support.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS event_logs (
			id           BIGSERIAL PRIMARY KEY,
			topic        TEXT NOT NULL,
			event_id     TEXT NOT NULL,
			timestamp    TIMESTAMP NOT NULL,
			source       TEXT NOT NULL,
			payload      JSON NOT NULL,
			processed_at TIMESTAMP NOT NULL DEFAULT NOW(),
			CONSTRAINT uq_topic_event_id UNIQUE (topic, event_id)
		)`,
		`CREATE INDEX IF NOT EXISTS ix_event_logs_topic ON event_logs (topic)`,
		`CREATE INDEX IF NOT EXISTS ix_event_logs_event_id ON event_logs (event_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// InsertDedup inserts the event in its own READ COMMITTED transaction.
// The unique constraint arbitrates concurrent conflicting inserts: on
// collision the statement affects zero rows and the result is Duplicate.
func (s *PostgresStore) InsertDedup(ctx context.Context, event *Event) (InsertResult, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return Duplicate, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO event_logs (topic, event_id, timestamp, source, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ON CONSTRAINT uq_topic_event_id DO NOTHING
	`
	result, err := tx.ExecContext(ctx, query,
		event.Topic,
		event.EventID,
		event.Timestamp,
		event.Source,
		string(event.Payload),
	)
	if err != nil {
		return Duplicate, fmt.Errorf("failed to insert event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return Duplicate, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Duplicate, fmt.Errorf("failed to commit: %w", err)
	}

	if rowsAffected == 0 {
		return Duplicate, nil
	}
	return Inserted, nil
}

// CountUnique returns the number of persisted event rows
func (s *PostgresStore) CountUnique(ctx context.Context) (int64, error) {
	var count int64
	query := `SELECT COUNT(id) FROM event_logs`
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// CountByTopic groups persisted events by topic
func (s *PostgresStore) CountByTopic(ctx context.Context) ([]TopicCount, error) {
	query := `SELECT topic, COUNT(topic) FROM event_logs GROUP BY topic`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count by topic: %w", err)
	}
	defer rows.Close()

	var topics []TopicCount
	for rows.Next() {
		var tc TopicCount
		if err := rows.Scan(&tc.Topic, &tc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan topic count: %w", err)
		}
		topics = append(topics, tc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return topics, nil
}

// SelectRecent returns up to limit events newest-first by event timestamp
func (s *PostgresStore) SelectRecent(ctx context.Context, topic string, limit int) ([]*EventLog, error) {
	if limit <= 0 {
		return []*EventLog{}, nil
	}

	var rows *sql.Rows
	var err error

	if topic == "" {
		query := `
			SELECT id, topic, event_id, timestamp, source, payload, processed_at
			FROM event_logs
			ORDER BY timestamp DESC
			LIMIT $1
		`
		rows, err = s.db.QueryContext(ctx, query, limit)
	} else {
		query := `
			SELECT id, topic, event_id, timestamp, source, payload, processed_at
			FROM event_logs
			WHERE topic = $1
			ORDER BY timestamp DESC
			LIMIT $2
		`
		rows, err = s.db.QueryContext(ctx, query, topic, limit)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []*EventLog{}
	for rows.Next() {
		var e EventLog
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Topic, &e.EventID, &e.Timestamp, &e.Source, &payload, &e.ProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Payload = payload
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}
