package main

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory EventStore used by handler and consumer tests.
// It enforces the same (topic, event_id) dedup identity as the Postgres
// implementation.
type memStore struct {
	mu     sync.Mutex
	rows   []*EventLog
	nextID int64

	// failInsert makes InsertDedup return this error when set
	failInsert error
}

func newMemStore() *memStore {
	return &memStore{nextID: 1}
}

func (s *memStore) InsertDedup(_ context.Context, event *Event) (InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failInsert != nil {
		return Duplicate, s.failInsert
	}

	for _, row := range s.rows {
		if row.Topic == event.Topic && row.EventID == event.EventID {
			return Duplicate, nil
		}
	}

	s.rows = append(s.rows, &EventLog{
		ID:          s.nextID,
		Topic:       event.Topic,
		EventID:     event.EventID,
		Timestamp:   event.Timestamp,
		Source:      event.Source,
		Payload:     event.Payload,
		ProcessedAt: time.Now().UTC(),
	})
	s.nextID++
	return Inserted, nil
}

func (s *memStore) CountUnique(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

func (s *memStore) CountByTopic(_ context.Context) ([]TopicCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int64)
	for _, row := range s.rows {
		counts[row.Topic]++
	}

	var topics []TopicCount
	for topic, count := range counts {
		topics = append(topics, TopicCount{Topic: topic, Count: count})
	}
	return topics, nil
}

func (s *memStore) SelectRecent(_ context.Context, topic string, limit int) ([]*EventLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		return []*EventLog{}, nil
	}

	matched := []*EventLog{}
	for _, row := range s.rows {
		if topic == "" || row.Topic == topic {
			matched = append(matched, row)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Time().After(matched[j].Timestamp.Time())
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) get(topic, eventID string) *EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.Topic == topic && row.EventID == eventID {
			return row
		}
	}
	return nil
}
