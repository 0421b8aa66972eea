package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Erizki0712/uas-aggregator/common/broker"
	"github.com/Erizki0712/uas-aggregator/common/metrics"
)

const defaultEventsLimit = 100

type handler struct {
	broker    *broker.Client
	store     EventStore
	metrics   *metrics.PipelineMetrics
	logger    *zap.Logger
	startTime time.Time
}

func NewHandler(b *broker.Client, store EventStore, m *metrics.PipelineMetrics, logger *zap.Logger, startTime time.Time) *handler {
	return &handler{
		broker:    b,
		store:     store,
		metrics:   m,
		logger:    logger,
		startTime: startTime,
	}
}

func (h *handler) registerRoute(mux *http.ServeMux) {
	mux.HandleFunc("POST /publish", h.handlePublish)
	mux.HandleFunc("POST /publish/batch", h.handlePublishBatch)
	mux.HandleFunc("GET /events", h.handleGetEvents)
	mux.HandleFunc("GET /stats", h.handleGetStats)
}

// handlePublish validates one event and enqueues its envelope.
// Validation failure is a 422 with field-level detail; a broker failure
// is a 500. The envelope is the validated event re-serialised with the
// timestamp normalised to UTC.
func (h *handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	event, verr := ParseEvent(body)
	if verr != nil {
		h.logger.Warn("event rejected", zap.String("error", verr.Error()))
		h.writeValidationError(w, verr.Fields)
		return
	}

	envelope, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode envelope", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to encode event")
		return
	}

	if err := h.broker.Enqueue(r.Context(), envelope); err != nil {
		h.logger.Error("failed to enqueue event",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "broker unavailable")
		return
	}

	h.metrics.EventsQueued.Inc()
	h.logger.Info("event queued",
		zap.String("topic", event.Topic),
		zap.String("event_id", event.EventID),
	)

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "queued",
		"event_id": event.EventID,
	})
}

// handlePublishBatch validates ALL events before any enqueue: one invalid
// member rejects the whole batch with no partial enqueue. On success the
// envelopes reach the broker in array order via one pipelined round trip.
func (h *handler) handlePublishBatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var members []json.RawMessage
	if err := json.Unmarshal(body, &members); err != nil {
		h.writeValidationError(w, []FieldError{{Field: "body", Message: "must be a JSON array of events"}})
		return
	}
	// JSON null unmarshals into a nil slice without error; only a real
	// array is acceptable here.
	if members == nil {
		h.writeValidationError(w, []FieldError{{Field: "body", Message: "must be a JSON array of events"}})
		return
	}

	envelopes := make([][]byte, 0, len(members))
	var fieldErrors []FieldError
	for i, member := range members {
		event, verr := ParseEvent(member)
		if verr != nil {
			for _, fe := range verr.Fields {
				fieldErrors = append(fieldErrors, FieldError{
					Field:   fmt.Sprintf("events[%d].%s", i, fe.Field),
					Message: fe.Message,
				})
			}
			continue
		}

		envelope, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("failed to encode envelope", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "failed to encode event")
			return
		}
		envelopes = append(envelopes, envelope)
	}

	if len(fieldErrors) > 0 {
		h.logger.Warn("batch rejected", zap.Int("errors", len(fieldErrors)))
		h.writeValidationError(w, fieldErrors)
		return
	}

	if err := h.broker.EnqueueBatch(r.Context(), envelopes); err != nil {
		h.logger.Error("failed to enqueue batch", zap.Int("count", len(envelopes)), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "broker unavailable")
		return
	}

	h.metrics.BatchesQueued.Inc()
	h.metrics.EventsQueued.Add(float64(len(envelopes)))
	h.logger.Info("batch queued", zap.Int("count", len(envelopes)))

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "batch_queued",
		"count":  len(envelopes),
	})
}

// handleGetEvents returns recent events newest-first by event timestamp,
// optionally filtered by topic. The ordering is by the producer-supplied
// timestamp, not by processing order.
func (h *handler) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")

	limit := defaultEventsLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			h.writeValidationError(w, []FieldError{{Field: "limit", Message: "must be an integer"}})
			return
		}
		limit = parsed
	}

	events, err := h.store.SelectRecent(r.Context(), topic, limit)
	if err != nil {
		h.logger.Error("failed to select events", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to query events")
		return
	}
	if events == nil {
		events = []*EventLog{}
	}

	h.writeJSON(w, http.StatusOK, events)
}

// handleGetStats reconciles the broker-side received counter against the
// store. The counter is incremented at consume time, so the duplicate
// figure is an eventual-consistency estimate while envelopes are in flight.
func (h *handler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	received, err := h.broker.GetReceived(ctx)
	if err != nil {
		h.logger.Error("failed to read received counter", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "broker unavailable")
		return
	}

	unique, err := h.store.CountUnique(ctx)
	if err != nil {
		h.logger.Error("failed to count unique events", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to query store")
		return
	}

	topics, err := h.store.CountByTopic(ctx)
	if err != nil {
		h.logger.Error("failed to count by topic", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to query store")
		return
	}
	if topics == nil {
		topics = []TopicCount{}
	}

	if depth, err := h.broker.QueueDepth(ctx); err == nil {
		h.metrics.QueueDepth.Set(float64(depth))
	}

	h.writeJSON(w, http.StatusOK, StatsResponse{
		TotalReceivedQueued:       received,
		UniqueProcessedDB:         unique,
		EstimatedDuplicateDropped: received - unique,
		TopicsCount:               topics,
		UptimeSeconds:             time.Since(h.startTime).Seconds(),
	})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

func (h *handler) writeValidationError(w http.ResponseWriter, fields []FieldError) {
	h.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": fields})
}

func (h *handler) writeError(w http.ResponseWriter, status int, detail string) {
	h.writeJSON(w, status, map[string]any{"detail": detail})
}
