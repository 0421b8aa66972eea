package main

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/Erizki0712/uas-aggregator/common/broker"
	"github.com/Erizki0712/uas-aggregator/common/metrics"
)

// popTimeout bounds each blocking dequeue so the loop reacquires control
// at least once per second for cancellation and error recovery.
const popTimeout = 1 * time.Second

// errorBackoff is the pause after any failed iteration.
const errorBackoff = 1 * time.Second

type consumer struct {
	broker  *broker.Client
	store   EventStore
	metrics *metrics.PipelineMetrics
	logger  *zap.Logger
}

func NewConsumer(b *broker.Client, store EventStore, m *metrics.PipelineMetrics, logger *zap.Logger) *consumer {
	return &consumer{
		broker:  b,
		store:   store,
		metrics: m,
		logger:  logger,
	}
}

// Run drains the queue until ctx is cancelled. Per envelope: increment the
// received counter, parse tolerantly, insert with dedup in its own
// transaction. The counter increments BEFORE the insert, so duplicates
// count too; that difference is exactly the estimated_duplicate_dropped
// stat. Errors never escape the loop: log, back off one second, continue.
func (c *consumer) Run(ctx context.Context) {
	c.logger.Info("consumer started, waiting for events")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped")
			return
		default:
		}

		raw, err := c.broker.BlockingPop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopped")
				return
			}
			c.logger.Error("failed to dequeue", zap.Error(err))
			c.sleep(ctx, errorBackoff)
			continue
		}
		if raw == nil {
			// Queue stayed empty for the whole pop timeout
			continue
		}

		c.processEnvelope(ctx, raw)
	}
}

func (c *consumer) processEnvelope(ctx context.Context, raw []byte) {
	tracer := otel.Tracer("aggregator")
	ctx, span := tracer.Start(ctx, "queue - consume - event")
	defer span.End()

	c.metrics.EventsObserved.Inc()

	// Counted at dequeue-observation, before the insert. A crash between
	// here and the commit loses the event and overcounts by one; accepted
	// for a no-ack list queue.
	if _, err := c.broker.IncrementReceived(ctx); err != nil {
		c.logger.Error("failed to increment received counter", zap.Error(err))
		c.sleep(ctx, errorBackoff)
		return
	}

	event, verr := ParseEvent(raw)
	if verr != nil {
		// Malformed envelope on the queue: drop and keep consuming
		c.metrics.MalformedDropped.Inc()
		c.logger.Debug("dropping malformed envelope",
			zap.String("error", verr.Error()),
			zap.ByteString("envelope", raw),
		)
		return
	}

	result, err := c.store.InsertDedup(ctx, event)
	if err != nil {
		// No dead-letter path: the event is logged and dropped
		c.metrics.StoreErrors.Inc()
		c.logger.Error("failed to insert event",
			zap.String("topic", event.Topic),
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		c.sleep(ctx, errorBackoff)
		return
	}

	if result == Duplicate {
		c.metrics.DuplicatesDropped.Inc()
		c.logger.Debug("duplicate dropped",
			zap.String("topic", event.Topic),
			zap.String("event_id", event.EventID),
		)
		return
	}

	c.metrics.EventsProcessed.Inc()
	c.logger.Debug("event processed",
		zap.String("topic", event.Topic),
		zap.String("event_id", event.EventID),
	)
}

// sleep waits for d but wakes early on cancellation
func (c *consumer) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
