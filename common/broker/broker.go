package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue and counter keys shared by ingress and consumer.
// Both sides MUST agree on these names: the ingress pushes envelopes
// onto QueueName and the consumer increments ReceivedCountKey once per
// envelope it observes.
const (
	QueueName        = "event_queue"
	ReceivedCountKey = "stats:received_count"
)

// Client is a thin queue client on top of a Redis list.
// Enqueue pushes to the head (LPUSH), BlockingPop takes from the tail
// (BRPOP), so envelopes flow through in FIFO order per producer.
// The client is safe for concurrent use by HTTP handlers and the consumer.
type Client struct {
	rdb *redis.Client
}

// Connect creates a broker client from a redis:// URL and verifies
// the connection with a ping.
func Connect(brokerURL string) (*Client, error) {
	opts, err := redis.ParseURL(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker url: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	return &Client{rdb: client}, nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Enqueue pushes a single serialised envelope onto the queue head.
func (c *Client) Enqueue(ctx context.Context, envelope []byte) error {
	if err := c.rdb.LPush(ctx, QueueName, envelope).Err(); err != nil {
		return fmt.Errorf("broker enqueue error: %w", err)
	}
	return nil
}

// EnqueueBatch pushes envelopes in order using a single pipelined
// round trip. Either the pipeline reaches the broker or none of it does;
// validation of the envelopes is the caller's job and happens before.
func (c *Client) EnqueueBatch(ctx context.Context, envelopes [][]byte) error {
	if len(envelopes) == 0 {
		return nil
	}

	pipe := c.rdb.Pipeline()
	for _, envelope := range envelopes {
		pipe.LPush(ctx, QueueName, envelope)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("broker batch enqueue error: %w", err)
	}
	return nil
}

// BlockingPop pops from the queue tail, blocking up to timeout.
// Returns (nil, nil) when the queue stayed empty for the whole timeout,
// which gives the consumer loop a bounded cancellation check interval.
func (c *Client) BlockingPop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := c.rdb.BRPop(ctx, timeout, QueueName).Result()
	if err == redis.Nil {
		// Timeout, queue empty
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("broker pop error: %w", err)
	}

	// BRPop returns [key, value]
	return []byte(res[1]), nil
}

// IncrementReceived atomically increments the received counter and
// returns the post-increment value.
func (c *Client) IncrementReceived(ctx context.Context) (int64, error) {
	n, err := c.rdb.Incr(ctx, ReceivedCountKey).Result()
	if err != nil {
		return 0, fmt.Errorf("broker counter incr error: %w", err)
	}
	return n, nil
}

// GetReceived reads the received counter, zero when it was never set.
func (c *Client) GetReceived(ctx context.Context) (int64, error) {
	n, err := c.rdb.Get(ctx, ReceivedCountKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("broker counter get error: %w", err)
	}
	return n, nil
}

// QueueDepth returns the current number of envelopes waiting in the queue.
func (c *Client) QueueDepth(ctx context.Context) (int64, error) {
	n, err := c.rdb.LLen(ctx, QueueName).Result()
	if err != nil {
		return 0, fmt.Errorf("broker queue depth error: %w", err)
	}
	return n, nil
}
