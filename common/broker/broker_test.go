package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := Connect("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := Connect("not-a-url")
	require.Error(t, err)
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect("redis://127.0.0.1:1")
	require.Error(t, err)
}

func TestEnqueue_BlockingPop_FIFO(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Enqueue(ctx, []byte("first")))
	require.NoError(t, client.Enqueue(ctx, []byte("second")))

	got, err := client.BlockingPop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	got, err = client.BlockingPop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestBlockingPop_Timeout(t *testing.T) {
	client, _ := newTestClient(t)

	got, err := client.BlockingPop(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got, "pop on empty queue should time out to nil")
}

func TestEnqueueBatch_PreservesOrder(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	batch := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	require.NoError(t, client.EnqueueBatch(ctx, batch))

	depth, err := client.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), depth)

	for _, want := range []string{"a", "b", "c"} {
		got, err := client.BlockingPop(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestEnqueueBatch_Empty(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.EnqueueBatch(ctx, nil))

	depth, err := client.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestIncrementReceived(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := client.IncrementReceived(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	n, err := client.GetReceived(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestGetReceived_Unset(t *testing.T) {
	client, _ := newTestClient(t)

	n, err := client.GetReceived(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "unset counter should read as zero")
}

func TestQueueDepth(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	mr.Lpush(QueueName, "x")
	mr.Lpush(QueueName, "y")

	depth, err := client.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}
