package firehose

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisQueue(t *testing.T, batchSize int) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(RedisQueueOptions{Client: client, QueueKey: "test:webhooks", BatchSize: batchSize}), mr
}

func TestRedisQueueRoundTrip(t *testing.T) {
	queue, _ := newRedisQueue(t, 10)
	ctx := context.Background()

	payload := []byte(`{"organization":{"login":"contoso"},"action":"created"}`)
	id, err := queue.Enqueue(ctx, "repository", payload, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	messages, err := queue.ReceiveMessages(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	message := messages[0]
	assert.Equal(t, id, message.Identifier)
	assert.Equal(t, "repository", message.EventType())
	assert.JSONEq(t, string(payload), string(message.UnparsedBody))
	organization := message.Body["organization"].(map[string]interface{})
	assert.Equal(t, "contoso", organization["login"])
	// Enqueue stamps "started" so consumers can measure queue delay.
	assert.WithinDuration(t, time.Now(), message.EnqueuedAt(), 5*time.Second)
}

func TestRedisQueueAcknowledgment(t *testing.T) {
	queue, mr := newRedisQueue(t, 10)
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, "push", []byte(`{}`), nil)
	require.NoError(t, err)

	messages, err := queue.ReceiveMessages(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	// Received messages sit on the processing list until acknowledged.
	processing, err := mr.List("test:webhooks:processing")
	require.NoError(t, err)
	assert.Len(t, processing, 1)

	require.NoError(t, queue.DeleteMessage(ctx, messages[0]))
	processing, err = mr.List("test:webhooks:processing")
	require.NoError(t, err)
	assert.Empty(t, processing)

	// Double acknowledgment is a no-op.
	require.NoError(t, queue.DeleteMessage(ctx, messages[0]))
}

func TestRedisQueueBatchSize(t *testing.T) {
	queue, _ := newRedisQueue(t, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := queue.Enqueue(ctx, "push", []byte(`{}`), nil)
		require.NoError(t, err)
	}

	messages, err := queue.ReceiveMessages(ctx)
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	depth, err := queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), depth)
}

func TestRedisQueueEmptyReceive(t *testing.T) {
	queue, _ := newRedisQueue(t, 10)
	messages, err := queue.ReceiveMessages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestRedisQueueRecoverProcessing(t *testing.T) {
	queue, _ := newRedisQueue(t, 10)
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, "push", []byte(`{}`), nil)
	require.NoError(t, err)
	_, err = queue.ReceiveMessages(ctx)
	require.NoError(t, err)

	// Simulate a crashed worker: the message is stuck on processing.
	recovered, err := queue.RecoverProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	depth, err := queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestRedisQueueNonObjectBody(t *testing.T) {
	queue, mr := newRedisQueue(t, 10)
	ctx := context.Background()

	// A producer that enqueued something other than a JSON object.
	_, err := mr.Lpush("test:webhooks", `{"identifier":"odd-1","properties":{"event":"push"},"body":"zen"}`)
	require.NoError(t, err)

	messages, err := queue.ReceiveMessages(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	// The body stays nil but the message is still acknowledgeable.
	assert.Nil(t, messages[0].Body)
	assert.Equal(t, "odd-1", messages[0].Identifier)
	require.NoError(t, queue.DeleteMessage(ctx, messages[0]))
}
