package firehose

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	defaultQueueKey  = "orgportal:webhooks"
	defaultBatchSize = 10
)

// envelope is the wire form of a queued delivery.
type envelope struct {
	Identifier string            `json:"identifier"`
	Properties map[string]string `json:"properties"`
	Body       json.RawMessage   `json:"body"`
}

// RedisQueueOptions configures a RedisQueue.
type RedisQueueOptions struct {
	Client *redis.Client

	// QueueKey is the list producers push to. Defaults to
	// "orgportal:webhooks"; the processing list is QueueKey+":processing".
	QueueKey string

	// BatchSize caps how many messages one ReceiveMessages call drains.
	BatchSize int
}

// RedisQueue is a Redis-list-backed webhook queue. Receives move each
// message atomically onto a processing list, so an acknowledged message is
// removed exactly once and an unacknowledged one survives a worker crash.
type RedisQueue struct {
	client        *redis.Client
	queueKey      string
	processingKey string
	batchSize     int

	mu      sync.Mutex
	pending map[string]string
}

func NewRedisQueue(opts RedisQueueOptions) *RedisQueue {
	queueKey := opts.QueueKey
	if queueKey == "" {
		queueKey = defaultQueueKey
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &RedisQueue{
		client:        opts.Client,
		queueKey:      queueKey,
		processingKey: queueKey + ":processing",
		batchSize:     batchSize,
		pending:       make(map[string]string),
	}
}

// Enqueue pushes one webhook delivery onto the queue and returns its
// identifier. The "started" property is stamped when absent so consumers
// can measure queue delay.
func (q *RedisQueue) Enqueue(ctx context.Context, eventType string, payload []byte, properties map[string]string) (string, error) {
	props := make(map[string]string, len(properties)+2)
	for k, v := range properties {
		props[k] = v
	}
	if eventType != "" {
		props["event"] = eventType
	}
	if props["started"] == "" {
		props["started"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	env := envelope{
		Identifier: uuid.NewString(),
		Properties: props,
		Body:       json.RawMessage(payload),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queue envelope: %w", err)
	}
	if err := q.client.LPush(ctx, q.queueKey, raw).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue webhook: %w", err)
	}
	return env.Identifier, nil
}

// ReceiveMessages drains up to BatchSize messages, moving each onto the
// processing list. A payload whose body is not valid JSON still comes back
// as a message (with a nil Body) so the worker can acknowledge it away.
func (q *RedisQueue) ReceiveMessages(ctx context.Context) ([]*QueueMessage, error) {
	var messages []*QueueMessage
	for i := 0; i < q.batchSize; i++ {
		raw, err := q.client.RPopLPush(ctx, q.queueKey, q.processingKey).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return messages, fmt.Errorf("failed to receive webhook message: %w", err)
		}

		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			env = envelope{Identifier: uuid.NewString()}
		}
		message := &QueueMessage{
			Identifier:       env.Identifier,
			UnparsedBody:     []byte(env.Body),
			CustomProperties: env.Properties,
		}
		if message.CustomProperties == nil {
			message.CustomProperties = map[string]string{}
		}
		var body map[string]interface{}
		if err := json.Unmarshal(env.Body, &body); err == nil {
			message.Body = body
		}

		q.mu.Lock()
		q.pending[message.Identifier] = raw
		q.mu.Unlock()
		messages = append(messages, message)
	}
	return messages, nil
}

// DeleteMessage acknowledges a received message, removing it from the
// processing list. Acknowledging a message twice is a no-op.
func (q *RedisQueue) DeleteMessage(ctx context.Context, message *QueueMessage) error {
	q.mu.Lock()
	raw, ok := q.pending[message.Identifier]
	if ok {
		delete(q.pending, message.Identifier)
	}
	q.mu.Unlock()
	if !ok {
		return nil
	}
	if err := q.client.LRem(ctx, q.processingKey, 1, raw).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge webhook message: %w", err)
	}
	return nil
}

// RecoverProcessing moves messages stranded on the processing list by a
// previous crashed run back onto the main queue. Call before starting
// workers.
func (q *RedisQueue) RecoverProcessing(ctx context.Context) (int, error) {
	recovered := 0
	for {
		_, err := q.client.RPopLPush(ctx, q.processingKey, q.queueKey).Result()
		if err == redis.Nil {
			return recovered, nil
		}
		if err != nil {
			return recovered, fmt.Errorf("failed to recover processing queue: %w", err)
		}
		recovered++
	}
}

// Depth reports the number of messages waiting on the queue.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueKey).Result()
}
