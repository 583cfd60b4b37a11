// Package firehose drains the webhook event queue and dispatches each event
// to its organization's processor. Delivery is at least once: a message is
// acknowledged only after it has been handled or judged unprocessable.
package firehose

import (
	"context"
	"time"
)

// QueueMessage is one webhook delivery pulled off the queue.
type QueueMessage struct {
	// Identifier is the queue-level handle used for acknowledgment and
	// logging.
	Identifier string

	// Body is the decoded webhook payload.
	Body map[string]interface{}

	// UnparsedBody is the raw payload exactly as enqueued, for processors
	// that need to re-verify signatures.
	UnparsedBody []byte

	// CustomProperties carries the delivery headers: "event" holds the
	// event type, "started" the enqueue timestamp.
	CustomProperties map[string]string
}

// EventType returns the delivery's event type, or "" when absent.
func (m *QueueMessage) EventType() string {
	return m.CustomProperties["event"]
}

// EnqueuedAt parses the enqueue timestamp from the delivery properties.
// Returns the zero time when the property is absent or unparseable.
func (m *QueueMessage) EnqueuedAt() time.Time {
	raw := m.CustomProperties["started"]
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// Queue is the collaborator contract the worker drains. ReceiveMessages may
// return an empty batch; DeleteMessage acknowledges one message.
type Queue interface {
	ReceiveMessages(ctx context.Context) ([]*QueueMessage, error)
	DeleteMessage(ctx context.Context, message *QueueMessage) error
}
