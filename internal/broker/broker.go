package broker

import (
	"context"
	"time"
)

// Message is a delivered fact. Payloads are versioned JSON documents;
// consumers must ignore unknown fields.
type Message struct {
	Topic     string
	Key       string
	Payload   []byte
	Timestamp time.Time
	// Attempt counts deliveries of this message to the handler, starting at 1.
	Attempt int
}

// Handler processes one delivered message. Returning an error leaves the
// message unacknowledged: it is logged and redelivered later. Handlers are
// therefore required to be idempotent.
type Handler func(ctx context.Context, msg Message) error

// Broker is the durable publish/subscribe substrate. Delivery is
// at-least-once; ordering is guaranteed only between messages sharing a key.
// Topics that do not exist yet are provisioned on first use, with bounded
// retry before the operation is reported as a soft failure.
type Broker interface {
	// Publish sends one fact and returns once the broker has acknowledged
	// persistence. Failure after exhausting retries surfaces to the caller.
	Publish(ctx context.Context, topic, key string, payload []byte) error

	// Subscribe registers handler under a named consumer group. Processes
	// sharing a group split the topic's partitions between them; separate
	// groups each receive every message.
	Subscribe(ctx context.Context, topic, group string, handler Handler) error

	Close() error
}
