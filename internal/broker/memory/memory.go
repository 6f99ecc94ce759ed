package memory

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/ivmironov/order-saga/internal/broker"
)

const (
	defaultPartitions     = 8
	defaultRedeliverDelay = 50 * time.Millisecond
	idlePollInterval      = 20 * time.Millisecond
)

// Broker is an in-process implementation of the messaging substrate used by
// tests and local runs. Topics are split into a fixed number of partitions;
// a message lands on the partition chosen by its key, so messages sharing a
// key are delivered in publish order. Each consumer group tracks its own
// offset per partition, and a handler error leaves the offset in place so the
// message is redelivered.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]*topic

	partitions     int
	redeliverDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type topic struct {
	mu     sync.Mutex
	parts  []*partition
	groups map[string]bool
}

type partition struct {
	mu      sync.Mutex
	records []broker.Message
	subs    []chan struct{}
}

type option func(*Broker)

// WithPartitions overrides the per-topic partition count.
func WithPartitions(n int) option {
	return func(b *Broker) {
		if n > 0 {
			b.partitions = n
		}
	}
}

// WithRedeliverDelay overrides the delay before a failed message is retried.
func WithRedeliverDelay(d time.Duration) option {
	return func(b *Broker) {
		if d > 0 {
			b.redeliverDelay = d
		}
	}
}

// NewBroker creates an in-process broker.
func NewBroker(opts ...option) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		topics:         make(map[string]*topic),
		partitions:     defaultPartitions,
		redeliverDelay: defaultRedeliverDelay,
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// ensureTopic provisions the topic on first use.
func (b *Broker) ensureTopic(name string) *topic {
	b.mu.RLock()
	t, ok := b.topics[name]
	b.mu.RUnlock()
	if ok {
		return t
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok = b.topics[name]; ok {
		return t
	}

	t = &topic{
		parts:  make([]*partition, b.partitions),
		groups: make(map[string]bool),
	}
	for i := range t.parts {
		t.parts[i] = &partition{}
	}
	b.topics[name] = t
	slog.Info("topic provisioned", "topic", name, "partitions", b.partitions)

	return t
}

// Publish appends the message to the partition selected by key and wakes
// the partition's consumers.
func (b *Broker) Publish(ctx context.Context, topicName, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := b.ensureTopic(topicName)
	p := t.parts[partitionFor(key, len(t.parts))]

	msg := broker.Message{
		Topic:     topicName,
		Key:       key,
		Payload:   append([]byte(nil), payload...),
		Timestamp: time.Now(),
	}

	p.mu.Lock()
	p.records = append(p.records, msg)
	subs := p.subs
	p.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- struct{}{}:
		default:
		}
	}

	return nil
}

// Subscribe starts one consume loop per partition for the given group.
// A second subscriber in the same group is an idle standby: the first
// registration already consumes every partition.
func (b *Broker) Subscribe(ctx context.Context, topicName, group string, handler broker.Handler) error {
	t := b.ensureTopic(topicName)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.groups[group] {
		return nil
	}
	t.groups[group] = true

	for _, p := range t.parts {
		b.wg.Add(1)
		go b.consumePartition(ctx, p, group, handler)
	}

	return nil
}

func (b *Broker) consumePartition(ctx context.Context, p *partition, group string, handler broker.Handler) {
	defer b.wg.Done()

	notify := make(chan struct{}, 1)
	p.mu.Lock()
	p.subs = append(p.subs, notify)
	p.mu.Unlock()

	offset := 0
	attempt := 1
	for {
		p.mu.Lock()
		var msg broker.Message
		ok := offset < len(p.records)
		if ok {
			msg = p.records[offset]
		}
		p.mu.Unlock()

		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-b.ctx.Done():
				return
			case <-notify:
			case <-time.After(idlePollInterval):
			}

			continue
		}

		msg.Attempt = attempt
		if err := handler(ctx, msg); err != nil {
			slog.Error("handler failed, message will be redelivered",
				"topic", msg.Topic,
				"key", msg.Key,
				"group", group,
				"attempt", attempt,
				"error", err,
			)
			attempt++

			select {
			case <-ctx.Done():
				return
			case <-b.ctx.Done():
				return
			case <-time.After(b.redeliverDelay):
			}

			continue
		}

		offset++
		attempt = 1
	}
}

// Close stops all consume loops.
func (b *Broker) Close() error {
	b.cancel()
	b.wg.Wait()

	return nil
}

func partitionFor(key string, parts int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))

	return int(h.Sum32() % uint32(parts))
}
