package rabbitmq

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/ivmironov/order-saga/internal/broker"
	"github.com/ivmironov/order-saga/internal/retrypolicy"
	"github.com/spf13/viper"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"
)

// Broker is the RabbitMQ implementation of the messaging substrate.
// Every topic maps to a durable topic exchange; every consumer group maps to
// a durable queue named <topic>.<group> bound to that exchange, so processes
// sharing a group split deliveries while separate groups each get a copy.
// Publishing waits for a broker confirm; unacked handler errors are nacked
// back for redelivery.
type Broker struct {
	conn *amqp.Connection

	mu       sync.Mutex
	pubCh    *amqp.Channel
	confirms chan amqp.Confirmation
	declared map[string]bool

	policy   retrypolicy.Policy
	prefetch int
}

// MustNewBroker connects to RabbitMQ and opens a confirm-mode publish channel.
func MustNewBroker() *Broker {
	host := viper.GetString("rabbitmq.host")
	port := viper.GetInt("rabbitmq.port")
	user := viper.GetString("rabbitmq.user")
	password := viper.GetString("rabbitmq.password")

	if host == "" {
		host = "rabbitmq"
	}
	if port == 0 {
		port = 5672
	}

	connStr := fmt.Sprintf("amqp://%s:%s@%s:%d/", user, password, host, port)

	conn, err := amqp.Dial(connStr)
	if err != nil {
		panic(fmt.Sprintf("Failed to connect to RabbitMQ: %v", err))
	}

	pubCh, err := conn.Channel()
	if err != nil {
		if err := conn.Close(); err != nil {
			panic(fmt.Sprintf("Failed to close a connection: %v", err))
		}
		panic(fmt.Sprintf("Failed to open a channel: %v", err))
	}

	if err := pubCh.Confirm(false); err != nil {
		panic(fmt.Sprintf("Failed to put channel into confirm mode: %v", err))
	}
	confirms := pubCh.NotifyPublish(make(chan amqp.Confirmation, 1))

	prefetch := viper.GetInt("rabbitmq.prefetch")
	if prefetch == 0 {
		prefetch = 1
	}

	slog.Info("RabbitMQ connected", "host", host, "port", port)

	return &Broker{
		conn:     conn,
		pubCh:    pubCh,
		confirms: confirms,
		declared: make(map[string]bool),
		policy:   retrypolicy.Default(),
		prefetch: prefetch,
	}
}

// ensureTopic declares the topic exchange, retrying with backoff so a
// not-yet-provisioned broker surfaces as a soft failure, not a crash.
func (b *Broker) ensureTopic(ctx context.Context, ch *amqp.Channel, topic string) error {
	return b.policy.Do(ctx, func(ctx context.Context) error {
		return ch.ExchangeDeclare(
			topic,
			"topic",
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		)
	})
}

// Publish sends one persistent message and waits for the broker confirm.
func (b *Broker) Publish(ctx context.Context, topic, key string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.declared[topic] {
		if err := b.ensureTopic(ctx, b.pubCh, topic); err != nil {
			return fmt.Errorf("failed to provision topic %s: %w", topic, err)
		}
		b.declared[topic] = true
	}

	return b.policy.Do(ctx, func(ctx context.Context) error {
		err := b.pubCh.Publish(
			topic,
			key,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
				Body:         payload,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to publish to %s: %w", topic, err)
		}

		select {
		case confirm := <-b.confirms:
			if !confirm.Ack {
				return fmt.Errorf("broker nacked publish to %s", topic)
			}

			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Subscribe binds a durable group queue to the topic exchange and consumes
// from it. A handler error is logged and the delivery nacked with requeue,
// never crashing the loop.
func (b *Broker) Subscribe(ctx context.Context, topic, group string, handler broker.Handler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	queueName := topic + "." + group
	err = b.policy.Do(ctx, func(ctx context.Context) error {
		if err := b.ensureTopic(ctx, ch, topic); err != nil {
			return err
		}
		if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
		}
		if err := ch.QueueBind(queueName, "#", topic, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", queueName, err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queueName,
		group,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", queueName, err)
	}

	slog.Info("Consumer started", "topic", topic, "queue", queueName, "group", group)

	go b.consumeLoop(ctx, topic, group, deliveries, handler)

	return nil
}

// consumeLoop fans deliveries out to a fixed set of lanes. A delivery's
// routing key always hashes to the same lane and each lane is drained by a
// single goroutine, so messages sharing a key are handled in order while
// different keys still run in parallel.
func (b *Broker) consumeLoop(
	ctx context.Context,
	topic, group string,
	deliveries <-chan amqp.Delivery,
	handler broker.Handler,
) {
	g, gctx := errgroup.WithContext(ctx)

	lanes := make([]chan amqp.Delivery, b.prefetch)
	for i := range lanes {
		lane := make(chan amqp.Delivery, b.prefetch)
		lanes[i] = lane
		g.Go(func() error {
			for delivery := range lane {
				b.processDelivery(gctx, topic, group, delivery, handler)
			}

			return nil
		})
	}

	drain := func() {
		for _, lane := range lanes {
			close(lane)
		}
		if err := g.Wait(); err != nil {
			slog.Error("Error processing messages", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			drain()

			return
		case delivery, ok := <-deliveries:
			if !ok {
				slog.Info("Message channel closed", "topic", topic, "group", group)
				drain()

				return
			}

			lanes[laneFor(delivery.RoutingKey, len(lanes))] <- delivery
		}
	}
}

// laneFor maps a routing key onto one of n lanes.
func laneFor(key string, n int) int {
	if n <= 1 {
		return 0
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(key))

	return int(h.Sum32() % uint32(n))
}

func (b *Broker) processDelivery(
	ctx context.Context,
	topic, group string,
	delivery amqp.Delivery,
	handler broker.Handler,
) {
	msg := broker.Message{
		Topic:     topic,
		Key:       delivery.RoutingKey,
		Payload:   delivery.Body,
		Timestamp: delivery.Timestamp,
		Attempt:   1,
	}
	if delivery.Redelivered {
		msg.Attempt = 2
	}

	if err := handler(ctx, msg); err != nil {
		slog.Error("Handler failed, message will be redelivered",
			"topic", topic,
			"group", group,
			"key", msg.Key,
			"attempt", msg.Attempt,
			"error", err,
		)
		if err := delivery.Nack(false, true); err != nil {
			slog.Error("Failed to nack message", "error", err)
		}

		return
	}

	if err := delivery.Ack(false); err != nil {
		slog.Error("Failed to ack message", "error", err)
	}
}

// Close closes the publish channel and the connection for graceful shutdown.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubCh != nil {
		if err := b.pubCh.Close(); err != nil {
			return err
		}
	}
	if b.conn != nil {
		return b.conn.Close()
	}

	return nil
}
