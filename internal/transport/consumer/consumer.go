package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/ivmironov/order-saga/internal/broker"
	"github.com/ivmironov/order-saga/internal/events"
	"github.com/ivmironov/order-saga/internal/service/models/order"
	"github.com/ivmironov/order-saga/internal/service/models/payment"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

const (
	// GroupPayments is the consumer group charging new orders.
	GroupPayments = "payment-service"
	// GroupOrders is the consumer group applying payment outcomes.
	GroupOrders = "order-service"
)

// maxNotFoundAttempts bounds redelivery of an outcome whose order row never
// appears. Past it the message is dropped so the partition keeps moving.
const maxNotFoundAttempts = 5

type subscriber interface {
	Subscribe(ctx context.Context, topic, group string, handler broker.Handler) error
}

type paymentProcessor interface {
	ProcessPayment(ctx context.Context, orderID, userID int64, amount decimal.Decimal) (payment.Payment, error)
}

type orderUpdater interface {
	UpdateOrderStatus(ctx context.Context, orderID int64, status order.Status) (order.Order, error)
}

// PaymentConsumer charges orders as their created facts arrive. Delivery is
// at least once; the payment service's order-id idempotency absorbs the
// duplicates.
type PaymentConsumer struct {
	payments paymentProcessor
}

func NewPaymentConsumer(payments paymentProcessor) *PaymentConsumer {
	return &PaymentConsumer{payments: payments}
}

// Run registers the consumer and returns; message handling continues until
// ctx is cancelled.
func (c *PaymentConsumer) Run(ctx context.Context, sub subscriber) error {
	return sub.Subscribe(ctx, events.TopicOrderCreated, GroupPayments, c.handleOrderCreated)
}

func (c *PaymentConsumer) handleOrderCreated(ctx context.Context, msg broker.Message) error {
	ctx, span := otel.Tracer("consumer").Start(ctx, "PaymentConsumer.handleOrderCreated")
	defer span.End()

	var event events.OrderCreated
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		// Malformed payloads never become parseable; retrying would jam
		// the partition.
		slog.Error("Dropping undecodable order created event",
			"topic", msg.Topic, "key", msg.Key, "error", err)

		return nil
	}

	p, err := c.payments.ProcessPayment(ctx, event.OrderID, event.UserID, event.Total)
	if err != nil {
		slog.Error("Payment attempt errored, message will be redelivered",
			"order_id", event.OrderID, "attempt", msg.Attempt, "error", err)

		return err
	}

	slog.Info("Order created event processed",
		"order_id", event.OrderID, "payment_status", p.Status.String())

	return nil
}

// OrderConsumer closes the saga: payment outcomes drive the order status
// machine. Confirm on success, cancel on failure.
type OrderConsumer struct {
	orders orderUpdater
}

func NewOrderConsumer(orders orderUpdater) *OrderConsumer {
	return &OrderConsumer{orders: orders}
}

// Run registers both outcome subscriptions and returns; message handling
// continues until ctx is cancelled.
func (c *OrderConsumer) Run(ctx context.Context, sub subscriber) error {
	err := sub.Subscribe(ctx, events.TopicPaymentSucceeded, GroupOrders, c.handlePaymentSucceeded)
	if err != nil {
		return err
	}

	return sub.Subscribe(ctx, events.TopicPaymentFailed, GroupOrders, c.handlePaymentFailed)
}

func (c *OrderConsumer) handlePaymentSucceeded(ctx context.Context, msg broker.Message) error {
	ctx, span := otel.Tracer("consumer").Start(ctx, "OrderConsumer.handlePaymentSucceeded")
	defer span.End()

	var event events.PaymentSucceeded
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("Dropping undecodable payment succeeded event",
			"topic", msg.Topic, "key", msg.Key, "error", err)

		return nil
	}

	return c.applyOutcome(ctx, event.OrderID, order.StatusConfirmed, msg.Attempt)
}

func (c *OrderConsumer) handlePaymentFailed(ctx context.Context, msg broker.Message) error {
	ctx, span := otel.Tracer("consumer").Start(ctx, "OrderConsumer.handlePaymentFailed")
	defer span.End()

	var event events.PaymentFailed
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("Dropping undecodable payment failed event",
			"topic", msg.Topic, "key", msg.Key, "error", err)

		return nil
	}

	slog.Info("Payment failed, cancelling order",
		"order_id", event.OrderID, "reason", event.Reason)

	return c.applyOutcome(ctx, event.OrderID, order.StatusCancelled, msg.Attempt)
}

func (c *OrderConsumer) applyOutcome(
	ctx context.Context,
	orderID int64,
	status order.Status,
	attempt int,
) error {
	o, err := c.orders.UpdateOrderStatus(ctx, orderID, status)
	if err != nil {
		// The stored status is authoritative: an outcome that conflicts
		// with it (say, the order was cancelled while the payment was in
		// flight) will never apply better on redelivery, so it must not
		// hold up the partition.
		if errors.Is(err, order.ErrInvalidTransition) {
			slog.Warn("Payment outcome conflicts with current order status, dropping",
				"order_id", orderID, "target_status", status.String(),
				"attempt", attempt, "error", err)

			return nil
		}
		if errors.Is(err, order.ErrOrderNotFound) && attempt >= maxNotFoundAttempts {
			slog.Error("Order still unknown after redeliveries, dropping outcome",
				"order_id", orderID, "target_status", status.String(),
				"attempt", attempt, "error", err)

			return nil
		}

		slog.Error("Failed to apply payment outcome, message will be redelivered",
			"order_id", orderID, "target_status", status.String(),
			"attempt", attempt, "error", err)

		return err
	}

	slog.Info("Payment outcome applied",
		"order_id", orderID, "status", o.Status.String())

	return nil
}
