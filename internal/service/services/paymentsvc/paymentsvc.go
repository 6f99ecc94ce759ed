package paymentsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ivmironov/order-saga/internal/dal/interfaces/ipaymentrepo"
	"github.com/ivmironov/order-saga/internal/events"
	"github.com/ivmironov/order-saga/internal/service/models/payment"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

const (
	defaultLatency = 100 * time.Millisecond

	// defaultResumeAfter is how long a processing row may sit untouched
	// before a redelivered fact is allowed to take the attempt over. Fresh
	// rows belong to a concurrent worker that is still mid-attempt.
	defaultResumeAfter = time.Minute
)

// failureReason is what the simulated provider reports on a declined charge.
const failureReason = "payment declined by provider"

type publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// PaymentService performs at most one payment attempt per order. The order
// id is the idempotency key: a repeated call returns the stored result
// without re-running payment logic or re-emitting events, which is what
// makes redelivered order-created facts safe.
type PaymentService struct {
	paymentRepo ipaymentrepo.IPaymentRepository
	publisher   publisher
	// failEveryN makes roughly one attempt in N fail; 1 fails every
	// attempt, 0 disables simulated failures.
	failEveryN  int
	latency     time.Duration
	resumeAfter time.Duration
}

// option is a function that configures the PaymentService.
type option func(*PaymentService)

// MustNewPaymentService creates a new PaymentService.
func MustNewPaymentService(opts ...option) *PaymentService {
	s := &PaymentService{
		latency:     defaultLatency,
		resumeAfter: defaultResumeAfter,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.paymentRepo == nil {
		panic("paymentsvc: no payment repository configured")
	}
	if s.publisher == nil {
		panic("paymentsvc: no publisher configured")
	}

	return s
}

// WithPaymentRepository sets the payment repository.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithPaymentRepository(repo ipaymentrepo.IPaymentRepository) option {
	return func(s *PaymentService) {
		s.paymentRepo = repo
	}
}

// WithPublisher sets the broker used for payment facts.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithPublisher(p publisher) option {
	return func(s *PaymentService) {
		s.publisher = p
	}
}

// WithFailureRate makes one attempt in n fail. n = 1 fails every attempt.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithFailureRate(n int) option {
	return func(s *PaymentService) {
		s.failEveryN = n
	}
}

// WithLatency sets the simulated provider latency.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithLatency(d time.Duration) option {
	return func(s *PaymentService) {
		s.latency = d
	}
}

// WithResumeAfter sets how stale a processing row must be before a
// redelivered fact resumes the attempt.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithResumeAfter(d time.Duration) option {
	return func(s *PaymentService) {
		s.resumeAfter = d
	}
}

// ProcessPayment attempts the payment for an order exactly once. Subsequent
// calls for the same order id short-circuit to the stored terminal result.
// A processing row left behind by a crashed worker is resumed once it is
// stale; a fresh one belongs to a concurrent attempt and is returned as is.
// Two concurrent calls race on the order_id uniqueness constraint; the loser
// reads the winner's row instead of erroring.
func (s *PaymentService) ProcessPayment(
	ctx context.Context,
	orderID, userID int64,
	amount decimal.Decimal,
) (payment.Payment, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "PaymentService.ProcessPayment")
	defer span.End()

	existing, err := s.paymentRepo.GetByOrderID(ctx, orderID)
	if err == nil {
		if existing.Status.Terminal() {
			slog.Info("Payment already finalized, returning stored result",
				"order_id", orderID, "status", existing.Status.String())

			return existing, nil
		}

		if time.Since(existing.UpdatedAt) < s.resumeAfter {
			slog.Info("Payment attempt in flight elsewhere, returning current state",
				"order_id", orderID)

			return existing, nil
		}

		// The worker that inserted this row died between insert and
		// finalize. The attempt must finish or the order stays pending
		// forever.
		slog.Warn("Resuming abandoned payment attempt",
			"order_id", orderID, "stale_for", time.Since(existing.UpdatedAt).String())

		return s.settle(ctx, existing)
	}
	if !errors.Is(err, payment.ErrPaymentNotFound) {
		return payment.Payment{}, err
	}

	now := time.Now()
	p := payment.Payment{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		UserID:    userID,
		Amount:    amount,
		Status:    payment.StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.paymentRepo.Insert(ctx, p); err != nil {
		if errors.Is(err, payment.ErrDuplicateOrderID) {
			winner, readErr := s.paymentRepo.GetByOrderID(ctx, orderID)
			if readErr != nil {
				return payment.Payment{}, readErr
			}
			slog.Info("Lost insert race, returning winner's result",
				"order_id", orderID, "status", winner.Status.String())

			return winner, nil
		}

		return payment.Payment{}, err
	}

	// Published outside any row-locking window so the slow provider call
	// never holds a transaction open.
	s.publishAttempted(ctx, p)

	return s.settle(ctx, p)
}

// settle runs the provider simulation, finalizes the row, and publishes the
// terminal fact. It is the shared tail of a fresh attempt and a resumed one.
func (s *PaymentService) settle(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	if err := s.simulateProvider(ctx); err != nil {
		return p, err
	}

	transactionID := uuid.NewString()
	finishedAt := time.Now()

	if s.failEveryN > 0 && rand.IntN(s.failEveryN) == 0 {
		reason := failureReason

		err := s.paymentRepo.Finalize(
			ctx, p.OrderID, payment.StatusFailed, transactionID, &reason, finishedAt,
		)
		if err != nil {
			return payment.Payment{}, err
		}

		p.Status = payment.StatusFailed
		p.TransactionID = &transactionID
		p.FailureReason = &reason
		p.UpdatedAt = finishedAt

		s.publishOutcome(ctx, events.TopicPaymentFailed, events.PaymentFailed{
			SchemaVersion: events.SchemaVersion,
			TransactionID: transactionID,
			OrderID:       p.OrderID,
			UserID:        p.UserID,
			Amount:        p.Amount,
			Reason:        reason,
			Timestamp:     finishedAt,
		}, p.OrderID)

		slog.Info("Payment failed", "order_id", p.OrderID, "transaction_id", transactionID)

		return p, nil
	}

	err := s.paymentRepo.Finalize(
		ctx, p.OrderID, payment.StatusSucceeded, transactionID, nil, finishedAt,
	)
	if err != nil {
		return payment.Payment{}, err
	}

	p.Status = payment.StatusSucceeded
	p.TransactionID = &transactionID
	p.UpdatedAt = finishedAt

	s.publishOutcome(ctx, events.TopicPaymentSucceeded, events.PaymentSucceeded{
		SchemaVersion: events.SchemaVersion,
		TransactionID: transactionID,
		OrderID:       p.OrderID,
		UserID:        p.UserID,
		Amount:        p.Amount,
		Timestamp:     finishedAt,
	}, p.OrderID)

	slog.Info("Payment succeeded", "order_id", p.OrderID, "transaction_id", transactionID)

	return p, nil
}

// GetPayment returns the stored payment for an order.
func (s *PaymentService) GetPayment(ctx context.Context, orderID int64) (payment.Payment, error) {
	return s.paymentRepo.GetByOrderID(ctx, orderID)
}

func (s *PaymentService) publishAttempted(ctx context.Context, p payment.Payment) {
	payload, err := json.Marshal(events.PaymentAttempted{
		SchemaVersion: events.SchemaVersion,
		OrderID:       p.OrderID,
		UserID:        p.UserID,
		Amount:        p.Amount,
		TransactionID: nil,
		Timestamp:     p.CreatedAt,
	})
	if err != nil {
		slog.Error("Failed to marshal payment attempted event", "error", err)

		return
	}

	key := strconv.FormatInt(p.OrderID, 10)
	if err := s.publisher.Publish(ctx, events.TopicPaymentAttempted, key, payload); err != nil {
		slog.Error("Failed to publish payment attempted event",
			"order_id", p.OrderID, "error", err)
	}
}

func (s *PaymentService) publishOutcome(ctx context.Context, topic string, event any, orderID int64) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal payment outcome event", "topic", topic, "error", err)

		return
	}

	key := strconv.FormatInt(orderID, 10)
	if err := s.publisher.Publish(ctx, topic, key, payload); err != nil {
		// The terminal status is already durable in the payments row; a
		// reconciliation sweep can re-emit the fact.
		slog.Error("Failed to publish payment outcome event",
			"topic", topic, "order_id", orderID, "error", err)
	}
}

func (s *PaymentService) simulateProvider(ctx context.Context) error {
	if s.latency <= 0 {
		return nil
	}

	timer := time.NewTimer(s.latency)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("payment attempt interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
