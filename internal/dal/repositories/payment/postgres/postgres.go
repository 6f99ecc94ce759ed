package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ivmironov/order-saga/internal/dal/postgres"
	"github.com/ivmironov/order-saga/internal/service/models/payment"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// PaymentRepository implements the payment repository for PostgreSQL.
type PaymentRepository struct {
	conn postgres.Querier
}

func NewPaymentRepository(conn postgres.Querier) *PaymentRepository {
	return &PaymentRepository{
		conn: conn,
	}
}

// Insert creates the payment row. The unique index on order_id turns a
// concurrent duplicate into payment.ErrDuplicateOrderID, which the caller
// resolves by re-reading the winner's row.
func (r *PaymentRepository) Insert(ctx context.Context, p payment.Payment) error {
	query, args, err := sq.Insert("payments").
		Columns("id", "order_id", "user_id", "amount", "status", "transaction_id", "failure_reason", "created_at", "updated_at").
		Values(
			p.ID,
			p.OrderID,
			p.UserID,
			p.Amount.String(),
			p.Status.String(),
			p.TransactionID,
			p.FailureReason,
			p.CreatedAt,
			p.UpdatedAt,
		).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}

	if _, err := r.conn.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return payment.ErrDuplicateOrderID
		}

		return fmt.Errorf("failed to insert payment: %w", err)
	}

	return nil
}

// GetByOrderID retrieves the payment for an order, if any.
func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID int64) (payment.Payment, error) {
	query, args, err := sq.Select(
		"id", "order_id", "user_id", "amount", "status",
		"transaction_id", "failure_reason", "created_at", "updated_at",
	).
		From("payments").
		Where(sq.Eq{"order_id": orderID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return payment.Payment{}, fmt.Errorf("failed to build select query: %w", err)
	}

	var (
		p      payment.Payment
		amount string
		status string
	)
	err = r.conn.QueryRow(ctx, query, args...).Scan(
		&p.ID,
		&p.OrderID,
		&p.UserID,
		&amount,
		&status,
		&p.TransactionID,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payment.Payment{}, payment.ErrPaymentNotFound
		}

		return payment.Payment{}, fmt.Errorf("failed to get payment for order %d: %w", orderID, err)
	}

	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return payment.Payment{}, fmt.Errorf("failed to parse payment amount: %w", err)
	}
	p.Status = payment.Status(status)

	return p, nil
}

// Finalize moves the payment to its terminal status with the generated
// transaction id and, on failure, the stored reason.
func (r *PaymentRepository) Finalize(
	ctx context.Context,
	orderID int64,
	status payment.Status,
	transactionID string,
	failureReason *string,
	updatedAt time.Time,
) error {
	query, args, err := sq.Update("payments").
		Set("status", status.String()).
		Set("transaction_id", transactionID).
		Set("failure_reason", failureReason).
		Set("updated_at", updatedAt).
		Where(sq.Eq{"order_id": orderID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	tag, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to finalize payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrPaymentNotFound
	}

	return nil
}
