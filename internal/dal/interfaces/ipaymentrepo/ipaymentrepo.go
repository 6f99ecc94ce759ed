package ipaymentrepo

import (
	"context"
	"time"

	"github.com/ivmironov/order-saga/internal/service/models/payment"
)

type IPaymentRepository interface {
	// Insert returns payment.ErrDuplicateOrderID when a row for the same
	// order already exists.
	Insert(ctx context.Context, p payment.Payment) error
	GetByOrderID(ctx context.Context, orderID int64) (payment.Payment, error)
	Finalize(
		ctx context.Context,
		orderID int64,
		status payment.Status,
		transactionID string,
		failureReason *string,
		updatedAt time.Time,
	) error
}
