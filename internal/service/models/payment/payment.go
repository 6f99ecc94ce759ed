package payment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the payment lifecycle status.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

func (s Status) String() string {
	return string(s)
}

// Terminal reports whether the payment reached a final outcome.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

var (
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrDuplicateOrderID is the loser's side of the race on the
	// payments.order_id uniqueness constraint.
	ErrDuplicateOrderID = errors.New("payment for this order already exists")
)

// Payment records one payment attempt per order. OrderID is the idempotency
// key; the schema enforces its uniqueness.
type Payment struct {
	ID            string          `json:"id"`
	OrderID       int64           `json:"orderId"`
	UserID        int64           `json:"userId"`
	Amount        decimal.Decimal `json:"amount"`
	Status        Status          `json:"status"`
	TransactionID *string         `json:"transactionId"`
	FailureReason *string         `json:"failureReason"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}
