package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/ivmironov/order-saga/internal/service/models/orderitem"
	"github.com/shopspring/decimal"
)

// Status is the order lifecycle status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

// allowedTransitions encodes the lifecycle state machine. Delivered and
// cancelled are terminal: no resurrection.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusShipped:   true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusDelivered: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrUnknownStatus     = errors.New("unknown order status")
)

// ParseStatus validates a raw status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled:
		return Status(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	return allowedTransitions[s][next]
}

// Order represents an order in the system.
type Order struct {
	ID         int64                 `json:"id"`
	UserID     int64                 `json:"userId"`
	Total      decimal.Decimal       `json:"total"`
	Status     Status                `json:"status"`
	Note       string                `json:"note"`
	CreatedAt  time.Time             `json:"createdAt"`
	UpdatedAt  time.Time             `json:"updatedAt"`
	OrderItems []orderitem.OrderItem `json:"orderItems"`
}

// QueryOrdersModel filters order queries.
type QueryOrdersModel struct {
	Ids     []int64
	UserIds []int64
	Limit   int
	Offset  int
}
