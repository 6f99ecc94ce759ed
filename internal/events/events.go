package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Topic names. All events for one order share the order id as partition key
// so a single partition serializes them.
const (
	TopicOrderCreated     = "order.created"
	TopicOrderUpdated     = "order.updated"
	TopicPaymentAttempted = "payment.attempted"
	TopicPaymentSucceeded = "payment.succeeded"
	TopicPaymentFailed    = "payment.failed"
)

// SchemaVersion is stamped into every payload. Consumers must ignore
// unknown fields so future versions can add fields without breaking them.
const SchemaVersion = 1

type OrderCreatedItem struct {
	ProductID int64           `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type OrderCreated struct {
	SchemaVersion int                `json:"schemaVersion"`
	OrderID       int64              `json:"orderId"`
	UserID        int64              `json:"userId"`
	Total         decimal.Decimal    `json:"total"`
	Items         []OrderCreatedItem `json:"items"`
	CreatedAt     time.Time          `json:"createdAt"`
}

type OrderUpdated struct {
	SchemaVersion int             `json:"schemaVersion"`
	OrderID       int64           `json:"orderId"`
	UserID        int64           `json:"userId"`
	Status        string          `json:"status"`
	Total         decimal.Decimal `json:"total"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type PaymentAttempted struct {
	SchemaVersion int             `json:"schemaVersion"`
	OrderID       int64           `json:"orderId"`
	UserID        int64           `json:"userId"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID *string         `json:"transactionId"`
	Timestamp     time.Time       `json:"timestamp"`
}

type PaymentSucceeded struct {
	SchemaVersion int             `json:"schemaVersion"`
	TransactionID string          `json:"transactionId"`
	OrderID       int64           `json:"orderId"`
	UserID        int64           `json:"userId"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     time.Time       `json:"timestamp"`
}

type PaymentFailed struct {
	SchemaVersion int             `json:"schemaVersion"`
	TransactionID string          `json:"transactionId"`
	OrderID       int64           `json:"orderId"`
	UserID        int64           `json:"userId"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
	Timestamp     time.Time       `json:"timestamp"`
}
