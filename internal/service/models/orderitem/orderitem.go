package orderitem

import (
	"github.com/shopspring/decimal"
)

// OrderItem is a line within an order. The unit price is captured at order
// time and never re-derived from the catalog later.
type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"orderId"`
	ProductID int64           `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// NewItem is the client's requested line: product plus quantity. Pricing is
// resolved inside the order transaction.
type NewItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}
