package product

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrProductNotFound = errors.New("product not found")

// Product is the inventory record consulted and decremented by the order
// transaction.
type Product struct {
	ID    int64           `json:"id"`
	Title string          `json:"title"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// InsufficientStockError names the offending product and both quantities.
type InsufficientStockError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf(
		"insufficient stock for product %d: available %d, requested %d",
		e.ProductID, e.Available, e.Requested,
	)
}
