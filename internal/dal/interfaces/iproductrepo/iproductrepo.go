package iproductrepo

import (
	"context"

	"github.com/ivmironov/order-saga/internal/service/models/product"
)

type IProductRepository interface {
	// GetForUpdate reads the given products with row locks so the
	// check-and-decrement stays atomic with the surrounding transaction.
	GetForUpdate(ctx context.Context, ids []int64) ([]product.Product, error)
	DecrementStock(ctx context.Context, id int64, quantity int) error
}
