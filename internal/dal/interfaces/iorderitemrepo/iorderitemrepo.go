package iorderitemrepo

import (
	"context"

	"github.com/ivmironov/order-saga/internal/service/models/orderitem"
)

type IOrderItemRepository interface {
	BulkInsert(ctx context.Context, items []orderitem.OrderItem) ([]orderitem.OrderItem, error)
	QueryByOrderIDs(ctx context.Context, orderIDs []int64) ([]orderitem.OrderItem, error)
}
