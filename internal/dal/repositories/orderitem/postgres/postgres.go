package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/ivmironov/order-saga/internal/dal/postgres"
	"github.com/ivmironov/order-saga/internal/service/models/orderitem"
	"github.com/shopspring/decimal"
)

// OrderItemRepository implements the order item repository for PostgreSQL.
type OrderItemRepository struct {
	conn postgres.Querier
}

func NewOrderItemRepository(conn postgres.Querier) *OrderItemRepository {
	return &OrderItemRepository{
		conn: conn,
	}
}

// BulkInsert inserts the order's lines and returns them with assigned ids.
func (r *OrderItemRepository) BulkInsert(
	ctx context.Context,
	items []orderitem.OrderItem,
) ([]orderitem.OrderItem, error) {
	if len(items) == 0 {
		return []orderitem.OrderItem{}, nil
	}

	builder := sq.Insert("order_items").
		Columns("order_id", "product_id", "quantity", "unit_price", "subtotal").
		Suffix("RETURNING id").
		PlaceholderFormat(sq.Dollar)
	for _, item := range items {
		builder = builder.Values(
			item.OrderID,
			item.ProductID,
			item.Quantity,
			item.UnitPrice.String(),
			item.Subtotal.String(),
		)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build insert query: %w", err)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to bulk insert order items: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		if err := rows.Scan(&items[i].ID); err != nil {
			return nil, fmt.Errorf("failed to scan order item id: %w", err)
		}
		i++
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return items, nil
}

// QueryByOrderIDs retrieves all lines belonging to the given orders.
func (r *OrderItemRepository) QueryByOrderIDs(
	ctx context.Context,
	orderIDs []int64,
) ([]orderitem.OrderItem, error) {
	query, args, err := sq.Select("id", "order_id", "product_id", "quantity", "unit_price", "subtotal").
		From("order_items").
		Where(sq.Eq{"order_id": orderIDs}).
		OrderBy("id").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var result []orderitem.OrderItem
	for rows.Next() {
		var (
			item      orderitem.OrderItem
			unitPrice string
			subtotal  string
		)
		err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &unitPrice, &subtotal)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}

		item.UnitPrice, err = decimal.NewFromString(unitPrice)
		if err != nil {
			return nil, fmt.Errorf("failed to parse unit price: %w", err)
		}
		item.Subtotal, err = decimal.NewFromString(subtotal)
		if err != nil {
			return nil, fmt.Errorf("failed to parse subtotal: %w", err)
		}

		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}
