package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/ivmironov/order-saga/internal/dal/postgres"
	"github.com/ivmironov/order-saga/internal/service/models/product"
	"github.com/shopspring/decimal"
)

// ProductRepository implements the inventory repository for PostgreSQL.
type ProductRepository struct {
	conn postgres.Querier
}

func NewProductRepository(conn postgres.Querier) *ProductRepository {
	return &ProductRepository{
		conn: conn,
	}
}

// GetForUpdate reads the requested products with row locks. Products are
// locked in id order to avoid deadlocks between concurrent orders.
func (r *ProductRepository) GetForUpdate(ctx context.Context, ids []int64) ([]product.Product, error) {
	query, args, err := sq.Select("id", "title", "price", "stock").
		From("products").
		Where(sq.Eq{"id": ids}).
		OrderBy("id").
		Suffix("FOR UPDATE").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var result []product.Product
	for rows.Next() {
		var (
			p     product.Product
			price string
		)
		if err := rows.Scan(&p.ID, &p.Title, &price, &p.Stock); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}

		p.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("failed to parse product price: %w", err)
		}

		result = append(result, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}

// DecrementStock subtracts quantity from the product's stock. The guard in
// the WHERE clause keeps stock non-negative even if a caller skipped the
// locked read.
func (r *ProductRepository) DecrementStock(ctx context.Context, id int64, quantity int) error {
	query, args, err := sq.Update("products").
		Set("stock", sq.Expr("stock - ?", quantity)).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		Where(sq.GtOrEq{"stock": quantity}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	tag, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &product.InsufficientStockError{ProductID: id, Requested: quantity}
	}

	return nil
}
