package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ivmironov/order-saga/internal/dal/postgres"
	"github.com/ivmironov/order-saga/internal/service/models/order"
	"github.com/ivmironov/order-saga/internal/service/models/orderitem"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// OrderRepository implements the order repository for PostgreSQL.
type OrderRepository struct {
	conn postgres.Querier
}

// NewOrderRepository creates a repository bound to a pool or a transaction.
func NewOrderRepository(conn postgres.Querier) *OrderRepository {
	return &OrderRepository{
		conn: conn,
	}
}

// Insert persists the order and returns it with the assigned id.
func (r *OrderRepository) Insert(ctx context.Context, o order.Order) (order.Order, error) {
	query, args, err := sq.Insert("orders").
		Columns("user_id", "status", "total", "note", "created_at", "updated_at").
		Values(o.UserID, o.Status.String(), o.Total.String(), o.Note, o.CreatedAt, o.UpdatedAt).
		Suffix("RETURNING id").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to build insert query: %w", err)
	}

	if err := r.conn.QueryRow(ctx, query, args...).Scan(&o.ID); err != nil {
		return order.Order{}, fmt.Errorf("failed to insert order: %w", err)
	}

	return o, nil
}

// GetByID retrieves a single order without its items.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (order.Order, error) {
	query, args, err := sq.Select("id", "user_id", "status", "total", "note", "created_at", "updated_at").
		From("orders").
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to build select query: %w", err)
	}

	o, err := scanOrder(r.conn.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.Order{}, order.ErrOrderNotFound
		}

		return order.Order{}, fmt.Errorf("failed to get order %d: %w", id, err)
	}

	return o, nil
}

// Query retrieves orders based on filter criteria.
func (r *OrderRepository) Query(ctx context.Context, filter *order.QueryOrdersModel) ([]order.Order, error) {
	builder := sq.Select("id", "user_id", "status", "total", "note", "created_at", "updated_at").
		From("orders").
		OrderBy("id").
		PlaceholderFormat(sq.Dollar)

	if len(filter.Ids) > 0 {
		builder = builder.Where(sq.Eq{"id": filter.Ids})
	}
	if len(filter.UserIds) > 0 {
		builder = builder.Where(sq.Eq{"user_id": filter.UserIds})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var result []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		result = append(result, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}

// UpdateStatus persists a validated status transition.
func (r *OrderRepository) UpdateStatus(
	ctx context.Context,
	id int64,
	status order.Status,
	updatedAt time.Time,
) error {
	query, args, err := sq.Update("orders").
		Set("status", status.String()).
		Set("updated_at", updatedAt).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	tag, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrOrderNotFound
	}

	return nil
}

type row interface {
	Scan(dest ...any) error
}

func scanOrder(r row) (order.Order, error) {
	var (
		o      order.Order
		status string
		total  string
	)
	if err := r.Scan(&o.ID, &o.UserID, &status, &total, &o.Note, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return order.Order{}, err
	}

	parsedStatus, err := order.ParseStatus(status)
	if err != nil {
		return order.Order{}, err
	}
	o.Status = parsedStatus

	o.Total, err = decimal.NewFromString(total)
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to parse order total: %w", err)
	}

	o.OrderItems = []orderitem.OrderItem{}

	return o, nil
}
