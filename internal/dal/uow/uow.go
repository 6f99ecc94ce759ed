package uow

import (
	"context"

	"github.com/ivmironov/order-saga/internal/dal/interfaces/iorderitemrepo"
	"github.com/ivmironov/order-saga/internal/dal/interfaces/iorderrepo"
	"github.com/ivmironov/order-saga/internal/dal/interfaces/ioutboxrepo"
	"github.com/ivmironov/order-saga/internal/dal/interfaces/iproductrepo"
	"github.com/ivmironov/order-saga/internal/dal/postgres"
	orderrepo "github.com/ivmironov/order-saga/internal/dal/repositories/order/postgres"
	orderitemrepo "github.com/ivmironov/order-saga/internal/dal/repositories/orderitem/postgres"
	outboxrepo "github.com/ivmironov/order-saga/internal/dal/repositories/outbox/postgres"
	productrepo "github.com/ivmironov/order-saga/internal/dal/repositories/product/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UnitOfWork scopes repositories to one transaction. Before Begin the
// repositories run directly on the pool; after Begin they share the
// transaction until Commit or Rollback.
type UnitOfWork struct {
	pool *pgxpool.Pool
	tx   pgx.Tx

	orderRepo     iorderrepo.IOrderRepository
	orderItemRepo iorderitemrepo.IOrderItemRepository
	productRepo   iproductrepo.IProductRepository
	outboxRepo    ioutboxrepo.IOutboxRepository
}

func NewUnitOfWork(client *postgres.Client) *UnitOfWork {
	pool := client.Pool()

	return &UnitOfWork{
		pool:          pool,
		orderRepo:     orderrepo.NewOrderRepository(pool),
		orderItemRepo: orderitemrepo.NewOrderItemRepository(pool),
		productRepo:   productrepo.NewProductRepository(pool),
		outboxRepo:    outboxrepo.NewOutboxRepository(pool),
	}
}

func (u *UnitOfWork) Begin(ctx context.Context) error {
	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return err
	}

	u.tx = tx
	u.orderRepo = orderrepo.NewOrderRepository(tx)
	u.orderItemRepo = orderitemrepo.NewOrderItemRepository(tx)
	u.productRepo = productrepo.NewProductRepository(tx)
	u.outboxRepo = outboxrepo.NewOutboxRepository(tx)

	return nil
}

func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.tx == nil {
		return nil
	}

	err := u.tx.Commit(ctx)
	u.tx = nil

	return err
}

func (u *UnitOfWork) Rollback(ctx context.Context) error {
	if u.tx == nil {
		return nil
	}

	err := u.tx.Rollback(ctx)
	u.tx = nil

	return err
}

func (u *UnitOfWork) OrderRepository() iorderrepo.IOrderRepository {
	return u.orderRepo
}

func (u *UnitOfWork) OrderItemRepository() iorderitemrepo.IOrderItemRepository {
	return u.orderItemRepo
}

func (u *UnitOfWork) ProductRepository() iproductrepo.IProductRepository {
	return u.productRepo
}

func (u *UnitOfWork) OutboxRepository() ioutboxrepo.IOutboxRepository {
	return u.outboxRepo
}
