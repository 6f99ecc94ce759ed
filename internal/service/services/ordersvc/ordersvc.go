package ordersvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ivmironov/order-saga/internal/dal/interfaces/iorderitemrepo"
	"github.com/ivmironov/order-saga/internal/dal/interfaces/iorderrepo"
	"github.com/ivmironov/order-saga/internal/dal/interfaces/ioutboxrepo"
	"github.com/ivmironov/order-saga/internal/dal/interfaces/iproductrepo"
	"github.com/ivmironov/order-saga/internal/dal/postgres"
	"github.com/ivmironov/order-saga/internal/dal/uow"
	"github.com/ivmironov/order-saga/internal/events"
	"github.com/ivmironov/order-saga/internal/service/models/order"
	"github.com/ivmironov/order-saga/internal/service/models/orderitem"
	"github.com/ivmironov/order-saga/internal/service/models/outbox"
	"github.com/ivmironov/order-saga/internal/service/models/product"
	"github.com/ivmironov/order-saga/internal/userdir"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

const defaultOutboxMaxRetries = 10

var (
	ErrEmptyOrder      = errors.New("order must contain at least one item")
	ErrInvalidQuantity = errors.New("item quantity must be positive")
)

type unitOfWork interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	OrderRepository() iorderrepo.IOrderRepository
	OrderItemRepository() iorderitemrepo.IOrderItemRepository
	ProductRepository() iproductrepo.IProductRepository
	OutboxRepository() ioutboxrepo.IOutboxRepository
}

type directory interface {
	Lookup(ctx context.Context, userID int64) (*userdir.Profile, error)
}

// OrderService creates orders atomically against inventory and drives the
// order status state machine. Events it emits are written to the outbox in
// the same transaction as the state they describe.
type OrderService struct {
	newUOW           func() unitOfWork
	directory        directory
	outboxMaxRetries int
}

// option is a function that configures the OrderService.
type option func(*OrderService)

// MustNewOrderService creates a new OrderService.
func MustNewOrderService(opts ...option) *OrderService {
	s := &OrderService{
		outboxMaxRetries: defaultOutboxMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.newUOW == nil {
		panic("ordersvc: no unit of work source configured")
	}

	return s
}

// WithPostgresClient sets the Postgres client for the OrderService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithPostgresClient(pgClient *postgres.Client) option {
	return func(s *OrderService) {
		s.newUOW = func() unitOfWork {
			return uow.NewUnitOfWork(pgClient)
		}
	}
}

// WithUnitOfWorkFactory overrides the unit of work source, mainly for tests.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithUnitOfWorkFactory(factory func() unitOfWork) option {
	return func(s *OrderService) {
		s.newUOW = factory
	}
}

// WithDirectory sets the user directory used to enrich new orders.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithDirectory(d directory) option {
	return func(s *OrderService) {
		s.directory = d
	}
}

// CreateOrder verifies stock, prices the cart, persists the order with its
// lines, decrements inventory, and records the order-created fact in one
// transaction. On any failure everything rolls back.
func (s *OrderService) CreateOrder(
	ctx context.Context,
	userID int64,
	items []orderitem.NewItem,
	note string,
) (order.Order, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	if len(items) == 0 {
		return order.Order{}, ErrEmptyOrder
	}

	productIDs := make([]int64, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return order.Order{}, fmt.Errorf("%w: product %d", ErrInvalidQuantity, item.ProductID)
		}
		productIDs = append(productIDs, item.ProductID)
	}

	note = s.enrichNote(ctx, userID, note)

	work := s.newUOW()
	if err := work.Begin(ctx); err != nil {
		return order.Order{}, err
	}
	defer func() {
		_ = work.Rollback(ctx)
	}()

	products, err := work.ProductRepository().GetForUpdate(ctx, productIDs)
	if err != nil {
		return order.Order{}, err
	}

	byID := make(map[int64]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	now := time.Now()
	total := decimal.Zero
	lines := make([]orderitem.OrderItem, 0, len(items))
	for _, item := range items {
		p, ok := byID[item.ProductID]
		if !ok {
			return order.Order{}, fmt.Errorf("%w: %d", product.ErrProductNotFound, item.ProductID)
		}
		if p.Stock < item.Quantity {
			return order.Order{}, &product.InsufficientStockError{
				ProductID: p.ID,
				Available: p.Stock,
				Requested: item.Quantity,
			}
		}

		subtotal := p.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(subtotal)
		lines = append(lines, orderitem.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: p.Price,
			Subtotal:  subtotal,
		})
	}

	o := order.Order{
		UserID:    userID,
		Total:     total,
		Status:    order.StatusPending,
		Note:      note,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o, err = work.OrderRepository().Insert(ctx, o)
	if err != nil {
		return order.Order{}, err
	}

	for i := range lines {
		lines[i].OrderID = o.ID
	}
	lines, err = work.OrderItemRepository().BulkInsert(ctx, lines)
	if err != nil {
		return order.Order{}, err
	}

	for _, item := range items {
		if err := work.ProductRepository().DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			return order.Order{}, err
		}
	}

	if err := s.stageOrderCreated(ctx, work, o, lines, now); err != nil {
		return order.Order{}, err
	}

	if err := work.Commit(ctx); err != nil {
		return order.Order{}, err
	}

	o.OrderItems = lines

	slog.Info("Order created", "order_id", o.ID, "user_id", userID, "total", o.Total.String())

	return o, nil
}

// UpdateOrderStatus validates the transition against the state machine,
// persists it, and records an order-updated fact. Repeating the current
// status is a no-op so redelivered outcome events stay harmless.
func (s *OrderService) UpdateOrderStatus(
	ctx context.Context,
	orderID int64,
	newStatus order.Status,
) (order.Order, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "OrderService.UpdateOrderStatus")
	defer span.End()

	work := s.newUOW()
	if err := work.Begin(ctx); err != nil {
		return order.Order{}, err
	}
	defer func() {
		_ = work.Rollback(ctx)
	}()

	current, err := work.OrderRepository().GetByID(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}

	if current.Status == newStatus {
		return current, nil
	}

	if !current.Status.CanTransition(newStatus) {
		return order.Order{}, fmt.Errorf(
			"%w: %s -> %s", order.ErrInvalidTransition, current.Status, newStatus,
		)
	}

	now := time.Now()
	if err := work.OrderRepository().UpdateStatus(ctx, orderID, newStatus, now); err != nil {
		return order.Order{}, err
	}

	current.Status = newStatus
	current.UpdatedAt = now

	payload, err := json.Marshal(events.OrderUpdated{
		SchemaVersion: events.SchemaVersion,
		OrderID:       current.ID,
		UserID:        current.UserID,
		Status:        newStatus.String(),
		Total:         current.Total,
		UpdatedAt:     now,
	})
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to marshal order updated event: %w", err)
	}
	err = work.OutboxRepository().Insert(ctx, outbox.Message{
		Topic:        events.TopicOrderUpdated,
		PartitionKey: strconv.FormatInt(current.ID, 10),
		Payload:      payload,
		MaxRetries:   s.outboxMaxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
		NextRetryAt:  now,
	})
	if err != nil {
		return order.Order{}, err
	}

	if err := work.Commit(ctx); err != nil {
		return order.Order{}, err
	}

	slog.Info("Order status updated", "order_id", orderID, "status", newStatus.String())

	return current, nil
}

// GetOrders retrieves orders with their items based on filter.
func (s *OrderService) GetOrders(
	ctx context.Context,
	filter *order.QueryOrdersModel,
) ([]order.Order, error) {
	work := s.newUOW()

	orders, err := work.OrderRepository().Query(ctx, filter)
	if err != nil {
		return nil, err
	}

	if len(orders) == 0 {
		return []order.Order{}, nil
	}

	orderIDs := make([]int64, 0, len(orders))
	for _, o := range orders {
		orderIDs = append(orderIDs, o.ID)
	}
	items, err := work.OrderItemRepository().QueryByOrderIDs(ctx, orderIDs)
	if err != nil {
		return nil, err
	}

	for i := range orders {
		for _, item := range items {
			if item.OrderID == orders[i].ID {
				orders[i].OrderItems = append(orders[i].OrderItems, item)
			}
		}
	}

	return orders, nil
}

// enrichNote asks the user directory for the requester's profile. Lookup
// failure degrades gracefully: the order is created without the enrichment.
func (s *OrderService) enrichNote(ctx context.Context, userID int64, note string) string {
	if s.directory == nil || note != "" {
		return note
	}

	profile, err := s.directory.Lookup(ctx, userID)
	if err != nil {
		slog.Warn("User profile lookup failed, continuing without enrichment",
			"user_id", userID, "error", err)

		return note
	}

	return fmt.Sprintf("placed by %s %s <%s>", profile.FirstName, profile.LastName, profile.Email)
}

func (s *OrderService) stageOrderCreated(
	ctx context.Context,
	work unitOfWork,
	o order.Order,
	lines []orderitem.OrderItem,
	now time.Time,
) error {
	eventItems := make([]events.OrderCreatedItem, 0, len(lines))
	for _, line := range lines {
		eventItems = append(eventItems, events.OrderCreatedItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  line.Subtotal,
		})
	}

	payload, err := json.Marshal(events.OrderCreated{
		SchemaVersion: events.SchemaVersion,
		OrderID:       o.ID,
		UserID:        o.UserID,
		Total:         o.Total,
		Items:         eventItems,
		CreatedAt:     o.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal order created event: %w", err)
	}

	return work.OutboxRepository().Insert(ctx, outbox.Message{
		Topic:        events.TopicOrderCreated,
		PartitionKey: strconv.FormatInt(o.ID, 10),
		Payload:      payload,
		MaxRetries:   s.outboxMaxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
		NextRetryAt:  now,
	})
}
