package ordersvc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ivmironov/order-saga/internal/dal/interfaces/iorderitemrepo"
	"github.com/ivmironov/order-saga/internal/dal/interfaces/iorderrepo"
	"github.com/ivmironov/order-saga/internal/dal/interfaces/ioutboxrepo"
	"github.com/ivmironov/order-saga/internal/dal/interfaces/iproductrepo"
	"github.com/ivmironov/order-saga/internal/events"
	"github.com/ivmironov/order-saga/internal/service/models/order"
	"github.com/ivmironov/order-saga/internal/service/models/orderitem"
	"github.com/ivmironov/order-saga/internal/service/models/outbox"
	"github.com/ivmironov/order-saga/internal/service/models/product"
	"github.com/ivmironov/order-saga/internal/userdir"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is shared mutable state behind the fake unit of work. Begin takes
// a snapshot, Rollback restores it, so transactional atomicity is observable
// in tests.
type memStore struct {
	products    map[int64]product.Product
	orders      map[int64]order.Order
	items       []orderitem.OrderItem
	outbox      []outbox.Message
	nextOrderID int64
	nextItemID  int64
	nextMsgID   int64
}

func newMemStore(products ...product.Product) *memStore {
	s := &memStore{
		products: map[int64]product.Product{},
		orders:   map[int64]order.Order{},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}

	return s
}

func (s *memStore) clone() *memStore {
	c := &memStore{
		products:    make(map[int64]product.Product, len(s.products)),
		orders:      make(map[int64]order.Order, len(s.orders)),
		items:       append([]orderitem.OrderItem(nil), s.items...),
		outbox:      append([]outbox.Message(nil), s.outbox...),
		nextOrderID: s.nextOrderID,
		nextItemID:  s.nextItemID,
		nextMsgID:   s.nextMsgID,
	}
	for id, p := range s.products {
		c.products[id] = p
	}
	for id, o := range s.orders {
		c.orders[id] = o
	}

	return c
}

type fakeUOW struct {
	store    *memStore
	snapshot *memStore
	commits  int
}

func (u *fakeUOW) Begin(context.Context) error {
	u.snapshot = u.store.clone()

	return nil
}

func (u *fakeUOW) Commit(context.Context) error {
	u.snapshot = nil
	u.commits++

	return nil
}

func (u *fakeUOW) Rollback(context.Context) error {
	if u.snapshot != nil {
		*u.store = *u.snapshot
		u.snapshot = nil
	}

	return nil
}

func (u *fakeUOW) OrderRepository() iorderrepo.IOrderRepository {
	return &fakeOrderRepo{store: u.store}
}

func (u *fakeUOW) OrderItemRepository() iorderitemrepo.IOrderItemRepository {
	return &fakeOrderItemRepo{store: u.store}
}

func (u *fakeUOW) ProductRepository() iproductrepo.IProductRepository {
	return &fakeProductRepo{store: u.store}
}

func (u *fakeUOW) OutboxRepository() ioutboxrepo.IOutboxRepository {
	return &fakeOutboxRepo{store: u.store}
}

type fakeOrderRepo struct {
	store *memStore
}

func (r *fakeOrderRepo) Insert(_ context.Context, o order.Order) (order.Order, error) {
	r.store.nextOrderID++
	o.ID = r.store.nextOrderID
	r.store.orders[o.ID] = o

	return o, nil
}

func (r *fakeOrderRepo) GetByID(_ context.Context, id int64) (order.Order, error) {
	o, ok := r.store.orders[id]
	if !ok {
		return order.Order{}, order.ErrOrderNotFound
	}

	return o, nil
}

func (r *fakeOrderRepo) Query(_ context.Context, filter *order.QueryOrdersModel) ([]order.Order, error) {
	var out []order.Order
	for _, o := range r.store.orders {
		if len(filter.Ids) > 0 && !containsInt64(filter.Ids, o.ID) {
			continue
		}
		if len(filter.UserIds) > 0 && !containsInt64(filter.UserIds, o.UserID) {
			continue
		}
		out = append(out, o)
	}

	return out, nil
}

func (r *fakeOrderRepo) UpdateStatus(_ context.Context, id int64, status order.Status, updatedAt time.Time) error {
	o, ok := r.store.orders[id]
	if !ok {
		return order.ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = updatedAt
	r.store.orders[id] = o

	return nil
}

type fakeOrderItemRepo struct {
	store *memStore
}

func (r *fakeOrderItemRepo) BulkInsert(_ context.Context, items []orderitem.OrderItem) ([]orderitem.OrderItem, error) {
	for i := range items {
		r.store.nextItemID++
		items[i].ID = r.store.nextItemID
	}
	r.store.items = append(r.store.items, items...)

	return items, nil
}

func (r *fakeOrderItemRepo) QueryByOrderIDs(_ context.Context, orderIDs []int64) ([]orderitem.OrderItem, error) {
	var out []orderitem.OrderItem
	for _, item := range r.store.items {
		if containsInt64(orderIDs, item.OrderID) {
			out = append(out, item)
		}
	}

	return out, nil
}

type fakeProductRepo struct {
	store *memStore
}

func (r *fakeProductRepo) GetForUpdate(_ context.Context, ids []int64) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := r.store.products[id]; ok {
			out = append(out, p)
		}
	}

	return out, nil
}

func (r *fakeProductRepo) DecrementStock(_ context.Context, id int64, quantity int) error {
	p, ok := r.store.products[id]
	if !ok || p.Stock < quantity {
		return &product.InsufficientStockError{
			ProductID: id,
			Available: p.Stock,
			Requested: quantity,
		}
	}
	p.Stock -= quantity
	r.store.products[id] = p

	return nil
}

type fakeOutboxRepo struct {
	store *memStore
}

func (r *fakeOutboxRepo) Insert(_ context.Context, msg outbox.Message) error {
	r.store.nextMsgID++
	msg.ID = r.store.nextMsgID
	r.store.outbox = append(r.store.outbox, msg)

	return nil
}

func (r *fakeOutboxRepo) GetPendingMessages(_ context.Context, limit int) ([]outbox.Message, error) {
	if limit > len(r.store.outbox) {
		limit = len(r.store.outbox)
	}

	return append([]outbox.Message(nil), r.store.outbox[:limit]...), nil
}

func (r *fakeOutboxRepo) Delete(_ context.Context, id int64) error {
	for i, msg := range r.store.outbox {
		if msg.ID == id {
			r.store.outbox = append(r.store.outbox[:i], r.store.outbox[i+1:]...)

			return nil
		}
	}

	return nil
}

func (r *fakeOutboxRepo) UpdateRetry(_ context.Context, id int64, retryCount int, lastError string, nextRetryAt time.Time) error {
	for i, msg := range r.store.outbox {
		if msg.ID == id {
			r.store.outbox[i].RetryCount = retryCount
			r.store.outbox[i].LastError = lastError
			r.store.outbox[i].NextRetryAt = nextRetryAt
		}
	}

	return nil
}

func containsInt64(haystack []int64, needle int64) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}

	return false
}

type fakeDirectory struct {
	profile *userdir.Profile
	err     error
}

func (d *fakeDirectory) Lookup(context.Context, int64) (*userdir.Profile, error) {
	return d.profile, d.err
}

func newService(store *memStore, opts ...option) *OrderService {
	all := append([]option{
		WithUnitOfWorkFactory(func() unitOfWork {
			return &fakeUOW{store: store}
		}),
	}, opts...)

	return MustNewOrderService(all...)
}

func TestCreateOrder_PricesCartAndDecrementsStock(t *testing.T) {
	store := newMemStore(product.Product{
		ID:    1,
		Title: "Keyboard",
		Price: decimal.RequireFromString("29.99"),
		Stock: 10,
	})
	svc := newService(store)

	o, err := svc.CreateOrder(context.Background(), 7, []orderitem.NewItem{
		{ProductID: 1, Quantity: 2},
	}, "")
	require.NoError(t, err)

	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, "59.98", o.Total.String())
	require.Len(t, o.OrderItems, 1)
	assert.Equal(t, "29.99", o.OrderItems[0].UnitPrice.String())
	assert.Equal(t, "59.98", o.OrderItems[0].Subtotal.String())

	assert.Equal(t, 8, store.products[1].Stock)

	require.Len(t, store.outbox, 1)
	msg := store.outbox[0]
	assert.Equal(t, events.TopicOrderCreated, msg.Topic)
	assert.Equal(t, "1", msg.PartitionKey)

	var event events.OrderCreated
	require.NoError(t, json.Unmarshal(msg.Payload, &event))
	assert.Equal(t, o.ID, event.OrderID)
	assert.Equal(t, int64(7), event.UserID)
	assert.True(t, o.Total.Equal(event.Total))
	require.Len(t, event.Items, 1)
	assert.Equal(t, int64(1), event.Items[0].ProductID)
	assert.Equal(t, 2, event.Items[0].Quantity)
}

func TestCreateOrder_InsufficientStockRollsBackEverything(t *testing.T) {
	store := newMemStore(product.Product{
		ID:    1,
		Title: "Keyboard",
		Price: decimal.RequireFromString("29.99"),
		Stock: 1,
	})
	svc := newService(store)

	_, err := svc.CreateOrder(context.Background(), 7, []orderitem.NewItem{
		{ProductID: 1, Quantity: 2},
	}, "")
	require.Error(t, err)

	var insufficient *product.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(1), insufficient.ProductID)
	assert.Equal(t, 1, insufficient.Available)
	assert.Equal(t, 2, insufficient.Requested)

	assert.Equal(t, 1, store.products[1].Stock)
	assert.Empty(t, store.orders)
	assert.Empty(t, store.items)
	assert.Empty(t, store.outbox)
}

func TestCreateOrder_Validation(t *testing.T) {
	store := newMemStore(product.Product{
		ID:    1,
		Price: decimal.RequireFromString("5.00"),
		Stock: 3,
	})
	svc := newService(store)

	tests := []struct {
		name    string
		items   []orderitem.NewItem
		wantErr error
	}{
		{
			name:    "empty cart",
			items:   nil,
			wantErr: ErrEmptyOrder,
		},
		{
			name:    "zero quantity",
			items:   []orderitem.NewItem{{ProductID: 1, Quantity: 0}},
			wantErr: ErrInvalidQuantity,
		},
		{
			name:    "negative quantity",
			items:   []orderitem.NewItem{{ProductID: 1, Quantity: -1}},
			wantErr: ErrInvalidQuantity,
		},
		{
			name:    "unknown product",
			items:   []orderitem.NewItem{{ProductID: 99, Quantity: 1}},
			wantErr: product.ErrProductNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateOrder(context.Background(), 7, tt.items, "")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, store.orders)
			assert.Empty(t, store.outbox)
		})
	}
}

func TestCreateOrder_MultiLineTotal(t *testing.T) {
	store := newMemStore(
		product.Product{ID: 1, Price: decimal.RequireFromString("29.99"), Stock: 10},
		product.Product{ID: 2, Price: decimal.RequireFromString("0.10"), Stock: 100},
	)
	svc := newService(store)

	o, err := svc.CreateOrder(context.Background(), 7, []orderitem.NewItem{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 3},
	}, "gift wrap")
	require.NoError(t, err)

	assert.Equal(t, "30.29", o.Total.String())
	assert.Equal(t, "gift wrap", o.Note)
	assert.Equal(t, 9, store.products[1].Stock)
	assert.Equal(t, 97, store.products[2].Stock)
}

func TestCreateOrder_DirectoryEnrichment(t *testing.T) {
	store := newMemStore(product.Product{
		ID:    1,
		Price: decimal.RequireFromString("5.00"),
		Stock: 10,
	})

	t.Run("empty note gets profile enrichment", func(t *testing.T) {
		svc := newService(store, WithDirectory(&fakeDirectory{
			profile: &userdir.Profile{
				Email:     "jordan@example.com",
				FirstName: "Jordan",
				LastName:  "Lee",
			},
		}))

		o, err := svc.CreateOrder(context.Background(), 7, []orderitem.NewItem{
			{ProductID: 1, Quantity: 1},
		}, "")
		require.NoError(t, err)
		assert.Equal(t, "placed by Jordan Lee <jordan@example.com>", o.Note)
	})

	t.Run("caller note wins", func(t *testing.T) {
		svc := newService(store, WithDirectory(&fakeDirectory{
			profile: &userdir.Profile{FirstName: "Jordan"},
		}))

		o, err := svc.CreateOrder(context.Background(), 7, []orderitem.NewItem{
			{ProductID: 1, Quantity: 1},
		}, "leave at door")
		require.NoError(t, err)
		assert.Equal(t, "leave at door", o.Note)
	})

	t.Run("directory failure does not block the order", func(t *testing.T) {
		svc := newService(store, WithDirectory(&fakeDirectory{
			err: errors.New("directory unavailable"),
		}))

		o, err := svc.CreateOrder(context.Background(), 7, []orderitem.NewItem{
			{ProductID: 1, Quantity: 1},
		}, "")
		require.NoError(t, err)
		assert.Empty(t, o.Note)
	})
}

func TestUpdateOrderStatus_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    order.Status
		to      order.Status
		wantErr error
	}{
		{name: "pending to confirmed", from: order.StatusPending, to: order.StatusConfirmed},
		{name: "pending to cancelled", from: order.StatusPending, to: order.StatusCancelled},
		{name: "confirmed to shipped", from: order.StatusConfirmed, to: order.StatusShipped},
		{name: "shipped to delivered", from: order.StatusShipped, to: order.StatusDelivered},
		{name: "pending to shipped skips confirmation", from: order.StatusPending, to: order.StatusShipped, wantErr: order.ErrInvalidTransition},
		{name: "delivered is terminal", from: order.StatusDelivered, to: order.StatusCancelled, wantErr: order.ErrInvalidTransition},
		{name: "cancelled is terminal", from: order.StatusCancelled, to: order.StatusConfirmed, wantErr: order.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.nextOrderID = 1
			store.orders[1] = order.Order{
				ID:     1,
				UserID: 7,
				Status: tt.from,
				Total:  decimal.RequireFromString("10.00"),
			}
			svc := newService(store)

			o, err := svc.UpdateOrderStatus(context.Background(), 1, tt.to)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.from, store.orders[1].Status)
				assert.Empty(t, store.outbox)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.to, o.Status)
			assert.Equal(t, tt.to, store.orders[1].Status)

			require.Len(t, store.outbox, 1)
			assert.Equal(t, events.TopicOrderUpdated, store.outbox[0].Topic)

			var event events.OrderUpdated
			require.NoError(t, json.Unmarshal(store.outbox[0].Payload, &event))
			assert.Equal(t, tt.to.String(), event.Status)
		})
	}
}

func TestUpdateOrderStatus_SameStatusIsNoOp(t *testing.T) {
	store := newMemStore()
	store.nextOrderID = 1
	store.orders[1] = order.Order{ID: 1, Status: order.StatusConfirmed}
	svc := newService(store)

	o, err := svc.UpdateOrderStatus(context.Background(), 1, order.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, o.Status)
	// No duplicate fact on a repeated transition.
	assert.Empty(t, store.outbox)
}

func TestUpdateOrderStatus_UnknownOrder(t *testing.T) {
	svc := newService(newMemStore())

	_, err := svc.UpdateOrderStatus(context.Background(), 404, order.StatusConfirmed)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestGetOrders_AttachesItems(t *testing.T) {
	store := newMemStore(product.Product{
		ID:    1,
		Price: decimal.RequireFromString("5.00"),
		Stock: 10,
	})
	svc := newService(store)

	first, err := svc.CreateOrder(context.Background(), 7, []orderitem.NewItem{
		{ProductID: 1, Quantity: 2},
	}, "")
	require.NoError(t, err)

	_, err = svc.CreateOrder(context.Background(), 8, []orderitem.NewItem{
		{ProductID: 1, Quantity: 1},
	}, "")
	require.NoError(t, err)

	orders, err := svc.GetOrders(context.Background(), &order.QueryOrdersModel{UserIds: []int64{7}})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, first.ID, orders[0].ID)
	require.Len(t, orders[0].OrderItems, 1)
	assert.Equal(t, 2, orders[0].OrderItems[0].Quantity)

	none, err := svc.GetOrders(context.Background(), &order.QueryOrdersModel{UserIds: []int64{99}})
	require.NoError(t, err)
	assert.Empty(t, none)
}
