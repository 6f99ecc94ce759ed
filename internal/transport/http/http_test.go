package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ivmironov/order-saga/internal/service/models/order"
	"github.com/ivmironov/order-saga/internal/service/models/orderitem"
	"github.com/ivmironov/order-saga/internal/service/models/payment"
	"github.com/ivmironov/order-saga/internal/service/models/product"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrderService struct {
	createErr error
	updateErr error
	order     order.Order
	orders    []order.Order
}

func (f *fakeOrderService) CreateOrder(_ context.Context, userID int64, items []orderitem.NewItem, note string) (order.Order, error) {
	if f.createErr != nil {
		return order.Order{}, f.createErr
	}
	o := f.order
	o.UserID = userID
	o.Note = note

	return o, nil
}

func (f *fakeOrderService) GetOrders(context.Context, *order.QueryOrdersModel) ([]order.Order, error) {
	return f.orders, nil
}

func (f *fakeOrderService) UpdateOrderStatus(_ context.Context, orderID int64, status order.Status) (order.Order, error) {
	if f.updateErr != nil {
		return order.Order{}, f.updateErr
	}

	return order.Order{ID: orderID, Status: status}, nil
}

type fakePaymentService struct {
	payment payment.Payment
	err     error
}

func (f *fakePaymentService) GetPayment(context.Context, int64) (payment.Payment, error) {
	return f.payment, f.err
}

func newOrderServer(t *testing.T, svc orderService) *httptest.Server {
	t.Helper()

	transport := NewOrderTransport(svc)
	transport.RegisterRoutes()
	srv := httptest.NewServer(transport.router)
	t.Cleanup(srv.Close)

	return srv
}

func TestCreateOrderEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		svc        *fakeOrderService
		wantStatus int
	}{
		{
			name: "created",
			body: `{"userId":7,"items":[{"productId":1,"quantity":2}]}`,
			svc: &fakeOrderService{order: order.Order{
				ID:     1,
				Status: order.StatusPending,
				Total:  decimal.RequireFromString("59.98"),
			}},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "malformed body",
			body:       `{not json`,
			svc:        &fakeOrderService{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing items",
			body:       `{"userId":7}`,
			svc:        &fakeOrderService{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "zero quantity",
			body:       `{"userId":7,"items":[{"productId":1,"quantity":0}]}`,
			svc:        &fakeOrderService{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "insufficient stock",
			body: `{"userId":7,"items":[{"productId":1,"quantity":5}]}`,
			svc: &fakeOrderService{createErr: &product.InsufficientStockError{
				ProductID: 1,
				Available: 2,
				Requested: 5,
			}},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "unknown product",
			body:       `{"userId":7,"items":[{"productId":99,"quantity":1}]}`,
			svc:        &fakeOrderService{createErr: product.ErrProductNotFound},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newOrderServer(t, tt.svc)

			resp, err := http.Post(srv.URL+"/api/orders", "application/json", bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantStatus == http.StatusCreated {
				var created order.Order
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
				assert.Equal(t, int64(7), created.UserID)
				assert.Equal(t, order.StatusPending, created.Status)
			}
		})
	}
}

func TestUpdateStatusEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		svc        *fakeOrderService
		wantStatus int
	}{
		{
			name:       "confirmed",
			path:       "/api/orders/1/status",
			body:       `{"status":"confirmed"}`,
			svc:        &fakeOrderService{},
			wantStatus: http.StatusOK,
		},
		{
			name:       "unknown status value",
			path:       "/api/orders/1/status",
			body:       `{"status":"refunded"}`,
			svc:        &fakeOrderService{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad order id",
			path:       "/api/orders/abc/status",
			body:       `{"status":"confirmed"}`,
			svc:        &fakeOrderService{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "order not found",
			path:       "/api/orders/404/status",
			body:       `{"status":"confirmed"}`,
			svc:        &fakeOrderService{updateErr: order.ErrOrderNotFound},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "transition not allowed",
			path:       "/api/orders/1/status",
			body:       `{"status":"delivered"}`,
			svc:        &fakeOrderService{updateErr: order.ErrInvalidTransition},
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newOrderServer(t, tt.svc)

			req, err := http.NewRequest(http.MethodPatch, srv.URL+tt.path, bytes.NewBufferString(tt.body))
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestGetPaymentEndpoint(t *testing.T) {
	transactionID := "tx-1"
	reason := "payment declined by provider"

	t.Run("found with failure reason", func(t *testing.T) {
		transport := NewPaymentTransport(&fakePaymentService{payment: payment.Payment{
			ID:            "pay-1",
			OrderID:       42,
			Status:        payment.StatusFailed,
			TransactionID: &transactionID,
			FailureReason: &reason,
			Amount:        decimal.RequireFromString("10.00"),
		}})
		transport.RegisterRoutes()
		srv := httptest.NewServer(transport.router)
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/payments/42")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)

		var p payment.Payment
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
		assert.Equal(t, payment.StatusFailed, p.Status)
		require.NotNil(t, p.FailureReason)
		assert.Equal(t, reason, *p.FailureReason)
	})

	t.Run("not found", func(t *testing.T) {
		transport := NewPaymentTransport(&fakePaymentService{err: payment.ErrPaymentNotFound})
		transport.RegisterRoutes()
		srv := httptest.NewServer(transport.router)
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/payments/42")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestOpenAPIEndpoint(t *testing.T) {
	srv := newOrderServer(t, &fakeOrderService{})

	resp, err := http.Get(srv.URL + "/openapi.json")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Contains(t, doc, "openapi")
	assert.Contains(t, doc, "paths")
}
