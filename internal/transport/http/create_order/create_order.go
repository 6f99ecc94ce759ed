package createorder

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ivmironov/order-saga/internal/service/models/order"
	"github.com/ivmironov/order-saga/internal/service/models/orderitem"
	"github.com/ivmironov/order-saga/internal/service/models/product"
	"github.com/ivmironov/order-saga/internal/service/services/ordersvc"
)

// service is an interface for the service layer.
type service interface {
	CreateOrder(ctx context.Context, userID int64, items []orderitem.NewItem, note string) (order.Order, error)
}

// itemInCreateOrderRequest represents an item in a create order request.
type itemInCreateOrderRequest struct {
	ProductID int64 `json:"productId" validate:"gt=0"`
	Quantity  int   `json:"quantity"  validate:"gt=0"`
}

// createOrderRequest represents a create order request.
type createOrderRequest struct {
	UserID int64                      `json:"userId" validate:"gt=0"`
	Note   string                     `json:"note"`
	Items  []itemInCreateOrderRequest `json:"items"  validate:"required,min=1,dive"`
}

// Validate validates the create order request.
func (r *createOrderRequest) Validate() error {
	return validator.New().Struct(r)
}

func (r *createOrderRequest) toNewItems() []orderitem.NewItem {
	items := make([]orderitem.NewItem, len(r.Items))
	for i, item := range r.Items {
		items[i] = orderitem.NewItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		}
	}

	return items
}

// CreateOrder handles the create order request.
func CreateOrder(w http.ResponseWriter, r *http.Request, service service) {
	orderReq := createOrderRequest{}
	if err := json.NewDecoder(r.Body).Decode(&orderReq); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error decoding request body for create order", "error", err)

		return
	}

	if err := orderReq.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error validating request body for create order", "error", err)

		return
	}

	created, err := service.CreateOrder(r.Context(), orderReq.UserID, orderReq.toNewItems(), orderReq.Note)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		slog.Error("Error creating order", "user_id", orderReq.UserID, "error", err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(created); err != nil {
		slog.Error("Error sending response for create order", "error", err)
	}
}

func statusFor(err error) int {
	var insufficient *product.InsufficientStockError

	switch {
	case errors.Is(err, ordersvc.ErrEmptyOrder), errors.Is(err, ordersvc.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, product.ErrProductNotFound):
		return http.StatusNotFound
	case errors.As(err, &insufficient):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
