package updatestatus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ivmironov/order-saga/internal/service/models/order"
)

type service interface {
	UpdateOrderStatus(ctx context.Context, orderID int64, status order.Status) (order.Order, error)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus handles the order status transition request.
func UpdateStatus(w http.ResponseWriter, r *http.Request, service service) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)

		return
	}

	req := updateStatusRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error decoding request body for status update", "error", err)

		return
	}

	status, err := order.ParseStatus(req.Status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	updated, err := service.UpdateOrderStatus(r.Context(), orderID, status)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		slog.Error("Error updating order status", "order_id", orderID, "error", err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(updated); err != nil {
		slog.Error("Error sending response for status update", "error", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
