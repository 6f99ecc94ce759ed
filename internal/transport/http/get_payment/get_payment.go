package getpayment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ivmironov/order-saga/internal/service/models/payment"
)

type service interface {
	GetPayment(ctx context.Context, orderID int64) (payment.Payment, error)
}

// GetPayment handles the payment lookup request.
func GetPayment(w http.ResponseWriter, r *http.Request, service service) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)

		return
	}

	p, err := service.GetPayment(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)

			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error getting payment", "order_id", orderID, "error", err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("Error sending response for payment lookup", "error", err)
	}
}
