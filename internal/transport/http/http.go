package httptransport

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ivmironov/order-saga/internal/service/models/order"
	"github.com/ivmironov/order-saga/internal/service/models/orderitem"
	"github.com/ivmironov/order-saga/internal/service/models/payment"
	createorder "github.com/ivmironov/order-saga/internal/transport/http/create_order"
	getpayment "github.com/ivmironov/order-saga/internal/transport/http/get_payment"
	listorders "github.com/ivmironov/order-saga/internal/transport/http/list_orders"
	updatestatus "github.com/ivmironov/order-saga/internal/transport/http/update_status"
	"github.com/ivmironov/order-saga/pkg/http/middleware/trace"
	"github.com/ivmironov/order-saga/pkg/logger"
	"github.com/spf13/viper"
)

//go:embed openapi.json
var openAPIDoc []byte

type orderService interface {
	CreateOrder(ctx context.Context, userID int64, items []orderitem.NewItem, note string) (order.Order, error)
	GetOrders(ctx context.Context, filter *order.QueryOrdersModel) ([]order.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status order.Status) (order.Order, error)
}

type paymentService interface {
	GetPayment(ctx context.Context, orderID int64) (payment.Payment, error)
}

// OrderTransport serves the order API.
type OrderTransport struct {
	server  *http.Server
	router  *chi.Mux
	service orderService
}

func NewOrderTransport(service orderService) *OrderTransport {
	router := newRouter("order-svc")
	server := newServer(router)

	return &OrderTransport{
		server:  server,
		router:  router,
		service: service,
	}
}

func (h *OrderTransport) Run() error {
	return h.server.ListenAndServe()
}

func (h *OrderTransport) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// RegisterRoutes registers the routes for the OrderTransport.
func (h *OrderTransport) RegisterRoutes() {
	h.router.Get("/openapi.json", serveOpenAPI)
	h.router.Route("/api", func(r chi.Router) {
		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Patch("/orders/{id}/status", h.updateStatus)
	})
}

func (h *OrderTransport) createOrder(w http.ResponseWriter, r *http.Request) {
	createorder.CreateOrder(w, r, h.service)
}

func (h *OrderTransport) listOrders(w http.ResponseWriter, r *http.Request) {
	listorders.ListOrders(w, r, h.service)
}

func (h *OrderTransport) updateStatus(w http.ResponseWriter, r *http.Request) {
	updatestatus.UpdateStatus(w, r, h.service)
}

// PaymentTransport serves the payment API.
type PaymentTransport struct {
	server  *http.Server
	router  *chi.Mux
	service paymentService
}

func NewPaymentTransport(service paymentService) *PaymentTransport {
	router := newRouter("payment-svc")
	server := newServer(router)

	return &PaymentTransport{
		server:  server,
		router:  router,
		service: service,
	}
}

func (h *PaymentTransport) Run() error {
	return h.server.ListenAndServe()
}

func (h *PaymentTransport) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// RegisterRoutes registers the routes for the PaymentTransport.
func (h *PaymentTransport) RegisterRoutes() {
	h.router.Get("/openapi.json", serveOpenAPI)
	h.router.Route("/api", func(r chi.Router) {
		r.Get("/payments/{orderID}", h.getPayment)
	})
}

func (h *PaymentTransport) getPayment(w http.ResponseWriter, r *http.Request) {
	getpayment.GetPayment(w, r, h.service)
}

func serveOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(openAPIDoc); err != nil {
		slog.Error("Error sending openapi document", "error", err)
	}
}

func newRouter(serviceName string) *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(trace.NewTraceMiddleware(serviceName))
	router.Use(logger.NewLoggerMiddleware(slog.Default()))

	allowedOrigins := viper.GetStringSlice("server.http.cors.allowed_origins")
	allowedMethods := viper.GetStringSlice("server.http.cors.allowed_methods")
	allowedHeaders := viper.GetStringSlice("server.http.cors.allowed_headers")
	exposedHeaders := viper.GetStringSlice("server.http.cors.exposed_headers")
	allowCredentials := viper.GetBool("server.http.cors.allow_credentials")
	maxAge := viper.GetInt("server.http.cors.max_age")

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   allowedMethods,
		AllowedHeaders:   allowedHeaders,
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: allowCredentials,
		MaxAge:           maxAge,
	})

	router.Use(c.Handler)

	return router
}

func newServer(router http.Handler) *http.Server {
	return &http.Server{
		Addr:    "0.0.0.0:" + viper.GetString("server.http.port"),
		Handler: router,
	}
}
