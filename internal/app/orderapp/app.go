package orderapp

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ivmironov/order-saga/internal/broker/rabbitmq"
	"github.com/ivmironov/order-saga/internal/cache"
	"github.com/ivmironov/order-saga/internal/dal/postgres"
	outboxrepo "github.com/ivmironov/order-saga/internal/dal/repositories/outbox/postgres"
	"github.com/ivmironov/order-saga/internal/otel"
	"github.com/ivmironov/order-saga/internal/service/services/ordersvc"
	"github.com/ivmironov/order-saga/internal/transport/consumer"
	httptransport "github.com/ivmironov/order-saga/internal/transport/http"
	"github.com/ivmironov/order-saga/internal/userdir"
	outboxworker "github.com/ivmironov/order-saga/internal/worker/outbox"
	"github.com/spf13/viper"
)

// App represents the order application.
type App struct {
	orderSvc       *ordersvc.OrderService
	transport      *httptransport.OrderTransport
	orderConsumer  *consumer.OrderConsumer
	outboxWorker   *outboxworker.Worker
	bus            *rabbitmq.Broker
	postgresClient *postgres.Client
	otelController *otel.OtelController
}

// MustNewApp creates a new order application.
func MustNewApp() *App {
	otelController := otel.MustInitOtel("order-svc")
	postgresClient := postgres.MustNewClient()
	bus := rabbitmq.MustNewBroker()

	var orderSvc *ordersvc.OrderService
	if baseURL := viper.GetString("userdir.base_url"); baseURL != "" {
		orderSvc = ordersvc.MustNewOrderService(
			ordersvc.WithPostgresClient(postgresClient),
			ordersvc.WithDirectory(newDirectory(baseURL)),
		)
	} else {
		orderSvc = ordersvc.MustNewOrderService(
			ordersvc.WithPostgresClient(postgresClient),
		)
	}

	transport := httptransport.NewOrderTransport(orderSvc)
	transport.RegisterRoutes()

	orderConsumer := consumer.NewOrderConsumer(orderSvc)

	outboxRepository := outboxrepo.NewOutboxRepository(postgresClient.Pool())
	outboxWorker := outboxworker.NewWorker(outboxRepository, bus)

	return &App{
		orderSvc:       orderSvc,
		transport:      transport,
		orderConsumer:  orderConsumer,
		outboxWorker:   outboxWorker,
		bus:            bus,
		postgresClient: postgresClient,
		otelController: otelController,
	}
}

func newDirectory(baseURL string) *userdir.Client {
	if redisAddr := viper.GetString("redis.addr"); redisAddr != "" {
		profileCache := cache.NewRedisCache(redisAddr, "order-svc")

		return userdir.NewClient(baseURL, userdir.WithCache(profileCache, 5*time.Minute))
	}

	return userdir.NewClient(baseURL)
}

// Run starts the application.
// Tracks interrupt signal to gracefully shut down the application.
func (a *App) Run() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		slog.Info("Starting HTTP server")
		if err := a.transport.Run(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	go func() {
		slog.Info("Starting outbox worker")
		a.outboxWorker.Start(ctx)
	}()

	slog.Info("Starting payment outcome consumer")
	if err := a.orderConsumer.Run(ctx, a.bus); err != nil {
		slog.Error("Consumer registration error", "error", err)
	}

	<-stop
	slog.Info("Shutdown signal received")
	cancel()

	a.gracefulShutdown()
}

// gracefulShutdown shuts components down in dependency order: HTTP first so
// no new orders arrive, then the outbox worker, then the broker and storage.
func (a *App) gracefulShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.transport.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	a.outboxWorker.Stop()
	slog.Info("Outbox worker stopped gracefully")

	if err := a.bus.Close(); err != nil {
		slog.Error("Broker connection close error", "error", err)
	} else {
		slog.Info("Broker connection closed gracefully")
	}

	a.postgresClient.Close()
	slog.Info("Database connection closed gracefully")

	if err := a.otelController.Shutdown(); err != nil {
		slog.Error("Otel trace provider connection close error", "error", err)
	} else {
		slog.Info("Otel trace provider connection closed gracefully")
	}

	slog.Info("Application shutdown complete")
}
