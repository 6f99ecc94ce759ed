package otel

import (
	"context"

	"github.com/ivmironov/order-saga/internal/jaeger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

type OtelController struct {
	traceProvider *sdktrace.TracerProvider
}

// MustInitOtel configures the global tracer provider with a jaeger exporter.
func MustInitOtel(serviceName string) *OtelController {
	jaegerExporter := jaeger.MustNewJaeger()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(jaegerExporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	)

	otel.SetTracerProvider(tp)

	return &OtelController{
		traceProvider: tp,
	}
}

func (o *OtelController) Shutdown() error {
	if err := o.traceProvider.Shutdown(context.Background()); err != nil {
		return err
	}

	return nil
}
