package httpmetrics

import (
	"context"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// SetupTracer exports the spans of outgoing requests over OTLP/HTTP. The
// exporter is configured from the standard OTEL_EXPORTER_OTLP_* variables.
//
// Expected usage:
//
//	shutdown, err := httpmetrics.SetupTracer(ctx)
//	...
//	defer shutdown()
func SetupTracer(ctx context.Context) (func(), error) {
	traceExporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	bsp := trace.NewBatchSpanProcessor(traceExporter)
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attribute.String("service.name", Job)))
	if err != nil {
		res = resource.Default()
	}

	tp := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithSpanProcessor(bsp),
	)
	otel.SetTracerProvider(tp)

	prp := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(prp)

	return func() {
		// The process is about to exit, so flush with a deadline of our own.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			clog.ErrorContextf(ctx, "Error shutting down tracer provider: %v", err)
		}
	}, nil
}
