package cmd

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

// setupTracing installs an OTLP tracer provider when an endpoint is configured. Without one spans
// are not recorded.
func setupTracing(ctx context.Context, c *config.Config) (func(context.Context) error, error) {
	if c.Tracing.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: c.Tracing.Endpoint,
		Protocol: c.Tracing.Protocol,
		Insecure: c.Tracing.Insecure,
	})
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.Tracing.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	tracing.SetTracer(tp.Tracer(c.AppName))
	return tp.Shutdown, nil
}
