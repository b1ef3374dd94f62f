package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kart-io/agentflow/config"
	"github.com/kart-io/agentflow/errors"
)

// TelemetryProvider owns the OpenTelemetry tracer provider used to export
// completed spans out of process.
type TelemetryProvider struct {
	tracerProvider *sdktrace.TracerProvider
	opts           config.TelemetryOptions
}

// NewTelemetryProvider builds a provider from opts. With telemetry disabled
// or the "noop" exporter, spans are sampled but discarded at export.
func NewTelemetryProvider(opts config.TelemetryOptions) (*TelemetryProvider, error) {
	p := &TelemetryProvider{opts: opts}
	if !opts.Enabled {
		return p, nil
	}

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "agentflow"
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to create telemetry resource").
			WithComponent("telemetry").
			WithOperation("NewTelemetryProvider")
	}

	var exporter sdktrace.SpanExporter
	switch opts.Exporter {
	case "otlp":
		exporter, err = newOTLPExporter(opts.Endpoint)
		if err != nil {
			return nil, err
		}
	case "", "noop":
		exporter = &noopExporter{}
	default:
		return nil, errors.New(errors.CodeInvalidConfig, "unsupported trace exporter").
			WithComponent("telemetry").
			WithOperation("NewTelemetryProvider").
			WithContext("exporter", opts.Exporter)
	}

	sampler := sdktrace.AlwaysSample()
	if opts.Sampling.Rate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(opts.Sampling.Rate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	return p, nil
}

func newOTLPExporter(endpoint string) (sdktrace.SpanExporter, error) {
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreConnection, "failed to create gRPC connection").
			WithComponent("telemetry").
			WithOperation("newOTLPExporter").
			WithContext("endpoint", endpoint)
	}
	exporter, err := otlptrace.New(context.Background(),
		otlptracegrpc.NewClient(otlptracegrpc.WithGRPCConn(conn)),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to create OTLP trace exporter").
			WithComponent("telemetry").
			WithOperation("newOTLPExporter").
			WithContext("endpoint", endpoint)
	}
	return exporter, nil
}

// GetTracer returns a named tracer, a no-op one when telemetry is disabled.
func (p *TelemetryProvider) GetTracer(name string) trace.Tracer {
	if p.tracerProvider == nil {
		return trace.NewNoopTracerProvider().Tracer(name)
	}
	return p.tracerProvider.Tracer(name)
}

// ForceFlush drains batched spans.
func (p *TelemetryProvider) ForceFlush(ctx context.Context) error {
	if p.tracerProvider == nil {
		return nil
	}
	if err := p.tracerProvider.ForceFlush(ctx); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to flush tracer provider").
			WithComponent("telemetry").
			WithOperation("ForceFlush")
	}
	return nil
}

// Shutdown stops the tracer provider.
func (p *TelemetryProvider) Shutdown(ctx context.Context) error {
	if p.tracerProvider == nil {
		return nil
	}
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to shutdown tracer provider").
			WithComponent("telemetry").
			WithOperation("Shutdown")
	}
	return nil
}

// NewExportProcessor bridges the in-memory tracer to OpenTelemetry: each
// completed TraceItem is re-emitted as an otel span with its original
// timestamps and attributes. Register it with Tracer.AddTraceProcessor.
func NewExportProcessor(p *TelemetryProvider) TraceProcessor {
	tracer := p.GetTracer("agentflow")
	return func(items []TraceItem) {
		for _, item := range items {
			_, span := tracer.Start(context.Background(), item.Name,
				trace.WithTimestamp(item.StartTime),
				trace.WithAttributes(otelAttributes(item)...),
			)
			for _, ev := range item.Events {
				span.AddEvent(ev.Name, trace.WithTimestamp(ev.Timestamp))
			}
			switch item.Status {
			case StatusError, StatusTimeout:
				span.SetStatus(codes.Error, item.StatusMessage)
			case StatusOK:
				span.SetStatus(codes.Ok, "")
			}
			span.End(trace.WithTimestamp(item.EndTime))
		}
	}
}

func otelAttributes(item TraceItem) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(item.Attributes)+2)
	attrs = append(attrs,
		attribute.String("origin.trace_id", item.Context.TraceID),
		attribute.String("origin.span_id", item.Context.SpanID),
	)
	for k, v := range item.Attributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return attrs
}

type noopExporter struct{}

func (e *noopExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return nil
}

func (e *noopExporter) Shutdown(ctx context.Context) error { return nil }
