// Package telemetry wires sourcewatch's decision and delivery counters into
// an OpenTelemetry meter provider, grounded on the teacher's package-level
// metrics-struct-plus-init() pattern (internal/storage/dolt's doltMetrics),
// adapted from a storage backend's retry/lock-wait instruments to
// sourcewatch's detection/delivery instruments.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// instruments holds the OTel metric instruments sourcewatch records
// against. They are registered against the global delegating provider at
// package init time, so they forward to the real provider once Init runs;
// before that they are no-ops.
var instruments struct {
	decisions        metric.Int64Counter
	deliveryAttempts metric.Int64Counter
	deliveryLatency  metric.Float64Histogram
}

func init() {
	m := otel.Meter("github.com/sourcewatch/sourcewatch")

	instruments.decisions, _ = m.Int64Counter("sourcewatch.decisions",
		metric.WithDescription("Detection decisions by source and status"),
		metric.WithUnit("{decision}"),
	)
	instruments.deliveryAttempts, _ = m.Int64Counter("sourcewatch.delivery.attempts",
		metric.WithDescription("Webhook delivery attempts by target and outcome"),
		metric.WithUnit("{attempt}"),
	)
	instruments.deliveryLatency, _ = m.Float64Histogram("sourcewatch.delivery.latency",
		metric.WithDescription("Webhook delivery latency, including retries"),
		metric.WithUnit("ms"),
	)
}

// RecordDecision increments the decision counter for one source/status pair.
func RecordDecision(ctx context.Context, sourceName, status string) {
	if instruments.decisions == nil {
		return
	}
	instruments.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", sourceName),
		attribute.String("status", status),
	))
}

// RecordDelivery increments the delivery-attempts counter and records
// latency for one webhook delivery sequence.
func RecordDelivery(ctx context.Context, targetName string, success bool, attempts int, latencyMillis int64) {
	if instruments.deliveryAttempts != nil {
		instruments.deliveryAttempts.Add(ctx, int64(attempts), metric.WithAttributes(
			attribute.String("target", targetName),
			attribute.Bool("success", success),
		))
	}
	if instruments.deliveryLatency != nil {
		instruments.deliveryLatency.Record(ctx, float64(latencyMillis), metric.WithAttributes(
			attribute.String("target", targetName),
		))
	}
}

// Exporter selects which metrics backend Init configures.
type Exporter string

const (
	ExporterStdout Exporter = "stdout"
	ExporterOTLP   Exporter = "otlp"
	ExporterNone   Exporter = "none"
)

// Init configures the global meter provider for agentID, returning a
// shutdown function the caller must invoke (flushing buffered metrics)
// before process exit. A "none" exporter leaves the no-op global provider
// in place, so RecordDecision/RecordDelivery remain safe to call
// unconditionally regardless of whether telemetry is enabled.
func Init(ctx context.Context, exporter Exporter, agentID string) (func(context.Context) error, error) {
	if exporter == ExporterNone || exporter == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("sourcewatch"),
			semconv.ServiceInstanceID(agentID),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("building telemetry resource: %w", err)
	}

	reader, err := newReader(ctx, exporter)
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}

func newReader(ctx context.Context, exporter Exporter) (sdkmetric.Reader, error) {
	switch exporter {
	case ExporterStdout:
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("building stdout metric exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(60*time.Second)), nil
	case ExporterOTLP:
		exp, err := otlpmetrichttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("building otlp metric exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	default:
		return nil, fmt.Errorf("unknown telemetry exporter: %q", exporter)
	}
}

