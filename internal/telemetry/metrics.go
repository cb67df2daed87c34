package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
)

const meterName = "github.com/hackgods/booking-engine"

// Provider owns the meter provider and the Prometheus scrape handler.
type Provider struct {
	mp      *sdkmetric.MeterProvider
	Handler http.Handler
}

// NewPrometheus registers a Prometheus-backed meter provider as the global
// one.
func NewPrometheus(serviceName, version, env string) (*Provider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
		semconv.DeploymentEnvironmentName(env),
	)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)

	return &Provider{mp: mp, Handler: promhttp.Handler()}, nil
}

func (p *Provider) Meter() metric.Meter {
	return p.mp.Meter(meterName)
}

func (p *Provider) Shutdown(ctx context.Context) error {
	return p.mp.Shutdown(ctx)
}

// Metrics holds the instruments recorded by the HTTP layer.
type Metrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	outcomes metric.Int64Counter
}

// NewMetrics creates the instruments on meter. A nil meter yields no-op
// instruments.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(meterName)
	}

	requests, err := meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	outcomes, err := meter.Int64Counter(
		"booking_operations_total",
		metric.WithDescription("Booking operations by operation and result code"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{requests: requests, duration: duration, outcomes: outcomes}, nil
}

// RecordRequest records one finished request. route is the router pattern,
// never the raw path, to keep cardinality bounded.
func (m *Metrics) RecordRequest(ctx context.Context, method, route string, status int, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, seconds, attrs)
}

// RecordOutcome counts a booking operation result; result is "ok" or the
// error code returned to the client.
func (m *Metrics) RecordOutcome(ctx context.Context, operation, result string) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
}
