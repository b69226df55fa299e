package gateway

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder receives gateway telemetry. Implementations must be safe for concurrent use.
type MetricsRecorder interface {
	RecordAttempt(downstream, outcome string, latency time.Duration)
	RecordResult(downstream, outcome string)
	RecordStateChange(downstream, from, to string)
}

type NopRecorder struct{}

func (NopRecorder) RecordAttempt(string, string, time.Duration) {}
func (NopRecorder) RecordResult(string, string)                 {}
func (NopRecorder) RecordStateChange(string, string, string)    {}

// OtelRecorder publishes gateway telemetry as OpenTelemetry instruments.
type OtelRecorder struct {
	attempts    metric.Int64Counter
	results     metric.Int64Counter
	transitions metric.Int64Counter
	latency     metric.Float64Histogram
}

func NewOtelRecorder(meter metric.Meter) (*OtelRecorder, error) {
	attempts, err := meter.Int64Counter("gateway.attempts",
		metric.WithDescription("Downstream call attempts by outcome"))
	if err != nil {
		return nil, err
	}
	results, err := meter.Int64Counter("gateway.results",
		metric.WithDescription("Downstream call results after retries"))
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("gateway.breaker_transitions",
		metric.WithDescription("Circuit breaker state changes"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("gateway.attempt_latency",
		metric.WithDescription("Latency of a single downstream attempt"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &OtelRecorder{attempts: attempts, results: results, transitions: transitions, latency: latency}, nil
}

func (r *OtelRecorder) RecordAttempt(downstream, outcome string, latency time.Duration) {
	attrs := metric.WithAttributes(attribute.String("downstream", downstream), attribute.String("outcome", outcome))
	r.attempts.Add(context.Background(), 1, attrs)
	r.latency.Record(context.Background(), float64(latency.Microseconds())/1000, attrs)
}

func (r *OtelRecorder) RecordResult(downstream, outcome string) {
	r.results.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("downstream", downstream), attribute.String("outcome", outcome)))
}

func (r *OtelRecorder) RecordStateChange(downstream, from, to string) {
	r.transitions.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("downstream", downstream),
			attribute.String("from", from),
			attribute.String("to", to),
		))
}
