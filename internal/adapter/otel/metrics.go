package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tenantforge"

// Metrics holds the OTLP-exported saga instruments.
type Metrics struct {
	SagaStarted    metric.Int64Counter
	SagaCompleted  metric.Int64Counter
	SagaFailed     metric.Int64Counter
	Compensations  metric.Int64Counter
	SagaDuration   metric.Float64Histogram
	IdentityCallMS metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.SagaStarted, err = meter.Int64Counter("tenantforge.saga.started",
		metric.WithDescription("Number of provisioning and rotation runs started"))
	if err != nil {
		return nil, err
	}

	m.SagaCompleted, err = meter.Int64Counter("tenantforge.saga.completed",
		metric.WithDescription("Number of runs completed"))
	if err != nil {
		return nil, err
	}

	m.SagaFailed, err = meter.Int64Counter("tenantforge.saga.failed",
		metric.WithDescription("Number of runs failed, by cause"))
	if err != nil {
		return nil, err
	}

	m.Compensations, err = meter.Int64Counter("tenantforge.saga.compensations",
		metric.WithDescription("Compensation steps executed, by step and result"))
	if err != nil {
		return nil, err
	}

	m.SagaDuration, err = meter.Float64Histogram("tenantforge.saga.duration_seconds",
		metric.WithDescription("Run duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.IdentityCallMS, err = meter.Float64Histogram("tenantforge.identity.call_ms",
		metric.WithDescription("Identity service call latency in milliseconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
