package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "edi-broker"

// Metrics holds all broker metric instruments.
type Metrics struct {
	Asks             metric.Int64Counter
	AskDuration      metric.Float64Histogram
	Tasks            metric.Int64Counter
	TaskDuration     metric.Float64Histogram
	GatewayPolls     metric.Int64Counter
	CallbackFailures metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Asks, err = meter.Int64Counter("broker.asks",
		metric.WithDescription("Number of bridge ask calls by outcome"))
	if err != nil {
		return nil, err
	}

	m.AskDuration, err = meter.Float64Histogram("broker.ask.duration_seconds",
		metric.WithDescription("Bridge ask duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.Tasks, err = meter.Int64Counter("broker.tasks",
		metric.WithDescription("Number of dispatch tasks by terminal status"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("broker.task.duration_seconds",
		metric.WithDescription("Dispatch task duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.GatewayPolls, err = meter.Int64Counter("broker.gateway.polls",
		metric.WithDescription("Number of history polls against the gateway"))
	if err != nil {
		return nil, err
	}

	m.CallbackFailures, err = meter.Int64Counter("broker.callback.failures",
		metric.WithDescription("Number of failed completion callbacks"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
