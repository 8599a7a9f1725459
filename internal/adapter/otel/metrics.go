// Package otel provides OpenTelemetry instruments for the coordinator.
// Instruments ride the global meter and tracer; wiring an exporter is a
// deployment concern.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "imagen"

// Metrics holds all coordinator metric instruments.
type Metrics struct {
	TasksSubmitted metric.Int64Counter
	TasksCompleted metric.Int64Counter
	TasksFailed    metric.Int64Counter
	TasksEvicted   metric.Int64Counter
	TaskDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksSubmitted, err = meter.Int64Counter("imagen.tasks.submitted",
		metric.WithDescription("Number of generation tasks accepted"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("imagen.tasks.completed",
		metric.WithDescription("Number of tasks that reached completed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("imagen.tasks.failed",
		metric.WithDescription("Number of tasks that reached error"))
	if err != nil {
		return nil, err
	}

	m.TasksEvicted, err = meter.Int64Counter("imagen.tasks.evicted",
		metric.WithDescription("Number of tasks removed by the reaper or lazy expiry"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("imagen.task.duration_seconds",
		metric.WithDescription("Seconds from submission to terminal state"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
