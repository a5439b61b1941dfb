// Package telemetry holds the OpenTelemetry instruments shared by the
// orchestrator, the event router and the tool gateway.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/darrylbowler72/agenticframework-sub001"

// Metrics groups the counters emitted by the core.
type Metrics struct {
	WorkflowsSubmitted metric.Int64Counter
	WorkflowsFinished  metric.Int64Counter
	TasksDispatched    metric.Int64Counter
	AttemptsFailed     metric.Int64Counter
	TasksRetried       metric.Int64Counter
	EventsDeadLettered metric.Int64Counter
	ToolCalls          metric.Int64Counter
}

// NewMetrics registers the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	var (
		m   Metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.WorkflowsSubmitted, "agentic.workflows.submitted", "Workflows accepted"},
		{&m.WorkflowsFinished, "agentic.workflows.finished", "Workflows that reached a terminal status"},
		{&m.TasksDispatched, "agentic.tasks.dispatched", "Task attempts sent to workers"},
		{&m.AttemptsFailed, "agentic.tasks.attempts_failed", "Task attempts that failed"},
		{&m.TasksRetried, "agentic.tasks.retried", "Task attempts scheduled for retry"},
		{&m.EventsDeadLettered, "agentic.events.dead_lettered", "Events moved to the dead-letter channel"},
		{&m.ToolCalls, "agentic.tool.calls", "Tool gateway invocations"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// Global registers the instruments on the process-wide meter provider.
func Global() (*Metrics, error) {
	return NewMetrics(otel.GetMeterProvider())
}

// Noop returns instruments that record nothing.
func Noop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}
