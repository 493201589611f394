package events

import (
	"context"

	"github.com/courtdata/judgment-harvester/internal/metrics"
)

// MetricsSink feeds lifecycle events into the Prometheus collectors owned by
// the metrics package.
type MetricsSink struct{}

// NewMetricsSink returns a sink over the process-wide collectors.
func NewMetricsSink() *MetricsSink {
	return &MetricsSink{}
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *MetricsSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case KindWindowDone:
			metrics.ObserveWindow("done")
		case KindWindowFailed:
			metrics.ObserveWindow("failed")
		case KindWindowDefer:
			metrics.ObserveWindow("deferred")
		case KindTaskStage:
			metrics.ObserveStage(evt.Stage)
		case KindTaskTerminal:
			metrics.ObserveTaskTerminal(evt.Status)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *MetricsSink) Close(context.Context) error {
	return nil
}
