package events

import (
	"context"

	"go.uber.org/zap"
)

// LogSink emits structured logs for the event stream. It is useful during
// development and audits where no metrics backend is available.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		s.logger.Info("harvest event",
			zap.String("run_id", evt.RunID),
			zap.String("kind", string(evt.Kind)),
			zap.String("window_id", evt.WindowID),
			zap.String("record_key", evt.RecordKey),
			zap.String("status", evt.Status),
			zap.String("stage", evt.Stage),
			zap.Int64("bytes", evt.Bytes),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
