package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/umaten/autopress/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where the web front end is not connected.
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
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Info("job progress",
			zap.String("job_id", evt.JobID),
			zap.String("state", string(evt.State)),
			zap.Int("progress", evt.Progress),
			zap.String("step", evt.Step),
			zap.String("url", evt.URL),
			zap.String("note", evt.Note),
			zap.Duration("dur", evt.Dur),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
