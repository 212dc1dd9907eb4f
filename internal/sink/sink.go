// Package sink delivers newly inserted notifications to side channels: the
// log, an HTTP webhook, or an SNS topic. Delivery is best effort; the store
// never waits on or retries a failed sink.
package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/orderpulse/internal/metrics"
	"github.com/lalithlochan/orderpulse/internal/notify"
)

// Named is a sink with a label used in logs and metrics.
type Named interface {
	notify.Sink
	Name() string
}

// MultiSink fans a notification out to every sink. All sinks are attempted;
// the first error is returned.
type MultiSink struct {
	sinks  []Named
	logger *zap.Logger
}

func NewMultiSink(logger *zap.Logger, sinks ...Named) *MultiSink {
	return &MultiSink{sinks: sinks, logger: logger}
}

func (m *MultiSink) Notify(ctx context.Context, n notify.Notification) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, n); err != nil {
			metrics.RecordSinkFailure(s.Name())
			m.logger.Warn("notification sink failed",
				zap.String("sink", s.Name()),
				zap.String("notification_id", n.ID),
				zap.Error(err),
			)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Len returns the number of configured sinks.
func (m *MultiSink) Len() int {
	return len(m.sinks)
}

// LogSink writes each notification to the log. It stands in for a sound or
// desktop cue when running headless.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Notify(ctx context.Context, n notify.Notification) error {
	s.logger.Info("new notification",
		zap.String("notification_id", n.ID),
		zap.String("category", string(n.Category)),
		zap.String("title", n.Title),
		zap.String("correlation_id", n.CorrelationID()),
	)
	return nil
}
