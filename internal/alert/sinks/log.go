// Package sinks provides alert.Sink implementations: structured logs,
// Prometheus counters, and an optional Pub/Sub bridge to external notifier
// workers.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/adc-ops/grantwatch/internal/alert"
)

// LogSink emits structured logs for every alert. It is the sink operators
// watch; transient source failures never show up here, only outcomes.
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

// Deliver logs the event using structured fields.
func (s *LogSink) Deliver(_ context.Context, evt alert.Event) error {
	fields := []zap.Field{
		zap.String("grant_id", evt.GrantID),
		zap.String("title", evt.Title),
	}
	switch evt.Kind {
	case alert.KindUrgent:
		fields = append(fields, zap.Int("days_remaining", evt.DaysRemaining))
		s.logger.Warn("grant deadline approaching", fields...)
	default:
		fields = append(fields,
			zap.String("issuing_body", evt.IssuingBody),
			zap.String("scope", string(evt.Scope)),
			zap.Int("relevance", evt.Relevance),
			zap.String("source_url", evt.SourceURL),
		)
		s.logger.Info("relevant grant discovered", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
