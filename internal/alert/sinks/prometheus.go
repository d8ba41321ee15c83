package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/adc-ops/grantwatch/internal/alert"
)

// PrometheusSink exports alert counters. It owns its collectors so multiple
// hubs in tests can use isolated registries.
type PrometheusSink struct {
	alertsTotal *prometheus.CounterVec
	daysToGo    prometheus.Histogram
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantwatch_alerts_total",
			Help: "Alerts emitted partitioned by kind and scope.",
		}, []string{"kind", "scope"}),
		daysToGo: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grantwatch_urgent_days_remaining",
			Help:    "Days remaining at the moment an urgency alert fires.",
			Buckets: []float64{1, 3, 5, 7, 10, 15},
		}),
	}
	for _, collector := range []prometheus.Collector{s.alertsTotal, s.daysToGo} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register alert collector: %w", err)
		}
	}
	return s, nil
}

// Deliver updates the collectors. Safe for concurrent use.
func (s *PrometheusSink) Deliver(_ context.Context, evt alert.Event) error {
	scope := string(evt.Scope)
	if scope == "" {
		scope = "unknown"
	}
	s.alertsTotal.WithLabelValues(string(evt.Kind), scope).Inc()
	if evt.Kind == alert.KindUrgent {
		s.daysToGo.Observe(float64(evt.DaysRemaining))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
