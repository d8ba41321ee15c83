package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/adc-ops/grantwatch/internal/alert"
	"github.com/adc-ops/grantwatch/internal/grant"
)

func discoveryEvent() alert.Event {
	g := grant.Grant{
		ID:             "0192d9f2-7e1a-7c00-8000-000000000001",
		Title:          "Ayudas para equipamiento",
		IssuingBody:    "Ministerio del Interior",
		Scope:          grant.ScopeNational,
		RelevanceScore: 80,
	}
	return alert.Discovered(g, time.Now().UTC())
}

func urgentEvent() alert.Event {
	g := grant.Grant{
		ID:    "0192d9f2-7e1a-7c00-8000-000000000002",
		Title: "Convocatoria con plazo próximo",
	}
	return alert.Urgent(g, 5, time.Now().UTC())
}

// TestLogSinkLevels checks discovery logs at info and urgency at warn.
func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Deliver(context.Background(), discoveryEvent()))
	require.NoError(t, sink.Deliver(context.Background(), urgentEvent()))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zap.InfoLevel, entries[0].Level)
	require.Equal(t, zap.WarnLevel, entries[1].Level)
}

// TestPrometheusSinkCounts verifies kind/scope partitioning.
func TestPrometheusSinkCounts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Deliver(context.Background(), discoveryEvent()))
	require.NoError(t, sink.Deliver(context.Background(), discoveryEvent()))
	require.NoError(t, sink.Deliver(context.Background(), urgentEvent()))

	discovered := testutil.ToFloat64(
		sink.alertsTotal.WithLabelValues(string(alert.KindDiscovered), string(grant.ScopeNational)),
	)
	urgent := testutil.ToFloat64(
		sink.alertsTotal.WithLabelValues(string(alert.KindUrgent), "unknown"),
	)
	require.Equal(t, 2.0, discovered)
	require.Equal(t, 1.0, urgent)
}

// TestPrometheusSinkDuplicateRegistration ensures re-registering on the same
// registry fails loudly instead of silently double counting.
func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
