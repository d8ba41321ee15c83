package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInitIdempotent guards against duplicate registration panics.
func TestInitIdempotent(t *testing.T) {
	Init()
	require.NotPanics(t, Init)
}

// TestObserveFetchCounts checks the ok/error partitioning.
func TestObserveFetchCounts(t *testing.T) {
	Init()

	before := testutil.ToFloat64(sourceFetchTotal.WithLabelValues("boe", "error"))
	ObserveFetch("boe", true, 120*time.Millisecond)
	after := testutil.ToFloat64(sourceFetchTotal.WithLabelValues("boe", "error"))
	assert.Equal(t, before+1, after)
}

// TestObserveUpsertCounts checks outcome labeling.
func TestObserveUpsertCounts(t *testing.T) {
	Init()

	before := testutil.ToFloat64(upsertsTotal.WithLabelValues("bdns", "created"))
	ObserveUpsert("bdns", "created")
	ObserveUpsert("bdns", "updated")
	after := testutil.ToFloat64(upsertsTotal.WithLabelValues("bdns", "created"))
	assert.Equal(t, before+1, after)
}

// TestObserveCandidateCounts checks admission labeling.
func TestObserveCandidateCounts(t *testing.T) {
	Init()

	before := testutil.ToFloat64(candidatesTotal.WithLabelValues("eu", "rejected"))
	ObserveCandidate("eu", false)
	after := testutil.ToFloat64(candidatesTotal.WithLabelValues("eu", "rejected"))
	assert.Equal(t, before+1, after)
}

// TestHandlerServes smoke-tests the exposition handler exists.
func TestHandlerServes(t *testing.T) {
	Init()
	require.NotNil(t, Handler())
}
