package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	rec.ObserveLatency("API Route - GET", "iad1", 120*time.Millisecond)
	rec.ObserveLatency("API Route - GET", "iad1", 80*time.Millisecond)
	rec.ObserveLatency("API Route - GET", "fra1", 40*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.counters.WithLabelValues("API Route - GET", "iad1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.counters.WithLabelValues("API Route - GET", "fra1")))
	assert.Equal(t, 2, testutil.CollectAndCount(rec.histogram))

	// Registering twice on the same registry fails.
	_, err = NewPrometheusRecorder(reg)
	assert.Error(t, err)
}
