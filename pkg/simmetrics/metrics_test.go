package simmetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerObserveDurationRecordsPositiveValue(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_duration_seconds",
	})

	timer := NewTimer()
	time.Sleep(time.Millisecond)
	timer.ObserveDuration(histogram)

	metric := &dto.Metric{}
	require.NoError(t, histogram.Write(metric))
	assert.Equal(t, uint64(1), metric.GetHistogram().GetSampleCount())
	assert.Greater(t, metric.GetHistogram().GetSampleSum(), 0.0)
}

func TestHandlerIsNotNil(t *testing.T) {
	assert.NotNil(t, Handler())
}
