/*
Package simmetrics exports Prometheus metrics describing the state of a
running simulation: queue depth, resource utilization, and the
throughput of the scheduling cycle. Package-level collectors are
registered in init(), Handler() serves them over promhttp, and Timer
helps with histogram observations.
*/
package simmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SimulatedTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "schedulus_simulated_time_seconds",
			Help: "Current simulated clock time",
		},
	)

	QueueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "schedulus_queue_length",
			Help: "Number of jobs currently waiting to be scheduled",
		},
	)

	RunningJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "schedulus_running_jobs",
			Help: "Number of jobs currently running",
		},
	)

	ResourceUtilization = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "schedulus_resource_utilization_ratio",
			Help: "Fraction of resources currently busy, in [0,1]",
		},
	)

	AverageWaitTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "schedulus_average_wait_time_seconds",
			Help: "Mean wait time across started jobs",
		},
	)

	EventsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedulus_events_processed_total",
			Help: "Total number of calendar events dispatched, by kind",
		},
		[]string{"kind"},
	)

	JobsBackfilledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "schedulus_jobs_backfilled_total",
			Help: "Total number of jobs started via EASY backfill rather than head-of-queue admission",
		},
	)

	SchedulingCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "schedulus_scheduling_cycle_duration_seconds",
			Help:    "Wall-clock time spent in one scheduling cycle",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(SimulatedTime)
	prometheus.MustRegister(QueueLength)
	prometheus.MustRegister(RunningJobs)
	prometheus.MustRegister(ResourceUtilization)
	prometheus.MustRegister(AverageWaitTime)
	prometheus.MustRegister(EventsProcessedTotal)
	prometheus.MustRegister(JobsBackfilledTotal)
	prometheus.MustRegister(SchedulingCycleDuration)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures wall-clock duration for a scheduling cycle and records it
// to a histogram on completion.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
