package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connections is the live value of the process-wide connection
	// counter the accept loop drains on shutdown (spec.md §3 "Connection
	// Accounting").
	Connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stepd_connections_active",
			Help: "Number of client connections currently being served",
		},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepd_requests_total",
			Help: "Total number of requests handled, by opcode and result",
		},
		[]string{"opcode", "result"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stepd_request_duration_seconds",
			Help:    "Per-request handler duration in seconds, by opcode",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"opcode"},
	)

	ExternPidsTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stepd_extern_pids_tracked",
			Help: "Number of extern pids currently being watched",
		},
	)

	StepSuspended = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stepd_step_suspended",
			Help: "Whether this step is currently suspended (1) or not (0)",
		},
	)

	StepState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stepd_step_state",
			Help: "Current step lifecycle state (0=NOT_RUNNING, 1=STARTING, 2=RUNNING, 3=ENDING)",
		},
	)

	StraySocketsCleaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stepd_stray_sockets_cleaned_total",
			Help: "Total number of stray sockets removed by the locator's cleanup path",
		},
	)
)

func init() {
	prometheus.MustRegister(Connections)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ExternPidsTracked)
	prometheus.MustRegister(StepSuspended)
	prometheus.MustRegister(StepState)
	prometheus.MustRegister(StraySocketsCleaned)
}

// Handler returns the Prometheus HTTP handler, exposed alongside the
// health endpoint on the daemon's debug listener.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
