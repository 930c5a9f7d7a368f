package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Poll tick outcomes
const (
	TickCompleted = "completed"
	TickPending   = "pending"
	TickTransient = "transient_error"
	TickFailed    = "failed"
)

// Job and submission results
const (
	ResultOK        = "ok"
	ResultFailed    = "failed"
	ResultTimeout   = "timeout"
	ResultCancelled = "cancelled"
)

// Recorder holds the client-side collectors. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	submissions  *prometheus.CounterVec
	pollTicks    *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	jobDuration  prometheus.Histogram
	activeJobs   prometheus.Gauge
}

// NewRecorder creates the collectors and registers them on reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_submissions_total",
			Help: "Analysis jobs submitted to the backend, by result",
		}, []string{"result"}),
		pollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_poll_ticks_total",
			Help: "Result poll ticks, by outcome",
		}, []string{"outcome"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_jobs_finished_total",
			Help: "Analysis jobs that left the pending state, by result",
		}, []string{"result"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulse_job_duration_seconds",
			Help:    "Time from submission acceptance to a terminal state",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_active_jobs",
			Help: "Polling loops currently running",
		}),
	}

	reg.MustRegister(r.submissions, r.pollTicks, r.jobsFinished, r.jobDuration, r.activeJobs)
	return r
}

// RecordSubmit counts a submission attempt
func (r *Recorder) RecordSubmit(result string) {
	if r == nil {
		return
	}
	r.submissions.WithLabelValues(result).Inc()
}

// RecordPollTick counts one poll tick
func (r *Recorder) RecordPollTick(outcome string) {
	if r == nil {
		return
	}
	r.pollTicks.WithLabelValues(outcome).Inc()
}

// RecordJobFinished counts a job leaving the pending state and observes its duration
func (r *Recorder) RecordJobFinished(result string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.jobsFinished.WithLabelValues(result).Inc()
	if result == ResultOK || result == ResultFailed || result == ResultTimeout {
		r.jobDuration.Observe(elapsed.Seconds())
	}
}

// LoopStarted increments the active loop gauge
func (r *Recorder) LoopStarted() {
	if r == nil {
		return
	}
	r.activeJobs.Inc()
}

// LoopStopped decrements the active loop gauge
func (r *Recorder) LoopStopped() {
	if r == nil {
		return
	}
	r.activeJobs.Dec()
}

// Handler serves the metrics gathered by g in Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
