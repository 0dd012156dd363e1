package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/uqdispatch/uqdispatch/internal/job"
	"github.com/uqdispatch/uqdispatch/internal/jobdb"
)

const (
	prefix = "uq_"

	backendLabel  = "backend"
	outcomeLabel  = "outcome"
	resourceLabel = "resource"
	statusLabel   = "status"
)

// Metrics are the counters and histograms updated while jobs are dispatched.
type Metrics struct {
	submissions  *prometheus.CounterVec
	jobDurations *prometheus.HistogramVec
	evaluations  prometheus.Counter
	allMetrics   []prometheus.Collector
}

func New() *Metrics {
	submissions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "submission_attempts_total",
			Help: "Job submission attempts by backend and outcome",
		},
		[]string{backendLabel, outcomeLabel},
	)
	jobDurations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "job_duration_seconds",
			Help:    "Time from submission to a terminal state",
			Buckets: prometheus.ExponentialBuckets(1, 2, 20),
		},
		[]string{resourceLabel, statusLabel},
	)
	evaluations := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "evaluations_total",
			Help: "Number of evaluated batches",
		},
	)
	return &Metrics{
		submissions:  submissions,
		jobDurations: jobDurations,
		evaluations:  evaluations,
		allMetrics:   []prometheus.Collector{submissions, jobDurations, evaluations},
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range m.allMetrics {
		metric.Describe(ch)
	}
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, metric := range m.allMetrics {
		metric.Collect(ch)
	}
}

func (m *Metrics) ObserveSubmission(backend string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.submissions.WithLabelValues(backend, outcome).Inc()
}

// ObserveJobDuration records jobs that have reached a terminal state.
func (m *Metrics) ObserveJobDuration(j *job.Job) {
	if !j.InTerminalState() || j.StartTime.IsZero() || j.EndTime.IsZero() {
		return
	}
	m.jobDurations.WithLabelValues(j.Resource, string(j.Status)).Observe(j.EndTime.Sub(j.StartTime).Seconds())
}

func (m *Metrics) ObserveEvaluation() {
	m.evaluations.Inc()
}

var jobsDesc = prometheus.NewDesc(
	prefix+"jobs",
	"Number of jobs in the job table by status",
	[]string{statusLabel},
	nil,
)

// JobTableCollector reports the current number of jobs per status on every scrape.
type JobTableCollector struct {
	jobDb *jobdb.JobDb
}

func NewJobTableCollector(jobDb *jobdb.JobDb) *JobTableCollector {
	return &JobTableCollector{jobDb: jobDb}
}

func (c *JobTableCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- jobsDesc
}

func (c *JobTableCollector) Collect(ch chan<- prometheus.Metric) {
	counts, err := c.jobDb.CountByStatus(c.jobDb.ReadTxn())
	if err != nil {
		ch <- prometheus.NewInvalidMetric(jobsDesc, err)
		return
	}
	for _, status := range job.AllStatuses {
		ch <- prometheus.MustNewConstMetric(jobsDesc, prometheus.GaugeValue, float64(counts[status]), string(status))
	}
}
