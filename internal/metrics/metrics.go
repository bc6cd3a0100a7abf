package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Build outcomes used as the status label of reports_built_total.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Recorder contains all Prometheus metrics of the report service.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	ReportsBuilt  *prometheus.CounterVec
	EventsDropped *prometheus.CounterVec
	LegsUnvalued  prometheus.Counter
	FetchDuration *prometheus.HistogramVec
	ReportRows    prometheus.Histogram
}

// NewRecorder creates the collectors and registers them with reg.
// A nil reg registers with the default registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		ReportsBuilt: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hivetax_reports_built_total",
			Help: "Total number of report builds by outcome",
		}, []string{"status"}),

		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hivetax_events_dropped_total",
			Help: "Total number of ledger events left out of a report by reason",
		}, []string{"reason"}),

		LegsUnvalued: factory.NewCounter(prometheus.CounterOpts{
			Name: "hivetax_legs_unvalued_total",
			Help: "Total number of transaction legs without a USD value",
		}),

		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hivetax_fetch_duration_seconds",
			Help:    "Upstream fetch latency in seconds by source",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),

		ReportRows: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hivetax_report_rows",
			Help:    "Number of rows per built report",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

// RecordBuild counts one finished build.
func (r *Recorder) RecordBuild(err error) {
	if r == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusFailed
	}
	r.ReportsBuilt.WithLabelValues(status).Inc()
}

// RecordDropped counts events left out of a report.
func (r *Recorder) RecordDropped(reason string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.EventsDropped.WithLabelValues(reason).Add(float64(n))
}

// RecordUnvalued counts legs that could not be valued.
func (r *Recorder) RecordUnvalued(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.LegsUnvalued.Add(float64(n))
}

// ObserveFetch records the latency of one upstream fetch started at start.
func (r *Recorder) ObserveFetch(source string, start time.Time) {
	if r == nil {
		return
	}
	r.FetchDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}

// ObserveRows records the size of a built report.
func (r *Recorder) ObserveRows(n int) {
	if r == nil {
		return
	}
	r.ReportRows.Observe(float64(n))
}
