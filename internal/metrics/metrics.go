// Package metrics exports the outcome of a load run in the Prometheus text
// format, for the node exporter's textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"toggl-etl/internal/etl"
)

const namespace = "toggl_etl"

// Recorder holds the gauges describing the most recent load run.
type Recorder struct {
	registry *prometheus.Registry

	inserted  *prometheus.GaugeVec
	rejected  *prometheus.GaugeVec
	duration  prometheus.Gauge
	success   prometheus.Gauge
	finished  prometheus.Gauge
	completed prometheus.Gauge
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		inserted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows_inserted",
			Help:      "Rows appended by the last load run, per stage.",
		}, []string{"stage"}),
		rejected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows_rejected",
			Help:      "Rows rejected for unresolved foreign keys by the last load run, per stage.",
		}, []string{"stage"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last load run.",
		}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the last load run succeeded, 0 otherwise.",
		}),
		finished: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last load run finished.",
		}),
		completed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_stages_completed",
			Help:      "Number of stages the last load run completed.",
		}),
	}
	r.registry.MustRegister(r.inserted, r.rejected, r.duration, r.success, r.finished, r.completed)
	return r
}

// ObserveLoad records one load run. report may be nil when the run failed
// before the pipeline started.
func (r *Recorder) ObserveLoad(report *etl.Report, succeeded bool, duration time.Duration, finishedAt time.Time) {
	r.inserted.Reset()
	r.rejected.Reset()
	r.completed.Set(0)
	if report != nil {
		for _, s := range report.Stages {
			r.inserted.WithLabelValues(string(s.Stage)).Set(float64(s.Inserted))
			r.rejected.WithLabelValues(string(s.Stage)).Set(float64(len(s.Rejected)))
		}
		r.completed.Set(float64(len(report.Stages)))
	}

	r.duration.Set(duration.Seconds())
	r.finished.Set(float64(finishedAt.Unix()))
	if succeeded {
		r.success.Set(1)
	} else {
		r.success.Set(0)
	}
}

// WriteTextfile atomically replaces path with the current metric values.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
