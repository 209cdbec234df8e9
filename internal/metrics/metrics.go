// Package metrics exposes Prometheus instrumentation for the evaluation
// engine and the ops HTTP endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all crosseval Prometheus metrics.
type Registry struct {
	FoldDuration   *prometheus.HistogramVec
	FoldsEvaluated *prometheus.CounterVec
	DailyIC        prometheus.Gauge
	CVIC           prometheus.Gauge
	Turnover       prometheus.Histogram
	RunsTotal      *prometheus.CounterVec
	ActiveRuns     prometheus.Gauge

	reg *prometheus.Registry
}

// NewRegistry creates and registers all engine metrics on a private
// Prometheus registry.
func NewRegistry() *Registry {
	r := &Registry{
		FoldDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crosseval_fold_duration_seconds",
				Help:    "Wall time spent evaluating each fold",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"result"},
		),
		FoldsEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crosseval_folds_total",
				Help: "Folds processed by outcome",
			},
			[]string{"outcome"},
		),
		DailyIC: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crosseval_daily_ic",
			Help: "Mean daily IC of the most recent run",
		}),
		CVIC: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crosseval_cv_ic",
			Help: "Mean pooled CV IC of the most recent run",
		}),
		Turnover: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crosseval_rebalance_turnover",
			Help:    "Turnover fraction per rebalance",
			Buckets: prometheus.LinearBuckets(0, 0.1, 21),
		}),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crosseval_runs_total",
				Help: "Evaluation runs by terminal status",
			},
			[]string{"status"},
		),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crosseval_active_runs",
			Help: "Runs currently executing",
		}),
		reg: prometheus.NewRegistry(),
	}

	r.reg.MustRegister(r.FoldDuration, r.FoldsEvaluated, r.DailyIC, r.CVIC,
		r.Turnover, r.RunsTotal, r.ActiveRuns)
	return r
}

// Gatherer exposes the underlying registry for promhttp.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
