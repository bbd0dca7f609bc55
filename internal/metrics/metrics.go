// Package metrics exports ledger operations and sweep reports as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/MarkoPoloResearchLab/yield/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "yield"

// Recorder implements ledger.OperationLogger and ledger.SweepObserver.
type Recorder struct {
	registry *prometheus.Registry

	operations       *prometheus.CounterVec
	sweepRuns        *prometheus.CounterVec
	earningsCreated  prometheus.Counter
	earningsCredited prometheus.Counter
	amountCredited   prometheus.Counter
	sweepFailures    *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
}

// NewRecorder registers the ledger collectors, plus the Go and process
// collectors, on a fresh registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	return &Recorder{
		registry: registry,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger operations by name and outcome status.",
		}, []string{"operation", "status"}),
		sweepRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Completed sweeps, split by whether they were interrupted.",
		}, []string{"interrupted"}),
		earningsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "earnings_created_total",
			Help:      "Earnings created by sweeps.",
		}),
		earningsCredited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "earnings_credited_total",
			Help:      "Earnings credited by sweeps.",
		}),
		amountCredited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "amount_credited_total",
			Help:      "Sum of amounts credited by sweeps.",
		}),
		sweepFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "failures_total",
			Help:      "Sweep units that failed, by phase.",
		}, []string{"phase"}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Wall time of a sweep.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}

// Registry exposes the underlying registry.
func (recorder *Recorder) Registry() *prometheus.Registry {
	return recorder.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (recorder *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(recorder.registry, promhttp.HandlerOpts{Registry: recorder.registry})
}

// LogOperation implements ledger.OperationLogger.
func (recorder *Recorder) LogOperation(_ context.Context, entry ledger.OperationLog) {
	recorder.operations.WithLabelValues(entry.Operation, entry.Status).Inc()
}

// ObserveSweep implements ledger.SweepObserver.
func (recorder *Recorder) ObserveSweep(_ context.Context, report ledger.SweepReport) {
	interrupted := "false"
	if report.Interrupted {
		interrupted = "true"
	}
	recorder.sweepRuns.WithLabelValues(interrupted).Inc()
	recorder.earningsCreated.Add(float64(report.EarningsCreated))
	recorder.earningsCredited.Add(float64(report.EarningsCredited))
	if amount, _ := report.AmountCredited.Float64(); amount > 0 {
		recorder.amountCredited.Add(amount)
	}
	for _, failure := range report.Failures {
		recorder.sweepFailures.WithLabelValues(failure.Phase).Inc()
	}
	recorder.sweepDuration.Observe(report.Duration().Seconds())
}
