package prometheus

import (
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/parwork/go-work-queue/core"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	runDurationSeconds *prom.HistogramVec
	unitsExecutedTotal *prom.CounterVec
	unitPanicTotal     *prom.CounterVec
	runAbortedTotal    *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "workqueue"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Fork-join run duration in seconds.",
		Buckets:   buckets,
	}, []string{"queue"})
	unitsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "units_executed_total",
		Help:      "Total number of work units executed.",
	}, []string{"queue"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "unit_panic_total",
		Help:      "Total number of work unit panics.",
	}, []string{"queue"})
	abortedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "run_aborted_total",
		Help:      "Total number of aborted runs.",
	}, []string{"queue", "reason"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if unitsVec, err = registerCollector(reg, unitsVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if abortedVec, err = registerCollector(reg, abortedVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		runDurationSeconds: durationVec,
		unitsExecutedTotal: unitsVec,
		unitPanicTotal:     panicVec,
		runAbortedTotal:    abortedVec,
	}, nil
}

// RecordRunDuration records the wall-clock duration of a completed run.
func (m *MetricsExporter) RecordRunDuration(queueName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runDurationSeconds.WithLabelValues(normalizeLabel(queueName, "unknown")).Observe(duration.Seconds())
}

// RecordUnitsExecuted records the number of units a run executed.
func (m *MetricsExporter) RecordUnitsExecuted(queueName string, count int64) {
	if m == nil {
		return
	}
	m.unitsExecutedTotal.WithLabelValues(normalizeLabel(queueName, "unknown")).Add(float64(count))
}

// RecordUnitPanic records work unit panic events.
func (m *MetricsExporter) RecordUnitPanic(queueName string, panicInfo any) {
	if m == nil {
		return
	}
	m.unitPanicTotal.WithLabelValues(normalizeLabel(queueName, "unknown")).Inc()
}

// RecordRunAborted records aborted run events.
func (m *MetricsExporter) RecordRunAborted(queueName string, reason string) {
	if m == nil {
		return
	}
	m.runAbortedTotal.WithLabelValues(normalizeLabel(queueName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
