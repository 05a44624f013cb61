package influx

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/karpov-sv/etp/metric"
)

// Metrics holds Prometheus metrics for a Writer
type Metrics struct {
	pointsWritten  prometheus.Counter
	batchesFlushed prometheus.Counter
	retries        prometheus.Counter
	failures       prometheus.Counter
	queueDepth     prometheus.Gauge
	flushDuration  prometheus.Histogram
}

// newMetrics creates and registers writer metrics; nil registry, nil metrics
func newMetrics(registry *metric.MetricsRegistry, target string, logger *slog.Logger) *Metrics {
	if registry == nil {
		return nil
	}

	labels := prometheus.Labels{"target": target}
	m := &Metrics{
		pointsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "influx",
			Name:        "points_written_total",
			Help:        "Line protocol records delivered",
			ConstLabels: labels,
		}),
		batchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "influx",
			Name:        "batches_flushed_total",
			Help:        "Batches accepted by the server",
			ConstLabels: labels,
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "influx",
			Name:        "retries_total",
			Help:        "Write requests retried after a retryable failure",
			ConstLabels: labels,
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "influx",
			Name:        "failures_total",
			Help:        "Batches dropped after a terminal write failure",
			ConstLabels: labels,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "influx",
			Name:        "queue_depth",
			Help:        "Records waiting in the write queue",
			ConstLabels: labels,
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "influx",
			Name:        "flush_duration_seconds",
			Help:        "Time to deliver one batch, retries included",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}

	const service = "influx_writer"
	for _, err := range []error{
		registry.RegisterCounter(service, "points_written", m.pointsWritten),
		registry.RegisterCounter(service, "batches_flushed", m.batchesFlushed),
		registry.RegisterCounter(service, "retries", m.retries),
		registry.RegisterCounter(service, "failures", m.failures),
		registry.RegisterGauge(service, "queue_depth", m.queueDepth),
		registry.RegisterHistogram(service, "flush_duration", m.flushDuration),
	} {
		if err != nil {
			logger.Warn("Failed to register writer metric", "error", err)
		}
	}

	return m
}
