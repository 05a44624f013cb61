package daemon

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/karpov-sv/etp/metric"
)

// Metrics holds Prometheus metrics for a daemon
type Metrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  *prometheus.CounterVec
	bytesSent         prometheus.Counter
	dialFailures      prometheus.Counter
	handlerErrors     prometheus.Counter
}

// newMetrics creates and registers daemon metrics; nil registry, nil metrics
func newMetrics(registry *metric.MetricsRegistry, name string, logger *slog.Logger) *Metrics {
	if registry == nil {
		return nil
	}

	labels := prometheus.Labels{"daemon": name}
	m := &Metrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "daemon",
			Name:        "active_connections",
			Help:        "Currently registered connections",
			ConstLabels: labels,
		}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "daemon",
			Name:        "connections_total",
			Help:        "Connections served, by direction",
			ConstLabels: labels,
		}, []string{"direction"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "daemon",
			Name:        "bytes_sent_total",
			Help:        "Bytes written to connections",
			ConstLabels: labels,
		}),
		dialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "daemon",
			Name:        "dial_failures_total",
			Help:        "Failed outbound connection attempts",
			ConstLabels: labels,
		}),
		handlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "daemon",
			Name:        "handler_errors_total",
			Help:        "Connection handlers that returned an error or panicked",
			ConstLabels: labels,
		}),
	}

	service := "daemon_" + name
	for _, err := range []error{
		registry.RegisterGauge(service, "active_connections", m.activeConnections),
		registry.RegisterCounterVec(service, "connections_total", m.connectionsTotal),
		registry.RegisterCounter(service, "bytes_sent", m.bytesSent),
		registry.RegisterCounter(service, "dial_failures", m.dialFailures),
		registry.RegisterCounter(service, "handler_errors", m.handlerErrors),
	} {
		if err != nil {
			logger.Warn("Failed to register daemon metric", "error", err)
		}
	}

	return m
}

func direction(incoming bool) string {
	if incoming {
		return "incoming"
	}
	return "outgoing"
}
