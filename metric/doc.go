// Package metric provides Prometheus-based metrics collection and an HTTP
// server for etp daemons.
//
// A MetricsRegistry wraps a private prometheus.Registry (with Go runtime and
// process collectors) and tracks collectors by "service.metric" key so a
// component can register and later unregister its metrics as a unit.
// Components accept an optional *MetricsRegistry; a nil registry disables
// their metrics entirely.
//
//	registry := metric.NewMetricsRegistry()
//	d := daemon.New(handler, daemon.WithMetrics(registry))
//	w, _ := influx.NewWriter(cfg, influx.WithMetrics(registry))
//
//	server := metric.NewServer(":9090", "/metrics", registry, func() health.Status {
//	    return health.Aggregate("ingest", []health.Status{d.Health(), w.Health()})
//	})
//	if err := server.Start(); err != nil {
//	    return err
//	}
//	defer server.Stop(context.Background())
//
// The server exposes Prometheus text/OpenMetrics at the configured path and a
// JSON health document at /health (503 when unhealthy).
package metric
