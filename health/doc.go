// Package health describes the health of etp components.
//
// A Status has one of three levels (healthy, degraded, unhealthy), a
// sanitized message, a timestamp and optional Metrics and sub-statuses.
// Daemons and Influx writers expose a Health method returning a Status;
// Aggregate rolls several of them into the process status served on
// /health by the metric package.
//
//	status := health.Aggregate("ingest", []health.Status{
//	    d.Health(),
//	    writer.Health(),
//	})
//
// FromError converts a component's last error into a Status with URLs,
// paths, addresses and credentials removed from the message.
package health
