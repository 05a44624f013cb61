// Package influx delivers InfluxDB line protocol records over HTTP.
//
// A Writer accepts records from any number of goroutines into a bounded
// FIFO queue and posts them from one background loop, in batches of up to
// Config.BatchMaxPoints records or whatever accumulated within
// Config.FlushInterval. Both InfluxDB v2 (/api/v2/write) and v3
// (/api/v3/write_lp) endpoints are supported.
//
// Failed requests answered with 429 or 5xx, and transport failures, are
// retried with exponential backoff and jitter. Any other status, or running
// out of retries, stops the loop; the failure is then returned by Err, by
// later calls to Write and by Close.
//
// Basic usage:
//
//	cfg := influx.DefaultConfig()
//	cfg.V2 = &influx.TargetV2{
//		BaseURL: "http://localhost:8086",
//		Org:     "lab",
//		Bucket:  "sensors",
//		Token:   token,
//	}
//	w, err := influx.NewWriter(cfg, influx.WithMetrics(registry))
//	if err != nil {
//		return err
//	}
//	if err := w.Start(ctx); err != nil {
//		return err
//	}
//	defer w.Close(true)
//
//	w.WriteString(ctx, "weather,site=roof temp=21.5")
//
// Records are never persisted; whatever is queued when the process dies is
// lost.
package influx
