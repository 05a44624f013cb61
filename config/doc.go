// Package config loads the YAML configuration of the example daemons.
//
// Absent keys keep the values from Default, so a file only needs the
// settings it changes:
//
//	listen:
//	  port: 7000
//	framer:
//	  max_buffer: 65536
//	influx:
//	  version: v3
//	  base_url: http://localhost:8181
//	  db: lab
//	  flush_interval: 2s
//
// Load overlays the file on the defaults, then applies ETP_LOG_LEVEL,
// ETP_LOG_FORMAT, ETP_LISTEN_PORT, ETP_METRICS_ADDRESS, ETP_INFLUX_URL and
// ETP_INFLUX_TOKEN, then validates. Unknown keys are errors.
//
// WriterConfig and FramerOptions translate the relevant sections for the
// influx and framer packages.
package config
