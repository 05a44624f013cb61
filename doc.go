// Package etp is a toolkit for line-oriented TCP daemons that talk to lab
// instruments and ship their readings to InfluxDB.
//
// # Architecture
//
// The toolkit is split into small packages that compose bottom-up:
//
//	┌─────────────────────────────────────┐
//	│   cmd/* example daemons             │  echo, relay, ingest,
//	│   (cmd/internal/cli wiring)         │  dummy device, client
//	└─────────────────────────────────────┘
//	           ↓ run under
//	┌─────────────────────────────────────┐
//	│   service.Manager                   │  ordered start, reverse
//	│   (daemon, writer, metrics)         │  stop, aggregate health
//	└─────────────────────────────────────┘
//	           ↓ drive
//	┌──────────────────┐  ┌──────────────────┐
//	│  daemon          │  │  influx.Writer   │  batching, retries,
//	│  (TCP, registry) │  │  (HTTP v2/v3)    │  drain on close
//	└──────────────────┘  └──────────────────┘
//	           ↓ built on
//	┌─────────────────────────────────────┐
//	│  framer · command · lineproto       │  delimiters, parsing,
//	│                                     │  line protocol
//	└─────────────────────────────────────┘
//
// # Packages
//
//   - framer: splits a byte stream into commands on configurable delimiters
//     with a bounded buffer.
//   - command: parses a command line in the simple, SMS, JSON or line
//     protocol format into a name and arguments.
//   - lineproto: encodes and decodes InfluxDB line protocol records.
//   - daemon: runs TCP listeners and outbound connections, keeps a registry
//     of live connections and hands each one to a Handler.
//   - influx: a buffered asynchronous writer for InfluxDB v2 and v3.
//   - service: lifecycle of the long-running parts of a process.
//   - config: YAML configuration with ETP_* environment overrides.
//   - errors, health, metric: error classification, health status and
//     Prometheus metrics shared by everything above.
//
// # Running an example
//
//	./bin/echoserver --port 7000
//	./bin/echoclient --server 127.0.0.1:7000 "hello"
//
// A dummy device that writes readings to a local InfluxDB v2:
//
//	ETP_INFLUX_URL=http://localhost:8086 ETP_INFLUX_TOKEN=... \
//	  ./bin/dummydevice --config /etc/etp/device.yaml
package etp
