package daemon

import (
	"log/slog"
	"time"

	"github.com/karpov-sv/etp/metric"
)

// Defaults applied by New
const (
	DefaultDialTimeout    = 10 * time.Second
	DefaultReadBufferSize = 4096
	DefaultRetryDelay     = time.Second
)

// Option configures a Daemon.
type Option func(*Daemon)

// WithName names the daemon in logs, metrics and health.
func WithName(name string) Option {
	return func(d *Daemon) {
		d.name = name
	}
}

// WithLogger sets the daemon logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) {
		d.logger = logger
	}
}

// WithMetrics enables Prometheus metrics on registry. A nil registry leaves
// metrics off.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(d *Daemon) {
		d.registry = registry
	}
}

// WithState shares an existing state map with the daemon.
func WithState(state *State) Option {
	return func(d *Daemon) {
		if state != nil {
			d.state = state
		}
	}
}

// WithDialTimeout bounds outbound connection attempts.
func WithDialTimeout(timeout time.Duration) Option {
	return func(d *Daemon) {
		d.dialTimeout = timeout
	}
}

// WithReadBufferSize sets the size of each connection's read buffer.
func WithReadBufferSize(size int) Option {
	return func(d *Daemon) {
		if size > 0 {
			d.readBufferSize = size
		}
	}
}

// WithWriteTimeout bounds every write; a peer that stops reading gets its
// connection closed instead of blocking senders forever. Zero disables it.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(d *Daemon) {
		d.writeTimeout = timeout
	}
}

// ConnectOption configures Connect.
type ConnectOption func(*connectConfig)

type connectConfig struct {
	reconnect  bool
	retryDelay time.Duration
}

// WithReconnect keeps the outbound connection alive: whenever it ends or
// cannot be established Connect waits retryDelay and dials again, until
// the daemon stops.
func WithReconnect(retryDelay time.Duration) ConnectOption {
	return func(c *connectConfig) {
		c.reconnect = true
		if retryDelay > 0 {
			c.retryDelay = retryDelay
		}
	}
}
