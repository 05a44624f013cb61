// Package service runs the long-lived parts of a process, such as a daemon,
// a writer and the metrics endpoint, as one unit: started in order, stopped
// in reverse order, with their health aggregated.
package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/karpov-sv/etp/daemon"
	"github.com/karpov-sv/etp/errors"
	"github.com/karpov-sv/etp/health"
	"github.com/karpov-sv/etp/influx"
	"github.com/karpov-sv/etp/metric"
)

// Service is a long-running part of a process
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Health() health.Status
}

// Terminator is implemented by services that can end on their own, for
// example after a fatal error. The Manager stops everything when Done closes.
type Terminator interface {
	Done() <-chan struct{}
}

// Endpoint is an address a Daemon service listens on or dials
type Endpoint struct {
	Host string
	Port int
	// Reconnect keeps redialing an outbound endpoint
	Reconnect  bool
	RetryDelay time.Duration
}

// DaemonService runs a daemon.Daemon, listening on Listen and dialing
// Connect once started.
type DaemonService struct {
	Daemon  *daemon.Daemon
	Listen  []Endpoint
	Connect []Endpoint

	runErr  chan error
	stopped bool
	result  error
}

// Name implements Service
func (s *DaemonService) Name() string {
	return s.Daemon.Name()
}

// Start listens and dials, then runs the daemon in the background
func (s *DaemonService) Start(ctx context.Context) error {
	if s.runErr != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "DaemonService", "Start", "check running state")
	}

	for _, ep := range s.Listen {
		if _, err := s.Daemon.Listen(ctx, ep.Host, ep.Port); err != nil {
			s.abort()
			return err
		}
	}
	for _, ep := range s.Connect {
		var opts []daemon.ConnectOption
		if ep.Reconnect {
			opts = append(opts, daemon.WithReconnect(ep.RetryDelay))
		}
		if err := s.Daemon.Connect(ctx, ep.Host, ep.Port, opts...); err != nil {
			s.abort()
			return err
		}
	}

	s.runErr = make(chan error, 1)
	go func() {
		s.runErr <- s.Daemon.Run(context.Background())
	}()
	return nil
}

// abort releases the listeners of a daemon that never ran
func (s *DaemonService) abort() {
	s.Daemon.Stop()
	_ = s.Daemon.Run(context.Background())
}

// Stop stops the daemon and waits for Run to return
func (s *DaemonService) Stop(timeout time.Duration) error {
	s.Daemon.Stop()
	if s.runErr == nil || s.stopped {
		return s.result
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-s.runErr:
		s.stopped, s.result = true, err
		return err
	case <-timer.C:
		return errors.WrapTransient(fmt.Errorf("daemon %s did not stop within %v", s.Name(), timeout),
			"DaemonService", "Stop", "wait for daemon")
	}
}

// Done implements Terminator
func (s *DaemonService) Done() <-chan struct{} {
	return s.Daemon.Done()
}

// Health implements Service
func (s *DaemonService) Health() health.Status {
	return s.Daemon.Health()
}

// WriterService runs an influx.Writer and drains it on Stop
type WriterService struct {
	Writer *influx.Writer
}

// Name implements Service
func (s *WriterService) Name() string {
	return "influx-writer"
}

// Start runs the writer loop. Cancelling ctx does not abort the loop, so
// Stop can still drain what is queued.
func (s *WriterService) Start(ctx context.Context) error {
	return s.Writer.Start(context.WithoutCancel(ctx))
}

// Stop flushes everything queued, giving up after timeout
func (s *WriterService) Stop(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- s.Writer.Close(true) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if stderrors.Is(err, errors.ErrNotStarted) {
			return nil
		}
		return err
	case <-timer.C:
		return errors.WrapTransient(fmt.Errorf("writer did not drain within %v", timeout),
			"WriterService", "Stop", "drain writer")
	}
}

// Done implements Terminator
func (s *WriterService) Done() <-chan struct{} {
	return s.Writer.Done()
}

// Health implements Service
func (s *WriterService) Health() health.Status {
	return s.Writer.Health()
}

// MetricsService serves /metrics and /health
type MetricsService struct {
	Server *metric.Server
}

// Name implements Service
func (s *MetricsService) Name() string {
	return "metrics"
}

// Start implements Service
func (s *MetricsService) Start(context.Context) error {
	return s.Server.Start()
}

// Stop implements Service
func (s *MetricsService) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Server.Stop(ctx)
}

// Health implements Service
func (s *MetricsService) Health() health.Status {
	return health.NewHealthy(s.Name(), "serving "+s.Server.Address())
}
