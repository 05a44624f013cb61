package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karpov-sv/etp/errors"
	"github.com/karpov-sv/etp/health"
)

// Manager owns the services of one process
type Manager struct {
	name   string
	logger *slog.Logger

	mu       sync.Mutex
	services []Service
	started  int
}

// NewManager creates a Manager reporting health under name
func NewManager(name string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		name:   name,
		logger: logger.With("component", "service-manager"),
	}
}

// Register adds a service. Services start in registration order.
func (m *Manager) Register(svc Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.services {
		if existing.Name() == svc.Name() {
			return errors.WrapInvalid(fmt.Errorf("service %s already registered", svc.Name()),
				"Manager", "Register", "check service name")
		}
	}
	m.services = append(m.services, svc)
	return nil
}

// Services returns the registered services in start order
func (m *Manager) Services() []Service {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Service(nil), m.services...)
}

// StartAll starts every service in order. If one fails, the ones already
// started are stopped in reverse order and the start error is returned.
func (m *Manager) StartAll(ctx context.Context, stopTimeout time.Duration) error {
	m.mu.Lock()
	if m.started > 0 {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "StartAll", "check running state")
	}
	services := append([]Service(nil), m.services...)
	m.mu.Unlock()

	for i, svc := range services {
		m.logger.Debug("Starting service", "service", svc.Name())
		if err := svc.Start(ctx); err != nil {
			m.logger.Error("Failed to start service", "service", svc.Name(), "error", err)
			_ = m.stopRange(services[:i], stopTimeout)
			return fmt.Errorf("failed to start service %s: %w", svc.Name(), err)
		}
	}

	m.mu.Lock()
	m.started = len(services)
	m.mu.Unlock()

	m.logger.Info("All services started", "count", len(services))
	return nil
}

// StopAll stops the started services in reverse order. Every service is
// given the chance to stop; the errors are joined.
func (m *Manager) StopAll(timeout time.Duration) error {
	m.mu.Lock()
	services := append([]Service(nil), m.services[:m.started]...)
	m.started = 0
	m.mu.Unlock()

	start := time.Now()
	err := m.stopRange(services, timeout)
	m.logger.Info("All services stopped",
		"count", len(services),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return err
}

func (m *Manager) stopRange(services []Service, timeout time.Duration) error {
	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		serviceStart := time.Now()
		if err := svc.Stop(timeout); err != nil {
			m.logger.Error("Service stop failed",
				"service", svc.Name(),
				"duration_ms", time.Since(serviceStart).Milliseconds(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("failed to stop service %s: %w", svc.Name(), err))
			continue
		}
		m.logger.Debug("Service stopped",
			"service", svc.Name(),
			"duration_ms", time.Since(serviceStart).Milliseconds(),
		)
	}
	return stderrors.Join(errs...)
}

// Health aggregates the health of every registered service
func (m *Manager) Health() health.Status {
	services := m.Services()
	statuses := make([]health.Status, 0, len(services))
	for _, svc := range services {
		statuses = append(statuses, svc.Health())
	}
	return health.Aggregate(m.name, statuses)
}

// Run starts every service and blocks until ctx is done or a service that
// implements Terminator finishes on its own, then stops everything.
func (m *Manager) Run(ctx context.Context, stopTimeout time.Duration) error {
	if err := m.StartAll(ctx, stopTimeout); err != nil {
		return err
	}

	finished := make(chan string, 1)
	quit := make(chan struct{})
	defer close(quit)
	for _, svc := range m.Services() {
		t, ok := svc.(Terminator)
		if !ok {
			continue
		}
		go func(name string, done <-chan struct{}) {
			select {
			case <-done:
				select {
				case finished <- name:
				default:
				}
			case <-quit:
			}
		}(svc.Name(), t.Done())
	}

	select {
	case <-ctx.Done():
		m.logger.Info("Shutting down", "reason", context.Cause(ctx))
	case name := <-finished:
		m.logger.Info("Service finished, shutting down", "service", name)
	}

	return m.StopAll(stopTimeout)
}
