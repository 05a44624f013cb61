package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Task is a unit of background work. It must return once ctx is cancelled.
type Task func(ctx context.Context) error

// Group owns a set of background workers. Every worker started through Go is
// joined by Wait; Stop cancels the shared context and refuses new workers.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	eg     errgroup.Group
	logger *slog.Logger

	mu      sync.Mutex
	stopped bool

	// Statistics (atomic)
	started  atomic.Int64
	finished atomic.Int64
	failed   atomic.Int64
	active   atomic.Int64
}

// Option configures a Group
type Option func(*Group)

// WithLogger sets the logger used for worker failures
func WithLogger(logger *slog.Logger) Option {
	return func(g *Group) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGroup creates a group whose workers run under a context derived from parent
func NewGroup(parent context.Context, opts ...Option) *Group {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	g := &Group{
		ctx:    ctx,
		cancel: cancel,
		logger: slog.Default().With("component", "worker-group"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Context returns the context shared by all workers of the group
func (g *Group) Context() context.Context {
	return g.ctx
}

// Go starts fn as a tracked worker. It returns ErrGroupStopped once Stop has
// been called; the caller then owns any resources it meant to hand over.
func (g *Group) Go(name string, fn Task) error {
	if fn == nil {
		return ErrNilTask
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped {
		return ErrGroupStopped
	}

	g.started.Add(1)
	g.active.Add(1)
	g.eg.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker %q panicked: %v", name, r)
				g.logger.Error("Worker panicked", "worker", name, "panic", r, "stack", string(debug.Stack()))
			}
			g.active.Add(-1)
			g.finished.Add(1)
			if err != nil {
				g.failed.Add(1)
			}
		}()

		err = fn(g.ctx)
		if errors.Is(err, context.Canceled) && g.ctx.Err() != nil {
			return nil
		}
		if err != nil {
			g.logger.Debug("Worker exited with error", "worker", name, "error", err)
		}
		return err
	})
	return nil
}

// Stop cancels the group context and refuses new workers. It does not wait.
func (g *Group) Stop() {
	g.mu.Lock()
	g.stopped = true
	g.mu.Unlock()
	g.cancel()
}

// Stopped reports whether Stop has been called
func (g *Group) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

// Wait blocks until every worker has returned and reports the first worker error.
// Cancellation errors caused by Stop are not reported.
func (g *Group) Wait() error {
	return g.eg.Wait()
}

// Stats returns current group statistics
func (g *Group) Stats() Stats {
	return Stats{
		Started:  g.started.Load(),
		Finished: g.finished.Load(),
		Failed:   g.failed.Load(),
		Active:   g.active.Load(),
	}
}

// Stats represents worker group statistics
type Stats struct {
	Started  int64 `json:"started"`
	Finished int64 `json:"finished"`
	Failed   int64 `json:"failed"`
	Active   int64 `json:"active"`
}
