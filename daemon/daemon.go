package daemon

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/karpov-sv/etp/errors"
	"github.com/karpov-sv/etp/health"
	"github.com/karpov-sv/etp/metric"
	"github.com/karpov-sv/etp/pkg/worker"
)

const acceptRetryDelay = 50 * time.Millisecond

// Daemon accepts and dials TCP connections, runs a Handler on each of them
// and keeps a registry of the live ones for directed sends and broadcast.
type Daemon struct {
	name           string
	handler        Handler
	logger         *slog.Logger
	registry       *metric.MetricsRegistry
	metrics        *Metrics
	state          *State
	dialTimeout    time.Duration
	writeTimeout   time.Duration
	readBufferSize int

	group *worker.Group

	mu        sync.RWMutex
	conns     []*Conn
	listeners []net.Listener
	startTime time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	doneOnce sync.Once
	running  atomic.Bool

	served        atomic.Int64
	handlerErrors atomic.Int64
}

// New creates a daemon serving connections with handler. A nil handler
// closes every connection right after its hooks ran.
func New(handler Handler, opts ...Option) *Daemon {
	if handler == nil {
		handler = HandlerFuncs{}
	}

	d := &Daemon{
		name:           "daemon",
		handler:        handler,
		state:          NewState(),
		dialTimeout:    DefaultDialTimeout,
		readBufferSize: DefaultReadBufferSize,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.logger == nil {
		d.logger = slog.Default().With("component", "daemon", "name", d.name)
	}
	d.metrics = newMetrics(d.registry, d.name, d.logger)
	d.group = worker.NewGroup(context.Background(), worker.WithLogger(d.logger))

	return d
}

// Name returns the daemon name.
func (d *Daemon) Name() string {
	return d.name
}

// State returns the daemon-wide application state.
func (d *Daemon) State() *State {
	return d.state
}

// Logger returns the daemon logger.
func (d *Daemon) Logger() *slog.Logger {
	return d.logger
}

// Context is cancelled when the daemon shuts down.
func (d *Daemon) Context() context.Context {
	return d.group.Context()
}

// Listen starts accepting connections on host:port. Port 0 picks a free
// port; the bound address is returned.
func (d *Daemon) Listen(ctx context.Context, host string, port int) (net.Addr, error) {
	if d.stopped() {
		return nil, errors.WrapInvalid(errors.ErrShuttingDown, "Daemon", "Listen", "check running state")
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.WrapFatal(err, "Daemon", "Listen", fmt.Sprintf("listen on %s", addr))
	}

	d.mu.Lock()
	d.listeners = append(d.listeners, ln)
	d.mu.Unlock()

	if err := d.group.Go("accept "+ln.Addr().String(), func(ctx context.Context) error {
		d.acceptLoop(ctx, ln)
		return nil
	}); err != nil {
		_ = ln.Close()
		return nil, errors.WrapInvalid(errors.ErrShuttingDown, "Daemon", "Listen", "start accept loop")
	}

	d.logger.Info("Listening", "address", ln.Addr().String())
	return ln.Addr(), nil
}

func (d *Daemon) acceptLoop(ctx context.Context, ln net.Listener) {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				return
			}
			d.logger.Warn("Accept failed", "address", ln.Addr().String(), "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(acceptRetryDelay):
			}
			continue
		}
		if err := d.spawn(nc, true); err != nil {
			return
		}
	}
}

func (d *Daemon) spawn(nc net.Conn, incoming bool) error {
	name := fmt.Sprintf("%s %v", direction(incoming), nc.RemoteAddr())
	err := d.group.Go(name, func(ctx context.Context) error {
		_ = d.serve(ctx, nc, incoming)
		return nil
	})
	if err != nil {
		_ = nc.Close()
	}
	return err
}

// Connect dials host:port and serves the connection with HandleOutgoing in
// the background. Without WithReconnect a failed dial is returned. With it
// Connect returns at once and a background loop keeps redialing.
func (d *Daemon) Connect(ctx context.Context, host string, port int, opts ...ConnectOption) error {
	cfg := connectConfig{retryDelay: DefaultRetryDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	if cfg.reconnect {
		err := d.group.Go("reconnect "+addr, func(ctx context.Context) error {
			d.reconnectLoop(ctx, addr, cfg.retryDelay)
			return nil
		})
		if err != nil {
			return errors.WrapInvalid(errors.ErrShuttingDown, "Daemon", "Connect", "start reconnect loop")
		}
		return nil
	}

	nc, err := d.dial(ctx, addr)
	if err != nil {
		return err
	}
	if err := d.spawn(nc, false); err != nil {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Daemon", "Connect", "serve connection")
	}
	return nil
}

func (d *Daemon) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.dialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err == nil {
		return nc, nil
	}

	if d.metrics != nil {
		d.metrics.dialFailures.Inc()
	}
	switch {
	case stderrors.Is(err, syscall.ECONNREFUSED):
		err = fmt.Errorf("%w: %w", errors.ErrConnectionRefused, err)
	case errors.IsTransient(err):
		err = fmt.Errorf("%w: %w", errors.ErrConnectionTimeout, err)
	}
	return nil, errors.WrapTransient(err, "Daemon", "Connect", fmt.Sprintf("dial %s", addr))
}

// reconnectLoop checks for shutdown before every dial and before every
// sleep, so Stop is observed within one retry delay.
func (d *Daemon) reconnectLoop(ctx context.Context, addr string, retryDelay time.Duration) {
	timer := time.NewTimer(retryDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		if ctx.Err() != nil || d.stopped() {
			return
		}

		nc, err := d.dial(ctx, addr)
		if err != nil {
			d.logger.Debug("Connect failed, will retry", "address", addr, "retry_delay", retryDelay, "error", err)
		} else {
			_ = d.serve(ctx, nc, false)
		}

		if ctx.Err() != nil || d.stopped() {
			return
		}
		timer.Reset(retryDelay)
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-timer.C:
		}
	}
}

// Serve runs the full connection lifecycle for nc on the calling goroutine
// and returns the handler's error: register, OnConnect, handler,
// OnDisconnect, deregister, close. Cancelling ctx closes nc.
func (d *Daemon) Serve(ctx context.Context, nc net.Conn, incoming bool) error {
	return d.serve(ctx, nc, incoming)
}

func (d *Daemon) serve(ctx context.Context, nc net.Conn, incoming bool) (err error) {
	c := newConn(nc, incoming, d.readBufferSize)
	c.writeTimeout = d.writeTimeout
	if d.metrics != nil {
		c.onWrite = func(n int) { d.metrics.bytesSent.Add(float64(n)) }
	}

	if err := d.register(c); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	defer d.teardown(ctx, c)

	logger := d.logger.With("conn", c.String())
	logger.Debug("Connection registered")

	if hook, ok := d.handler.(ConnectHook); ok {
		err = d.call(logger, "OnConnect", func() error { return hook.OnConnect(ctx, c) })
		if err != nil {
			d.noteHandlerError(ctx, logger, err)
			return err
		}
	}

	c.setPhase(Serving)
	err = d.call(logger, "handler", func() error {
		if incoming {
			return d.handler.HandleIncoming(ctx, c)
		}
		return d.handler.HandleOutgoing(ctx, c)
	})
	if err != nil {
		d.noteHandlerError(ctx, logger, err)
	}
	return err
}

func (d *Daemon) teardown(ctx context.Context, c *Conn) {
	c.setPhase(Closing)

	if hook, ok := d.handler.(DisconnectHook); ok {
		logger := d.logger.With("conn", c.String())
		// hooks may still send during shutdown
		hookCtx := context.WithoutCancel(ctx)
		_ = d.call(logger, "OnDisconnect", func() error {
			hook.OnDisconnect(hookCtx, c)
			return nil
		})
	}

	d.unregister(c)
	_ = c.Close()
	c.setPhase(Removed)
	d.logger.Debug("Connection removed", "conn", c.String())
}

// call runs fn, turning a panic into an error.
func (d *Daemon) call(logger *slog.Logger, what string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", what, r)
			logger.Error("Connection callback panicked", "callback", what, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	return fn()
}

func (d *Daemon) noteHandlerError(ctx context.Context, logger *slog.Logger, err error) {
	if ctx.Err() != nil || stderrors.Is(err, io.EOF) || stderrors.Is(err, net.ErrClosed) || errors.IsCancellation(err) {
		return
	}
	d.handlerErrors.Add(1)
	if d.metrics != nil {
		d.metrics.handlerErrors.Inc()
	}
	logger.Warn("Connection handler failed", "error", err)
}

func (d *Daemon) register(c *Conn) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.conns {
		if existing.conn == c.conn {
			return errors.WrapInvalid(fmt.Errorf("connection %v already registered", c.Peer),
				"Daemon", "Serve", "register connection")
		}
	}
	d.conns = append(d.conns, c)
	c.setPhase(Registered)

	d.served.Add(1)
	if d.metrics != nil {
		d.metrics.activeConnections.Set(float64(len(d.conns)))
		d.metrics.connectionsTotal.WithLabelValues(direction(c.Incoming)).Inc()
	}
	return nil
}

func (d *Daemon) unregister(c *Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, existing := range d.conns {
		if existing == c {
			d.conns = append(d.conns[:i], d.conns[i+1:]...)
			break
		}
	}
	if d.metrics != nil {
		d.metrics.activeConnections.Set(float64(len(d.conns)))
	}
}

// Run calls the StartHook unless Stop was already called, then blocks until
// Stop is called or ctx is done. Before it returns, listeners and
// connections are closed and every background task has returned. Run
// returns the first error of an application task started with Go.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Daemon", "Run", "check running state")
	}

	d.mu.Lock()
	d.startTime = time.Now()
	d.mu.Unlock()
	d.logger.Info("Daemon running")

	if hook, ok := d.handler.(StartHook); ok && !d.stopped() {
		if err := hook.OnStart(d.group.Context(), d); err != nil {
			d.Stop()
			_ = d.shutdown()
			return errors.Wrap(err, "Daemon", "Run", "start hook")
		}
	}

	select {
	case <-ctx.Done():
	case <-d.stopCh:
	}
	d.Stop()

	return d.shutdown()
}

func (d *Daemon) shutdown() error {
	d.mu.Lock()
	listeners := d.listeners
	d.listeners = nil
	d.mu.Unlock()

	for _, ln := range listeners {
		if err := ln.Close(); err != nil && !stderrors.Is(err, net.ErrClosed) {
			d.logger.Warn("Failed to close listener", "address", ln.Addr().String(), "error", err)
		}
	}

	d.group.Stop()
	for _, c := range d.Connections() {
		_ = c.Close()
	}

	err := d.group.Wait()
	d.running.Store(false)
	d.doneOnce.Do(func() { close(d.doneCh) })
	d.logger.Info("Daemon stopped", "served", d.served.Load())

	if err != nil {
		return errors.Wrap(err, "Daemon", "Run", "background task")
	}
	return nil
}

// Stop signals Run to shut down. It may be called any number of times.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
}

// Stopping is closed once Stop has been called.
func (d *Daemon) Stopping() <-chan struct{} {
	return d.stopCh
}

// Done is closed when Run has returned: listeners and connections are
// closed and every background task has finished.
func (d *Daemon) Done() <-chan struct{} {
	return d.doneCh
}

func (d *Daemon) stopped() bool {
	select {
	case <-d.stopCh:
		return true
	default:
		return false
	}
}

// Go runs fn as a tracked background task. fn must return once its context
// is cancelled; Run waits for it.
func (d *Daemon) Go(name string, fn worker.Task) error {
	if err := d.group.Go(name, fn); err != nil {
		if stderrors.Is(err, worker.ErrGroupStopped) {
			return errors.WrapInvalid(errors.ErrShuttingDown, "Daemon", "Go", "start task "+name)
		}
		return errors.WrapInvalid(err, "Daemon", "Go", "start task "+name)
	}
	return nil
}

// Lookup returns the registered connection whose writer is w, or nil.
// A *Conn resolves to itself while it is registered.
func (d *Daemon) Lookup(w io.Writer) *Conn {
	if w == nil {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, c := range d.conns {
		if io.Writer(c) == w || io.Writer(c.conn) == w {
			return c
		}
	}
	return nil
}

// Connections returns the registered connections in connect order.
func (d *Daemon) Connections() []*Conn {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Conn, len(d.conns))
	copy(out, d.conns)
	return out
}

// Len returns the number of registered connections.
func (d *Daemon) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.conns)
}

// Send writes data to target, a *Conn or a writer. Writers that belong to
// a registered connection go through that connection; other writers are
// written to directly. It returns false without writing when target is nil
// or closing, and false when the write fails; a connection whose write
// failed is closed.
func (d *Daemon) Send(target io.Writer, data []byte) bool {
	if target == nil {
		return false
	}

	c, ok := target.(*Conn)
	if ok && c == nil {
		return false
	}
	if !ok {
		c = d.Lookup(target)
	}

	if c == nil {
		if cl, ok := target.(interface{ Closing() bool }); ok && cl.Closing() {
			return false
		}
		_, err := target.Write(data)
		return err == nil
	}

	if c.Closing() {
		return false
	}
	if _, err := c.Write(data); err != nil {
		d.logger.Debug("Send failed, closing connection", "conn", c.String(), "error", err)
		_ = c.Close()
		return false
	}
	return true
}

// SendLine sends text followed by a newline.
func (d *Daemon) SendLine(target io.Writer, text string) bool {
	return d.Send(target, []byte(text+"\n"))
}

// Broadcast sends data to every registered connection except the excluded
// ones (connections or their writers) and returns how many sends succeeded.
func (d *Daemon) Broadcast(data []byte, exclude ...io.Writer) int {
	excluded := make(map[*Conn]bool, len(exclude))
	for _, e := range exclude {
		if c, ok := e.(*Conn); ok && c != nil {
			excluded[c] = true
		} else if c := d.Lookup(e); c != nil {
			excluded[c] = true
		}
	}

	sent := 0
	for _, c := range d.Connections() {
		if excluded[c] {
			continue
		}
		if d.Send(c, data) {
			sent++
		}
	}
	return sent
}

// Health reports whether the daemon is running and how busy it is.
func (d *Daemon) Health() health.Status {
	d.mu.RLock()
	active := len(d.conns)
	startTime := d.startTime
	d.mu.RUnlock()

	var status health.Status
	switch {
	case d.stopped():
		status = health.NewUnhealthy(d.name, "stopped")
	case !d.running.Load():
		status = health.NewDegraded(d.name, "not running")
	default:
		tasks := d.group.Stats()
		status = health.NewHealthy(d.name, fmt.Sprintf("%d active connections, %d background tasks (%d failed)",
			active, tasks.Active, tasks.Failed))
	}

	var uptime time.Duration
	if !startTime.IsZero() {
		uptime = time.Since(startTime)
	}
	return status.WithMetrics(&health.Metrics{
		Uptime:     uptime,
		ErrorCount: int(d.handlerErrors.Load()),
		Processed:  d.served.Load(),
		Active:     active,
	})
}
