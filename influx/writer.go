package influx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karpov-sv/etp/errors"
	"github.com/karpov-sv/etp/health"
	"github.com/karpov-sv/etp/lineproto"
	"github.com/karpov-sv/etp/metric"
	"github.com/karpov-sv/etp/pkg/retry"
	"github.com/karpov-sv/etp/pkg/tlsutil"
)

const (
	contentType = "text/plain; charset=utf-8"
	// maxErrorBody bounds how much of a failed response is kept.
	maxErrorBody = 300
)

type writerState int

const (
	stateIdle writerState = iota
	stateRunning
	stateClosed
)

// StatusError is a write request answered with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying: 429 and 5xx.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || (e.StatusCode >= 500 && e.StatusCode < 600)
}

// Option configures a Writer.
type Option func(*Writer)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(w *Writer) {
		if client != nil {
			w.client = client
		}
	}
}

// WithLogger sets the writer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// WithMetrics enables Prometheus metrics on registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(w *Writer) {
		w.registry = registry
	}
}

// Writer queues line protocol records and posts them in batches to an
// InfluxDB write endpoint from a single background loop.
type Writer struct {
	cfg     Config
	url     string
	auth    string
	client  *http.Client
	logger  *slog.Logger
	metrics *Metrics

	registry *metric.MetricsRegistry

	queue chan []byte
	drain chan struct{}
	done  chan struct{}
	// err is the terminal failure; written by the loop before done is closed.
	err error

	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	state       writerState
	cancel      context.CancelFunc
	startTime   time.Time

	written   atomic.Int64
	batches   atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
	lastFlush atomic.Int64
}

// NewWriter validates cfg and creates a stopped writer.
func NewWriter(cfg Config, opts ...Option) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	client := &http.Client{}
	if !cfg.TLS.IsZero() {
		tlsConfig, err := tlsutil.LoadClientConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsConfig
		client = &http.Client{Transport: transport}
	}

	w := &Writer{
		cfg:    cfg,
		client: client,
		queue:  make(chan []byte, cfg.QueueSize),
		drain:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	w.url, w.auth = cfg.endpoint()
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default().With("component", "influx-writer", "target", cfg.target())
	}
	w.metrics = newMetrics(w.registry, cfg.target(), w.logger)

	return w, nil
}

// Start launches the background loop. Cancelling ctx aborts the loop like
// Close(false) would, except the writer must still be closed.
func (w *Writer) Start(ctx context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.state != stateIdle {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Writer", "Start", "check running state")
	}

	loopCtx, cancel := context.WithCancel(ctx)

	w.mu.Lock()
	w.state = stateRunning
	w.cancel = cancel
	w.startTime = time.Now()
	w.mu.Unlock()

	go w.run(loopCtx)

	w.logger.Info("Writer started", "url", w.url,
		"batch_max_points", w.cfg.BatchMaxPoints, "flush_interval", w.cfg.FlushInterval)
	return nil
}

// Close stops the writer. With drain every queued record is flushed first;
// without it the loop is cancelled, an in-flight request included, and
// pending records are discarded. Close returns the terminal write failure,
// if any.
func (w *Writer) Close(drain bool) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.state != stateRunning {
		return errors.WrapInvalid(errors.ErrNotStarted, "Writer", "Close", "check running state")
	}

	if !drain {
		// unblocks writers waiting on a full queue before taking the lock
		w.cancel()
	}

	w.mu.Lock()
	w.state = stateClosed
	w.mu.Unlock()

	if drain {
		close(w.drain)
	}
	<-w.done
	w.cancel()
	w.client.CloseIdleConnections()

	w.logger.Info("Writer closed", "drain", drain, "points_written", w.written.Load())
	return w.err
}

// Done is closed when the background loop has exited.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

// Err returns the failure that stopped the loop, or nil.
func (w *Writer) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Write enqueues one line protocol record, blocking while the queue is
// full. Trailing line breaks are removed and the bytes are copied.
func (w *Writer) Write(ctx context.Context, line []byte) error {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return errors.WrapInvalid(errors.ErrEmptyRecord, "Writer", "Write", "check record")
	}

	// Close waits for enqueues holding the read lock, so nothing lands in
	// the queue after the final drain.
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.state != stateRunning {
		return errors.WrapInvalid(errors.ErrNotStarted, "Writer", "Write", "check running state")
	}

	select {
	case <-w.done:
		return w.stoppedErr()
	default:
	}

	select {
	case w.queue <- bytes.Clone(line):
		if w.metrics != nil {
			w.metrics.queueDepth.Set(float64(len(w.queue)))
		}
		return nil
	case <-w.done:
		return w.stoppedErr()
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Writer", "Write", "enqueue record")
	}
}

// WriteString enqueues a record given as text.
func (w *Writer) WriteString(ctx context.Context, line string) error {
	return w.Write(ctx, []byte(line))
}

// WriteRecord encodes r and enqueues it.
func (w *Writer) WriteRecord(ctx context.Context, r lineproto.Record) error {
	line, err := lineproto.Encode(r)
	if err != nil {
		return err
	}
	return w.WriteString(ctx, line)
}

func (w *Writer) stoppedErr() error {
	if w.err != nil {
		return w.err
	}
	return errors.WrapInvalid(errors.ErrNotStarted, "Writer", "Write", "writer loop stopped")
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)

	batch := make([][]byte, 0, min(w.cfg.BatchMaxPoints, 1024))
	timer := time.NewTimer(w.cfg.FlushInterval)
	defer timer.Stop()

	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		err := w.flush(ctx, batch)
		n := len(batch)
		batch = batch[:0]
		if err == nil {
			return true
		}
		if ctx.Err() == nil {
			w.fail(err, n)
		}
		return false
	}
	add := func(line []byte) bool {
		batch = append(batch, line)
		if w.metrics != nil {
			w.metrics.queueDepth.Set(float64(len(w.queue)))
		}
		if len(batch) < w.cfg.BatchMaxPoints {
			return true
		}
		ok := flush()
		timer.Reset(w.cfg.FlushInterval)
		return ok
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Writer cancelled", "discarded", len(batch)+len(w.queue))
			return

		case line := <-w.queue:
			if !add(line) {
				return
			}

		case <-timer.C:
			// an empty tick restarts the interval as well
			if !flush() {
				return
			}
			timer.Reset(w.cfg.FlushInterval)

		case <-w.drain:
		drain:
			for {
				select {
				case line := <-w.queue:
					if !add(line) {
						return
					}
				default:
					break drain
				}
			}
			flush()
			return
		}
	}
}

func (w *Writer) fail(err error, points int) {
	w.failed.Add(1)
	if w.metrics != nil {
		w.metrics.failures.Inc()
	}
	w.err = errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrWriteFailed, err),
		"Writer", "flush", fmt.Sprintf("deliver batch of %d points", points))
	w.logger.Error("Writer stopped after write failure",
		"error", err, "points", points, "queued", len(w.queue))
}

// flush posts one batch, retrying 429, 5xx and transport failures.
func (w *Writer) flush(ctx context.Context, batch [][]byte) error {
	var body bytes.Buffer
	for _, line := range batch {
		body.Write(line)
		body.WriteByte('\n')
	}
	payload := body.Bytes()

	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = w.cfg.MaxRetries + 1
	cfg.InitialDelay = w.cfg.InitialBackoff
	cfg.MaxDelay = w.cfg.MaxBackoff
	cfg.MaxJitter = w.cfg.MaxJitter
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		w.retried.Add(1)
		if w.metrics != nil {
			w.metrics.retries.Inc()
		}
		w.logger.Warn("Batch write failed, retrying",
			"attempt", attempt, "delay", delay, "points", len(batch), "error", err)
	}

	start := time.Now()
	err := retry.Do(ctx, cfg, func() error {
		return w.post(ctx, payload)
	})
	if w.metrics != nil {
		w.metrics.flushDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return err
	}

	w.written.Add(int64(len(batch)))
	w.batches.Add(1)
	w.lastFlush.Store(time.Now().UnixNano())
	if w.metrics != nil {
		w.metrics.pointsWritten.Add(float64(len(batch)))
		w.metrics.batchesFlushed.Inc()
	}
	w.logger.Debug("Batch written", "points", len(batch), "bytes", len(payload), "duration", time.Since(start))
	return nil
}

func (w *Writer) post(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return retry.NonRetryable(errors.WrapInvalid(err, "Writer", "post", "build request"))
	}
	req.Header.Set("Authorization", w.auth)
	req.Header.Set("Content-Type", contentType)

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "Writer", "post", "send batch")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, resp.Body)

	statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	if statusErr.Retryable() {
		return statusErr
	}
	return retry.NonRetryable(statusErr)
}

// Health reports the writer state, its queue depth and delivery counters.
func (w *Writer) Health() health.Status {
	w.mu.RLock()
	state := w.state
	startTime := w.startTime
	w.mu.RUnlock()

	const name = "influx-writer"
	queued := len(w.queue)

	var status health.Status
	switch {
	case state == stateIdle:
		status = health.NewDegraded(name, "not started")
	case w.Err() != nil:
		status = health.FromError(name, w.Err())
	case state == stateClosed:
		status = health.NewUnhealthy(name, "closed")
	case w.stopped():
		status = health.NewUnhealthy(name, "loop stopped")
	case queued > 0 && queued >= cap(w.queue)*9/10:
		status = health.NewDegraded(name, fmt.Sprintf("queue nearly full: %d/%d", queued, cap(w.queue)))
	default:
		status = health.NewHealthy(name, fmt.Sprintf("%d records queued", queued))
	}

	metrics := &health.Metrics{
		ErrorCount: int(w.failed.Load()),
		Processed:  w.written.Load(),
		Active:     queued,
	}
	if !startTime.IsZero() {
		metrics.Uptime = time.Since(startTime)
	}
	if last := w.lastFlush.Load(); last != 0 {
		metrics.LastActivity = time.Unix(0, last)
	}
	return status.WithMetrics(metrics)
}

// Stats is a snapshot of a writer's delivery counters.
type Stats struct {
	Written  int64
	Batches  int64
	Retries  int64
	Failures int64
	Queued   int
}

// Stats returns the current delivery counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Written:  w.written.Load(),
		Batches:  w.batches.Load(),
		Retries:  w.retried.Load(),
		Failures: w.failed.Load(),
		Queued:   len(w.queue),
	}
}

func (w *Writer) stopped() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}
