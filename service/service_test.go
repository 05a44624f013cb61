package service

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karpov-sv/etp/daemon"
	"github.com/karpov-sv/etp/errors"
	"github.com/karpov-sv/etp/health"
	"github.com/karpov-sv/etp/influx"
	"github.com/karpov-sv/etp/metric"
)

type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(event string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, event)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type fakeService struct {
	name     string
	journal  *journal
	startErr error
	stopErr  error
	status   health.Status
	done     chan struct{}
}

func newFake(name string, j *journal) *fakeService {
	return &fakeService{name: name, journal: j, status: health.NewHealthy(name, "ok")}
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(context.Context) error {
	f.journal.add("start " + f.name)
	return f.startErr
}

func (f *fakeService) Stop(time.Duration) error {
	f.journal.add("stop " + f.name)
	return f.stopErr
}

func (f *fakeService) Health() health.Status { return f.status }

type terminating struct {
	*fakeService
}

func (t terminating) Done() <-chan struct{} { return t.done }

func TestManager_RegisterRejectsDuplicates(t *testing.T) {
	j := &journal{}
	m := NewManager("test", nil)

	require.NoError(t, m.Register(newFake("a", j)))
	err := m.Register(newFake("a", j))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Len(t, m.Services(), 1)
}

func TestManager_StartAndStopOrder(t *testing.T) {
	j := &journal{}
	m := NewManager("test", nil)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, m.Register(newFake(name, j)))
	}

	require.NoError(t, m.StartAll(context.Background(), time.Second))
	require.NoError(t, m.StopAll(time.Second))

	assert.Equal(t, []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}, j.list())
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	j := &journal{}
	m := NewManager("test", nil)
	failing := newFake("b", j)
	failing.startErr = fmt.Errorf("port in use")

	require.NoError(t, m.Register(newFake("a", j)))
	require.NoError(t, m.Register(failing))
	require.NoError(t, m.Register(newFake("c", j)))

	err := m.StartAll(context.Background(), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start service b: port in use")
	assert.Equal(t, []string{"start a", "start b", "stop a"}, j.list())

	// nothing left running
	require.NoError(t, m.StopAll(time.Second))
	assert.Len(t, j.list(), 3)
}

func TestManager_StopAllJoinsErrors(t *testing.T) {
	j := &journal{}
	m := NewManager("test", nil)
	a, b := newFake("a", j), newFake("b", j)
	a.stopErr = fmt.Errorf("a stuck")
	b.stopErr = fmt.Errorf("b stuck")
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))

	require.NoError(t, m.StartAll(context.Background(), time.Second))
	err := m.StopAll(time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stop service a: a stuck")
	assert.Contains(t, err.Error(), "failed to stop service b: b stuck")
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, j.list())
}

func TestManager_StartAllTwice(t *testing.T) {
	m := NewManager("test", nil)
	require.NoError(t, m.Register(newFake("a", &journal{})))

	require.NoError(t, m.StartAll(context.Background(), time.Second))
	err := m.StartAll(context.Background(), time.Second)
	assert.True(t, stderrors.Is(err, errors.ErrAlreadyStarted))
	require.NoError(t, m.StopAll(time.Second))
}

func TestManager_Health(t *testing.T) {
	j := &journal{}
	m := NewManager("proc", nil)
	a, b := newFake("a", j), newFake("b", j)
	b.status = health.NewDegraded("b", "queue filling up")
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))

	status := m.Health()
	assert.Equal(t, "proc", status.Component)
	assert.True(t, status.IsDegraded())
	require.Len(t, status.SubStatuses, 2)
	assert.Equal(t, "b", status.SubStatuses[1].Component)
}

func TestManager_RunStopsOnContext(t *testing.T) {
	j := &journal{}
	m := NewManager("test", nil)
	require.NoError(t, m.Register(newFake("a", j)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx, time.Second) }()

	require.Eventually(t, func() bool { return len(j.list()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, []string{"start a", "stop a"}, j.list())
}

func TestManager_RunStopsWhenServiceFinishes(t *testing.T) {
	j := &journal{}
	m := NewManager("test", nil)
	worker := terminating{newFake("worker", j)}
	worker.done = make(chan struct{})
	require.NoError(t, m.Register(newFake("a", j)))
	require.NoError(t, m.Register(worker))

	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(context.Background(), time.Second) }()

	require.Eventually(t, func() bool { return len(j.list()) == 2 }, 2*time.Second, 5*time.Millisecond)
	close(worker.done)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, []string{"start a", "start worker", "stop worker", "stop a"}, j.list())
}

func TestDaemonService_ServesAndStops(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	d := daemon.New(daemon.HandlerFuncs{
		Incoming: func(_ context.Context, c *daemon.Conn) error {
			line, err := c.ReadLine()
			if err != nil {
				return err
			}
			return c.WriteLine("echo " + line)
		},
	}, daemon.WithName("echo"))
	svc := &DaemonService{Daemon: d, Listen: []Endpoint{{Host: "127.0.0.1", Port: port}}}

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, "echo", svc.Name())

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("hi\n"))
	require.NoError(t, err)
	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "echo hi\n", reply)

	require.Eventually(t, func() bool { return svc.Health().IsHealthy() }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Stop(5*time.Second))
	require.NoError(t, svc.Stop(5*time.Second))

	select {
	case <-svc.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestDaemonService_StartFailureReleasesListeners(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	free, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := free.Addr().(*net.TCPAddr).Port
	require.NoError(t, free.Close())

	svc := &DaemonService{
		Daemon: daemon.New(nil),
		Listen: []Endpoint{{Host: "127.0.0.1", Port: port}, {Host: "127.0.0.1", Port: busy}},
	}
	require.Error(t, svc.Start(context.Background()))

	// the first listener was closed again
	again, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

// newServer starts a write endpoint that hands every request body to record
func newServer(t *testing.T, record func(body string)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		record(strings.TrimRight(string(body), "\n"))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestWriterService_DrainsOnStop(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := newServer(t, func(body string) {
		mu.Lock()
		defer mu.Unlock()
		bodies = append(bodies, body)
	})

	cfg := influx.DefaultConfig()
	cfg.V2 = &influx.TargetV2{BaseURL: srv, Org: "lab", Bucket: "sensors", Token: "secret"}
	cfg.FlushInterval = time.Hour
	w, err := influx.NewWriter(cfg)
	require.NoError(t, err)

	svc := &WriterService{Writer: w}
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))
	require.NoError(t, w.WriteString(context.Background(), "temp value=1 1"))

	// a cancelled start context must not discard what is queued
	cancel()
	require.NoError(t, svc.Stop(5*time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"temp value=1 1"}, bodies)
}

func TestWriterService_StopBeforeStart(t *testing.T) {
	cfg := influx.DefaultConfig()
	cfg.V3 = &influx.TargetV3{BaseURL: "http://127.0.0.1:1", DB: "db"}
	w, err := influx.NewWriter(cfg)
	require.NoError(t, err)

	assert.NoError(t, (&WriterService{Writer: w}).Stop(time.Second))
}

func TestMetricsService(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	svc := &MetricsService{Server: metric.NewServer("127.0.0.1:0", "/metrics", registry, nil)}

	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop(time.Second)

	status := svc.Health()
	assert.True(t, status.IsHealthy())
	assert.Contains(t, status.Message, "/metrics")

	resp, err := http.Get(svc.Server.Address())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
