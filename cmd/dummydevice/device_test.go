package main

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karpov-sv/etp/config"
	"github.com/karpov-sv/etp/daemon"
	"github.com/karpov-sv/etp/framer"
	"github.com/karpov-sv/etp/lineproto"
	"github.com/karpov-sv/etp/metric"
)

type fakeSink struct {
	mu      sync.Mutex
	records []lineproto.Record
	closed  []bool
}

func (s *fakeSink) WriteRecord(_ context.Context, r lineproto.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *fakeSink) Close(drain bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, drain)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func testDevice(t *testing.T, interval time.Duration) (*device, *fakeSink) {
	t.Helper()
	cfg := config.Default().Device
	cfg.Name = "bench-1"
	cfg.Measurement = "temperature"
	cfg.Interval = interval
	cfg.Tags = map[string]string{"site": "lab"}

	sink := &fakeSink{}
	dev := newDevice(cfg, framer.MustNew(), lineproto.Millisecond, nil)
	dev.sink = sink
	dev.daemon = daemon.New(dev, daemon.WithState(dev.state))
	return dev, sink
}

// session serves dev on a pipe and returns a line-oriented client
func session(t *testing.T, dev *device) func(string) string {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })
	go func() { _ = dev.daemon.Serve(context.Background(), server, true) }()

	reader := bufio.NewReader(client)
	return func(line string) string {
		t.Helper()
		_ = client.SetDeadline(time.Now().Add(5 * time.Second))
		_, err := client.Write([]byte(line + "\n"))
		require.NoError(t, err)
		reply, err := reader.ReadString('\n')
		require.NoError(t, err)
		return strings.TrimRight(reply, "\n")
	}
}

func TestDevice_InitialStatus(t *testing.T) {
	dev, _ := testDevice(t, 500*time.Millisecond)
	send := session(t, dev)

	assert.Equal(t, "status device_id=bench-1 rate=2 temperature=null count=0 last_update_ns=null", send("status"))
}

func TestDevice_Set(t *testing.T) {
	dev, _ := testDevice(t, time.Second)
	send := session(t, dev)

	assert.Equal(t, `ok label="hot room" rate=4 temperature=30.5`, send(`set temperature=30.5 rate=4 label="hot room"`))
	assert.Equal(t, "status device_id=bench-1 rate=4 temperature=30.5 count=0 last_update_ns=null", send("STATUS"))

	label, ok := daemon.Value[string](dev.state, "label")
	require.True(t, ok)
	assert.Equal(t, "hot room", label)
}

func TestDevice_SetErrors(t *testing.T) {
	dev, _ := testDevice(t, time.Second)
	send := session(t, dev)

	assert.Equal(t, `error message="missing parameters"`, send("set"))
	assert.Equal(t, `error message="invalid rate"`, send("set rate=fast"))
	assert.Equal(t, `error message="rate must be positive"`, send("set rate=0"))
	assert.Equal(t, `error message="unknown command"`, send("reboot"))

	// a rejected set changes nothing
	rate, ok := daemon.Value[float64](dev.state, keyRate)
	require.True(t, ok)
	assert.Equal(t, 1.0, rate)
}

func TestDevice_Exit(t *testing.T) {
	dev, sink := testDevice(t, time.Second)
	send := session(t, dev)

	assert.Equal(t, "bye", send("exit"))
	select {
	case <-dev.daemon.Stopping():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon not stopped")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []bool{false}, sink.closed)
}

func TestDevice_Sample(t *testing.T) {
	dev, _ := testDevice(t, 250*time.Millisecond)
	now := time.UnixMilli(1700000000123)

	record, period := dev.sample(now)
	assert.Equal(t, "temperature", record.Measurement)
	assert.Equal(t, map[string]string{"device": "bench-1", "site": "lab"}, record.Tags)
	assert.Equal(t, "1700000000123", record.Timestamp)
	assert.Equal(t, 250*time.Millisecond, period)

	value, ok := record.Fields["value"].(float64)
	require.True(t, ok)
	assert.InDelta(t, baseline, value, 1.0)

	second, _ := dev.sample(now.Add(time.Second))
	next := second.Fields["value"].(float64)
	assert.InDelta(t, value, next, 1.0)

	snapshot := dev.state.Snapshot()
	assert.Equal(t, 2, snapshot[keyCount])
	assert.Equal(t, next, snapshot["temperature"])
	assert.Equal(t, now.Add(time.Second).UnixNano(), snapshot[keyLastUpdate])
}

func TestInterval(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, interval(2))
	assert.Equal(t, maxInterval, interval(0.001))
	assert.Equal(t, maxInterval, interval(0))
}

func TestDevice_SensorLoopWritesReadings(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	cfg := config.Default().Device
	cfg.Interval = 5 * time.Millisecond

	sink := &fakeSink{}
	dev := newDevice(cfg, framer.MustNew(), lineproto.Nanosecond, registry)
	dev.sink = sink
	dev.daemon = daemon.New(dev, daemon.WithState(dev.state))

	errCh := make(chan error, 1)
	go func() { errCh <- dev.daemon.Run(context.Background()) }()

	require.Eventually(t, func() bool { return sink.count() >= 3 }, 5*time.Second, 5*time.Millisecond)
	dev.daemon.Stop()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	assert.GreaterOrEqual(t, testutil.ToFloat64(dev.readings), 3.0)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "dummy_device", sink.records[0].Measurement)
	assert.Equal(t, "dummy", sink.records[0].Tags["device"])
}

func TestDevice_MaxRateCapsReadings(t *testing.T) {
	cfg := config.Default().Device
	cfg.Interval = time.Millisecond
	cfg.MaxRate = 20

	sink := &fakeSink{}
	dev := newDevice(cfg, framer.MustNew(), lineproto.Nanosecond, nil)
	dev.sink = sink
	dev.daemon = daemon.New(dev, daemon.WithState(dev.state))

	errCh := make(chan error, 1)
	go func() { errCh <- dev.daemon.Run(context.Background()) }()
	time.Sleep(200 * time.Millisecond)
	dev.daemon.Stop()
	<-errCh

	// one burst token plus 20/s over 200ms
	assert.LessOrEqual(t, sink.count(), 7)
	assert.GreaterOrEqual(t, sink.count(), 1)
}

func TestParseAndFormatValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
		text string
	}{
		{"true", true, "true"},
		{"False", false, "false"},
		{"none", nil, "null"},
		{"42", 42, "42"},
		{"-7", -7, "-7"},
		{"2.5", 2.5, "2.5"},
		{"1e3", 1000.0, "1000"},
		{"idle", "idle", "idle"},
		{"two words", "two words", `"two words"`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := parseValue(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.text, formatValue(got))
		})
	}
}
