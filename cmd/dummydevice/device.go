package main

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/karpov-sv/etp/command"
	"github.com/karpov-sv/etp/config"
	"github.com/karpov-sv/etp/daemon"
	"github.com/karpov-sv/etp/framer"
	"github.com/karpov-sv/etp/lineproto"
	"github.com/karpov-sv/etp/metric"
)

// State keys besides the measurement itself
const (
	keyDeviceID   = "device_id"
	keyRate       = "rate"
	keyCount      = "count"
	keyLastUpdate = "last_update_ns"
)

const (
	baseline    = 20.0
	noise       = 0.1
	maxInterval = 100 * time.Second
)

// recordSink is the part of influx.Writer the device uses
type recordSink interface {
	WriteRecord(ctx context.Context, r lineproto.Record) error
	Close(drain bool) error
}

type device struct {
	cfg       config.DeviceConfig
	precision lineproto.Precision
	framer    *framer.Framer
	state     *daemon.State
	limiter   *rate.Limiter
	readings  prometheus.Counter

	daemon *daemon.Daemon
	sink   recordSink
}

func newDevice(cfg config.DeviceConfig, f *framer.Framer, precision lineproto.Precision, registry *metric.MetricsRegistry) *device {
	dev := &device{
		cfg:       cfg,
		precision: precision,
		framer:    f,
		state:     daemon.NewState(),
	}
	if cfg.MaxRate > 0 {
		dev.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRate), 1)
	}

	dev.state.Update(func(values map[string]any) {
		values[keyDeviceID] = cfg.Name
		values[keyRate] = 1 / cfg.Interval.Seconds()
		values[cfg.Measurement] = nil
		values[keyCount] = 0
		values[keyLastUpdate] = nil
	})

	if registry != nil {
		dev.readings = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "device",
			Name:        "readings_total",
			Help:        "Synthetic readings produced",
			ConstLabels: prometheus.Labels{"device": cfg.Name},
		})
		if err := registry.RegisterCounter("dummy_device", "readings_total", dev.readings); err != nil {
			slog.Default().Warn("Failed to register device metrics", "error", err)
			dev.readings = nil
		}
	}
	return dev
}

// OnStart runs the sensor loop as a daemon task
func (dev *device) OnStart(_ context.Context, d *daemon.Daemon) error {
	return d.Go("sensor", dev.sensorLoop)
}

func (dev *device) sensorLoop(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if dev.limiter != nil {
			if err := dev.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		record, period := dev.sample(time.Now())
		if dev.readings != nil {
			dev.readings.Inc()
		}
		if dev.sink != nil {
			if err := dev.sink.WriteRecord(ctx, record); err != nil && ctx.Err() == nil {
				dev.daemon.Logger().Warn("Failed to write reading", "error", err)
			}
		}
		timer.Reset(period)
	}
}

// sample advances the random walk and returns the reading and the delay
// until the next one
func (dev *device) sample(now time.Time) (lineproto.Record, time.Duration) {
	var value float64
	var deviceID string
	var readingsPerSecond float64

	dev.state.Update(func(values map[string]any) {
		previous, ok := toFloat(values[dev.cfg.Measurement])
		if !ok {
			previous = baseline
		}
		value = previous + rand.NormFloat64()*noise
		values[dev.cfg.Measurement] = value
		values[keyLastUpdate] = now.UnixNano()
		count, _ := values[keyCount].(int)
		values[keyCount] = count + 1
		readingsPerSecond, _ = toFloat(values[keyRate])
		deviceID = fmt.Sprint(values[keyDeviceID])
	})

	tags := map[string]string{"device": deviceID}
	maps.Copy(tags, dev.cfg.Tags)
	record := lineproto.Record{
		Measurement: dev.cfg.Measurement,
		Tags:        tags,
		Fields:      map[string]any{"value": value},
		Timestamp:   lineproto.FormatTimestamp(now, dev.precision),
	}
	return record, interval(readingsPerSecond)
}

func interval(readingsPerSecond float64) time.Duration {
	if readingsPerSecond <= 0 {
		return maxInterval
	}
	return min(time.Duration(float64(time.Second)/readingsPerSecond), maxInterval)
}

func (dev *device) HandleIncoming(_ context.Context, c *daemon.Conn) error {
	scanner := c.Commands(dev.framer)
	for scanner.Scan() {
		cmd, err := command.Parse(scanner.Text(), command.Simple)
		if err != nil {
			dev.reply(c, "error message="+formatValue(err.Error()))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(cmd.Name)) {
		case "exit":
			dev.reply(c, "bye")
			dev.shutdown()
			return nil
		case "set":
			dev.reply(c, dev.set(cmd))
		case "status":
			dev.reply(c, dev.status())
		default:
			dev.reply(c, `error message="unknown command"`)
		}
	}
	return scanner.Err()
}

// HandleOutgoing is unused; the device never dials
func (dev *device) HandleOutgoing(context.Context, *daemon.Conn) error {
	return nil
}

func (dev *device) reply(c *daemon.Conn, text string) {
	dev.daemon.SendLine(c, text)
}

// shutdown stops the daemon without flushing pending readings
func (dev *device) shutdown() {
	if dev.sink != nil {
		if err := dev.sink.Close(false); err != nil {
			dev.daemon.Logger().Debug("Writer already closed", "error", err)
		}
	}
	dev.daemon.Stop()
}

func (dev *device) set(cmd *command.Command) string {
	if len(cmd.Kwargs) == 0 {
		return `error message="missing parameters"`
	}

	keys := slices.Sorted(maps.Keys(cmd.Kwargs))
	updates := make(map[string]any, len(keys))
	for _, key := range keys {
		value := parseValue(cmd.GetString(key, ""))
		if key == keyRate {
			r, ok := toFloat(value)
			if !ok {
				return `error message="invalid rate"`
			}
			if r <= 0 {
				return `error message="rate must be positive"`
			}
			value = r
		}
		updates[key] = value
	}

	dev.state.Update(func(values map[string]any) {
		maps.Copy(values, updates)
	})

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+formatValue(updates[key]))
	}
	return "ok " + strings.Join(parts, " ")
}

func (dev *device) status() string {
	snapshot := dev.state.Snapshot()

	parts := []string{"status"}
	for _, key := range []string{keyDeviceID, keyRate, dev.cfg.Measurement, keyCount, keyLastUpdate} {
		if value, ok := snapshot[key]; ok {
			parts = append(parts, key+"="+formatValue(value))
		}
	}
	return strings.Join(parts, " ")
}

// parseValue types a command argument: booleans, null, integers and floats
// are converted, anything else stays a string
func parseValue(text string) any {
	lowered := strings.ToLower(strings.TrimSpace(text))
	switch lowered {
	case "true", "false":
		return lowered == "true"
	case "null", "none":
		return nil
	}
	if i, err := strconv.Atoi(lowered); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
		return f
	}
	return text
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		if strings.ContainsFunc(val, unicode.IsSpace) {
			return `"` + strings.ReplaceAll(val, `"`, `\"`) + `"`
		}
		return val
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	}
	return 0, false
}
