package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/karpov-sv/etp/errors"
	"github.com/karpov-sv/etp/framer"
	"github.com/karpov-sv/etp/influx"
	"github.com/karpov-sv/etp/lineproto"
	"github.com/karpov-sv/etp/pkg/tlsutil"
)

// EnvPrefix prefixes the environment variables that override the file
const EnvPrefix = "ETP"

// Config is the configuration shared by the example daemons. Each binary
// reads the sections it needs.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Listen   ListenConfig   `yaml:"listen"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Framer   FramerConfig   `yaml:"framer"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Influx   InfluxConfig   `yaml:"influx"`
	Device   DeviceConfig   `yaml:"device"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ListenConfig is the address incoming connections are accepted on
type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"` // 0 picks a free port
}

// UpstreamConfig is an optional peer to dial; empty Host disables it
type UpstreamConfig struct {
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	Reconnect  bool          `yaml:"reconnect"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// Enabled reports whether an upstream is configured
func (u UpstreamConfig) Enabled() bool {
	return u.Host != ""
}

// FramerConfig bounds command framing on every connection
type FramerConfig struct {
	Delimiters []string `yaml:"delimiters"`
	MaxBuffer  int      `yaml:"max_buffer"` // 0 disables the limit
}

// MetricsConfig configures the /metrics and /health endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// InfluxConfig describes the write target and batching; empty BaseURL
// disables writing
type InfluxConfig struct {
	Version   string `yaml:"version"` // v2 or v3
	BaseURL   string `yaml:"base_url"`
	Org       string `yaml:"org"`
	Bucket    string `yaml:"bucket"`
	DB        string `yaml:"db"`
	Token     string `yaml:"token"`
	Precision string `yaml:"precision"`

	BatchMaxPoints int           `yaml:"batch_max_points"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	QueueSize      int           `yaml:"queue_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`

	TLS tlsutil.ClientConfig `yaml:"tls"`
}

// Enabled reports whether a write target is configured
func (c InfluxConfig) Enabled() bool {
	return c.BaseURL != ""
}

// DeviceConfig drives the synthetic sensor of the dummy device
type DeviceConfig struct {
	Name        string            `yaml:"name"`
	Measurement string            `yaml:"measurement"`
	Interval    time.Duration     `yaml:"interval"`
	Tags        map[string]string `yaml:"tags"`
	// MaxRate caps readings per second whatever the interval; 0 means no cap
	MaxRate float64 `yaml:"max_rate"`
}

// Default returns the configuration used for absent keys
func Default() *Config {
	writer := influx.DefaultConfig()
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Listen: ListenConfig{
			Host: "0.0.0.0",
			Port: 7000,
		},
		Upstream: UpstreamConfig{
			RetryDelay: time.Second,
		},
		Framer: FramerConfig{
			Delimiters: []string{"\n", "\x00"},
			MaxBuffer:  framer.DefaultMaxBuffer,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
			Path:    "/metrics",
		},
		Influx: InfluxConfig{
			Version:        "v2",
			Precision:      string(lineproto.Nanosecond),
			BatchMaxPoints: writer.BatchMaxPoints,
			FlushInterval:  writer.FlushInterval,
			QueueSize:      writer.QueueSize,
			RequestTimeout: writer.RequestTimeout,
			MaxRetries:     writer.MaxRetries,
			InitialBackoff: writer.InitialBackoff,
			MaxBackoff:     writer.MaxBackoff,
		},
		Device: DeviceConfig{
			Name:        "dummy",
			Measurement: "dummy_device",
			Interval:    time.Second,
		},
	}
}

// Load reads a YAML file over the defaults, applies ETP_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := safeReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", fmt.Sprintf("read %s", path))
		}
		if err := cfg.decode(data); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", fmt.Sprintf("parse %s", path))
		}
	}

	if err := cfg.applyEnvOverrides(os.LookupEnv); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "apply environment overrides")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. The
// environment is not consulted.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Parse", "decode yaml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays data on c; unknown keys are rejected
func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !stderrors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
	}
	return nil
}

// applyEnvOverrides lets deployments keep secrets and addresses out of the file
func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		val, ok := lookup(EnvPrefix + "_" + name)
		return val, ok && val != ""
	}

	if val, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = val
	}
	if val, ok := get("LOG_FORMAT"); ok {
		c.Log.Format = val
	}
	if val, ok := get("LISTEN_PORT"); ok {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s_LISTEN_PORT: %w", errors.ErrInvalidConfig, EnvPrefix, err)
		}
		c.Listen.Port = port
	}
	if val, ok := get("METRICS_ADDRESS"); ok {
		c.Metrics.Address = val
	}
	if val, ok := get("INFLUX_URL"); ok {
		c.Influx.BaseURL = val
	}
	if val, ok := get("INFLUX_TOKEN"); ok {
		c.Influx.Token = val
	}
	return nil
}

// Validate checks every section
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level %q must be debug, info, warn or error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return invalid("log.format %q must be json or text", c.Log.Format)
	}

	if err := validatePort("listen.port", c.Listen.Port, true); err != nil {
		return err
	}

	if c.Upstream.Enabled() {
		if err := validatePort("upstream.port", c.Upstream.Port, false); err != nil {
			return err
		}
		if c.Upstream.RetryDelay < 0 {
			return invalid("upstream.retry_delay must not be negative")
		}
	}

	if c.Framer.MaxBuffer < 0 {
		return invalid("framer.max_buffer must not be negative")
	}
	if _, err := framer.New(c.FramerOptions()...); err != nil {
		return invalid("framer: %v", err)
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Address); err != nil {
			return invalid("metrics.address %q: %v", c.Metrics.Address, err)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalid("metrics.path %q must start with /", c.Metrics.Path)
		}
	}

	if c.Influx.Enabled() {
		if _, err := c.WriterConfig(); err != nil {
			return err
		}
	}

	if c.Device.Interval <= 0 {
		return invalid("device.interval must be positive")
	}
	if c.Device.MaxRate < 0 {
		return invalid("device.max_rate must not be negative")
	}
	if c.Device.Measurement == "" {
		return invalid("device.measurement is required")
	}
	return nil
}

// FramerOptions converts the framer section into framer options
func (c *Config) FramerOptions() []framer.Option {
	opts := []framer.Option{framer.WithMaxBuffer(c.Framer.MaxBuffer)}
	if len(c.Framer.Delimiters) > 0 {
		delims := make([][]byte, len(c.Framer.Delimiters))
		for i, d := range c.Framer.Delimiters {
			delims[i] = []byte(d)
		}
		opts = append(opts, framer.WithDelimiters(delims...))
	}
	return opts
}

// WriterConfig converts the influx section into a validated writer config
func (c *Config) WriterConfig() (influx.Config, error) {
	in := c.Influx
	if !in.Enabled() {
		return influx.Config{}, errors.WrapInvalid(
			fmt.Errorf("%w: influx.base_url", errors.ErrMissingConfig), "Config", "WriterConfig", "check influx section")
	}

	cfg := influx.Config{
		BatchMaxPoints: in.BatchMaxPoints,
		FlushInterval:  in.FlushInterval,
		QueueSize:      in.QueueSize,
		RequestTimeout: in.RequestTimeout,
		MaxRetries:     in.MaxRetries,
		InitialBackoff: in.InitialBackoff,
		MaxBackoff:     in.MaxBackoff,
		TLS:            in.TLS,
	}
	switch strings.ToLower(in.Version) {
	case "", "v2":
		cfg.V2 = &influx.TargetV2{
			BaseURL:   in.BaseURL,
			Org:       in.Org,
			Bucket:    in.Bucket,
			Token:     in.Token,
			Precision: lineproto.Precision(in.Precision),
		}
	case "v3":
		cfg.V3 = &influx.TargetV3{
			BaseURL: in.BaseURL,
			DB:      in.DB,
			Token:   in.Token,
		}
	default:
		return influx.Config{}, invalid("influx.version %q must be v2 or v3", in.Version)
	}

	if err := cfg.Validate(); err != nil {
		return influx.Config{}, err
	}
	return cfg, nil
}

func validatePort(name string, port int, allowZero bool) error {
	if port < 0 || port > 65535 || (port == 0 && !allowZero) {
		return invalid("%s %d out of range", name, port)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
		"Config", "Validate", "validate config")
}
