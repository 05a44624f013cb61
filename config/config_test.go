package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karpov-sv/etp/errors"
	"github.com/karpov-sv/etp/framer"
	"github.com/karpov-sv/etp/lineproto"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 7000, cfg.Listen.Port)
	assert.False(t, cfg.Upstream.Enabled())
	assert.False(t, cfg.Influx.Enabled())
	assert.Equal(t, 8, cfg.Influx.MaxRetries)
	assert.Equal(t, 10000, cfg.Influx.BatchMaxPoints)
	assert.Equal(t, []string{"\n", "\x00"}, cfg.Framer.Delimiters)
}

func TestParse_OverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
log:
  level: debug
listen:
  port: 7100
upstream:
  host: relay.local
  port: 7000
  reconnect: true
  retry_delay: 500ms
influx:
  version: v3
  base_url: http://localhost:8181
  db: lab
  token: secret
  flush_interval: 2s
device:
  tags:
    site: roof
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format, "absent keys keep defaults")
	assert.Equal(t, "0.0.0.0", cfg.Listen.Host)
	assert.Equal(t, 7100, cfg.Listen.Port)

	assert.True(t, cfg.Upstream.Enabled())
	assert.True(t, cfg.Upstream.Reconnect)
	assert.Equal(t, 500*time.Millisecond, cfg.Upstream.RetryDelay)

	assert.Equal(t, 2*time.Second, cfg.Influx.FlushInterval)
	assert.Equal(t, 10*time.Second, cfg.Influx.RequestTimeout)
	assert.Equal(t, map[string]string{"site": "roof"}, cfg.Device.Tags)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "unknown key", yaml: "listen:\n  prot: 1\n", wantErr: "prot"},
		{name: "malformed", yaml: "listen: [", wantErr: "yaml"},
		{name: "wrong type", yaml: "listen:\n  port: seven\n", wantErr: "seven"},
		{name: "log level", yaml: "log:\n  level: loud\n", wantErr: "log.level"},
		{name: "log format", yaml: "log:\n  format: xml\n", wantErr: "log.format"},
		{name: "listen port", yaml: "listen:\n  port: 70000\n", wantErr: "listen.port"},
		{name: "upstream port", yaml: "upstream:\n  host: h\n", wantErr: "upstream.port"},
		{name: "negative buffer", yaml: "framer:\n  max_buffer: -1\n", wantErr: "framer.max_buffer"},
		{name: "empty delimiter", yaml: "framer:\n  delimiters: ['']\n", wantErr: "empty delimiter"},
		{name: "metrics address", yaml: "metrics:\n  address: nope\n", wantErr: "metrics.address"},
		{name: "metrics path", yaml: "metrics:\n  path: metrics\n", wantErr: "metrics.path"},
		{name: "influx version", yaml: "influx:\n  base_url: http://h\n  version: v9\n", wantErr: "influx.version"},
		{name: "influx v2 org", yaml: "influx:\n  base_url: http://h\n  bucket: b\n", wantErr: "org is required"},
		{name: "influx precision", yaml: "influx:\n  base_url: http://h\n  org: o\n  bucket: b\n  precision: h\n", wantErr: "precision"},
		{name: "device interval", yaml: "device:\n  interval: 0s\n", wantErr: "device.interval"},
		{name: "device rate", yaml: "device:\n  max_rate: -2\n", wantErr: "device.max_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
influx:
  base_url: http://file:8086
  org: lab
  bucket: sensors
  token: from-file
`), 0o600))

	t.Setenv("ETP_INFLUX_TOKEN", "from-env")
	t.Setenv("ETP_LISTEN_PORT", "7200")
	t.Setenv("ETP_LOG_FORMAT", "text")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Influx.Token)
	assert.Equal(t, "http://file:8086", cfg.Influx.BaseURL)
	assert.Equal(t, 7200, cfg.Listen.Port)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("ETP_INFLUX_URL", "http://env:8086")

	_, err := Load("")
	require.Error(t, err, "env target without org or bucket")
	assert.Contains(t, err.Error(), "org is required")
}

func TestLoad_BadEnvironment(t *testing.T) {
	t.Setenv("ETP_LISTEN_PORT", "many")

	_, err := Load("")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestLoad_RejectsUnsafePaths(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "etp.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte("{}"), 0o600))

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{name: "wrong extension", path: jsonPath, wantErr: "only YAML"},
		{name: "missing", path: filepath.Join(dir, "absent.yaml"), wantErr: "cannot stat"},
		{name: "directory", path: mkdirYAML(t, dir), wantErr: "not a regular file"},
		{name: "escapes working directory", path: "../../../etc/etp.yaml", wantErr: "path traversal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_FollowsSymlinkToRegularFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.yaml")
	require.NoError(t, os.WriteFile(target, []byte("listen:\n  port: 7010\n"), 0o600))
	link := filepath.Join(dir, "etp.yaml")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	cfg, err := Load(link)
	require.NoError(t, err)
	assert.Equal(t, 7010, cfg.Listen.Port)

	// a link to a directory is still refused
	dirLink := filepath.Join(dir, "dirlink.yaml")
	require.NoError(t, os.Symlink(mkdirYAML(t, dir), dirLink))
	_, err = Load(dirLink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a regular file")
}

func mkdirYAML(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "dir.yaml")
	require.NoError(t, os.Mkdir(path, 0o700))
	return path
}

func TestWriterConfig(t *testing.T) {
	cfg := Default()
	_, err := cfg.WriterConfig()
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	cfg.Influx.BaseURL = "http://localhost:8086"
	cfg.Influx.Org = "lab"
	cfg.Influx.Bucket = "sensors"
	cfg.Influx.Precision = "ms"
	cfg.Influx.MaxRetries = 3

	wc, err := cfg.WriterConfig()
	require.NoError(t, err)
	require.NotNil(t, wc.V2)
	assert.Nil(t, wc.V3)
	assert.Equal(t, lineproto.Millisecond, wc.V2.Precision)
	assert.Equal(t, 3, wc.MaxRetries)
	assert.Equal(t, cfg.Influx.FlushInterval, wc.FlushInterval)

	cfg.Influx.Version = "V3"
	cfg.Influx.DB = "lab"
	wc, err = cfg.WriterConfig()
	require.NoError(t, err)
	require.NotNil(t, wc.V3)
	assert.Nil(t, wc.V2)
	assert.Equal(t, "lab", wc.V3.DB)
}

func TestWriterConfig_TLS(t *testing.T) {
	cfg, err := Parse([]byte(`
influx:
  base_url: https://influx.lab:8086
  org: lab
  bucket: sensors
  tls:
    ca_files: [/etc/etp/ca.pem]
    min_version: "1.3"
`))
	require.NoError(t, err)

	wc, err := cfg.WriterConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"/etc/etp/ca.pem"}, wc.TLS.CAFiles)
	assert.Equal(t, "1.3", wc.TLS.MinVersion)

	cfg.Influx.TLS.CertFile = "/etc/etp/client.pem"
	assert.Error(t, cfg.Validate())
}

func TestFramerOptions(t *testing.T) {
	cfg, err := Parse([]byte("framer:\n  delimiters: [';', \"\\r\\n\"]\n  max_buffer: 8\n"))
	require.NoError(t, err)

	f, err := framer.New(cfg.FramerOptions()...)
	require.NoError(t, err)

	scanner := f.Scanner(strings.NewReader("a;b\r\nc;"))
	var frames []string
	for scanner.Scan() {
		frames = append(frames, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"a", "b", "c"}, frames)

	overflow := f.Scanner(strings.NewReader("0123456789abcdef"))
	for overflow.Scan() {
	}
	assert.ErrorIs(t, overflow.Err(), errors.ErrBufferOverflow)
}

func TestApplyEnvOverrides_IgnoresEmpty(t *testing.T) {
	cfg := Default()
	env := map[string]string{"ETP_LOG_LEVEL": "", "ETP_METRICS_ADDRESS": "127.0.0.1:9999"}

	require.NoError(t, cfg.applyEnvOverrides(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}))

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:9999", cfg.Metrics.Address)
}
