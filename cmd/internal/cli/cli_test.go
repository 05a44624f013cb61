package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karpov-sv/etp/daemon"
)

func newTestApp(t *testing.T, args ...string) *App {
	t.Helper()
	var out bytes.Buffer
	app, err := New("etp-test", append([]string{"--metrics-address", "", "--log-level", "error"}, args...), &out, nil)
	require.NoError(t, err)
	return app
}

func TestNew_Version(t *testing.T) {
	var out bytes.Buffer
	app, err := New("etp-test", []string{"--version"}, &out, nil)
	assert.ErrorIs(t, err, ErrExit)
	assert.Nil(t, app)
	assert.Equal(t, "etp-test version "+Version+"\n", out.String())
}

func TestNew_Help(t *testing.T) {
	var out bytes.Buffer
	_, err := New("etp-test", []string{"--help"}, &out, func(fs *pflag.FlagSet) {
		fs.String("format", "raw", "record format")
	})
	assert.ErrorIs(t, err, ErrExit)
	assert.Contains(t, out.String(), "--config")
	assert.Contains(t, out.String(), "--format")
}

func TestNew_BadFlag(t *testing.T) {
	var out bytes.Buffer
	_, err := New("etp-test", []string{"--no-such-flag"}, &out, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid flags")
}

func TestNew_FlagsOverrideConfig(t *testing.T) {
	app := newTestApp(t, "--host", "127.0.0.1", "--port", "7123", "--log-format", "text")

	assert.Equal(t, "127.0.0.1", app.Config.Listen.Host)
	assert.Equal(t, 7123, app.Config.Listen.Port)
	assert.Equal(t, "text", app.Config.Log.Format)
	assert.False(t, app.Config.Metrics.Enabled)
	assert.Empty(t, app.Manager.Services())
}

func TestNew_InvalidOverride(t *testing.T) {
	var out bytes.Buffer
	_, err := New("etp-test", []string{"--port", "70000"}, &out, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen.port")
}

func TestNew_Validate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "etp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen:\n  port: 7001\n"), 0o600))

	var out bytes.Buffer
	_, err := New("etp-test", []string{"--config", path, "--validate"}, &out, nil)
	assert.ErrorIs(t, err, ErrExit)
	assert.Equal(t, "configuration is valid\n", out.String())
}

func TestNew_ExtraFlags(t *testing.T) {
	var format string
	var out bytes.Buffer
	app, err := New("etp-test", []string{"--metrics-address", "", "--format", "json"}, &out, func(fs *pflag.FlagSet) {
		fs.StringVar(&format, "format", "raw", "record format")
	})
	require.NoError(t, err)
	require.NotNil(t, app)
	assert.Equal(t, "json", format)
}

func TestNew_RegistersMetricsService(t *testing.T) {
	var out bytes.Buffer
	app, err := New("etp-test", []string{"--metrics-address", "127.0.0.1:0", "--log-level", "error"}, &out, nil)
	require.NoError(t, err)

	services := app.Manager.Services()
	require.Len(t, services, 1)
	assert.Equal(t, "metrics", services[0].Name())
}

func TestApp_NewWriterDisabled(t *testing.T) {
	app := newTestApp(t)

	w, err := app.NewWriter()
	require.NoError(t, err)
	assert.Nil(t, w)
	assert.Empty(t, app.Manager.Services())
}

func TestApp_NewWriterEnabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("influx:\n  org: lab\n  bucket: sensors\n"), 0o600))
	t.Setenv("ETP_INFLUX_URL", "http://127.0.0.1:8086")

	app := newTestApp(t, "--config", path)
	w, err := app.NewWriter()
	require.NoError(t, err)
	require.NotNil(t, w)

	services := app.Manager.Services()
	require.Len(t, services, 1)
	assert.Equal(t, "influx-writer", services[0].Name())
}

func TestNew_IncompleteInfluxEnvironment(t *testing.T) {
	t.Setenv("ETP_INFLUX_URL", "http://127.0.0.1:8086")
	var out bytes.Buffer
	app, err := New("etp-test", []string{"--metrics-address", ""}, &out, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "org")
	assert.Nil(t, app)
}

func TestApp_RunUntilCancelled(t *testing.T) {
	app := newTestApp(t, "--host", "127.0.0.1", "--port", "0", "--shutdown-timeout", "5s")
	d := app.NewDaemon(nil)
	require.NoError(t, app.AddDaemon(d, true))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return d.Health().IsHealthy() }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, "etp-test", d.Name())
}

func TestApp_RunEndsWhenDaemonStops(t *testing.T) {
	app := newTestApp(t, "--host", "127.0.0.1", "--port", "0")
	d := app.NewDaemon(daemon.HandlerFuncs{
		Start: func(_ context.Context, d *daemon.Daemon) error {
			d.Stop()
			return nil
		},
	})
	require.NoError(t, app.AddDaemon(d, false))

	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(context.Background()) }()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestApp_Framer(t *testing.T) {
	app := newTestApp(t)
	f, err := app.Framer()
	require.NoError(t, err)
	assert.NotNil(t, f)
}
