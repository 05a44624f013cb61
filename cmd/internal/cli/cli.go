// Package cli holds the startup code shared by the example daemons: flags,
// configuration, logging, metrics and the service manager.
package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/karpov-sv/etp/config"
	"github.com/karpov-sv/etp/daemon"
	"github.com/karpov-sv/etp/framer"
	"github.com/karpov-sv/etp/influx"
	"github.com/karpov-sv/etp/metric"
	"github.com/karpov-sv/etp/pkg/logging"
	"github.com/karpov-sv/etp/service"
)

// Version is reported by --version
const Version = "0.1.0"

// ErrExit is returned by New when the process should exit successfully
// without running, after --help, --version or --validate.
var ErrExit = stderrors.New("exit requested")

// Flags are the options every example daemon accepts
type Flags struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Host            string
	Port            int
	MetricsAddress  string
	ShutdownTimeout time.Duration
	Validate        bool
	ShowVersion     bool
}

// App is the process wiring of one example daemon
type App struct {
	Name  string
	Flags Flags
	// Args are the arguments left after the flags
	Args     []string
	Config   *config.Config
	Logger   *slog.Logger
	Registry *metric.MetricsRegistry
	Manager  *service.Manager
}

// New parses args, loads the configuration and builds the logger, the
// metrics registry and the service manager. extra registers the flags
// specific to one binary and may be nil. Output for --help and --version
// goes to out.
func New(name string, args []string, out io.Writer, extra func(*pflag.FlagSet)) (*App, error) {
	var flags Flags
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVarP(&flags.ConfigPath, "config", "c", os.Getenv(config.EnvPrefix+"_CONFIG"),
		"path to YAML configuration file (env: "+config.EnvPrefix+"_CONFIG)")
	fs.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&flags.LogFormat, "log-format", "", "log format: json, text")
	fs.StringVar(&flags.Host, "host", "", "listen host")
	fs.IntVarP(&flags.Port, "port", "p", 0, "listen port")
	fs.StringVar(&flags.MetricsAddress, "metrics-address", "", "metrics listen address, empty disables the endpoint")
	fs.DurationVar(&flags.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout per service")
	fs.BoolVar(&flags.Validate, "validate", false, "validate configuration and exit")
	fs.BoolVarP(&flags.ShowVersion, "version", "v", false, "show version information")
	if extra != nil {
		extra(fs)
	}
	fs.Usage = func() {
		_, _ = fmt.Fprintf(out, "Usage of %s:\n%s", name, fs.FlagUsages())
	}

	if err := fs.Parse(args); err != nil {
		if stderrors.Is(err, pflag.ErrHelp) {
			return nil, ErrExit
		}
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	if flags.ShowVersion {
		_, _ = fmt.Fprintf(out, "%s version %s\n", name, Version)
		return nil, ErrExit
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyFlags(fs, &flags, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if flags.Validate {
		_, _ = fmt.Fprintln(out, "configuration is valid")
		return nil, ErrExit
	}

	logger := logging.New(name, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	app := &App{
		Name:     name,
		Flags:    flags,
		Args:     fs.Args(),
		Config:   cfg,
		Logger:   logger,
		Registry: metric.NewMetricsRegistry(),
		Manager:  service.NewManager(name, logger),
	}

	if cfg.Metrics.Enabled {
		server := metric.NewServer(cfg.Metrics.Address, cfg.Metrics.Path, app.Registry, app.Manager.Health)
		if err := app.Manager.Register(&service.MetricsService{Server: server}); err != nil {
			return nil, err
		}
	}

	logger.Info("Starting", "version", Version, "config_path", flags.ConfigPath)
	return app, nil
}

// applyFlags lets explicitly set flags win over the file and environment
func applyFlags(fs *pflag.FlagSet, flags *Flags, cfg *config.Config) {
	if fs.Changed("log-level") {
		cfg.Log.Level = flags.LogLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = flags.LogFormat
	}
	if fs.Changed("host") {
		cfg.Listen.Host = flags.Host
	}
	if fs.Changed("port") {
		cfg.Listen.Port = flags.Port
	}
	if fs.Changed("metrics-address") {
		cfg.Metrics.Address = flags.MetricsAddress
		cfg.Metrics.Enabled = flags.MetricsAddress != ""
	}
}

// Framer builds the command framer from the configuration
func (a *App) Framer() (*framer.Framer, error) {
	return framer.New(a.Config.FramerOptions()...)
}

// NewDaemon creates a daemon named after the binary, logging through the
// app logger and registering its metrics
func (a *App) NewDaemon(handler daemon.Handler, opts ...daemon.Option) *daemon.Daemon {
	base := []daemon.Option{
		daemon.WithName(a.Name),
		daemon.WithLogger(a.Logger.With("component", "daemon")),
		daemon.WithMetrics(a.Registry),
	}
	return daemon.New(handler, append(base, opts...)...)
}

// AddDaemon registers d to listen on the configured address and, when
// connect is set and an upstream is configured, to dial it.
func (a *App) AddDaemon(d *daemon.Daemon, connect bool) error {
	svc := &service.DaemonService{
		Daemon: d,
		Listen: []service.Endpoint{{Host: a.Config.Listen.Host, Port: a.Config.Listen.Port}},
	}
	if up := a.Config.Upstream; connect && up.Enabled() {
		svc.Connect = []service.Endpoint{{
			Host:       up.Host,
			Port:       up.Port,
			Reconnect:  up.Reconnect,
			RetryDelay: up.RetryDelay,
		}}
	}
	return a.Manager.Register(svc)
}

// NewWriter creates the InfluxDB writer and registers it so that it starts
// before and drains after the daemons registered later. It returns nil
// when no write target is configured.
func (a *App) NewWriter() (*influx.Writer, error) {
	if !a.Config.Influx.Enabled() {
		return nil, nil
	}
	cfg, err := a.Config.WriterConfig()
	if err != nil {
		return nil, err
	}
	w, err := influx.NewWriter(cfg,
		influx.WithLogger(a.Logger.With("component", "influx-writer")),
		influx.WithMetrics(a.Registry),
	)
	if err != nil {
		return nil, err
	}
	if err := a.Manager.Register(&service.WriterService{Writer: w}); err != nil {
		return nil, err
	}
	return w, nil
}

// Run starts every registered service and blocks until SIGINT, SIGTERM,
// ctx cancellation or a service finishing on its own, then stops them.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Manager.Run(ctx, a.Flags.ShutdownTimeout); err != nil {
		return err
	}
	a.Logger.Info("Shutdown complete")
	return nil
}

// Main runs fn and exits with status 1 when it fails. ErrExit exits 0.
func Main(fn func() error) {
	if err := fn(); err != nil {
		if stderrors.Is(err, ErrExit) {
			return
		}
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}
