// Command dummydevice is a synthetic sensor. It produces a random-walk
// reading at a configurable rate, writes the readings to InfluxDB when a
// target is configured and answers set, status and exit commands.
package main

import (
	"context"
	"os"

	"github.com/karpov-sv/etp/cmd/internal/cli"
	"github.com/karpov-sv/etp/daemon"
	"github.com/karpov-sv/etp/lineproto"
)

const appName = "dummydevice"

func main() {
	cli.Main(run)
}

func run() error {
	app, err := cli.New(appName, os.Args[1:], os.Stdout, nil)
	if err != nil {
		return err
	}

	f, err := app.Framer()
	if err != nil {
		return err
	}
	w, err := app.NewWriter()
	if err != nil {
		return err
	}

	dev := newDevice(app.Config.Device, f, lineproto.Precision(app.Config.Influx.Precision), app.Registry)
	if w != nil {
		dev.sink = w
	}
	dev.daemon = app.NewDaemon(dev, daemon.WithState(dev.state))
	if err := app.AddDaemon(dev.daemon, false); err != nil {
		return err
	}
	return app.Run(context.Background())
}
