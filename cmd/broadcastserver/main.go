// Command broadcastserver sends a numbered tick line to every connected
// client at a fixed interval.
package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/karpov-sv/etp/cmd/internal/cli"
)

const appName = "broadcastserver"

func main() {
	cli.Main(run)
}

func run() error {
	var interval time.Duration
	app, err := cli.New(appName, os.Args[1:], os.Stdout, func(fs *pflag.FlagSet) {
		fs.DurationVar(&interval, "interval", time.Second, "time between ticks")
	})
	if err != nil {
		return err
	}

	b, err := newBroadcaster(interval)
	if err != nil {
		return err
	}
	d := app.NewDaemon(b)
	if err := app.AddDaemon(d, false); err != nil {
		return err
	}
	return app.Run(context.Background())
}
