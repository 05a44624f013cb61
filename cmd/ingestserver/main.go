// Command ingestserver accepts records over TCP and writes them to InfluxDB
// in batches. Records are raw line protocol by default, or commands in one
// of the command formats that are converted to line protocol.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/karpov-sv/etp/cmd/internal/cli"
	"github.com/karpov-sv/etp/errors"
)

const appName = "ingestserver"

func main() {
	cli.Main(run)
}

func run() error {
	var format string
	var ack bool
	app, err := cli.New(appName, os.Args[1:], os.Stdout, func(fs *pflag.FlagSet) {
		fs.StringVarP(&format, "format", "f", rawFormat, "record format: lp, influx, json, simple or sms")
		fs.BoolVar(&ack, "ack", false, "answer every record with ok or error")
	})
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
	if w == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: influx.base_url", errors.ErrMissingConfig),
			"ingestserver", "run", "configure writer")
	}

	h, err := newIngestHandler(w, f, format, ack)
	if err != nil {
		return err
	}
	d := app.NewDaemon(h)
	if err := app.AddDaemon(d, false); err != nil {
		return err
	}
	return app.Run(context.Background())
}
