// Command echoserver sends every line it receives back to its sender.
package main

import (
	"context"
	"os"

	"github.com/karpov-sv/etp/cmd/internal/cli"
)

const appName = "echoserver"

func main() {
	cli.Main(run)
}

func run() error {
	app, err := cli.New(appName, os.Args[1:], os.Stdout, nil)
	if err != nil {
		return err
	}

	d := app.NewDaemon(&echoHandler{logger: app.Logger})
	if err := app.AddDaemon(d, false); err != nil {
		return err
	}
	return app.Run(context.Background())
}
