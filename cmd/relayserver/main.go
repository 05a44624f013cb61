// Command relayserver is a line-based chat: clients pick a name, then every
// line they send is relayed to the other clients. "@name text" sends a
// private message and "/who" lists the connected names. With an upstream
// configured, lines read from it are relayed to every client.
package main

import (
	"context"
	"os"

	"github.com/karpov-sv/etp/cmd/internal/cli"
)

const appName = "relayserver"

func main() {
	cli.Main(run)
}

func run() error {
	app, err := cli.New(appName, os.Args[1:], os.Stdout, nil)
	if err != nil {
		return err
	}

	r := newRelay()
	r.daemon = app.NewDaemon(r)
	if err := app.AddDaemon(r.daemon, true); err != nil {
		return err
	}
	return app.Run(context.Background())
}
