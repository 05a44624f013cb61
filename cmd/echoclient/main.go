// Command echoclient sends one message to an echo server, prints the reply
// and exits.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/karpov-sv/etp/cmd/internal/cli"
	"github.com/karpov-sv/etp/service"
)

const appName = "echoclient"

func main() {
	cli.Main(run)
}

func run() error {
	var server string
	app, err := cli.New(appName, os.Args[1:], os.Stdout, func(fs *pflag.FlagSet) {
		fs.StringVar(&server, "server", "127.0.0.1:7000", "echo server address")
	})
	if err != nil {
		return err
	}

	host, portText, err := net.SplitHostPort(server)
	if err != nil {
		return fmt.Errorf("invalid --server: %w", err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return fmt.Errorf("invalid --server port: %w", err)
	}

	message := "hello"
	if len(app.Args) > 0 {
		message = strings.Join(app.Args, " ")
	}

	c := &echoClient{message: message, out: os.Stdout}
	c.daemon = app.NewDaemon(c)
	err = app.Manager.Register(&service.DaemonService{
		Daemon:  c.daemon,
		Connect: []service.Endpoint{{Host: host, Port: port}},
	})
	if err != nil {
		return err
	}
	if err := app.Run(context.Background()); err != nil {
		return err
	}
	return c.err
}
