package main

import (
	"context"
	"fmt"
	"io"

	"github.com/karpov-sv/etp/daemon"
)

type echoClient struct {
	message string
	out     io.Writer
	daemon  *daemon.Daemon
	err     error
}

// HandleOutgoing sends the message, prints the reply and stops the daemon
func (e *echoClient) HandleOutgoing(_ context.Context, c *daemon.Conn) error {
	defer e.daemon.Stop()

	if err := c.WriteLine(e.message); err != nil {
		e.err = err
		return err
	}
	reply, err := c.ReadLine()
	if err != nil {
		e.err = fmt.Errorf("read reply: %w", err)
		return e.err
	}
	_, _ = fmt.Fprintln(e.out, reply)
	return nil
}

func (e *echoClient) HandleIncoming(context.Context, *daemon.Conn) error {
	return nil
}
