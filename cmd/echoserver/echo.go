package main

import (
	"context"
	"log/slog"

	"github.com/karpov-sv/etp/daemon"
)

type echoHandler struct {
	logger *slog.Logger
}

func (h *echoHandler) HandleIncoming(_ context.Context, c *daemon.Conn) error {
	return h.echo(c)
}

func (h *echoHandler) HandleOutgoing(_ context.Context, c *daemon.Conn) error {
	return h.echo(c)
}

// echo runs until the peer closes
func (h *echoHandler) echo(c *daemon.Conn) error {
	for {
		line, err := c.ReadLine()
		if err != nil {
			return err
		}
		h.logger.Debug("Received", "conn", c.String(), "line", line)
		if err := c.WriteLine(line); err != nil {
			return err
		}
	}
}
