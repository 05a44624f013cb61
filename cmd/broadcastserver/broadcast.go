package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/karpov-sv/etp/daemon"
	"github.com/karpov-sv/etp/errors"
)

type broadcaster struct {
	interval time.Duration
	daemon   *daemon.Daemon
	tick     int
}

func newBroadcaster(interval time.Duration) (*broadcaster, error) {
	if interval <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: interval %s must be positive", errors.ErrInvalidConfig, interval),
			"broadcastserver", "newBroadcaster", "check interval")
	}
	return &broadcaster{interval: interval}, nil
}

// OnStart runs the ticker as a daemon task
func (b *broadcaster) OnStart(_ context.Context, d *daemon.Daemon) error {
	b.daemon = d
	return d.Go("ticker", b.ticker)
}

// HandleIncoming keeps the client registered until it hangs up. Anything
// it sends is ignored.
func (b *broadcaster) HandleIncoming(_ context.Context, c *daemon.Conn) error {
	_, err := io.Copy(io.Discard, c.Reader)
	return err
}

func (b *broadcaster) HandleOutgoing(ctx context.Context, c *daemon.Conn) error {
	return b.HandleIncoming(ctx, c)
}

func (b *broadcaster) ticker(ctx context.Context) error {
	t := time.NewTicker(b.interval)
	defer t.Stop()

	for {
		b.tick++
		b.daemon.Broadcast([]byte(fmt.Sprintf("* tick %d\n", b.tick)))

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
