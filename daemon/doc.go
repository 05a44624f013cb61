// Package daemon runs line-oriented TCP servers and clients.
//
// A Daemon listens on any number of addresses, dials outbound peers
// (optionally redialing forever) and serves every connection with the same
// Handler. Live connections are kept in a registry so application code can
// address one of them with Send or all of them with Broadcast.
//
// Each connection goes through the same phases no matter how it ends:
//
//	connecting -> registered -> OnConnect -> serving -> closing -> OnDisconnect -> removed
//
// OnDisconnect runs even when OnConnect failed or the handler panicked, and
// the connection is still registered while it runs.
//
// Basic usage:
//
//	d := daemon.New(daemon.HandlerFuncs{
//		Incoming: func(ctx context.Context, c *daemon.Conn) error {
//			scanner := c.Commands(framer.MustNew())
//			for scanner.Scan() {
//				cmd, err := command.Parse(scanner.Text(), command.Simple)
//				if err != nil {
//					continue
//				}
//				d.SendLine(c, cmd.String())
//			}
//			return scanner.Err()
//		},
//	}, daemon.WithName("echo"), daemon.WithMetrics(registry))
//
//	if _, err := d.Listen(ctx, "0.0.0.0", 7000); err != nil {
//		return err
//	}
//	return d.Run(ctx)
//
// Background work that must stop with the daemon is started with Go, usually
// from a StartHook. Run waits for all of it before returning.
package daemon
