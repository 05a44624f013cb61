// Package worker provides a structured group of cancellable background workers.
//
// # Overview
//
// A Group owns every long-lived goroutine a component starts: accepted and
// outbound connections, reconnect loops, flush loops and application tasks.
// It gives one shutdown handshake for all of them:
//
//  1. Stop() cancels the shared context and refuses new workers.
//  2. Wait() joins every worker and reports the first real failure.
//
// Workers that return context.Canceled after Stop are treated as clean exits,
// so callers do not need to filter cancellation errors. A panicking worker is
// recovered, logged and reported as an error; sibling workers keep running.
//
// # Usage
//
//	group := worker.NewGroup(ctx, worker.WithLogger(logger))
//
//	_ = group.Go("flush-loop", func(ctx context.Context) error {
//	    ticker := time.NewTicker(time.Second)
//	    defer ticker.Stop()
//	    for {
//	        select {
//	        case <-ctx.Done():
//	            return ctx.Err()
//	        case <-ticker.C:
//	            flush()
//	        }
//	    }
//	})
//
//	group.Stop()
//	err := group.Wait()
//
// Workers may start further workers through the same group while they run;
// Go returns ErrGroupStopped once the group is stopping.
//
// # Statistics
//
// Stats() reports started, finished, failed and active worker counts using
// atomic counters.
package worker
