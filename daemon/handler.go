package daemon

import "context"

// Handler supplies the protocol for a daemon's connections. HandleIncoming
// serves accepted connections and HandleOutgoing serves dialed ones. The
// connection is closed once the method returns.
type Handler interface {
	HandleIncoming(ctx context.Context, c *Conn) error
	HandleOutgoing(ctx context.Context, c *Conn) error
}

// ConnectHook is implemented by handlers that want to run after a
// connection is registered and before it is served. An error skips the
// handler and closes the connection.
type ConnectHook interface {
	OnConnect(ctx context.Context, c *Conn) error
}

// DisconnectHook is implemented by handlers that want to run after a
// connection's handler returned and before it is deregistered.
type DisconnectHook interface {
	OnDisconnect(ctx context.Context, c *Conn)
}

// StartHook is implemented by handlers that start background work when the
// daemon runs. An error aborts Run.
type StartHook interface {
	OnStart(ctx context.Context, d *Daemon) error
}

// HandlerFuncs adapts plain functions to Handler and the hook interfaces.
// Nil entries do nothing.
type HandlerFuncs struct {
	Incoming   func(ctx context.Context, c *Conn) error
	Outgoing   func(ctx context.Context, c *Conn) error
	Connect    func(ctx context.Context, c *Conn) error
	Disconnect func(ctx context.Context, c *Conn)
	Start      func(ctx context.Context, d *Daemon) error
}

var (
	_ Handler        = HandlerFuncs{}
	_ ConnectHook    = HandlerFuncs{}
	_ DisconnectHook = HandlerFuncs{}
	_ StartHook      = HandlerFuncs{}
)

// HandleIncoming implements Handler.
func (h HandlerFuncs) HandleIncoming(ctx context.Context, c *Conn) error {
	if h.Incoming == nil {
		return nil
	}
	return h.Incoming(ctx, c)
}

// HandleOutgoing implements Handler.
func (h HandlerFuncs) HandleOutgoing(ctx context.Context, c *Conn) error {
	if h.Outgoing == nil {
		return nil
	}
	return h.Outgoing(ctx, c)
}

// OnConnect implements ConnectHook.
func (h HandlerFuncs) OnConnect(ctx context.Context, c *Conn) error {
	if h.Connect == nil {
		return nil
	}
	return h.Connect(ctx, c)
}

// OnDisconnect implements DisconnectHook.
func (h HandlerFuncs) OnDisconnect(ctx context.Context, c *Conn) {
	if h.Disconnect != nil {
		h.Disconnect(ctx, c)
	}
}

// OnStart implements StartHook.
func (h HandlerFuncs) OnStart(ctx context.Context, d *Daemon) error {
	if h.Start == nil {
		return nil
	}
	return h.Start(ctx, d)
}
