package daemon

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/karpov-sv/etp/errors"
	"github.com/karpov-sv/etp/framer"
)

// Phase is the lifecycle position of a connection.
type Phase int32

// Connection phases, in order
const (
	Connecting Phase = iota
	Registered
	Serving
	Closing
	Removed
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Registered:
		return "registered"
	case Serving:
		return "serving"
	case Closing:
		return "closing"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// Conn is one registered TCP connection.
type Conn struct {
	ID       uuid.UUID
	Incoming bool
	Peer     net.Addr
	// Reader buffers reads from the socket; read only through it.
	Reader *bufio.Reader
	// State belongs to the application handler.
	State *State

	conn         net.Conn
	writeTimeout time.Duration
	onWrite      func(n int)
	createdAt    time.Time

	writeMu   sync.Mutex
	phase     atomic.Int32
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newConn(nc net.Conn, incoming bool, readBufferSize int) *Conn {
	return &Conn{
		ID:        uuid.New(),
		Incoming:  incoming,
		Peer:      nc.RemoteAddr(),
		Reader:    bufio.NewReaderSize(nc, readBufferSize),
		State:     NewState(),
		conn:      nc,
		createdAt: time.Now(),
	}
}

// Writer returns the underlying socket. It identifies the connection in
// Lookup, Send and Broadcast.
func (c *Conn) Writer() net.Conn {
	return c.conn
}

// Phase returns the connection's lifecycle phase.
func (c *Conn) Phase() Phase {
	return Phase(c.phase.Load())
}

func (c *Conn) setPhase(p Phase) {
	c.phase.Store(int32(p))
}

// Age returns how long ago the connection was established.
func (c *Conn) Age() time.Duration {
	return time.Since(c.createdAt)
}

// Closing reports whether the connection is being torn down.
func (c *Conn) Closing() bool {
	return c.closing.Load()
}

// Write sends p as one unit; concurrent writers never interleave.
func (c *Conn) Write(p []byte) (int, error) {
	if c.Closing() {
		return 0, errors.WrapTransient(errors.ErrConnectionLost, "Conn", "Write", "check connection")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	n, err := c.conn.Write(p)
	if n > 0 && c.onWrite != nil {
		c.onWrite(n)
	}
	if err != nil {
		return n, errors.WrapTransient(err, "Conn", "Write", "write to socket")
	}
	return n, nil
}

// WriteLine writes text followed by a newline.
func (c *Conn) WriteLine(text string) error {
	_, err := c.Write([]byte(text + "\n"))
	return err
}

// ReadLine returns the next line without its line ending. It returns
// io.EOF once the peer has closed and no data is left.
func (c *Conn) ReadLine() (string, error) {
	line, err := c.Reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Commands frames the connection's input with f.
func (c *Conn) Commands(f *framer.Framer) *framer.Scanner {
	return f.Scanner(c.Reader)
}

// Close marks the connection closing and closes the socket. Blocked reads
// and writes return with an error.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Conn) String() string {
	dir := "out"
	if c.Incoming {
		dir = "in"
	}
	return fmt.Sprintf("%s[%s %v]", c.ID.String()[:8], dir, c.Peer)
}
