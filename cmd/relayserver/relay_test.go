package main

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karpov-sv/etp/daemon"
)

type client struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func startRelay(t *testing.T) (*relay, string) {
	t.Helper()
	r := newRelay()
	r.daemon = daemon.New(r, daemon.WithName("relay"))
	addr, err := r.daemon.Listen(context.Background(), "127.0.0.1", 0)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- r.daemon.Run(context.Background()) }()
	t.Cleanup(func() {
		r.daemon.Stop()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("relay did not stop")
		}
	})
	return r, addr.String()
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	c := &client{t: t, conn: conn, reader: bufio.NewReader(conn)}
	prompt := make([]byte, len("Enter name: "))
	_, err = io.ReadFull(c.reader, prompt)
	require.NoError(t, err)
	require.Equal(t, "Enter name: ", string(prompt))
	return c
}

func join(t *testing.T, addr, name string) *client {
	t.Helper()
	c := dial(t, addr)
	c.send(name)
	c.expect("* Welcome " + name)
	return c
}

func (c *client) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *client) expect(line string) {
	c.t.Helper()
	got, err := c.reader.ReadString('\n')
	require.NoError(c.t, err)
	assert.Equal(c.t, line+"\n", got)
}

func TestRelay_Chat(t *testing.T) {
	r, addr := startRelay(t)

	alice := join(t, addr, "alice")
	bob := join(t, addr, "bob")
	alice.expect("* bob joined")

	bob.send("hi all")
	alice.expect("bob: hi all")

	alice.send("@bob psst")
	bob.expect("[pm from alice] psst")

	alice.send("@carol hello?")
	alice.expect("* unknown user carol")

	alice.send("/who")
	alice.expect("* users: alice, bob")

	require.NoError(t, bob.conn.Close())
	alice.expect("* bob left")
	assert.Eventually(t, func() bool { return r.lookup("bob") == nil }, 2*time.Second, 5*time.Millisecond)
}

func TestRelay_NameInUse(t *testing.T) {
	r, addr := startRelay(t)
	alice := join(t, addr, "alice")

	impostor := dial(t, addr)
	impostor.send("alice")
	impostor.expect("Name already in use.")
	_, err := impostor.reader.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)

	// the rejected connection must not release the name
	alice.send("/who")
	alice.expect("* users: alice")
	assert.NotNil(t, r.lookup("alice"))
}

func TestRelay_EmptyNameDisconnects(t *testing.T) {
	_, addr := startRelay(t)

	c := dial(t, addr)
	c.send("   ")
	_, err := c.reader.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)
}

func TestRelay_InvalidName(t *testing.T) {
	_, addr := startRelay(t)

	c := dial(t, addr)
	c.send("@root")
	c.expect("Invalid name.")
}

func TestRelay_UpstreamLinesReachClients(t *testing.T) {
	r, addr := startRelay(t)
	alice := join(t, addr, "alice")

	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstream.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := upstream.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	port := upstream.Addr().(*net.TCPAddr).Port
	require.NoError(t, r.daemon.Connect(context.Background(), "127.0.0.1", port))

	var feed net.Conn
	select {
	case feed = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream not dialed")
	}
	defer feed.Close()

	_, err = feed.Write([]byte("maintenance at noon\n"))
	require.NoError(t, err)
	alice.expect("* upstream: maintenance at noon")
}
