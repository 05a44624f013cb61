package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/karpov-sv/etp/daemon"
)

const nameKey = "name"

// relay keeps the name registry on top of the daemon's connection registry
type relay struct {
	daemon *daemon.Daemon

	mu     sync.Mutex
	byName map[string]*daemon.Conn
}

func newRelay() *relay {
	return &relay{byName: make(map[string]*daemon.Conn)}
}

// claim binds name to c unless another connection holds it
func (r *relay) claim(name string, c *daemon.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byName[name]; taken {
		return false
	}
	r.byName[name] = c
	c.State.Set(nameKey, name)
	return true
}

func (r *relay) lookup(name string) *daemon.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byName[name]
}

func (r *relay) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *relay) OnDisconnect(_ context.Context, c *daemon.Conn) {
	name, ok := daemon.Value[string](c.State, nameKey)
	if !ok {
		return
	}

	r.mu.Lock()
	owned := r.byName[name] == c
	if owned {
		delete(r.byName, name)
	}
	r.mu.Unlock()

	if owned {
		r.daemon.Broadcast([]byte(fmt.Sprintf("* %s left\n", name)), c)
	}
}

// OnConnect prompts clients for a name; the upstream gets no prompt
func (r *relay) OnConnect(_ context.Context, c *daemon.Conn) error {
	if !c.Incoming {
		return nil
	}
	_, err := c.Write([]byte("Enter name: "))
	return err
}

func (r *relay) HandleIncoming(_ context.Context, c *daemon.Conn) error {
	line, err := c.ReadLine()
	if err != nil {
		return err
	}
	name := strings.TrimSpace(line)
	if name == "" {
		return nil
	}
	if strings.ContainsAny(name, " \t@/") {
		return c.WriteLine("Invalid name.")
	}
	if !r.claim(name, c) {
		return c.WriteLine("Name already in use.")
	}

	r.daemon.SendLine(c, "* Welcome "+name)
	r.daemon.Broadcast([]byte(fmt.Sprintf("* %s joined\n", name)), c)

	for {
		line, err := c.ReadLine()
		if err != nil {
			return err
		}
		text := strings.TrimRight(line, " \t")
		if text == "" {
			continue
		}
		r.handleLine(c, name, text)
	}
}

func (r *relay) handleLine(c *daemon.Conn, name, text string) {
	switch {
	case text == "/who":
		r.daemon.SendLine(c, "* users: "+strings.Join(r.names(), ", "))
	case strings.HasPrefix(text, "@"):
		target, message, _ := strings.Cut(text[1:], " ")
		if target == "" {
			return
		}
		if peer := r.lookup(target); peer != nil {
			r.daemon.SendLine(peer, fmt.Sprintf("[pm from %s] %s", name, message))
		} else {
			r.daemon.SendLine(c, "* unknown user "+target)
		}
	default:
		r.daemon.Broadcast([]byte(fmt.Sprintf("%s: %s\n", name, text)), c)
	}
}

// HandleOutgoing relays what the upstream sends to everyone else
func (r *relay) HandleOutgoing(_ context.Context, c *daemon.Conn) error {
	r.daemon.Logger().Info("Upstream connected", "conn", c.String())
	for {
		line, err := c.ReadLine()
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		r.daemon.Broadcast([]byte("* upstream: "+line+"\n"), c)
	}
}
