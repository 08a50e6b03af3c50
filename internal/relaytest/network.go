// Package relaytest provides an in-memory relay network for tests.
//
// A Network is a transport.Dialer that routes URLs to relayserver.Relay
// instances over transport.Pipe connections. Each relay can be switched
// between modes to simulate outages:
//
//	Up         dials succeed and the relay serves normally
//	Down       dials fail immediately
//	Hang       dials block until the caller's context expires
//	Blackhole  dials succeed but nothing is ever read or answered
//
// Switching a relay away from Up severs its existing connections.
package relaytest

import (
	"context"
	"fmt"
	"sync"

	"relaymesh/internal/domain"
	"relaymesh/internal/relayserver"
	"relaymesh/internal/transport"
)

// Mode is the simulated condition of one relay.
type Mode int

const (
	Up Mode = iota
	Down
	Hang
	Blackhole
)

type entry struct {
	relay *relayserver.Relay
	mode  Mode
	dials int
	holes []transport.Conn
}

// Network routes dials to in-memory relays.
type Network struct {
	mu     sync.Mutex
	relays map[string]*entry
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{relays: make(map[string]*entry)}
}

// AddRelay registers a fresh relay at url in Up mode.
func (n *Network) AddRelay(url string, opts ...relayserver.Option) *relayserver.Relay {
	r := relayserver.New(opts...)
	n.mu.Lock()
	n.relays[url] = &entry{relay: r, mode: Up}
	n.mu.Unlock()
	return r
}

// Relay returns the relay registered at url, or nil.
func (n *Network) Relay(url string) *relayserver.Relay {
	n.mu.Lock()
	defer n.mu.Unlock()
	if e, ok := n.relays[url]; ok {
		return e.relay
	}
	return nil
}

// SetMode switches url to m. Leaving Up drops existing connections.
func (n *Network) SetMode(url string, m Mode) {
	n.mu.Lock()
	e, ok := n.relays[url]
	if !ok {
		n.mu.Unlock()
		panic("relaytest: unknown relay " + url)
	}
	prev := e.mode
	e.mode = m
	holes := e.holes
	if m != Blackhole {
		e.holes = nil
	}
	n.mu.Unlock()

	if prev != m {
		e.relay.DropConnections()
		if m != Blackhole {
			for _, c := range holes {
				_ = c.Close()
			}
		}
	}
}

// Dials reports how many times url has been dialed.
func (n *Network) Dials(url string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if e, ok := n.relays[url]; ok {
		return e.dials
	}
	return 0
}

// Dial implements transport.Dialer.
func (n *Network) Dial(ctx context.Context, url string) (transport.Conn, error) {
	n.mu.Lock()
	e, ok := n.relays[url]
	if !ok {
		n.mu.Unlock()
		return nil, fmt.Errorf("relaytest: dial %s: no such host", url)
	}
	e.dials++
	mode := e.mode
	n.mu.Unlock()

	switch mode {
	case Down:
		return nil, fmt.Errorf("relaytest: dial %s: connection refused", url)
	case Hang:
		<-ctx.Done()
		return nil, ctx.Err()
	case Blackhole:
		local, remote := transport.Pipe()
		n.mu.Lock()
		e.holes = append(e.holes, remote)
		n.mu.Unlock()
		return local, nil
	default:
		local, remote := transport.Pipe()
		go e.relay.ServeConn(remote)
		return local, nil
	}
}

// Close severs every connection in the network.
func (n *Network) Close() {
	n.mu.Lock()
	entries := make([]*entry, 0, len(n.relays))
	for _, e := range n.relays {
		entries = append(entries, e)
	}
	n.mu.Unlock()
	for _, e := range entries {
		e.relay.DropConnections()
		n.mu.Lock()
		holes := e.holes
		e.holes = nil
		n.mu.Unlock()
		for _, c := range holes {
			_ = c.Close()
		}
	}
}

// PublishedTo reports whether the relay at url stores an event with id.
func (n *Network) PublishedTo(url string, id domain.EventID) bool {
	r := n.Relay(url)
	if r == nil {
		return false
	}
	for _, ev := range r.Events() {
		if ev.ID == id {
			return true
		}
	}
	return false
}

var _ transport.Dialer = (*Network)(nil)
