package gvconntest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/grapevine-net/grapevine/gvconn"
	"github.com/grapevine-net/grapevine/gvpeer"
)

// Hub connects any number of in-memory endpoints.
// Dialing an endpoint's address produces a connection pair
// whose frames move through channels, never a socket.
//
// The hub does not deduplicate connections:
// two nodes that dial each other simultaneously end up with
// two live pairs, exactly the situation the engine's
// tie-break logic exists to resolve.
type Hub struct {
	mu sync.Mutex

	byAddr map[string]*Endpoint
}

func NewHub() *Hub {
	return &Hub{
		byAddr: map[string]*Endpoint{},
	}
}

// Endpoint is one node's attachment to the hub.
// Its channels are what the node's kernel consumes;
// they are buffered so fixture code can drive a node
// without a dedicated reader goroutine.
type Endpoint struct {
	hub *Hub

	id   gvpeer.ID
	addr string

	// Inbound carries frames sent to this endpoint.
	Inbound chan gvconn.Inbound

	// Changes carries connection add/remove events,
	// including for connections this endpoint dialed itself.
	Changes chan gvconn.Change
}

// Join attaches a new endpoint under the given ID.
// Joining the same ID twice panics.
func (h *Hub) Join(id gvpeer.ID) *Endpoint {
	if id == "" {
		panic(errors.New("BUG: endpoint ID must not be empty"))
	}

	ep := &Endpoint{
		hub: h,

		id:   id,
		addr: "mem://" + string(id),

		Inbound: make(chan gvconn.Inbound, 64),
		Changes: make(chan gvconn.Change, 16),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.byAddr[ep.addr]; ok {
		panic(fmt.Errorf("BUG: endpoint %q joined the hub twice", id))
	}
	h.byAddr[ep.addr] = ep

	return ep
}

func (e *Endpoint) ID() gvpeer.ID { return e.id }

// Addr is the value other endpoints pass to Dial to reach this one.
func (e *Endpoint) Addr() string { return e.addr }

// Dial connects to the endpoint listening on addr.
//
// Both sides observe a Change{Adding: true} on their Changes channel;
// the returned Conn is the same one delivered to the dialer's channel.
func (e *Endpoint) Dial(ctx context.Context, addr string) (gvconn.Conn, error) {
	e.hub.mu.Lock()
	remote, ok := e.hub.byAddr[addr]
	e.hub.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no endpoint listening on %q", addr)
	}
	if remote == e {
		return nil, errors.New("refusing to dial self")
	}

	pair := &connPair{
		closed: make(chan struct{}),
	}

	dialerConn := &memConn{
		pair: pair,

		localID:  e.id,
		peer:     remote.id,
		outbound: true,
		addr:     remote.addr,

		deliverTo: remote.Inbound,
	}
	listenerConn := &memConn{
		pair: pair,

		localID:  remote.id,
		peer:     e.id,
		outbound: false,
		addr:     e.addr,

		deliverTo: e.Inbound,
	}

	pair.conns = [2]*memConn{dialerConn, listenerConn}
	pair.changes = [2]chan<- gvconn.Change{e.Changes, remote.Changes}

	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case e.Changes <- gvconn.Change{Conn: dialerConn, Adding: true}:
		// Okay.
	}

	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case remote.Changes <- gvconn.Change{Conn: listenerConn, Adding: true}:
		// Okay.
	}

	return dialerConn, nil
}

// connPair is the shared state behind the two Conn handles
// of one logical connection.
type connPair struct {
	closeOnce sync.Once
	closed    chan struct{}

	conns   [2]*memConn
	changes [2]chan<- gvconn.Change
}

func (p *connPair) close() {
	p.closeOnce.Do(func() {
		close(p.closed)

		// Each side is told about its own handle going away.
		for i, c := range p.conns {
			p.changes[i] <- gvconn.Change{Conn: c, Adding: false}
		}
	})
}

type memConn struct {
	pair *connPair

	localID  gvpeer.ID
	peer     gvpeer.ID
	outbound bool
	addr     string

	deliverTo chan<- gvconn.Inbound
}

var _ gvconn.Conn = (*memConn)(nil)

func (c *memConn) Peer() gvpeer.ID    { return c.peer }
func (c *memConn) Outbound() bool     { return c.outbound }
func (c *memConn) RemoteAddr() string { return c.addr }

func (c *memConn) Send(ctx context.Context, frame []byte) error {
	// Copy so the recipient never aliases the sender's buffer,
	// matching what any real transport does by serializing.
	f := bytes.Clone(frame)

	select {
	case <-c.pair.closed:
		return errors.New("connection closed")
	case <-ctx.Done():
		return context.Cause(ctx)
	case c.deliverTo <- gvconn.Inbound{From: c.localID, Frame: f}:
		return nil
	}
}

func (c *memConn) Close(string) error {
	c.pair.close()
	return nil
}
