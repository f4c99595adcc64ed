package gvconn

import (
	"context"

	"github.com/grapevine-net/grapevine/gvpeer"
)

// Conn is a live, authenticated connection to one peer.
//
// Implementations must allow Send to be called
// from multiple goroutines concurrently.
type Conn interface {
	// Peer returns the authenticated ID of the remote node.
	Peer() gvpeer.ID

	// Outbound reports whether the local node initiated the connection.
	// The engine uses this to break ties
	// when both sides dialed each other at once.
	Outbound() bool

	// RemoteAddr returns the remote network address, for logs and listings.
	RemoteAddr() string

	// Send transmits one frame.
	// Framing is the transport's responsibility;
	// the receiver observes the same byte slice boundaries the sender wrote.
	//
	// Send is fire-and-forget: a nil return means the frame was
	// handed to the transport, not that the peer processed it.
	Send(ctx context.Context, frame []byte) error

	// Close tears down the connection.
	// The reason is advisory and may be surfaced to the remote peer.
	Close(reason string) error
}

// Change is the value sent on a channel
// indicating newly added or removed connections.
type Change struct {
	Conn Conn

	// If true, the connection has been established and authenticated.
	// Otherwise, the connection is gone.
	Adding bool
}

// Inbound is one frame received from a peer,
// ready to be decoded by the engine.
type Inbound struct {
	From gvpeer.ID

	Frame []byte
}

// Dialer establishes outbound connections.
//
// A successful dial is also reported through the transport's
// connection change channel;
// the returned Conn is for the dialer's immediate use.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}
