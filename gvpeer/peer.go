package gvpeer

import "time"

// ID is the stable identity of a node on the gossip network.
//
// With the QUIC transport this is the lowercase hex encoding
// of the SHA-256 digest of the node's public key,
// but nothing in this package depends on that shape;
// in-memory transports in tests use short human-readable IDs.
type ID string

// Record is one peer as known through discovery.
type Record struct {
	ID ID

	// Addrs are the peer's advertised dial addresses,
	// in the order the peer prefers them to be tried.
	Addrs []string

	// Name is an optional human-readable label,
	// only used for display.
	Name string

	// LastSeen is the local clock reading
	// when the most recent beacon from this peer arrived.
	LastSeen time.Time
}
