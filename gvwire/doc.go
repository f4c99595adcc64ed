// Package gvwire defines the encoding of gossip frames on the network.
//
// Every application message travels inside an [Envelope],
// encoded as a CBOR map with integer keys to keep frames compact.
// The package also fixes the size limits that both
// writers and readers enforce, so a misbehaving peer
// cannot make a node buffer an unbounded frame.
package gvwire
