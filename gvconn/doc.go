// Package gvconn defines the boundary between the gossip engine
// and whatever transport carries frames between nodes.
//
// Encryption, peer authentication, and stream multiplexing
// all live below this boundary.
// The engine only sees authenticated peer IDs, opaque frames,
// and connection add/remove events.
package gvconn
