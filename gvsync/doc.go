// Package gvsync defines the messages the recipe application
// exchanges over gossip, and their wire encoding.
//
// Requests are flooded to everyone; responses are flooded too
// but carry the requester's ID, and every node except that one
// discards them. Point-to-point semantics ride on broadcast
// because the network has no routing beyond the flood.
package gvsync
