// Package grapevine contains the core APIs for instantiating a grapevine node.
//
// A grapevine node discovers peers on the local network through
// periodic multicast beacons, connects to every peer it hears about
// over QUIC, and floods application messages across those connections
// so that every published recipe eventually reaches every node.
//
// [NewNode] assembles the whole stack.
// Drive it with [Node.Execute] for user commands,
// and subscribe to [Node.Outputs] for the lines describing
// everything that happens without being asked.
//
// See the README for a fuller tour of the moving parts.
package grapevine
