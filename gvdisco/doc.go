// Package gvdisco discovers peers on the local network
// by periodically announcing presence beacons
// to a well-known UDP multicast group and listening for everyone else's.
//
// Discovery is deliberately soft: beacons are fire-and-forget,
// transmission failures are retried on the next tick,
// and an empty network is a normal steady state, not an error.
package gvdisco
