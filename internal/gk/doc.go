// Package gk contains the node kernel.
//
// The kernel is one goroutine owning the peer table,
// the gossip router, and the recipe store.
// Every input source feeds it through a channel or feed:
// user commands, inbound gossip frames, connection changes,
// discovery sightings, the internal reply queue,
// and the housekeeping tick.
// The main loop multiplexes them and processes
// exactly one event at a time to completion.
//
// Confining all mutable state to the kernel goroutine
// removes the need for locks anywhere in the engine;
// everything crossing into or out of the kernel is an immutable value.
package gk
