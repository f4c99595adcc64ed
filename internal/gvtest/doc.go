// Package gvtest contains small helpers shared across the module's tests.
//
// Nothing here is specific to gossip;
// these are the channel and logging utilities
// that nearly every concurrent test in the tree wants.
package gvtest
