// Package gvpeer contains the peer identity types
// and the [Table] tracking which peers are currently live.
//
// The table is plain single-owner state:
// the node's kernel goroutine is the only writer and reader,
// so none of the methods lock.
package gvpeer
