// Package gvconntest provides an in-memory implementation
// of the gvconn transport boundary,
// so engine tests can run whole nodes without sockets.
package gvconntest
