package gvquic

import (
	"errors"
	"fmt"

	"github.com/quic-go/quic-go"
)

// ErrDialedSelf indicates a dial that handshook with this node's own
// identity, which happens when a node's advertised address
// loops back to itself.
var ErrDialedSelf = errors.New("dialed self")

// UnsupportedKeyError indicates a peer certificate
// whose key cannot carry a grapevine identity.
type UnsupportedKeyError struct {
	Key any
}

func (e UnsupportedKeyError) Error() string {
	return fmt.Sprintf("peer certificate key type %T is not ed25519", e.Key)
}

// Application-level close codes.
// Remotes see these on connection teardown;
// the values are informational, nothing branches on them.
const (
	closeCodeGoingAway   quic.ApplicationErrorCode = 0
	closeCodeBadIdentity quic.ApplicationErrorCode = 1
)

// Stream-level cancellation codes.
const (
	// cancelCodeBadFrame is set on receive streams
	// carrying frames the node refuses to read.
	cancelCodeBadFrame quic.StreamErrorCode = 1

	// cancelCodeWriteAbandoned is set on send streams
	// whose frame write did not complete.
	cancelCodeWriteAbandoned quic.StreamErrorCode = 2
)
