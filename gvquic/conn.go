package gvquic

import (
	"context"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/grapevine-net/grapevine/gvconn"
	"github.com/grapevine-net/grapevine/gvpeer"
	"github.com/grapevine-net/grapevine/gvwire"
)

// defaultWriteTimeout bounds a frame write
// when the caller's context carries no deadline of its own.
const defaultWriteTimeout = 5 * time.Second

// conn adapts one quic.Connection to [gvconn.Conn].
type conn struct {
	qc quic.Connection

	peer     gvpeer.ID
	outbound bool
}

var _ gvconn.Conn = (*conn)(nil)

func (c *conn) Peer() gvpeer.ID    { return c.peer }
func (c *conn) Outbound() bool     { return c.outbound }
func (c *conn) RemoteAddr() string { return c.qc.RemoteAddr().String() }

// Send writes one frame as a complete unidirectional stream.
// A nil return means the frame was queued with the transport,
// not that the peer read it.
func (c *conn) Send(ctx context.Context, frame []byte) error {
	if len(frame) > gvwire.MaxFrameSize {
		return fmt.Errorf(
			"refusing to send %d byte frame (limit %d)",
			len(frame), gvwire.MaxFrameSize,
		)
	}

	s, err := c.qc.OpenUniStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("failed to open frame stream to %s: %w", c.peer, err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}
	if err := s.SetWriteDeadline(deadline); err != nil {
		s.CancelWrite(cancelCodeWriteAbandoned)
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if _, err := s.Write(frame); err != nil {
		s.CancelWrite(cancelCodeWriteAbandoned)
		return fmt.Errorf("failed to write frame to %s: %w", c.peer, err)
	}

	// Close queues the FIN; it does not wait for the peer.
	if err := s.Close(); err != nil {
		return fmt.Errorf("failed to finish frame stream to %s: %w", c.peer, err)
	}

	return nil
}

func (c *conn) Close(reason string) error {
	return c.qc.CloseWithError(closeCodeGoingAway, reason)
}
