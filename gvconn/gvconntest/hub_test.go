package gvconntest_test

import (
	"context"
	"testing"

	"github.com/grapevine-net/grapevine/gvconn"
	"github.com/grapevine-net/grapevine/gvconn/gvconntest"
	"github.com/grapevine-net/grapevine/internal/gvtest"
	"github.com/stretchr/testify/require"
)

func TestHub_dialDeliversChangesToBothSides(t *testing.T) {
	t.Parallel()

	h := gvconntest.NewHub()
	a := h.Join("aaa")
	b := h.Join("bbb")

	ctx := context.Background()

	conn, err := a.Dial(ctx, b.Addr())
	require.NoError(t, err)

	aChange := gvtest.ReceiveSoon(t, a.Changes)
	require.True(t, aChange.Adding)
	require.Same(t, conn, aChange.Conn)
	require.Equal(t, b.ID(), aChange.Conn.Peer())
	require.True(t, aChange.Conn.Outbound())

	bChange := gvtest.ReceiveSoon(t, b.Changes)
	require.True(t, bChange.Adding)
	require.Equal(t, a.ID(), bChange.Conn.Peer())
	require.False(t, bChange.Conn.Outbound())
}

func TestHub_framesFlowBothWays(t *testing.T) {
	t.Parallel()

	h := gvconntest.NewHub()
	a := h.Join("aaa")
	b := h.Join("bbb")

	ctx := context.Background()

	aConn, err := a.Dial(ctx, b.Addr())
	require.NoError(t, err)
	gvtest.ReceiveSoon(t, a.Changes)
	bConn := gvtest.ReceiveSoon(t, b.Changes).Conn

	require.NoError(t, aConn.Send(ctx, []byte("ping")))
	in := gvtest.ReceiveSoon(t, b.Inbound)
	require.Equal(t, gvconn.Inbound{From: "aaa", Frame: []byte("ping")}, in)

	require.NoError(t, bConn.Send(ctx, []byte("pong")))
	in = gvtest.ReceiveSoon(t, a.Inbound)
	require.Equal(t, gvconn.Inbound{From: "bbb", Frame: []byte("pong")}, in)
}

func TestHub_closeNotifiesBothSidesOnce(t *testing.T) {
	t.Parallel()

	h := gvconntest.NewHub()
	a := h.Join("aaa")
	b := h.Join("bbb")

	ctx := context.Background()

	aConn, err := a.Dial(ctx, b.Addr())
	require.NoError(t, err)
	gvtest.ReceiveSoon(t, a.Changes)
	bConn := gvtest.ReceiveSoon(t, b.Changes).Conn

	require.NoError(t, aConn.Close("test over"))

	aChange := gvtest.ReceiveSoon(t, a.Changes)
	require.False(t, aChange.Adding)
	require.Same(t, aConn, aChange.Conn)

	bChange := gvtest.ReceiveSoon(t, b.Changes)
	require.False(t, bChange.Adding)
	require.Same(t, bConn, bChange.Conn)

	// Closing the other handle of the same pair is a no-op.
	require.NoError(t, bConn.Close("again"))
	gvtest.NotSending(t, a.Changes)
	gvtest.NotSending(t, b.Changes)

	require.Error(t, aConn.Send(ctx, []byte("late")))
	gvtest.NotSending(t, b.Inbound)
}

func TestHub_dialErrors(t *testing.T) {
	t.Parallel()

	h := gvconntest.NewHub()
	a := h.Join("aaa")

	ctx := context.Background()

	_, err := a.Dial(ctx, "mem://nobody")
	require.Error(t, err)

	_, err = a.Dial(ctx, a.Addr())
	require.Error(t, err)
}

func TestHub_simultaneousDialsMakeTwoPairs(t *testing.T) {
	t.Parallel()

	h := gvconntest.NewHub()
	a := h.Join("aaa")
	b := h.Join("bbb")

	ctx := context.Background()

	_, err := a.Dial(ctx, b.Addr())
	require.NoError(t, err)
	_, err = b.Dial(ctx, a.Addr())
	require.NoError(t, err)

	// Each endpoint sees one outbound and one inbound connection.
	first := gvtest.ReceiveSoon(t, a.Changes)
	second := gvtest.ReceiveSoon(t, a.Changes)
	require.True(t, first.Conn.Outbound())
	require.False(t, second.Conn.Outbound())
	require.Equal(t, b.ID(), first.Conn.Peer())
	require.Equal(t, b.ID(), second.Conn.Peer())
}
