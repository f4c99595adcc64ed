package grapevine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grapevine-net/grapevine"
	"github.com/grapevine-net/grapevine/grapevinetest"
	"github.com/grapevine-net/grapevine/gvsub"
	"github.com/grapevine-net/grapevine/internal/gvtest"
)

// nextOutputContaining advances the feed until a line containing want
// arrives, returning that line and the feed position after it.
//
// Feeds at the node level interleave merge notices from repeated
// listings with announcements, so tests scan rather than
// asserting an exact sequence.
func nextOutputContaining(t *testing.T, feed *gvsub.Feed[string], want string) (string, *gvsub.Feed[string]) {
	t.Helper()

	for {
		gvtest.ReceiveSoon(t, feed.Ready)
		line := feed.Val
		feed = feed.Next

		if strings.Contains(line, want) {
			return line, feed
		}
	}
}

func TestNode_recipeSharing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gNet := grapevinetest.NewNetwork(t, ctx, grapevinetest.NetworkConfig{
		Nodes: 2,
	})
	a, b := gNet.Nodes[0], gNet.Nodes[1]

	aID := string(a.Node.ID())
	bID := string(b.Node.ID())

	aOut := a.Node.Outputs()

	// Beacons flow both ways before any recipes move.
	a.ExecuteUntil(t, "ls p", func(out string) bool {
		return strings.Contains(out, bID)
	})
	b.ExecuteUntil(t, "ls p", func(out string) bool {
		return strings.Contains(out, aID)
	})

	out := b.MustExecute(t, "create r Lamington|sponge,chocolate,coconut|bake, dip, and roll")
	lamingtonID := strings.TrimPrefix(out, "created ")

	// This one stays a draft and must never leave B.
	out = b.MustExecute(t, "create r Secret Pavlova|meringue,cream|family eyes only")
	pavlovaID := strings.TrimPrefix(out, "created ")

	out = b.MustExecute(t, "publish r "+lamingtonID)
	require.Equal(t, "published "+lamingtonID, out)

	// A converges on the published recipe, through the announcement
	// or through a list round trip, whichever lands first.
	out = a.ExecuteUntil(t, "ls r", func(out string) bool {
		return strings.Contains(out, "Lamington")
	})
	require.Contains(t, out, lamingtonID)
	require.Contains(t, out, "[published]")
	require.Contains(t, out, "(remote)")
	require.NotContains(t, out, "Pavlova")

	// Somewhere on A's feed there was a line carrying the recipe.
	line, _ := nextOutputContaining(t, aOut, "Lamington")
	require.Contains(t, line, lamingtonID)

	// Merging a remote recipe must not make it locally authored.
	require.Empty(t, a.MustExecute(t, "ls r local"))

	// B still sees both of its own, neither marked remote.
	out = b.MustExecute(t, "ls r local")
	require.Contains(t, out, lamingtonID)
	require.Contains(t, out, pavlovaID)
	require.NotContains(t, out, "(remote)")
}

func TestNode_threeNodeFanout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gNet := grapevinetest.NewNetwork(t, ctx, grapevinetest.NetworkConfig{
		Nodes: 3,
	})

	origin := gNet.Nodes[0]
	originID := string(origin.Node.ID())

	// Everyone hears the origin before it publishes.
	for _, nn := range gNet.Nodes[1:] {
		nn.ExecuteUntil(t, "ls p", func(out string) bool {
			return strings.Contains(out, originID)
		})
	}

	out := origin.MustExecute(t, "create r Kvass|bread,water,raisins|ferment for two days")
	kvassID := strings.TrimPrefix(out, "created ")
	origin.MustExecute(t, "publish r "+kvassID)

	for _, nn := range gNet.Nodes[1:] {
		out := nn.ExecuteUntil(t, "ls r", func(out string) bool {
			return strings.Contains(out, kvassID)
		})
		require.Contains(t, out, "Kvass")
		require.Contains(t, out, "(remote)")
	}
}

func TestNode_peerExpiry(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gNet := grapevinetest.NewNetwork(t, ctx, grapevinetest.NetworkConfig{
		Nodes: 2,

		AnnounceInterval: 50 * time.Millisecond,
		PeerTimeout:      400 * time.Millisecond,
	})
	a, b := gNet.Nodes[0], gNet.Nodes[1]

	bID := string(b.Node.ID())

	aOut := a.Node.Outputs()

	a.ExecuteUntil(t, "ls p", func(out string) bool {
		return strings.Contains(out, bID)
	})
	b.ExecuteUntil(t, "ls p", func(out string) bool {
		return strings.Contains(out, string(a.Node.ID()))
	})

	// Silence B. Its beacons stop and A's entry for it ages out.
	b.Stop()

	a.ExecuteUntil(t, "ls p", func(out string) bool {
		return !strings.Contains(out, bID)
	})

	line, _ := nextOutputContaining(t, aOut, "peer expired")
	require.Equal(t, "peer expired: "+bID, line)
}

func TestNewNode_panicsOnMissingConfig(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := gvtest.NewLogger(t)

	require.Panics(t, func() {
		_, _ = grapevine.NewNode(ctx, log, grapevine.NodeConfig{})
	})
}
