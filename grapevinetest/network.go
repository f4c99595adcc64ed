// Package grapevinetest provides a multi-node network fixture,
// to simplify tests that require several live nodes.
package grapevinetest

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grapevine-net/grapevine"
	"github.com/grapevine-net/grapevine/gvdisco/gvdiscotest"
	"github.com/grapevine-net/grapevine/internal/gvtest"
	"github.com/grapevine-net/grapevine/recipebook"
)

// Network contains a collection of NetworkNode values,
// to simplify tests that require multiple nodes.
//
// Discovery beacons travel over an in-memory [gvdiscotest.Bus];
// recipe traffic travels over real QUIC on loopback UDP.
type Network struct {
	Log *slog.Logger

	Bus *gvdiscotest.Bus

	Nodes []*NetworkNode
}

// NetworkNode contains the details for a node in this test network.
type NetworkNode struct {
	Node *grapevine.Node

	Store *recipebook.Store

	UDP *net.UDPConn

	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NetworkConfig controls the shape of a test network.
type NetworkConfig struct {
	// Nodes is how many nodes to start. Must be positive.
	Nodes int

	// AnnounceInterval is each node's beacon cadence.
	// Defaults to 50ms, fast enough that tests
	// rarely wait on a full interval.
	AnnounceInterval time.Duration

	// PeerTimeout is how long a silent peer stays known.
	// Defaults to a generous 5s, so that peers only expire
	// when a test stops a node on purpose.
	PeerTimeout time.Duration
}

// NewNetwork starts cfg.Nodes live nodes sharing one discovery bus,
// then returns the Network.
//
// If any error occurs while creating the network,
// t.Fatal is called.
//
// t.Cleanup is used extensively to ensure resources are cleaned up;
// every node is stopped at the end of the test
// whether or not the given context was canceled.
func NewNetwork(t *testing.T, ctx context.Context, cfg NetworkConfig) *Network {
	t.Helper()

	if cfg.Nodes <= 0 {
		t.Fatalf("NetworkConfig.Nodes must be positive, got %d", cfg.Nodes)
	}
	if cfg.AnnounceInterval == 0 {
		cfg.AnnounceInterval = 50 * time.Millisecond
	}
	if cfg.PeerTimeout == 0 {
		cfg.PeerTimeout = 5 * time.Second
	}

	log := gvtest.NewLogger(t)
	bus := gvdiscotest.NewBus()

	nodes := make([]*NetworkNode, cfg.Nodes)
	for i := range nodes {
		// Create the transport socket first.
		uc, err := net.ListenUDP("udp", &net.UDPAddr{
			IP:   net.IPv4(127, 0, 0, 1),
			Port: 0,
		})
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = uc.Close()
		})

		store, err := recipebook.NewStore(log.With("node", i, "sys", "store"), recipebook.StoreConfig{})
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = store.Close()
		})

		nodeCtx, cancel := context.WithCancel(ctx)

		n, err := grapevine.NewNode(nodeCtx, log.With("node", i), grapevine.NodeConfig{
			UDPConn: uc,

			DiscoveryConn:  bus.Join(),
			DiscoveryGroup: bus.Group(),

			Store: store,

			AnnounceInterval: cfg.AnnounceInterval,
			PeerTimeout:      cfg.PeerTimeout,
		})
		if err != nil {
			cancel()
			t.Fatalf("failed to start node %d: %v", i, err)
		}

		nn := &NetworkNode{
			Node:  n,
			Store: store,
			UDP:   uc,

			cancel: cancel,
		}

		// Registered after the socket and store cleanups,
		// so it runs before them and the node never outlives either.
		t.Cleanup(nn.Stop)

		nodes[i] = nn
	}

	return &Network{
		Log:   log,
		Bus:   bus,
		Nodes: nodes,
	}
}

// Stop shuts the node down and blocks until its work is finished.
// Stopping a node twice is a no-op.
func (nn *NetworkNode) Stop() {
	nn.stopOnce.Do(func() {
		nn.cancel()
		nn.Node.Wait()
	})
}

// MustExecute runs one command line on the node,
// failing the test if the command errors.
func (nn *NetworkNode) MustExecute(t *testing.T, line string) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := nn.Node.Execute(ctx, line)
	require.NoErrorf(t, err, "command %q failed", line)

	return out
}

// ExecuteUntil repeatedly runs one command line on the node
// until cond accepts its output,
// failing the test if that does not happen within 10 seconds.
//
// Most node state converges asynchronously,
// so a listing is only wrong until the next beacon, dial, or merge.
func (nn *NetworkNode) ExecuteUntil(t *testing.T, line string, cond func(output string) bool) string {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for {
		out := nn.MustExecute(t, line)
		if cond(out) {
			return out
		}

		if time.Now().After(deadline) {
			t.Fatalf("command %q never produced the expected output; last output was %q", line, out)
		}

		time.Sleep(25 * time.Millisecond)
	}
}

// Stop stops every node in the network.
func (n *Network) Stop() {
	for _, node := range n.Nodes {
		node.Stop()
	}
}
