package grapevine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/grapevine-net/grapevine/gvdisco"
	"github.com/grapevine-net/grapevine/gvmetrics"
	"github.com/grapevine-net/grapevine/gvpeer"
	"github.com/grapevine-net/grapevine/gvquic"
	"github.com/grapevine-net/grapevine/gvsub"
	"github.com/grapevine-net/grapevine/internal/gk"
	"github.com/grapevine-net/grapevine/recipebook"
)

// Node is a single participant on the local network.
//
// It bundles the QUIC transport, multicast discovery,
// and the kernel event loop that owns all shared state.
// Commands go in through [Node.Execute];
// everything that happens unprompted comes out of [Node.Outputs].
type Node struct {
	log *slog.Logger

	k       *gk.Kernel
	outputs *gvsub.Feed[string]

	transport *gvquic.Transport
	disco     *gvdisco.Discovery

	localID gvpeer.ID
}

// NodeConfig is the configuration to create a [Node].
type NodeConfig struct {
	// UDPConn is the socket the QUIC transport runs on.
	// The caller retains ownership of the connection,
	// and is expected to close it after [Node.Wait] returns.
	UDPConn *net.UDPConn

	// QUIC optionally overrides [gvquic.DefaultQUICConfig].
	QUIC *quic.Config

	// Identity optionally pins the node's transport identity.
	// Nil means a fresh ephemeral identity,
	// giving the node a new peer ID on every start.
	Identity *gvquic.Identity

	// DiscoveryConn is the socket beacons travel on,
	// normally the multicast socket from [gvdisco.Open].
	// Discovery takes ownership and closes it on shutdown.
	DiscoveryConn net.PacketConn

	// DiscoveryGroup is the group address beacons are sent to.
	DiscoveryGroup net.Addr

	// AdvertiseAddrs are the transport addresses
	// carried in this node's beacons.
	// Empty means the transport's own listen address,
	// which only works when the UDP socket is bound
	// to an interface peers can reach.
	AdvertiseAddrs []string

	// Name is an optional human-readable label carried in beacons.
	Name string

	// Store holds the recipes.
	// The caller retains ownership of the store,
	// and is expected to close it after [Node.Wait] returns.
	Store *recipebook.Store

	// AnnounceInterval is the beacon cadence.
	// Defaults to [gvdisco.DefaultAnnounceInterval] if zero.
	AnnounceInterval time.Duration

	// PeerTimeout is how long a silent peer stays known.
	// Defaults to [gvdisco.DefaultPeerTimeout] if zero.
	PeerTimeout time.Duration

	// Metrics may be nil if the caller does not collect any.
	Metrics *gvmetrics.Metrics
}

// validate panics if there are any illegal settings in the configuration.
func (c NodeConfig) validate() {
	// If there are multiple reasons we could panic,
	// collect them all in one go
	// so we can give a maximally helpful error.
	var panicErrs error

	if c.UDPConn == nil {
		panicErrs = errors.Join(panicErrs, errors.New("NodeConfig.UDPConn must not be nil"))
	}
	if c.DiscoveryConn == nil {
		panicErrs = errors.Join(panicErrs, errors.New("NodeConfig.DiscoveryConn must not be nil"))
	}
	if c.DiscoveryGroup == nil {
		panicErrs = errors.Join(panicErrs, errors.New("NodeConfig.DiscoveryGroup must not be nil"))
	}
	if c.Store == nil {
		panicErrs = errors.Join(panicErrs, errors.New("NodeConfig.Store must not be nil"))
	}

	if panicErrs != nil {
		panic(panicErrs)
	}
}

// NewNode assembles and starts a node.
//
// Canceling the context begins shutdown;
// call [Node.Wait] to block until shutdown is complete.
// If NewNode returns an error after some subsystems already started,
// canceling the context stops them too.
func NewNode(ctx context.Context, log *slog.Logger, cfg NodeConfig) (*Node, error) {
	cfg.validate()

	transport, err := gvquic.New(ctx, log.With("sys", "transport"), gvquic.TransportConfig{
		UDPConn:  cfg.UDPConn,
		QUIC:     cfg.QUIC,
		Identity: cfg.Identity,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start transport: %w", err)
	}

	localID := transport.LocalID()

	advertise := cfg.AdvertiseAddrs
	if len(advertise) == 0 {
		advertise = []string{transport.Addr()}
	}

	// Arbitrary size; the kernel's feed pump drains this eagerly.
	sightings := make(chan gvdisco.Sighting, 16)

	disco, err := gvdisco.New(ctx, log.With("sys", "discovery"), gvdisco.Config{
		LocalID: localID,

		AdvertiseAddrs: advertise,
		Name:           cfg.Name,

		Conn:      cfg.DiscoveryConn,
		GroupAddr: cfg.DiscoveryGroup,

		AnnounceInterval: cfg.AnnounceInterval,
		PeerTimeout:      cfg.PeerTimeout,

		Sightings: sightings,

		Metrics: cfg.Metrics,
	})
	if err != nil {
		// Ownership never transferred.
		_ = cfg.DiscoveryConn.Close()
		return nil, fmt.Errorf("failed to start discovery: %w", err)
	}

	changes, _ := gvsub.RunChannelToFeed(ctx, transport.Changes())
	sightingsFeed, _ := gvsub.RunChannelToFeed(ctx, sightings)

	k, outputs := gk.NewKernel(ctx, log.With("sys", "kernel"), gk.KernelConfig{
		LocalID: localID,

		Store:  cfg.Store,
		Dialer: transport,

		Inbound:   transport.Inbound(),
		Changes:   changes,
		Sightings: sightingsFeed,

		PeerTimeout: cfg.PeerTimeout,

		Metrics: cfg.Metrics,
	})

	return &Node{
		log: log,

		k:       k,
		outputs: outputs,

		transport: transport,
		disco:     disco,

		localID: localID,
	}, nil
}

// ID returns the node's peer ID, derived from its transport identity.
func (n *Node) ID() gvpeer.ID {
	return n.localID
}

// Addr returns the transport's bound listen address.
func (n *Node) Addr() string {
	return n.transport.Addr()
}

// Execute runs one line of user input and returns its direct output.
//
// Commands are serialized through the node's event loop,
// so concurrent calls never interleave their effects.
// Commands that trigger network round trips return immediately;
// whatever comes back later surfaces on the output feed.
func (n *Node) Execute(ctx context.Context, line string) (string, error) {
	req := gk.CommandRequest{
		Line: line,
		Resp: make(chan gk.CommandResult, 1),
	}

	select {
	case <-ctx.Done():
		return "", context.Cause(ctx)
	case n.k.Commands <- req:
		// Okay.
	}

	select {
	case <-ctx.Done():
		return "", context.Cause(ctx)
	case res := <-req.Resp:
		return res.Output, res.Err
	}
}

// Outputs returns the head of the node's asynchronous output feed:
// user-facing lines that arrive outside any command's response,
// like merged list responses and peer expiry notices.
//
// The head is fixed at construction,
// so every subscriber advancing from it observes the same sequence.
func (n *Node) Outputs() *gvsub.Feed[string] {
	return n.outputs
}

// Wait blocks until the node's background work has finished.
// Cancel the context passed to [NewNode] to begin shutdown.
func (n *Node) Wait() {
	n.k.Wait()
	n.disco.Wait()
	n.transport.Wait()
}
