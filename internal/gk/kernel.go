package gk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grapevine-net/grapevine/gvconn"
	"github.com/grapevine-net/grapevine/gvdisco"
	"github.com/grapevine-net/grapevine/gvflood"
	"github.com/grapevine-net/grapevine/gvmetrics"
	"github.com/grapevine-net/grapevine/gvpeer"
	"github.com/grapevine-net/grapevine/gvsub"
	"github.com/grapevine-net/grapevine/gvsync"
	"github.com/grapevine-net/grapevine/gvwire"
	"github.com/grapevine-net/grapevine/recipebook"
)

// DefaultSeenRetention is how long gossip dedup state for an origin
// outlives that origin's last message.
const DefaultSeenRetention = 10 * time.Minute

// DefaultDialTimeout bounds one dial attempt to one address.
const DefaultDialTimeout = 5 * time.Second

// Kernel is the node's event loop.
// See the package documentation for the confinement model.
type Kernel struct {
	log *slog.Logger

	localID gvpeer.ID

	table  *gvpeer.Table
	router *gvflood.Router
	store  *recipebook.Store

	dialer      gvconn.Dialer
	dialTimeout time.Duration

	// Peers with a dial in flight, so a burst of sightings
	// doesn't open several connections to one peer.
	dialing     map[gvpeer.ID]struct{}
	dialResults chan dialResult

	// Commands receives user input lines.
	// Unbuffered because the caller blocks on the result anyway.
	Commands chan CommandRequest

	// Pending list responses awaiting their own loop iteration.
	replies chan gvsync.ListResponse

	inbound   <-chan gvconn.Inbound
	changes   *gvsub.Feed[gvconn.Change]
	sightings *gvsub.Feed[gvdisco.Sighting]

	// Write head of the async output feed.
	outTail *gvsub.Feed[string]

	peerTimeout       time.Duration
	housekeepInterval time.Duration
	seenRetention     time.Duration

	metrics *gvmetrics.Metrics

	wg sync.WaitGroup
}

type KernelConfig struct {
	// LocalID is this node's own peer ID.
	LocalID gvpeer.ID

	// Store holds the recipes. The caller retains ownership
	// and closes it after the kernel has stopped.
	Store *recipebook.Store

	// Dialer opens outbound connections.
	// It may be nil for a listen-only node,
	// which then never initiates connections.
	Dialer gvconn.Dialer

	// Inbound carries received frames from every transport connection.
	Inbound <-chan gvconn.Inbound

	// Changes is the feed of connection add/remove events.
	Changes *gvsub.Feed[gvconn.Change]

	// Sightings is the feed of discovery beacons seen on the network.
	Sightings *gvsub.Feed[gvdisco.Sighting]

	// PeerTimeout is how long a peer may stay silent before expiry.
	// Defaults to [gvdisco.DefaultPeerTimeout] if zero.
	PeerTimeout time.Duration

	// HousekeepInterval is the cadence of the expiry and pruning sweep.
	// Defaults to a fifth of PeerTimeout if zero.
	HousekeepInterval time.Duration

	// SeenRetention is how long per-origin dedup state is kept
	// past the origin's last message.
	// Defaults to [DefaultSeenRetention] if zero.
	SeenRetention time.Duration

	// DialTimeout bounds each dial attempt.
	// Defaults to [DefaultDialTimeout] if zero.
	DialTimeout time.Duration

	// Router knobs, passed through to [gvflood.RouterConfig].
	SeenWindowBits uint
	SendWorkers    int
	SendTimeout    time.Duration

	// Metrics may be nil if the caller does not collect any.
	Metrics *gvmetrics.Metrics
}

// NewKernel starts the kernel's main loop,
// returning the kernel and the head of its async output feed.
//
// The feed carries user-facing lines that arrive outside
// any command's response: merged list responses,
// publish announcements from peers, and peer expiry notices.
// The caller should hand the head to exactly one reader.
func NewKernel(ctx context.Context, log *slog.Logger, cfg KernelConfig) (*Kernel, *gvsub.Feed[string]) {
	if cfg.LocalID == "" {
		panic(errors.New("BUG: KernelConfig.LocalID must not be empty"))
	}
	if cfg.Store == nil {
		panic(errors.New("BUG: KernelConfig.Store must not be nil"))
	}
	if cfg.Inbound == nil {
		panic(errors.New("BUG: KernelConfig.Inbound must not be nil"))
	}
	if cfg.Changes == nil {
		panic(errors.New("BUG: KernelConfig.Changes must not be nil"))
	}
	if cfg.Sightings == nil {
		panic(errors.New("BUG: KernelConfig.Sightings must not be nil"))
	}

	peerTimeout := cfg.PeerTimeout
	if peerTimeout <= 0 {
		peerTimeout = gvdisco.DefaultPeerTimeout
	}
	housekeepInterval := cfg.HousekeepInterval
	if housekeepInterval <= 0 {
		housekeepInterval = peerTimeout / 5
	}
	seenRetention := cfg.SeenRetention
	if seenRetention <= 0 {
		seenRetention = DefaultSeenRetention
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}

	m := cfg.Metrics
	if m == nil {
		m = gvmetrics.NewNop()
	}

	router := gvflood.NewRouter(ctx, log.With("sys", "router"), gvflood.RouterConfig{
		LocalID:        cfg.LocalID,
		SeenWindowBits: cfg.SeenWindowBits,
		SendWorkers:    cfg.SendWorkers,
		SendTimeout:    cfg.SendTimeout,
		Metrics:        m,
	})

	// Every node participates in the recipe topic.
	router.Subscribe(gvsync.Topic)

	outHead := gvsub.NewFeed[string]()

	k := &Kernel{
		log: log,

		localID: cfg.LocalID,

		table: gvpeer.NewTable(log.With("sys", "peers"), gvpeer.TableConfig{
			LocalID: cfg.LocalID,
		}),
		router: router,
		store:  cfg.Store,

		dialer:      cfg.Dialer,
		dialTimeout: dialTimeout,

		dialing:     map[gvpeer.ID]struct{}{},
		dialResults: make(chan dialResult, 8),

		Commands: make(chan CommandRequest),

		// Bounded: a full queue drops responses rather than
		// letting a request storm grow memory without limit.
		replies: make(chan gvsync.ListResponse, 64),

		inbound:   cfg.Inbound,
		changes:   cfg.Changes,
		sightings: cfg.Sightings,

		outTail: outHead,

		peerTimeout:       peerTimeout,
		housekeepInterval: housekeepInterval,
		seenRetention:     seenRetention,

		metrics: m,
	}

	k.wg.Add(1)
	go k.mainLoop(ctx)

	return k, outHead
}

// Wait blocks until the main loop, the dial attempts,
// and the router's send workers have all finished.
func (k *Kernel) Wait() {
	k.wg.Wait()
	k.router.Wait()
}

func (k *Kernel) mainLoop(ctx context.Context) {
	defer k.wg.Done()

	tick := time.NewTicker(k.housekeepInterval)
	defer tick.Stop()

	changes := k.changes
	sightings := k.sightings

	for {
		select {
		case <-ctx.Done():
			k.log.Info("Kernel stopping", "cause", context.Cause(ctx))

			// This is the one place holding a reference
			// to every live connection.
			for _, id := range k.router.Peers() {
				conn := k.router.RemovePeer(id)
				_ = conn.Close("node shutting down")
			}
			return

		case req := <-k.Commands:
			k.handleCommand(ctx, req)

		case resp := <-k.replies:
			k.publishReply(ctx, resp)

		case in := <-k.inbound:
			k.handleInbound(ctx, in)

		case <-changes.Ready:
			k.handleChange(changes.Val)
			changes = changes.Next

		case <-sightings.Ready:
			k.handleSighting(ctx, sightings.Val)
			sightings = sightings.Next

		case res := <-k.dialResults:
			k.handleDialResult(res)

		case <-tick.C:
			k.housekeep()
		}
	}
}

func (k *Kernel) handleCommand(ctx context.Context, req CommandRequest) {
	out, err := k.executeCommand(ctx, req.Line)

	// Assume the response channel is buffered.
	req.Resp <- CommandResult{Output: out, Err: err}
}

// handleInbound decodes one received frame and runs it through the router.
// Frames that fail to decode are dropped here and never forwarded.
func (k *Kernel) handleInbound(ctx context.Context, in gvconn.Inbound) {
	e, err := gvwire.Unmarshal(in.Frame)
	if err != nil {
		k.log.Warn(
			"Dropping malformed gossip frame",
			"from", in.From,
			"err", err,
		)
		return
	}

	// Any traffic proves the peer is alive,
	// even when its beacons stopped reaching us.
	k.table.Touch(in.From, time.Now())

	if !k.router.OnReceive(ctx, time.Now(), in.From, e, in.Frame) {
		return
	}

	k.handleDelivered(e)
}

func (k *Kernel) handleChange(ch gvconn.Change) {
	id := ch.Conn.Peer()

	if !ch.Adding {
		if cur, ok := k.router.PeerConn(id); ok && cur == ch.Conn {
			k.router.RemovePeer(id)
			k.metrics.ConnsLive.Set(float64(k.router.NPeers()))
			k.log.Info("Peer disconnected", "peer", id)
		}
		// Otherwise it's a connection we already replaced
		// or never admitted; nothing to undo.
		return
	}

	cur, ok := k.router.PeerConn(id)
	if !ok {
		k.router.AddPeer(ch.Conn)
		k.metrics.ConnsLive.Set(float64(k.router.NPeers()))
		k.log.Info(
			"Peer connected",
			"peer", id,
			"outbound", ch.Conn.Outbound(),
		)
		return
	}

	// Two live connections for one peer,
	// usually both sides having dialed at the same time.
	// Both sides compute the same survivor.
	keep := k.tieBreak(cur, ch.Conn)
	if keep == cur {
		k.log.Info(
			"Closing duplicate connection",
			"peer", id,
			"kept_outbound", cur.Outbound(),
		)
		_ = ch.Conn.Close("duplicate connection")
		return
	}

	k.router.RemovePeer(id)
	_ = cur.Close("duplicate connection")

	k.router.AddPeer(ch.Conn)
	k.log.Info(
		"Replaced duplicate connection",
		"peer", id,
		"kept_outbound", ch.Conn.Outbound(),
	)
}

// tieBreak picks which of two connections to the same peer survives:
// the one initiated by the side with the lower ID.
func (k *Kernel) tieBreak(a, b gvconn.Conn) gvconn.Conn {
	keepOutbound := k.localID < a.Peer()
	if a.Outbound() == keepOutbound {
		return a
	}
	if b.Outbound() == keepOutbound {
		return b
	}

	// Same direction twice; keep the established one.
	return a
}

func (k *Kernel) handleSighting(ctx context.Context, s gvdisco.Sighting) {
	isNew := k.table.Upsert(gvpeer.Record{
		ID:       s.ID,
		Addrs:    s.Addrs,
		Name:     s.Name,
		LastSeen: time.Now(),
	})
	k.metrics.PeersLive.Set(float64(k.table.Len()))

	if isNew {
		k.log.Info(
			"Discovered peer",
			"peer", s.ID,
			"name", s.Name,
			"addrs", s.Addrs,
		)
	}

	k.maybeDial(ctx, s.ID, s.Addrs)
}

func (k *Kernel) maybeDial(ctx context.Context, id gvpeer.ID, addrs []string) {
	if k.dialer == nil {
		return
	}
	if k.localID >= id {
		// Only the lower ID dials;
		// the other side waits for the inbound connection.
		// Two nodes discovering each other at the same moment
		// would otherwise both connect.
		return
	}
	if k.router.HasPeer(id) {
		return
	}
	if _, ok := k.dialing[id]; ok {
		return
	}
	if len(addrs) == 0 {
		return
	}

	k.dialing[id] = struct{}{}

	k.wg.Add(1)
	go k.dialPeer(ctx, id, addrs)
}

func (k *Kernel) dialPeer(ctx context.Context, id gvpeer.ID, addrs []string) {
	defer k.wg.Done()

	var errs []error
	for _, addr := range addrs {
		dctx, cancel := context.WithTimeout(ctx, k.dialTimeout)
		_, err := k.dialer.Dial(dctx, addr)
		cancel()

		if err == nil {
			// The connection itself arrives through the changes feed.
			k.reportDial(ctx, dialResult{Peer: id})
			return
		}

		errs = append(errs, fmt.Errorf("dial %q: %w", addr, err))
	}

	k.reportDial(ctx, dialResult{Peer: id, Err: errors.Join(errs...)})
}

func (k *Kernel) reportDial(ctx context.Context, res dialResult) {
	select {
	case <-ctx.Done():
		// Shutdown; the kernel is no longer draining results.
	case k.dialResults <- res:
		// Okay.
	}
}

func (k *Kernel) handleDialResult(res dialResult) {
	delete(k.dialing, res.Peer)

	if res.Err != nil {
		// Soft failure: the peer stays in the table until it expires,
		// and its next beacon triggers another attempt.
		k.log.Warn(
			"Failed to connect to peer",
			"peer", res.Peer,
			"err", res.Err,
		)
	}
}

func (k *Kernel) housekeep() {
	now := time.Now()

	expired := k.table.Expire(now, k.peerTimeout)
	for _, r := range expired {
		k.metrics.PeersExpired.Inc()
		k.log.Info(
			"Peer expired",
			"peer", r.ID,
			"last_seen", r.LastSeen,
		)

		if _, ok := k.router.PeerConn(r.ID); ok {
			conn := k.router.RemovePeer(r.ID)
			_ = conn.Close("peer expired")
			k.metrics.ConnsLive.Set(float64(k.router.NPeers()))
		}

		k.publishOutput("peer expired: " + string(r.ID))
	}
	if len(expired) > 0 {
		k.metrics.PeersLive.Set(float64(k.table.Len()))
	}

	k.router.PruneSeen(now, k.seenRetention)
}

// publishOutput emits one user-facing line on the async output feed.
// Only the kernel goroutine may call this.
func (k *Kernel) publishOutput(s string) {
	k.outTail.Publish(s)
	k.outTail = k.outTail.Next
}
