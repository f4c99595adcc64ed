package gvdisco

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/grapevine-net/grapevine/gvmetrics"
	"github.com/grapevine-net/grapevine/gvpeer"
)

// DefaultAnnounceInterval is how often a node announces itself
// unless configured otherwise.
const DefaultAnnounceInterval = 3 * time.Second

// DefaultPeerTimeout is how long a peer may stay silent
// before it is considered gone.
// Five missed beacons is well past any plausible scheduling hiccup.
const DefaultPeerTimeout = 5 * DefaultAnnounceInterval

// Config is the configuration for [New].
type Config struct {
	// LocalID is this node's own peer ID.
	// Beacons carrying it are our own loopback copies and are ignored.
	LocalID gvpeer.ID

	// AdvertiseAddrs are the listen addresses to announce,
	// i.e. where other nodes can connect to us.
	AdvertiseAddrs []string

	// Name is the optional human-readable node name to announce.
	Name string

	// Conn is the socket used to send and receive beacons,
	// normally the multicast-joined socket from [Open].
	// Discovery owns the socket and closes it on shutdown.
	Conn net.PacketConn

	// GroupAddr is the multicast group address beacons are sent to,
	// normally the resolved address from [Open].
	GroupAddr net.Addr

	// AnnounceInterval is the time between presence beacons.
	// Defaults to [DefaultAnnounceInterval] if zero.
	AnnounceInterval time.Duration

	// PeerTimeout is how long a peer may stay silent
	// before its next beacon counts as a fresh appearance again
	// (which triggers a reactive announce, see [Config.Sightings]).
	// Defaults to [DefaultPeerTimeout] if zero.
	PeerTimeout time.Duration

	// Sightings receives one value per accepted beacon from another node.
	// It is the caller's view into discovery,
	// and the caller decides what a sighting means for its peer table.
	//
	// The channel should be buffered or have a dedicated reader,
	// as sends block the listener.
	Sightings chan<- Sighting

	// Metrics may be nil if the caller does not collect any.
	Metrics *gvmetrics.Metrics
}

// Discovery announces this node's presence on the local network
// and reports beacons it hears from other nodes.
//
// When a beacon arrives from a peer we have not heard recently,
// Discovery announces once ahead of schedule (rate limited),
// so a newcomer learns about existing nodes
// without waiting out everyone's announce interval.
type Discovery struct {
	log *slog.Logger

	conn      net.PacketConn
	groupAddr net.Addr

	localID gvpeer.ID

	// Encoded once at construction; beacon contents never change.
	frame []byte

	interval    time.Duration
	peerTimeout time.Duration

	sightings   chan<- Sighting
	announceNow chan struct{}

	metrics *gvmetrics.Metrics

	wg sync.WaitGroup
}

// New validates cfg, announces immediately,
// and starts the announce and listen loops.
// It returns an error if this node's own beacon cannot be encoded,
// for instance when no advertise addresses were given.
//
// The loops run until ctx is canceled.
// Cancellation closes cfg.Conn.
func New(ctx context.Context, log *slog.Logger, cfg Config) (*Discovery, error) {
	if cfg.LocalID == "" {
		panic(errors.New("BUG: Config.LocalID must not be empty"))
	}
	if cfg.Conn == nil {
		panic(errors.New("BUG: Config.Conn must not be nil"))
	}
	if cfg.GroupAddr == nil {
		panic(errors.New("BUG: Config.GroupAddr must not be nil"))
	}
	if cfg.Sightings == nil {
		panic(errors.New("BUG: Config.Sightings must not be nil"))
	}

	frame, err := EncodeBeacon(Beacon{
		ID:    cfg.LocalID,
		Addrs: cfg.AdvertiseAddrs,
		Name:  cfg.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode local beacon: %w", err)
	}

	interval := cfg.AnnounceInterval
	if interval <= 0 {
		interval = DefaultAnnounceInterval
	}
	peerTimeout := cfg.PeerTimeout
	if peerTimeout <= 0 {
		peerTimeout = DefaultPeerTimeout
	}

	m := cfg.Metrics
	if m == nil {
		m = gvmetrics.NewNop()
	}

	d := &Discovery{
		log: log,

		conn:      cfg.Conn,
		groupAddr: cfg.GroupAddr,

		localID: cfg.LocalID,

		frame: frame,

		interval:    interval,
		peerTimeout: peerTimeout,

		sightings: cfg.Sightings,

		// Capacity one: a pending reactive announce
		// covers any newcomers that show up before it fires.
		announceNow: make(chan struct{}, 1),

		metrics: m,
	}

	// Closing the socket is what unblocks the read in listenLoop.
	context.AfterFunc(ctx, func() {
		_ = d.conn.Close()
	})

	d.wg.Add(2)
	go d.announceLoop(ctx)
	go d.listenLoop(ctx)

	return d, nil
}

// Wait blocks until the background goroutines started by [New] have finished.
func (d *Discovery) Wait() {
	d.wg.Wait()
}

func (d *Discovery) announceLoop(ctx context.Context) {
	defer d.wg.Done()

	// Announce immediately so a freshly started node
	// shows up without waiting a full interval.
	d.sendBeacon()

	t := time.NewTicker(d.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info(
				"Stopping announcer",
				"cause", context.Cause(ctx),
			)
			return
		case <-t.C:
			d.sendBeacon()
		case <-d.announceNow:
			d.sendBeacon()
		}
	}
}

func (d *Discovery) sendBeacon() {
	if _, err := d.conn.WriteTo(d.frame, d.groupAddr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			// Shutdown races the final tick.
			return
		}

		// Beacons are periodic, so the next tick is the retry.
		d.log.Warn(
			"Failed to send presence beacon",
			"err", err,
		)
		return
	}

	d.metrics.BeaconsSent.Inc()
}

func (d *Discovery) listenLoop(ctx context.Context) {
	defer d.wg.Done()

	// One byte beyond the cap, so an oversized datagram
	// reads as oversized instead of truncating to a plausible beacon.
	buf := make([]byte, MaxBeaconSize+1)

	// When we last heard each peer.
	// Only this goroutine touches it.
	lastHeard := make(map[gvpeer.ID]time.Time)

	// A burst of newcomers must not turn reactive announces
	// into a multicast storm.
	lim := rate.NewLimiter(rate.Limit(1), 4)

	for {
		n, _, err := d.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				d.log.Info(
					"Stopping listener",
					"cause", context.Cause(ctx),
				)
				return
			}

			d.log.Warn(
				"Failed to read from discovery socket",
				"err", err,
			)
			continue
		}

		b, err := DecodeBeacon(buf[:n])
		if err != nil {
			d.metrics.BeaconsDropped.Inc()
			d.log.Warn(
				"Dropping malformed beacon",
				"err", err,
			)
			continue
		}

		if b.ID == d.localID {
			// Multicast loopback is on,
			// so every node hears its own beacons.
			continue
		}

		now := time.Now()
		last, heard := lastHeard[b.ID]
		isNew := !heard || now.Sub(last) > d.peerTimeout
		if isNew {
			// New peers are rare,
			// which makes them a fine occasion to drop stale entries.
			for id, ts := range lastHeard {
				if now.Sub(ts) > d.peerTimeout {
					delete(lastHeard, id)
				}
			}
		}
		lastHeard[b.ID] = now

		select {
		case <-ctx.Done():
			d.log.Info(
				"Stopping listener",
				"cause", context.Cause(ctx),
			)
			return
		case d.sightings <- Sighting{ID: b.ID, Addrs: b.Addrs, Name: b.Name}:
			// Okay.
		}

		if isNew && lim.Allow() {
			select {
			case d.announceNow <- struct{}{}:
				// Okay.
			default:
				// An announce is already pending; it covers this newcomer too.
			}
		}
	}
}
