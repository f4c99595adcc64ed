package gvflood

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/grapevine-net/grapevine/gvconn"
	"github.com/grapevine-net/grapevine/gvmetrics"
	"github.com/grapevine-net/grapevine/gvpeer"
	"github.com/grapevine-net/grapevine/gvwire"
)

// Router decides what happens to every gossip message:
// fresh messages fan out to the connected peers and may be
// delivered locally, duplicates are dropped.
//
// The router's state is confined to the owning goroutine;
// only the send workers run concurrently,
// and they see nothing but immutable frames and Conn handles.
type Router struct {
	log *slog.Logger

	localID gvpeer.ID

	seen *SeenSet

	// The sequence most recently allocated by Publish.
	lastSeq uint64

	// Topics with a local subscriber.
	topics map[string]struct{}

	// The active fanout set.
	conns map[gvpeer.ID]gvconn.Conn

	sendWork chan sendFrame

	metrics *gvmetrics.Metrics

	wg sync.WaitGroup
}

type RouterConfig struct {
	// LocalID is the origin stamped on published messages.
	LocalID gvpeer.ID

	// SeenWindowBits configures the dedup window; zero means the default.
	SeenWindowBits uint

	// SendWorkers is the number of goroutines draining the send queue.
	// Values below 2 are raised to 2.
	SendWorkers int

	// SendTimeout bounds each individual conn.Send,
	// so one stalled peer cannot pin a worker indefinitely.
	// Zero means one second.
	SendTimeout time.Duration

	// Metrics may be nil, in which case counts go to a no-op registry.
	Metrics *gvmetrics.Metrics
}

func NewRouter(ctx context.Context, log *slog.Logger, cfg RouterConfig) *Router {
	if cfg.LocalID == "" {
		panic(errors.New("BUG: RouterConfig.LocalID must not be empty"))
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = gvmetrics.NewNop()
	}

	workers := max(2, cfg.SendWorkers)

	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = time.Second
	}

	r := &Router{
		log: log,

		localID: cfg.LocalID,

		seen: NewSeenSet(SeenSetConfig{WindowBits: cfg.SeenWindowBits}),

		topics: map[string]struct{}{},
		conns:  map[gvpeer.ID]gvconn.Conn{},

		// Buffered so a typical full-fanout enqueue
		// doesn't block the owning goroutine on worker progress.
		sendWork: make(chan sendFrame, 4*workers),

		metrics: metrics,
	}

	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go runSendWorker(
			ctx,
			log.With("send_worker_idx", i),
			&r.wg,
			r.sendWork,
			timeout,
			metrics,
		)
	}

	return r
}

// Wait blocks until the send workers have stopped,
// which happens when the context given to NewRouter is canceled.
func (r *Router) Wait() {
	r.wg.Wait()
}

// Subscribe marks the local node as an application recipient for topic.
// OnReceive only reports delivery for subscribed topics.
func (r *Router) Subscribe(topic string) {
	r.topics[topic] = struct{}{}
}

// AddPeer adds the connection to the fanout set.
//
// The caller is responsible for resolving duplicate connections first;
// adding a second connection for the same peer panics.
func (r *Router) AddPeer(conn gvconn.Conn) {
	id := conn.Peer()
	if _, ok := r.conns[id]; ok {
		panic(fmt.Errorf(
			"BUG: attempted to add connection for peer %q when one already existed", id,
		))
	}

	r.conns[id] = conn
}

// RemovePeer removes the peer's connection from the fanout set,
// returning it so the caller can close it if the transport hasn't already.
// Removing an absent peer panics.
func (r *Router) RemovePeer(id gvpeer.ID) gvconn.Conn {
	c, ok := r.conns[id]
	if !ok {
		panic(fmt.Errorf(
			"BUG: attempted to remove connection for peer %q when none existed", id,
		))
	}

	delete(r.conns, id)
	return c
}

// HasPeer reports whether the fanout set has a connection for id.
func (r *Router) HasPeer(id gvpeer.ID) bool {
	_, ok := r.conns[id]
	return ok
}

// PeerConn returns the current connection for id, if any.
func (r *Router) PeerConn(id gvpeer.ID) (gvconn.Conn, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// NPeers returns the size of the fanout set.
func (r *Router) NPeers() int {
	return len(r.conns)
}

// Peers returns the connected peer IDs, sorted.
func (r *Router) Peers() []gvpeer.ID {
	out := make([]gvpeer.ID, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b gvpeer.ID) int {
		return strings.Compare(string(a), string(b))
	})
	return out
}

// Publish originates a new message on topic:
// it allocates the next local sequence, marks it seen,
// and enqueues the encoded frame to every connected peer.
//
// The returned envelope carries the allocated sequence.
// An error means the message was invalid and nothing was sent;
// the sequence is not consumed in that case.
func (r *Router) Publish(
	ctx context.Context, now time.Time, topic string, payload []byte,
) (gvwire.Envelope, error) {
	e := gvwire.Envelope{
		Origin:  r.localID,
		Seq:     r.lastSeq + 1,
		Topic:   topic,
		Payload: payload,
	}

	frame, err := gvwire.Marshal(e)
	if err != nil {
		return gvwire.Envelope{}, fmt.Errorf("failed to publish on topic %q: %w", topic, err)
	}

	r.lastSeq = e.Seq
	r.seen.Observe(r.localID, e.Seq, now)
	r.metrics.MessagesPublished.Inc()

	// No exclusions: everything local already saw it,
	// and the local node holds no connection to itself.
	r.fanout(ctx, frame, "", "")

	return e, nil
}

// OnReceive processes a decoded envelope that arrived from a peer,
// reporting whether the payload should be delivered
// to the local application layer.
//
// frame is the original encoded bytes;
// fresh messages forward it verbatim rather than re-encoding.
// Duplicates are a no-op regardless of which peer they arrive from.
func (r *Router) OnReceive(
	ctx context.Context,
	now time.Time,
	from gvpeer.ID,
	e gvwire.Envelope,
	frame []byte,
) (deliver bool) {
	r.metrics.MessagesReceived.Inc()

	if !r.seen.Observe(e.Origin, e.Seq, now) {
		r.metrics.MessagesDuplicate.Inc()
		return false
	}

	// Don't send it back to the peer it arrived from,
	// and don't send it to its origin either;
	// both have necessarily seen it already.
	// Correctness doesn't depend on this: the seen check on the
	// receiving side is what stops the flood from looping.
	r.fanout(ctx, frame, from, e.Origin)

	if _, ok := r.topics[e.Topic]; !ok {
		return false
	}

	r.metrics.MessagesDelivered.Inc()
	return true
}

// PruneSeen drops dedup state for origins idle longer than retention.
func (r *Router) PruneSeen(now time.Time, retention time.Duration) {
	if n := r.seen.PruneIdle(now, retention); n > 0 {
		r.log.Debug("Pruned idle gossip origins", "count", n)
	}
}

func (r *Router) fanout(ctx context.Context, frame []byte, exclude1, exclude2 gvpeer.ID) {
	for id, c := range r.conns {
		if id == exclude1 || id == exclude2 {
			continue
		}

		select {
		case <-ctx.Done():
			r.log.Info(
				"Context canceled while enqueueing gossip frame",
				"cause", context.Cause(ctx),
			)
			return

		case r.sendWork <- sendFrame{Conn: c, Frame: frame}:
			// Okay.
		}

		r.metrics.MessagesForwarded.Inc()
	}
}
