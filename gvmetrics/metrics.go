package gvmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter and gauge the engine maintains.
//
// Components take a *Metrics and increment fields directly;
// callers that don't care about observability use [NewNop]
// so no call site needs a nil check.
type Metrics struct {
	// Gossip traffic.
	MessagesPublished prometheus.Counter
	MessagesReceived  prometheus.Counter
	MessagesDuplicate prometheus.Counter
	MessagesForwarded prometheus.Counter
	MessagesDelivered prometheus.Counter
	SendFailures      prometheus.Counter

	// Membership.
	PeersLive      prometheus.Gauge
	ConnsLive      prometheus.Gauge
	PeersExpired   prometheus.Counter
	BeaconsSent    prometheus.Counter
	BeaconsDropped prometheus.Counter
}

// New registers the engine's collectors with reg and returns them.
// Registering the same names twice on one registry panics,
// so a process creates at most one Metrics per registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gv_messages_published_total",
			Help: "Messages originated by this node.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gv_messages_received_total",
			Help: "Gossip frames received from peers, including duplicates.",
		}),
		MessagesDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gv_messages_duplicate_total",
			Help: "Received frames discarded as already seen.",
		}),
		MessagesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gv_messages_forwarded_total",
			Help: "Frame transmissions to peers during flooding.",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gv_messages_delivered_total",
			Help: "Messages handed to the local application layer.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gv_send_failures_total",
			Help: "Frame sends that returned an error.",
		}),

		PeersLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gv_peers_live",
			Help: "Peers currently considered live.",
		}),
		ConnsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gv_connections_live",
			Help: "Transport connections currently in the gossip fanout set.",
		}),
		PeersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gv_peers_expired_total",
			Help: "Peers removed by the liveness timeout.",
		}),
		BeaconsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gv_beacons_sent_total",
			Help: "Discovery beacons transmitted, periodic and reactive.",
		}),
		BeaconsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gv_beacons_dropped_total",
			Help: "Received datagrams discarded as malformed beacons.",
		}),
	}

	reg.MustRegister(
		m.MessagesPublished,
		m.MessagesReceived,
		m.MessagesDuplicate,
		m.MessagesForwarded,
		m.MessagesDelivered,
		m.SendFailures,
		m.PeersLive,
		m.ConnsLive,
		m.PeersExpired,
		m.BeaconsSent,
		m.BeaconsDropped,
	)

	return m
}

// NewNop returns metrics backed by a private registry
// that is never served.
// The counters still work; the numbers just go nowhere.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns the HTTP handler serving the default registry,
// for processes that expose metrics without customizing registration.
func Handler() http.Handler {
	return promhttp.Handler()
}
