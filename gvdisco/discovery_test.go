package gvdisco_test

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/grapevine-net/grapevine/gvdisco"
	"github.com/grapevine-net/grapevine/gvmetrics"
	"github.com/grapevine-net/grapevine/gvpeer"
	"github.com/grapevine-net/grapevine/internal/gvtest"
)

var testGroupAddr = &net.UDPAddr{
	IP:   net.IPv4(239, 77, 88, 99),
	Port: 7799,
}

// memPacketConn is an in-memory stand-in for the multicast socket.
// Datagrams queued on recv come back from ReadFrom,
// and datagrams passed to WriteTo land on sent.
type memPacketConn struct {
	recv chan []byte
	sent chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newMemPacketConn() *memPacketConn {
	return &memPacketConn{
		recv:   make(chan []byte, 16),
		sent:   make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *memPacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case <-c.closed:
		return 0, nil, net.ErrClosed
	default:
	}

	select {
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case dg := <-c.recv:
		// Copy truncates like a real datagram read into a small buffer.
		return copy(p, dg), testGroupAddr, nil
	}
}

func (c *memPacketConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}

	select {
	case <-c.closed:
		return 0, net.ErrClosed
	case c.sent <- bytes.Clone(p):
		return len(p), nil
	}
}

func (c *memPacketConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

func (c *memPacketConn) LocalAddr() net.Addr { return testGroupAddr }

func (c *memPacketConn) SetDeadline(time.Time) error { return nil }

func (c *memPacketConn) SetReadDeadline(time.Time) error { return nil }

func (c *memPacketConn) SetWriteDeadline(time.Time) error { return nil }

type discoFixture struct {
	Conn      *memPacketConn
	Sightings chan gvdisco.Sighting
	Metrics   *gvmetrics.Metrics
}

func startDiscovery(t *testing.T, interval time.Duration) *discoFixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	f := &discoFixture{
		Conn:      newMemPacketConn(),
		Sightings: make(chan gvdisco.Sighting, 16),
		Metrics:   gvmetrics.New(prometheus.NewRegistry()),
	}

	d, err := gvdisco.New(ctx, gvtest.NewLogger(t), gvdisco.Config{
		LocalID:        "local",
		AdvertiseAddrs: []string{"127.0.0.1:9000"},
		Name:           "local-node",

		Conn:      f.Conn,
		GroupAddr: testGroupAddr,

		AnnounceInterval: interval,

		Sightings: f.Sightings,
		Metrics:   f.Metrics,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		d.Wait()
	})

	return f
}

func encodeBeacon(t *testing.T, b gvdisco.Beacon) []byte {
	t.Helper()

	data, err := gvdisco.EncodeBeacon(b)
	require.NoError(t, err)
	return data
}

func TestDiscovery_announcesImmediatelyAndOnTick(t *testing.T) {
	t.Parallel()

	f := startDiscovery(t, 10*time.Millisecond)

	frame := gvtest.ReceiveSoon(t, f.Conn.sent)
	b, err := gvdisco.DecodeBeacon(frame)
	require.NoError(t, err)
	require.Equal(t, gvdisco.Beacon{
		ID:    "local",
		Addrs: []string{"127.0.0.1:9000"},
		Name:  "local-node",
	}, b)

	// And again on the next tick, without any inbound traffic.
	_ = gvtest.ReceiveSoon(t, f.Conn.sent)
}

func TestDiscovery_reportsSightings(t *testing.T) {
	t.Parallel()

	f := startDiscovery(t, time.Hour)

	gvtest.SendSoon(t, f.Conn.recv, encodeBeacon(t, gvdisco.Beacon{
		ID:    "remote",
		Addrs: []string{"10.0.0.2:9000"},
		Name:  "pantry-pi",
	}))

	s := gvtest.ReceiveSoon(t, f.Sightings)
	require.Equal(t, gvdisco.Sighting{
		ID:    "remote",
		Addrs: []string{"10.0.0.2:9000"},
		Name:  "pantry-pi",
	}, s)
}

func TestDiscovery_ignoresOwnBeacons(t *testing.T) {
	t.Parallel()

	f := startDiscovery(t, time.Hour)

	// Our own beacon comes back through multicast loopback first.
	gvtest.SendSoon(t, f.Conn.recv, encodeBeacon(t, gvdisco.Beacon{
		ID:    "local",
		Addrs: []string{"127.0.0.1:9000"},
	}))
	gvtest.SendSoon(t, f.Conn.recv, encodeBeacon(t, gvdisco.Beacon{
		ID:    "remote",
		Addrs: []string{"10.0.0.2:9000"},
	}))

	// Datagrams are handled in order,
	// so the remote sighting arriving proves the local one was dropped.
	s := gvtest.ReceiveSoon(t, f.Sightings)
	require.Equal(t, gvpeer.ID("remote"), s.ID)
	gvtest.NotSending(t, f.Sightings)
}

func TestDiscovery_dropsBadDatagrams(t *testing.T) {
	t.Parallel()

	f := startDiscovery(t, time.Hour)

	gvtest.SendSoon(t, f.Conn.recv, []byte(`{"id":"broken`))
	gvtest.SendSoon(t, f.Conn.recv, bytes.Repeat([]byte("x"), gvdisco.MaxBeaconSize+100))
	gvtest.SendSoon(t, f.Conn.recv, encodeBeacon(t, gvdisco.Beacon{
		ID:    "remote",
		Addrs: []string{"10.0.0.2:9000"},
	}))

	s := gvtest.ReceiveSoon(t, f.Sightings)
	require.Equal(t, gvpeer.ID("remote"), s.ID)

	require.Equal(t, 2.0, testutil.ToFloat64(f.Metrics.BeaconsDropped))
}

func TestDiscovery_announcesReactivelyForNewPeers(t *testing.T) {
	t.Parallel()

	f := startDiscovery(t, time.Hour)

	// Drain the startup announcement.
	_ = gvtest.ReceiveSoon(t, f.Conn.sent)

	newcomer := encodeBeacon(t, gvdisco.Beacon{
		ID:    "newcomer",
		Addrs: []string{"10.0.0.2:9000"},
	})

	gvtest.SendSoon(t, f.Conn.recv, newcomer)
	_ = gvtest.ReceiveSoon(t, f.Sightings)

	// An unheard-of peer gets one announce ahead of schedule.
	frame := gvtest.ReceiveSoon(t, f.Conn.sent)
	b, err := gvdisco.DecodeBeacon(frame)
	require.NoError(t, err)
	require.Equal(t, gvpeer.ID("local"), b.ID)

	// Hearing the same peer again shortly after does not.
	gvtest.SendSoon(t, f.Conn.recv, newcomer)
	_ = gvtest.ReceiveSoon(t, f.Sightings)
	gvtest.NotSending(t, f.Conn.sent)
}

func TestDiscovery_closesSocketOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := newMemPacketConn()
	d, err := gvdisco.New(ctx, gvtest.NewLogger(t), gvdisco.Config{
		LocalID:        "local",
		AdvertiseAddrs: []string{"127.0.0.1:9000"},

		Conn:      conn,
		GroupAddr: testGroupAddr,

		Sightings: make(chan gvdisco.Sighting, 1),
	})
	require.NoError(t, err)

	_ = gvtest.ReceiveSoon(t, conn.sent)

	cancel()
	d.Wait()

	_, err = conn.WriteTo([]byte("x"), testGroupAddr)
	require.ErrorIs(t, err, net.ErrClosed)
}

func TestNew_errorsWithoutAdvertiseAddrs(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := gvdisco.New(ctx, gvtest.NewLogger(t), gvdisco.Config{
		LocalID: "local",

		Conn:      newMemPacketConn(),
		GroupAddr: testGroupAddr,

		Sightings: make(chan gvdisco.Sighting, 1),
	})
	require.ErrorIs(t, err, gvdisco.ErrNoBeaconAddrs)
}

func TestNew_panicsOnBadConfig(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := gvtest.NewLogger(t)

	valid := func() gvdisco.Config {
		return gvdisco.Config{
			LocalID:        "local",
			AdvertiseAddrs: []string{"127.0.0.1:9000"},

			Conn:      newMemPacketConn(),
			GroupAddr: testGroupAddr,

			Sightings: make(chan gvdisco.Sighting, 1),
		}
	}

	tt := []struct {
		name   string
		mutate func(*gvdisco.Config)
	}{
		{
			name:   "empty local ID",
			mutate: func(cfg *gvdisco.Config) { cfg.LocalID = "" },
		},
		{
			name:   "nil conn",
			mutate: func(cfg *gvdisco.Config) { cfg.Conn = nil },
		},
		{
			name:   "nil group address",
			mutate: func(cfg *gvdisco.Config) { cfg.GroupAddr = nil },
		},
		{
			name:   "nil sightings channel",
			mutate: func(cfg *gvdisco.Config) { cfg.Sightings = nil },
		},
	}

	for _, tc := range tt {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tc.mutate(&cfg)

			require.Panics(t, func() {
				_, _ = gvdisco.New(ctx, log, cfg)
			})
		})
	}
}
