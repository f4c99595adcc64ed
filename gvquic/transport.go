package gvquic

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/grapevine-net/grapevine/gvconn"
	"github.com/grapevine-net/grapevine/gvpeer"
	"github.com/grapevine-net/grapevine/gvwire"
)

// alpnProtocol is the ALPN identifier spoken on every connection.
const alpnProtocol = "grapevine/1"

// readFrameTimeout bounds reading one frame stream to EOF.
const readFrameTimeout = 5 * time.Second

// Transport listens for and dials QUIC connections,
// surfacing them to the engine as [gvconn.Change] values
// and their traffic as [gvconn.Inbound] frames.
//
// The transport does not deduplicate connections;
// two nodes dialing each other at once end up with two live pairs,
// and the engine picks which one survives.
type Transport struct {
	log *slog.Logger

	ident *Identity

	qt       *quic.Transport
	listener *quic.Listener

	quicConf  *quic.Config
	clientTLS *tls.Config

	inbound chan gvconn.Inbound
	changes chan gvconn.Change

	// Lifecycle context, captured at construction so connections
	// admitted later share the same shutdown signal.
	ctx context.Context

	wg sync.WaitGroup
}

type TransportConfig struct {
	// UDPConn is the socket QUIC runs on.
	// The caller keeps ownership and closes it after Wait returns.
	UDPConn *net.UDPConn

	// QUIC is the QUIC configuration; nil means [DefaultQUICConfig].
	QUIC *quic.Config

	// Identity is the node's keypair and certificate;
	// nil means a fresh ephemeral identity.
	Identity *Identity
}

// DefaultQUICConfig is the default QUIC configuration for a [TransportConfig].
func DefaultQUICConfig() *quic.Config {
	return &quic.Config{
		// Local networks are fast; a slow handshake is a dead peer.
		HandshakeIdleTimeout: 2 * time.Second,

		// Gossip is intermittent.
		// Keepalives stop the default 30s idle timeout
		// from severing healthy but quiet peerings.
		KeepAlivePeriod: 10 * time.Second,

		// Stream windows sized so one maximum frame
		// fits a stream without stalling on flow control.
		InitialStreamReceiveWindow: 32 * 1024,
		MaxStreamReceiveWindow:     2 * 1024 * 1024,

		InitialConnectionReceiveWindow: 4 * 32 * 1024,
		MaxConnectionReceiveWindow:     8 * 1024 * 1024,

		// One frame per uni stream; senders are throttled
		// by whatever of these the receiver hasn't drained yet.
		MaxIncomingUniStreams: 64,
	}
}

// New starts a transport on the given socket.
// Cancel the context to stop it,
// then use [(*Transport).Wait] to block until all workers finish.
func New(ctx context.Context, log *slog.Logger, cfg TransportConfig) (*Transport, error) {
	if cfg.UDPConn == nil {
		panic(errors.New("BUG: TransportConfig.UDPConn must not be nil"))
	}

	ident := cfg.Identity
	if ident == nil {
		var err error
		ident, err = NewIdentity()
		if err != nil {
			return nil, fmt.Errorf("failed to generate transport identity: %w", err)
		}
	}

	quicConf := cfg.QUIC
	if quicConf == nil {
		quicConf = DefaultQUICConfig()
	}

	qt := &quic.Transport{
		Conn: cfg.UDPConn,
	}

	serverTLS := &tls.Config{
		Certificates: []tls.Certificate{ident.tlsCert},
		ClientAuth:   tls.RequireAnyClientCert,

		VerifyPeerCertificate: verifyPeerCertificate,

		NextProtos: []string{alpnProtocol},
		MinVersion: tls.VersionTLS13,
	}

	// Chain verification is replaced wholesale:
	// the remote's key is its identity,
	// and VerifyPeerCertificate makes the only check that matters.
	clientTLS := &tls.Config{
		Certificates: []tls.Certificate{ident.tlsCert},

		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verifyPeerCertificate,

		NextProtos: []string{alpnProtocol},
		MinVersion: tls.VersionTLS13,
	}

	ln, err := qt.Listen(serverTLS, quicConf)
	if err != nil {
		return nil, fmt.Errorf("failed to set up QUIC listener: %w", err)
	}

	t := &Transport{
		log: log,

		ident: ident,

		qt:       qt,
		listener: ln,

		quicConf:  quicConf,
		clientTLS: clientTLS,

		// Arbitrary sizes assumed to be plenty.
		inbound: make(chan gvconn.Inbound, 64),
		changes: make(chan gvconn.Change, 16),

		ctx: ctx,
	}

	// Closing the listener unblocks Accept
	// even when it is mid-handshake.
	context.AfterFunc(ctx, func() {
		_ = ln.Close()
		_ = qt.Close()
	})

	t.wg.Add(1)
	go t.acceptLoop(ctx)

	return t, nil
}

// verifyPeerCertificate is the certificate check both TLS roles use
// in place of chain verification.
func verifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return errors.New("peer presented no certificate")
	}

	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("failed to parse peer certificate: %w", err)
	}

	_, err = PeerIDFromCert(cert)
	return err
}

// LocalID returns the peer ID of this transport's identity.
func (t *Transport) LocalID() gvpeer.ID {
	return t.ident.id
}

// Addr returns the address the listener is bound to,
// suitable for advertising to peers on the same network.
func (t *Transport) Addr() string {
	return t.listener.Addr().String()
}

// Inbound returns the channel of received frames.
func (t *Transport) Inbound() <-chan gvconn.Inbound {
	return t.inbound
}

// Changes returns the channel of connection add/remove events.
func (t *Transport) Changes() <-chan gvconn.Change {
	return t.changes
}

// Wait blocks until the accept loop and all connection workers stop.
func (t *Transport) Wait() {
	t.wg.Wait()
}

var _ gvconn.Dialer = (*Transport)(nil)

// Dial implements [gvconn.Dialer].
//
// On success the connection has already been announced
// on the Changes channel; the return value is for immediate use.
func (t *Transport) Dial(ctx context.Context, addr string) (gvconn.Conn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve peer address %q: %w", addr, err)
	}

	qc, err := t.qt.Dial(ctx, udpAddr, t.clientTLS, t.quicConf)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %q: %w", addr, err)
	}

	c, err := t.admit(qc, true)
	if err != nil {
		reason := "unusable identity"
		if errors.Is(err, ErrDialedSelf) {
			reason = "dialed self"
		}
		_ = qc.CloseWithError(closeCodeBadIdentity, reason)
		return nil, err
	}

	return c, nil
}

func (t *Transport) acceptLoop(ctx context.Context) {
	defer t.wg.Done()

	for {
		qc, err := t.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				t.log.Info(
					"Accept loop quitting",
					"cause", context.Cause(ctx),
				)
				return
			}

			// Debug-level because this could be spammy
			// if something is throwing garbage at the port.
			t.log.Debug("Failed to accept incoming connection", "err", err)
			continue
		}

		if _, err := t.admit(qc, false); err != nil {
			t.log.Info(
				"Rejecting incoming connection",
				"remote_addr", qc.RemoteAddr().String(),
				"err", err,
			)
			_ = qc.CloseWithError(closeCodeBadIdentity, "unusable identity")
			continue
		}
	}
}

// admit turns a handshaken QUIC connection into an engine connection:
// it derives the peer's identity, announces the connection
// on the changes channel, and starts its receive worker.
func (t *Transport) admit(qc quic.Connection, outbound bool) (*conn, error) {
	certs := qc.ConnectionState().TLS.PeerCertificates
	if len(certs) == 0 {
		panic(errors.New("IMPOSSIBLE: handshake completed with no peer certificate"))
	}

	peer, err := PeerIDFromCert(certs[0])
	if err != nil {
		return nil, err
	}

	if peer == t.ident.id {
		return nil, ErrDialedSelf
	}

	c := &conn{
		qc: qc,

		peer:     peer,
		outbound: outbound,
	}

	if !t.announce(gvconn.Change{Conn: c, Adding: true}) {
		// Shutting down; the engine will never see this connection.
		_ = qc.CloseWithError(closeCodeGoingAway, "node shutting down")
		return nil, context.Cause(t.ctx)
	}

	t.wg.Add(1)
	go t.receiveFrames(t.ctx, c)

	return c, nil
}

// announce delivers a connection change to the engine,
// reporting false if the transport is shutting down instead.
func (t *Transport) announce(ch gvconn.Change) bool {
	select {
	case <-t.ctx.Done():
		return false
	case t.changes <- ch:
		return true
	}
}

// receiveFrames drains one connection's frame streams for its lifetime.
//
// Streams are read sequentially, which bounds the node's memory use
// and roughly preserves the sender's frame order.
func (t *Transport) receiveFrames(ctx context.Context, c *conn) {
	defer t.wg.Done()

	for {
		s, err := c.qc.AcceptUniStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Shutdown; the engine tears down its own side.
				return
			}

			t.log.Info(
				"Connection closed",
				"peer", c.peer,
				"err", err,
			)
			t.announce(gvconn.Change{Conn: c, Adding: false})
			return
		}

		frame, err := readFrame(s)
		if err != nil {
			t.log.Debug(
				"Dropping unreadable frame stream",
				"peer", c.peer,
				"err", err,
			)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case t.inbound <- gvconn.Inbound{From: c.peer, Frame: frame}:
			// Okay.
		}
	}
}

// readFrame reads one frame stream to EOF,
// refusing streams that exceed the wire frame limit.
func readFrame(s quic.ReceiveStream) ([]byte, error) {
	if err := s.SetReadDeadline(time.Now().Add(readFrameTimeout)); err != nil {
		s.CancelRead(cancelCodeBadFrame)
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	frame, err := io.ReadAll(io.LimitReader(s, gvwire.MaxFrameSize+1))
	if err != nil {
		s.CancelRead(cancelCodeBadFrame)
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	if len(frame) > gvwire.MaxFrameSize {
		s.CancelRead(cancelCodeBadFrame)
		return nil, fmt.Errorf("frame exceeds %d byte limit", gvwire.MaxFrameSize)
	}

	return frame, nil
}
