// Package gvdiscotest provides an in-memory stand-in
// for the multicast group that discovery normally runs on,
// so multi-node tests never touch a real network interface.
package gvdiscotest

import (
	"bytes"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"
)

// Bus is a shared broadcast medium.
// Every datagram written by any member is delivered to all members,
// the sender included, matching a multicast socket
// with loopback enabled.
type Bus struct {
	mu      sync.Mutex
	members []*BusConn
}

func NewBus() *Bus {
	return &Bus{}
}

// Group returns the address members pass to discovery as the group.
// Writes to the bus ignore the destination,
// so the value only needs to be stable.
func (b *Bus) Group() net.Addr {
	return groupAddr{}
}

// Join attaches a new socket to the group.
func (b *Bus) Join() *BusConn {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &BusConn{
		bus:  b,
		addr: memberAddr(len(b.members)),

		// Sized far beyond what a discovery test generates.
		recv: make(chan busDatagram, 64),

		closed: make(chan struct{}),
	}
	b.members = append(b.members, c)

	return c
}

// deliver fans a datagram out to every live member.
// Members whose receive queue is full miss the datagram,
// exactly like a UDP socket with a full buffer.
func (b *Bus) deliver(d busDatagram) {
	b.mu.Lock()
	members := slices.Clone(b.members)
	b.mu.Unlock()

	for _, m := range members {
		select {
		case <-m.closed:
			// Okay.
		case m.recv <- d:
			// Okay.
		default:
			// Okay.
		}
	}
}

type busDatagram struct {
	data []byte
	from net.Addr
}

// BusConn is one member's socket on the bus.
type BusConn struct {
	bus  *Bus
	addr memberAddr

	recv chan busDatagram

	closeOnce sync.Once
	closed    chan struct{}
}

var _ net.PacketConn = (*BusConn)(nil)

func (c *BusConn) ReadFrom(p []byte) (int, net.Addr, error) {
	// Checked first so reads after Close fail deterministically
	// even with datagrams still queued.
	select {
	case <-c.closed:
		return 0, nil, net.ErrClosed
	default:
	}

	select {
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case d := <-c.recv:
		n := copy(p, d.data)
		return n, d.from, nil
	}
}

func (c *BusConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}

	c.bus.deliver(busDatagram{
		data: bytes.Clone(p),
		from: c.addr,
	})
	return len(p), nil
}

func (c *BusConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

func (c *BusConn) LocalAddr() net.Addr { return c.addr }

func (*BusConn) SetDeadline(time.Time) error      { return nil }
func (*BusConn) SetReadDeadline(time.Time) error  { return nil }
func (*BusConn) SetWriteDeadline(time.Time) error { return nil }

type groupAddr struct{}

func (groupAddr) Network() string { return "mem" }
func (groupAddr) String() string  { return "mem://disco" }

type memberAddr int

func (a memberAddr) Network() string { return "mem" }
func (a memberAddr) String() string  { return fmt.Sprintf("mem://disco/%d", int(a)) }
