package gvdisco

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
)

// DefaultGroup is the multicast group and port
// that nodes announce on unless configured otherwise.
const DefaultGroup = "239.77.88.99:7799"

// Open joins the given multicast group ("host:port" with a multicast IPv4 host)
// and returns a socket ready for [Config.Conn],
// along with the resolved group address for [Config.GroupAddr].
//
// The socket has multicast loopback enabled,
// so several nodes on one machine discover each other,
// and a TTL of 1, so beacons never cross a router.
func Open(group string) (*net.UDPConn, *net.UDPAddr, error) {
	gaddr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, nil, fmt.Errorf(
			"failed to resolve multicast group %q: %w", group, err,
		)
	}
	if !gaddr.IP.IsMulticast() {
		return nil, nil, fmt.Errorf(
			"group %q does not name a multicast address", group,
		)
	}

	uc, err := net.ListenMulticastUDP("udp4", nil, gaddr)
	if err != nil {
		return nil, nil, fmt.Errorf(
			"failed to join multicast group %q: %w", group, err,
		)
	}

	pc := ipv4.NewPacketConn(uc)
	if err := pc.SetMulticastLoopback(true); err != nil {
		_ = uc.Close()
		return nil, nil, fmt.Errorf(
			"failed to enable multicast loopback: %w", err,
		)
	}
	if err := pc.SetMulticastTTL(1); err != nil {
		_ = uc.Close()
		return nil, nil, fmt.Errorf(
			"failed to set multicast TTL: %w", err,
		)
	}

	return uc, gaddr, nil
}
