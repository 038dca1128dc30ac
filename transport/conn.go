// Package transport provides the datagram sockets used by hosts: a real
// UDP socket configured from Options and an in-memory network for tests.
package transport

import (
	"errors"
	"net"
	"net/netip"
)

// Conn is a datagram socket. *net.UDPConn implements it.
type Conn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	LocalAddr() net.Addr
	Close() error
}

// Errors.
var (
	ErrInvalidAddress = errors.New("transport: invalid address")
	ErrAddressFamily  = errors.New("transport: address family not supported by socket")
	ErrAddressInUse   = errors.New("transport: address already in use")
)

var (
	// BroadcastIPv4 is the limited broadcast address.
	BroadcastIPv4 = netip.AddrFrom4([4]byte{255, 255, 255, 255})

	// AllNodesIPv6 is the link-local all-nodes multicast group used for
	// broadcasts on dual-stack sockets.
	AllNodesIPv6 = netip.MustParseAddr("ff02::1")
)

// Normalize returns the canonical form of addr used as a peer key:
// IPv4-mapped IPv6 addresses are collapsed to IPv4 and zones are kept.
func Normalize(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}

// IsIPv6 reports whether c is bound to an IPv6 (possibly dual-stack)
// address.
func IsIPv6(c Conn) bool {
	ua, ok := c.LocalAddr().(*net.UDPAddr)
	if !ok {
		return false
	}
	ap := ua.AddrPort()
	return ap.Addr().Is6() && !ap.Addr().Is4In6()
}

// Destination converts a normalized remote address into the form the
// socket expects. IPv4 addresses are mapped for IPv6 sockets; IPv6
// addresses cannot be reached from an IPv4 socket.
func Destination(addr netip.AddrPort, ipv6 bool) (netip.AddrPort, error) {
	if !addr.IsValid() || addr.Port() == 0 {
		return netip.AddrPort{}, ErrInvalidAddress
	}
	ip := addr.Addr().Unmap()
	switch {
	case ipv6 && ip.Is4():
		ip = netip.AddrFrom16(ip.As16())
	case !ipv6 && ip.Is6():
		return netip.AddrPort{}, ErrAddressFamily
	}
	return netip.AddrPortFrom(ip, addr.Port()), nil
}
