package transport

import (
	"net"
	"net/netip"
	"sync"
)

// MockPacket is a datagram in flight on a MockNetwork.
type MockPacket struct {
	From netip.AddrPort
	To   netip.AddrPort
	Data []byte
}

// MockNetwork is an in-memory datagram network for tests. Packets to an
// address nobody listens on are dropped, like UDP.
type MockNetwork struct {
	mu     sync.Mutex
	conns  map[netip.AddrPort]*MockConn
	filter func(MockPacket) bool
}

// NewMockNetwork creates an empty network.
func NewMockNetwork() *MockNetwork {
	return &MockNetwork{conns: make(map[netip.AddrPort]*MockConn)}
}

// Listen attaches a socket bound to addr.
func (n *MockNetwork) Listen(addr netip.AddrPort) (*MockConn, error) {
	addr = Normalize(addr)
	if !addr.IsValid() {
		return nil, ErrInvalidAddress
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.conns[addr]; ok {
		return nil, ErrAddressInUse
	}
	c := &MockConn{
		network: n,
		addr:    addr,
		inbox:   make(chan MockPacket, 1024),
		done:    make(chan struct{}),
	}
	n.conns[addr] = c
	return c, nil
}

// SetFilter installs a function that sees every written packet before it
// is delivered. Returning false drops the packet; the filter may keep it
// and hand it to Deliver later to simulate reordering or duplication.
// A nil filter delivers everything.
func (n *MockNetwork) SetFilter(f func(MockPacket) bool) {
	n.mu.Lock()
	n.filter = f
	n.mu.Unlock()
}

// Deliver puts p into the inbox of its destination, bypassing the filter.
// It reports whether any socket received it.
func (n *MockNetwork) Deliver(p MockPacket) bool {
	to := Normalize(p.To)

	n.mu.Lock()
	var targets []*MockConn
	if to.Addr() == BroadcastIPv4 || to.Addr() == AllNodesIPv6 {
		for addr, c := range n.conns {
			if addr.Port() == to.Port() && addr != Normalize(p.From) {
				targets = append(targets, c)
			}
		}
	} else if c, ok := n.conns[to]; ok {
		targets = append(targets, c)
	}
	n.mu.Unlock()

	delivered := false
	for _, c := range targets {
		if c.push(p) {
			delivered = true
		}
	}
	return delivered
}

func (n *MockNetwork) remove(c *MockConn) {
	n.mu.Lock()
	if n.conns[c.addr] == c {
		delete(n.conns, c.addr)
	}
	n.mu.Unlock()
}

func (n *MockNetwork) send(p MockPacket) {
	n.mu.Lock()
	filter := n.filter
	n.mu.Unlock()

	if filter != nil && !filter(p) {
		return
	}
	n.Deliver(p)
}

// MockConn is a socket on a MockNetwork. It implements Conn.
type MockConn struct {
	network *MockNetwork
	addr    netip.AddrPort
	inbox   chan MockPacket

	closeOnce sync.Once
	done      chan struct{}
}

func (c *MockConn) push(p MockPacket) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.inbox <- p:
		return true
	default:
		// Full receive buffer drops, as a kernel would.
		return false
	}
}

// ReadFromUDPAddrPort implements Conn.
func (c *MockConn) ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error) {
	select {
	case <-c.done:
		return 0, netip.AddrPort{}, net.ErrClosed
	case p := <-c.inbox:
		return copy(b, p.Data), p.From, nil
	}
}

// WriteToUDPAddrPort implements Conn.
func (c *MockConn) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	select {
	case <-c.done:
		return 0, net.ErrClosed
	default:
	}
	if !addr.IsValid() {
		return 0, ErrInvalidAddress
	}
	data := make([]byte, len(b))
	copy(data, b)
	c.network.send(MockPacket{From: c.addr, To: addr, Data: data})
	return len(b), nil
}

// LocalAddr implements Conn.
func (c *MockConn) LocalAddr() net.Addr {
	return net.UDPAddrFromAddrPort(c.addr)
}

// AddrPort returns the bound address.
func (c *MockConn) AddrPort() netip.AddrPort {
	return c.addr
}

// Close implements Conn.
func (c *MockConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.network.remove(c)
	})
	return nil
}
