package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Options configures the socket created by Listen.
// Zero values leave the operating system defaults in place.
type Options struct {
	// DualMode binds an IPv6 socket that also accepts IPv4 traffic.
	DualMode bool

	// BindAddress is the local address. The zero value binds to all
	// interfaces.
	BindAddress netip.Addr

	// Port is the local port. Zero picks an ephemeral port.
	Port uint16

	// Broadcast enables SO_BROADCAST on IPv4 sockets and joins the
	// all-nodes group on IPv6 sockets.
	Broadcast bool

	// TTL sets the unicast TTL or hop limit.
	TTL int

	SendBufferSize    int
	ReceiveBufferSize int
}

// ReportEntry records the result of applying one socket option.
type ReportEntry struct {
	Name    string
	Applied bool
	Detail  string
	Err     error
}

// Report collects the results of the optional socket settings. Failures
// of optional settings never make Listen fail.
type Report struct {
	Entries []ReportEntry
}

func (r *Report) add(name, detail string, err error) {
	r.Entries = append(r.Entries, ReportEntry{Name: name, Applied: err == nil, Detail: detail, Err: err})
}

func (r *Report) String() string {
	var b strings.Builder
	b.WriteString("socket options:")
	for _, e := range r.Entries {
		if e.Applied {
			fmt.Fprintf(&b, " %s [ok]", e.Detail)
		} else {
			fmt.Fprintf(&b, " %s [%v]", e.Name, e.Err)
		}
	}
	return b.String()
}

// Failed returns the entries that could not be applied.
func (r *Report) Failed() []ReportEntry {
	var out []ReportEntry
	for _, e := range r.Entries {
		if !e.Applied {
			out = append(out, e)
		}
	}
	return out
}

// Listen creates a UDP socket configured by opts. The address is bound
// exclusively: another socket may not share it.
func Listen(ctx context.Context, opts Options) (*net.UDPConn, *Report, error) {
	network, laddr, err := opts.address()
	if err != nil {
		return nil, nil, err
	}

	lc := net.ListenConfig{Control: control(opts)}
	pc, err := lc.ListenPacket(ctx, network, laddr)
	if err != nil {
		return nil, nil, err
	}
	conn := pc.(*net.UDPConn)

	report := &Report{}
	if opts.ReceiveBufferSize > 0 {
		report.add("SO_RCVBUF", fmt.Sprintf("SO_RCVBUF=%d", opts.ReceiveBufferSize), conn.SetReadBuffer(opts.ReceiveBufferSize))
	}
	if opts.SendBufferSize > 0 {
		report.add("SO_SNDBUF", fmt.Sprintf("SO_SNDBUF=%d", opts.SendBufferSize), conn.SetWriteBuffer(opts.SendBufferSize))
	}

	if network == "udp6" {
		p := ipv6.NewPacketConn(conn)
		if opts.TTL > 0 {
			report.add("IPV6_UNICAST_HOPS", fmt.Sprintf("IPV6_UNICAST_HOPS=%d", opts.TTL), p.SetHopLimit(opts.TTL))
		}
		if opts.Broadcast {
			group := &net.UDPAddr{IP: AllNodesIPv6.AsSlice()}
			report.add("IPV6_JOIN_GROUP", "IPV6_JOIN_GROUP=ff02::1", p.JoinGroup(nil, group))
			report.add("IPV6_MULTICAST_LOOP", "IPV6_MULTICAST_LOOP=0", p.SetMulticastLoopback(false))
		}
		if opts.DualMode && opts.TTL > 0 {
			// IPv4 traffic on a dual-stack socket uses the IPv4 TTL.
			report.add("IP_TTL", fmt.Sprintf("IP_TTL=%d", opts.TTL), ipv4.NewConn(conn).SetTTL(opts.TTL))
		}
	} else if opts.TTL > 0 {
		report.add("IP_TTL", fmt.Sprintf("IP_TTL=%d", opts.TTL), ipv4.NewConn(conn).SetTTL(opts.TTL))
	}

	return conn, report, nil
}

func (o Options) address() (network, addr string, err error) {
	port := fmt.Sprint(o.Port)
	switch {
	case o.BindAddress.IsValid() && o.BindAddress.Unmap().Is4():
		return "udp4", net.JoinHostPort(o.BindAddress.Unmap().String(), port), nil
	case o.BindAddress.IsValid():
		return "udp6", net.JoinHostPort(o.BindAddress.String(), port), nil
	case o.DualMode:
		return "udp6", net.JoinHostPort("::", port), nil
	default:
		return "udp4", net.JoinHostPort("0.0.0.0", port), nil
	}
}
