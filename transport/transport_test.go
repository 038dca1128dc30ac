package transport

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1.2.3.4:80", "1.2.3.4:80"},
		{"[::ffff:1.2.3.4]:80", "1.2.3.4:80"},
		{"[::1]:80", "[::1]:80"},
	}
	for _, tt := range tests {
		got := Normalize(netip.MustParseAddrPort(tt.in))
		if got != netip.MustParseAddrPort(tt.want) {
			t.Errorf("Normalize(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestDestination(t *testing.T) {
	v4 := netip.MustParseAddrPort("10.0.0.1:9000")
	v6 := netip.MustParseAddrPort("[2001:db8::1]:9000")

	got, err := Destination(v4, true)
	if err != nil || got != netip.MustParseAddrPort("[::ffff:10.0.0.1]:9000") {
		t.Errorf("Destination(v4, ipv6) = %s, %v", got, err)
	}
	got, err = Destination(v4, false)
	if err != nil || got != v4 {
		t.Errorf("Destination(v4, ipv4) = %s, %v", got, err)
	}
	if _, err := Destination(v6, false); !errors.Is(err, ErrAddressFamily) {
		t.Errorf("Destination(v6, ipv4) err = %v, want ErrAddressFamily", err)
	}
	if _, err := Destination(netip.AddrPort{}, true); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Destination(zero) err = %v, want ErrInvalidAddress", err)
	}
	if _, err := Destination(netip.MustParseAddrPort("10.0.0.1:0"), false); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Destination(port 0) err = %v, want ErrInvalidAddress", err)
	}
}

func TestMockNetwork(t *testing.T) {
	n := NewMockNetwork()
	a, err := n.Listen(netip.MustParseAddrPort("10.0.0.1:1000"))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := n.Listen(netip.MustParseAddrPort("10.0.0.2:1000"))
	defer a.Close()
	defer b.Close()

	if _, err := n.Listen(a.AddrPort()); !errors.Is(err, ErrAddressInUse) {
		t.Errorf("second Listen err = %v, want ErrAddressInUse", err)
	}

	if _, err := a.WriteToUDPAddrPort([]byte("hi"), netip.MustParseAddrPort("[::ffff:10.0.0.2]:1000")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	nr, from, err := b.ReadFromUDPAddrPort(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:nr]) != "hi" || from != a.AddrPort() {
		t.Errorf("read %q from %s", buf[:nr], from)
	}
	if IsIPv6(a) {
		t.Error("IPv4 mock socket reported as IPv6")
	}
}

func TestMockNetworkFilter(t *testing.T) {
	n := NewMockNetwork()
	a, _ := n.Listen(netip.MustParseAddrPort("10.0.0.1:1"))
	b, _ := n.Listen(netip.MustParseAddrPort("10.0.0.2:1"))

	var held atomic.Pointer[MockPacket]
	n.SetFilter(func(p MockPacket) bool {
		held.Store(&p)
		return false
	})
	a.WriteToUDPAddrPort([]byte("later"), b.AddrPort())

	p := held.Load()
	if p == nil {
		t.Fatal("filter did not see the packet")
	}
	select {
	case <-b.inbox:
		t.Fatal("filtered packet was delivered")
	default:
	}

	if !n.Deliver(*p) {
		t.Fatal("Deliver() = false")
	}
	buf := make([]byte, 16)
	nr, _, _ := b.ReadFromUDPAddrPort(buf)
	if string(buf[:nr]) != "later" {
		t.Errorf("read %q", buf[:nr])
	}
}

func TestMockNetworkBroadcast(t *testing.T) {
	n := NewMockNetwork()
	a, _ := n.Listen(netip.MustParseAddrPort("10.0.0.1:7"))
	b, _ := n.Listen(netip.MustParseAddrPort("10.0.0.2:7"))
	c, _ := n.Listen(netip.MustParseAddrPort("10.0.0.3:8"))

	a.WriteToUDPAddrPort([]byte("all"), netip.AddrPortFrom(BroadcastIPv4, 7))

	if len(b.inbox) != 1 {
		t.Errorf("b inbox = %d, want 1", len(b.inbox))
	}
	if len(a.inbox) != 0 || len(c.inbox) != 0 {
		t.Error("broadcast reached the sender or another port")
	}
}

func TestMockConnClose(t *testing.T) {
	n := NewMockNetwork()
	a, _ := n.Listen(netip.MustParseAddrPort("10.0.0.1:1"))

	done := make(chan error, 1)
	go func() {
		_, _, err := a.ReadFromUDPAddrPort(make([]byte, 1))
		done <- err
	}()
	a.Close()
	a.Close()

	select {
	case err := <-done:
		if !errors.Is(err, net.ErrClosed) {
			t.Errorf("read after close err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("read did not unblock on close")
	}
	if _, err := a.WriteToUDPAddrPort([]byte{1}, a.AddrPort()); !errors.Is(err, net.ErrClosed) {
		t.Errorf("write after close err = %v", err)
	}

	// The address is free again.
	if _, err := n.Listen(a.AddrPort()); err != nil {
		t.Errorf("Listen after close: %v", err)
	}
}

func TestListenIPv4(t *testing.T) {
	conn, report, err := Listen(context.Background(), Options{
		BindAddress:       netip.MustParseAddr("127.0.0.1"),
		TTL:               32,
		SendBufferSize:    64 * 1024,
		ReceiveBufferSize: 64 * 1024,
	})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer conn.Close()

	if IsIPv6(conn) {
		t.Error("IPv4 socket reported as IPv6")
	}
	if len(report.Entries) == 0 {
		t.Error("empty report")
	}
	if f := report.Failed(); len(f) != 0 {
		t.Logf("%s", report)
	}

	// Exclusive bind.
	port := conn.LocalAddr().(*net.UDPAddr).Port
	_, _, err = Listen(context.Background(), Options{
		BindAddress: netip.MustParseAddr("127.0.0.1"),
		Port:        uint16(port),
	})
	if err == nil {
		t.Error("second Listen on the same port succeeded")
	}

	// Loopback round trip.
	dst := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	if _, err := conn.WriteToUDPAddrPort([]byte("echo"), dst); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, _, err := conn.ReadFromUDPAddrPort(buf)
	if err != nil || string(buf[:n]) != "echo" {
		t.Errorf("read %q, %v", buf[:n], err)
	}
}

func TestListenDualMode(t *testing.T) {
	conn, _, err := Listen(context.Background(), Options{DualMode: true, TTL: 64})
	if err != nil {
		t.Skipf("dual-stack socket unavailable: %v", err)
	}
	defer conn.Close()

	if !IsIPv6(conn) {
		t.Fatal("dual-stack socket not reported as IPv6")
	}

	port := uint16(conn.LocalAddr().(*net.UDPAddr).Port)
	dst, err := Destination(netip.MustParseAddrPort("127.0.0.1:1"), true)
	if err != nil {
		t.Fatal(err)
	}
	dst = netip.AddrPortFrom(dst.Addr(), port)
	if _, err := conn.WriteToUDPAddrPort([]byte("v4"), dst); err != nil {
		t.Skipf("IPv4-mapped send unsupported: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, from, err := conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "v4" {
		t.Errorf("read %q", buf[:n])
	}
	if !Normalize(from).Addr().Is4() {
		t.Errorf("normalized sender %s is not IPv4", Normalize(from))
	}
}
