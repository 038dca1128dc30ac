// Package host implements reliable peer-to-peer messaging over one UDP
// socket.
//
// A Host owns the socket, a table of peers keyed by normalized remote
// address, and a receive loop. Peers connect with a request/accept
// handshake that exchanges X25519 keys and optionally proves the accepting
// host's Ed25519 identity. Connected peers exchange records sealed with
// ChaCha20-Poly1305: data messages with per-channel reliability, ordering
// and duplicate suppression, acknowledgments, pings and disconnects.
package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/vibing/supernet/alloc"
	"github.com/vibing/supernet/crypt"
	"github.com/vibing/supernet/packet"
	"github.com/vibing/supernet/transport"
)

// Host is the owner of one socket and of every peer reached through it.
type Host struct {
	config   HostConfig
	listener HostListener
	log      zerolog.Logger

	conn     transport.Conn
	ipv6     bool
	alloc    *alloc.Allocator
	codec    *packet.Codec
	auth     *crypt.Authenticator
	requests *rate.Limiter
	start    time.Time

	mu    sync.RWMutex
	peers map[netip.AddrPort]*Peer

	sem      *semaphore.Weighted
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	disposed atomic.Bool
	closing  atomic.Bool

	stats counters
}

// New creates a host and starts its receive loop. listener may be nil.
func New(config HostConfig, listener HostListener) (*Host, error) {
	cfg := config.withDefaults()
	if listener == nil {
		listener = &HostEvents{}
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().Str("component", "host").Logger()

	var auth *crypt.Authenticator
	if len(cfg.PrivateKey) > 0 {
		var err error
		if auth, err = crypt.NewAuthenticator(cfg.PrivateKey); err != nil {
			return nil, err
		}
	}

	conn := cfg.Conn
	if conn == nil {
		udp, report, err := transport.Listen(context.Background(), cfg.socketOptions())
		if err != nil {
			return nil, fmt.Errorf("host: listen: %w", err)
		}
		for _, e := range report.Failed() {
			logger.Debug().Str("option", e.Name).Err(e.Err).Msg("socket option not applied")
		}
		conn = udp
	}

	a := alloc.New()
	h := &Host{
		config:   cfg,
		listener: listener,
		log:      logger,
		conn:     conn,
		ipv6:     transport.IsIPv6(conn),
		alloc:    a,
		codec: &packet.Codec{
			Allocator:      a,
			Compressor:     cfg.Compressor,
			Compress:       cfg.Compression,
			CRC:            cfg.CRC32,
			DecompressSize: cfg.ReceiveMTU,
		},
		auth:     auth,
		start:    time.Now(),
		peers:    make(map[netip.AddrPort]*Peer),
		sem:      semaphore.NewWeighted(int64(cfg.ReceiveCount)),
		loopDone: make(chan struct{}),
	}
	if cfg.RequestRate > 0 {
		h.requests = rate.NewLimiter(cfg.RequestRate, cfg.RequestBurst)
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())

	go h.receiveLoop()

	h.log.Info().
		Stringer("local", conn.LocalAddr()).
		Bool("ipv6", h.ipv6).
		Bool("encrypted", !cfg.Unencrypted).
		Bool("authenticated", auth != nil).
		Msg("host started")
	return h, nil
}

// LocalAddr returns the socket address.
func (h *Host) LocalAddr() net.Addr {
	return h.conn.LocalAddr()
}

// AddrPort returns the socket address as a netip.AddrPort.
func (h *Host) AddrPort() netip.AddrPort {
	if ua, ok := h.conn.LocalAddr().(*net.UDPAddr); ok {
		return transport.Normalize(ua.AddrPort())
	}
	return netip.AddrPort{}
}

// Config returns the configuration with defaults applied.
func (h *Host) Config() HostConfig {
	return h.config
}

// PublicKey returns the Ed25519 public key peers use to authenticate this
// host, or nil when the host has no private key.
func (h *Host) PublicKey() []byte {
	if h.auth == nil {
		return nil
	}
	return h.auth.PublicKey()
}

// Ticks returns the milliseconds elapsed since the host was created.
func (h *Host) Ticks() uint32 {
	return uint32(time.Since(h.start) / time.Millisecond)
}

// Statistics returns the host traffic counters.
func (h *Host) Statistics() Statistics {
	return h.stats.snapshot()
}

// Disposed reports whether Dispose was called.
func (h *Host) Disposed() bool {
	return h.disposed.Load()
}

// Allocator returns the buffer allocator shared by the host and its peers.
func (h *Host) Allocator() *alloc.Allocator {
	return h.alloc
}

// Connect returns the peer for remote, creating it and starting the
// handshake if there is none. The outcome is reported to listener.
func (h *Host) Connect(remote netip.AddrPort, config PeerConfig, listener PeerListener, message packet.Writable) (*Peer, error) {
	if h.disposed.Load() || h.closing.Load() {
		return nil, ErrDisposed
	}
	remote = transport.Normalize(remote)
	dest, err := transport.Destination(remote, h.ipv6)
	if err != nil {
		return nil, err
	}

	var msg []byte
	if message != nil {
		w := packet.NewWriter(nil)
		w.Write(message)
		msg = w.Bytes()
	}
	size := packet.RequestHeaderSize + crypt.KeySize + crypt.SignatureSize + len(msg)
	if size+h.codec.Overhead() > h.config.ReceiveMTU {
		return nil, ErrMessageTooLarge
	}

	p, _, err := h.findOrCreate(remote, dest, config, listener)
	if err != nil {
		return nil, err
	}
	if err := p.connect(msg); err != nil {
		p.dispose(ReasonException, nil, err)
		return nil, err
	}
	return p, nil
}

// Accept answers a connection request and returns the connected peer.
func (h *Host) Accept(request *ConnectionRequest, config PeerConfig, listener PeerListener) (*Peer, error) {
	if h.disposed.Load() || h.closing.Load() {
		return nil, ErrDisposed
	}
	if request == nil {
		return nil, ErrInvalidRequest
	}
	if request.host != h {
		return nil, ErrForeignRequest
	}
	if request.answered.Load() {
		return nil, ErrRequestAnswered
	}
	if len(config.RemotePublicKey) > 0 {
		return nil, fmt.Errorf("%w: an inbound request cannot prove the remote identity", ErrAuthentication)
	}
	if err := h.checkRequest(request.key, request.random); err != nil {
		return nil, err
	}
	if !request.answered.CompareAndSwap(false, true) {
		return nil, ErrRequestAnswered
	}

	dest, err := transport.Destination(request.remote, h.ipv6)
	if err != nil {
		return nil, err
	}
	p, created, err := h.findOrCreate(request.remote, dest, config, listener)
	if err != nil {
		return nil, err
	}
	if err := p.accept(request.key, request.random); err != nil {
		if created {
			p.dispose(ReasonException, nil, err)
		}
		return nil, err
	}
	return p, nil
}

// checkRequest validates the key and challenge lengths of a request
// against this host's configuration.
func (h *Host) checkRequest(key, random []byte) error {
	switch len(key) {
	case 0:
		if !h.config.Unencrypted {
			return fmt.Errorf("%w: request without key", ErrEncryptionMode)
		}
	case crypt.KeySize:
		if h.config.Unencrypted {
			return fmt.Errorf("%w: request with key", ErrEncryptionMode)
		}
	default:
		return fmt.Errorf("%w: key length %d", ErrInvalidRequest, len(key))
	}

	switch len(random) {
	case 0:
	case crypt.SignatureSize:
		if h.auth == nil {
			return ErrNoPrivateKey
		}
	default:
		return fmt.Errorf("%w: random length %d", ErrInvalidRequest, len(random))
	}
	return nil
}

// Reject answers a connection request with a Reject packet carrying
// message. No peer is created.
func (h *Host) Reject(request *ConnectionRequest, message packet.Writable) error {
	if h.disposed.Load() {
		return ErrDisposed
	}
	if request == nil {
		return ErrInvalidRequest
	}
	if request.host != h {
		return ErrForeignRequest
	}
	if !request.answered.CompareAndSwap(false, true) {
		return ErrRequestAnswered
	}
	dest, err := transport.Destination(request.remote, h.ipv6)
	if err != nil {
		return err
	}
	_, err = h.sendMessage(dest, packet.TypeReject, message)
	return err
}

// SendUnconnected sends message to remote outside any peer.
func (h *Host) SendUnconnected(remote netip.AddrPort, message packet.Writable) (int, error) {
	if h.disposed.Load() {
		return 0, ErrDisposed
	}
	dest, err := transport.Destination(remote, h.ipv6)
	if err != nil {
		return 0, err
	}
	return h.sendMessage(dest, packet.TypeUnconnected, message)
}

// SendBroadcast sends message to every host listening on port on the
// local network. IPv6 sockets use the all-nodes multicast group.
func (h *Host) SendBroadcast(port uint16, message packet.Writable) (int, error) {
	if h.disposed.Load() {
		return 0, ErrDisposed
	}
	if !h.config.Broadcast {
		return 0, ErrBroadcastDisabled
	}
	dest := netip.AddrPortFrom(transport.BroadcastIPv4, port)
	if h.ipv6 {
		dest = netip.AddrPortFrom(transport.AllNodesIPv6, port)
	}
	return h.sendMessage(dest, packet.TypeBroadcast, message)
}

// SendAll sends message to every connected peer not in exclude.
func (h *Host) SendAll(message Message, exclude ...*Peer) error {
	if h.disposed.Load() {
		return ErrDisposed
	}
	if message == nil {
		return ErrNilMessage
	}
	for _, p := range h.Peers() {
		if p.State() != StateConnected || slices.Contains(exclude, p) {
			continue
		}
		if _, err := p.Send(message); err != nil {
			h.log.Debug().Stringer("remote", p.remote).Err(err).Msg("send to peer failed")
		}
	}
	return nil
}

// FindPeer returns the peer for remote, or nil.
func (h *Host) FindPeer(remote netip.AddrPort) *Peer {
	if !remote.IsValid() {
		return nil
	}
	remote = transport.Normalize(remote)
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peers[remote]
}

// Peers returns a snapshot of all peers.
func (h *Host) Peers() []*Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	peers := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	return peers
}

// Dispose closes the socket and disposes every peer immediately.
// Messages in flight are dropped. Calling it again does nothing.
func (h *Host) Dispose() error {
	if !h.disposed.CompareAndSwap(false, true) {
		return nil
	}
	h.cancel()
	err := h.conn.Close()

	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[netip.AddrPort]*Peer)
	h.mu.Unlock()

	for _, p := range peers {
		p.dispose(ReasonDisposed, nil, nil)
	}

	h.safe("OnHostShutdown", h.listener.OnHostShutdown)
	h.log.Info().Stringer("local", h.conn.LocalAddr()).Msg("host disposed")
	return err
}

// Shutdown disconnects every peer, then disposes the host and waits for
// the receive loop to stop. Peers that do not acknowledge the disconnect
// within their DisconnectDelay are dropped.
func (h *Host) Shutdown(ctx context.Context) error {
	if h.disposed.Load() {
		return nil
	}
	h.closing.Store(true)

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range h.Peers() {
		g.Go(func() error {
			err := p.Disconnect(gctx, nil)
			if errors.Is(err, ErrDisposed) || errors.Is(err, ErrNotConnected) {
				return nil
			}
			return err
		})
	}
	err := g.Wait()

	if derr := h.Dispose(); err == nil {
		err = derr
	}

	select {
	case <-h.loopDone:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (h *Host) findOrCreate(remote, dest netip.AddrPort, config PeerConfig, listener PeerListener) (*Peer, bool, error) {
	h.mu.RLock()
	p := h.peers[remote]
	h.mu.RUnlock()
	if p != nil && !p.Disposed() {
		return p, false, nil
	}

	np, err := newPeer(h, remote, dest, config, listener)
	if err != nil {
		return nil, false, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed.Load() {
		np.cancel()
		return nil, false, ErrDisposed
	}
	if p := h.peers[remote]; p != nil && !p.Disposed() {
		np.cancel()
		return p, false, nil
	}
	h.peers[remote] = np
	return np, true, nil
}

func (h *Host) removePeer(p *Peer) {
	h.mu.Lock()
	if h.peers[p.remote] == p {
		delete(h.peers, p.remote)
	}
	h.mu.Unlock()
}

// send frames payload and writes it to dest.
func (h *Host) send(dest netip.AddrPort, t packet.Type, payload []byte, sealer packet.Sealer) (int, error) {
	if h.disposed.Load() {
		return 0, ErrDisposed
	}
	buf, err := h.codec.Encode(t, payload, sealer)
	if err != nil {
		return 0, err
	}
	defer h.codec.Release(buf)

	n, err := h.conn.WriteToUDPAddrPort(buf, dest)
	if err != nil {
		return n, err
	}
	h.stats.sent(n)
	return n, nil
}

// sendMessage serializes message into a pooled buffer and sends it
// unsealed.
func (h *Host) sendMessage(dest netip.AddrPort, t packet.Type, message packet.Writable) (int, error) {
	buf := h.alloc.Acquire(h.config.ReceiveMTU)
	defer h.alloc.Release(buf)

	w := packet.NewWriter(buf[:0])
	w.Write(message)
	if w.Len()+h.codec.Overhead() > h.config.ReceiveMTU {
		return 0, ErrMessageTooLarge
	}
	return h.send(dest, t, w.Bytes(), nil)
}

func (h *Host) receiveLoop() {
	defer close(h.loopDone)

	for {
		if err := h.sem.Acquire(h.ctx, 1); err != nil {
			return
		}
		buf := h.alloc.Acquire(h.config.ReceiveMTU)
		n, from, err := h.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			h.alloc.Release(buf)
			h.sem.Release(1)
			if h.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			h.exception(netip.AddrPort{}, err)
			continue
		}
		go h.process(buf, n, from)
	}
}

// process handles one datagram. It owns buf and one semaphore slot.
func (h *Host) process(buf []byte, n int, from netip.AddrPort) {
	defer h.sem.Release(1)
	defer h.alloc.Release(buf)

	data := buf[:n]
	remote := transport.Normalize(from)
	h.stats.received(n)

	h.safe("OnHostReceiveSocket", func() {
		h.listener.OnHostReceiveSocket(remote, data)
	})

	if len(data) == 0 {
		h.drop(remote, packet.ErrEmpty)
		return
	}

	t, flags := packet.SplitHeader(data[0])
	if t.PeerAddressed() {
		p := h.FindPeer(remote)
		if p == nil {
			h.drop(remote, fmt.Errorf("%w: %v packet", ErrUnknownPeer, t))
			return
		}
		p.receive(t, data)
		return
	}

	pk, err := h.codec.Decode(data, nil)
	if err != nil {
		h.log.Debug().
			Stringer("remote", remote).
			Stringer("type", t).
			Stringer("flags", flags).
			Int("len", n).
			Err(err).
			Msg("dropped packet")
		h.drop(remote, err)
		return
	}
	defer pk.Release()

	switch t {
	case packet.TypeRequest:
		h.receiveRequest(remote, pk.Payload)
	case packet.TypeUnconnected:
		h.safe("OnHostReceiveUnconnected", func() {
			h.listener.OnHostReceiveUnconnected(remote, packet.NewReader(pk.Payload))
		})
	case packet.TypeBroadcast:
		h.safe("OnHostReceiveBroadcast", func() {
			h.listener.OnHostReceiveBroadcast(remote, packet.NewReader(pk.Payload))
		})
	}
}

func (h *Host) receiveRequest(remote netip.AddrPort, payload []byte) {
	req, err := packet.ParseRequest(payload)
	if err != nil {
		h.drop(remote, err)
		return
	}
	if h.closing.Load() {
		return
	}

	if p := h.FindPeer(remote); p != nil {
		if err := p.receiveRequest(req); err != nil {
			h.drop(remote, err)
		}
		return
	}

	if h.requests != nil && !h.requests.Allow() {
		h.stats.dropped.Add(1)
		h.log.Debug().Stringer("remote", remote).Msg("connection request rate limited")
		return
	}

	cr := newConnectionRequest(h, remote, req)
	h.safe("OnHostReceiveRequest", func() {
		h.listener.OnHostReceiveRequest(cr, cr.Message())
	})
}

// drop counts a discarded packet and reports it.
func (h *Host) drop(remote netip.AddrPort, err error) {
	h.stats.dropped.Add(1)
	h.exception(remote, err)
}

// exception reports err to the listener unless the host is gone.
func (h *Host) exception(remote netip.AddrPort, err error) {
	if h.disposed.Load() {
		return
	}
	h.safe("OnHostException", func() {
		h.listener.OnHostException(remote, err)
	})
}

// safe runs a listener callback and contains its panics.
func (h *Host) safe(callback string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Str("callback", callback).Interface("panic", r).Msg("listener panicked")
		}
	}()
	fn()
}
