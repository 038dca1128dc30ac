package host

import (
	"bytes"
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibing/supernet/crypt"
	"github.com/vibing/supernet/packet"
)

// PeerState represents the connection state of a peer.
type PeerState int

const (
	// StateDisconnected indicates the peer is not connected.
	StateDisconnected PeerState = iota
	// StateConnecting indicates a handshake is in progress.
	StateConnecting
	// StateConnected indicates the connection is established.
	StateConnected
	// StateDisconnecting indicates a disconnect is waiting for the remote
	// acknowledgment.
	StateDisconnecting
)

func (s PeerState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// DisconnectReason tells why a peer was disconnected.
type DisconnectReason int

const (
	// ReasonDisconnected means the local side called Disconnect.
	ReasonDisconnected DisconnectReason = iota
	// ReasonTerminated means the remote side disconnected.
	ReasonTerminated
	// ReasonTimeout means the handshake or the remote stopped answering.
	ReasonTimeout
	// ReasonRejected means the remote rejected the connection request.
	ReasonRejected
	// ReasonDisposed means the peer or its host was disposed.
	ReasonDisposed
	// ReasonException means a local error ended the connection.
	ReasonException
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonDisconnected:
		return "disconnected"
	case ReasonTerminated:
		return "terminated"
	case ReasonTimeout:
		return "timeout"
	case ReasonRejected:
		return "rejected"
	case ReasonDisposed:
		return "disposed"
	case ReasonException:
		return "exception"
	default:
		return "unknown"
	}
}

// Peer is the connection to one remote host.
type Peer struct {
	host     *Host
	remote   netip.AddrPort
	dest     netip.AddrPort
	config   PeerConfig
	listener PeerListener
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	state       PeerState
	exchanger   *crypt.Exchanger // nil when unencrypted
	session     *crypt.Session
	remoteKey   []byte
	challenge   []byte
	connectedAt time.Time
	sendSeq     [4][256]uint16

	// Smoothed round trip time and the remote clock offset in ticks.
	rtt       time.Duration
	offset    uint32
	hasOffset bool

	disposed     atomic.Bool
	disconnected chan struct{}
	ackOnce      sync.Once

	flightMu sync.Mutex
	inflight map[flightKey]*MessageSent

	// recvMu serializes data delivery.
	recvMu sync.Mutex
	recv   map[uint16]*recvState

	lastReceived atomic.Uint32
	stats        counters
}

func newPeer(h *Host, remote, dest netip.AddrPort, config PeerConfig, listener PeerListener) (*Peer, error) {
	if listener == nil {
		listener = &PeerEvents{}
	}
	p := &Peer{
		host:         h,
		remote:       remote,
		dest:         dest,
		config:       config.withDefaults(),
		listener:     listener,
		log:          h.log.With().Stringer("remote", remote).Logger(),
		disconnected: make(chan struct{}),
		inflight:     make(map[flightKey]*MessageSent),
		recv:         make(map[uint16]*recvState),
	}
	if !h.config.Unencrypted {
		ex, err := crypt.NewExchanger()
		if err != nil {
			return nil, err
		}
		p.exchanger = ex
	}
	p.ctx, p.cancel = context.WithCancel(h.ctx)
	return p, nil
}

// Host returns the host the peer belongs to.
func (p *Peer) Host() *Host { return p.host }

// Remote returns the normalized remote address.
func (p *Peer) Remote() netip.AddrPort { return p.remote }

// Config returns the peer configuration with defaults applied.
func (p *Peer) Config() PeerConfig { return p.config }

// State returns the current connection state.
func (p *Peer) State() PeerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// RTT returns the smoothed round trip time, or zero before the first
// pong.
func (p *Peer) RTT() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rtt
}

// Disposed reports whether the peer was disposed.
func (p *Peer) Disposed() bool { return p.disposed.Load() }

// Statistics returns the traffic counters of this peer.
func (p *Peer) Statistics() Statistics { return p.stats.snapshot() }

// Inflight returns the number of reliable messages awaiting an
// acknowledgment.
func (p *Peer) Inflight() int {
	p.flightMu.Lock()
	defer p.flightMu.Unlock()
	return len(p.inflight)
}

// PeerInfo contains read-only information about a peer.
type PeerInfo struct {
	Remote      netip.AddrPort
	State       PeerState
	Encrypted   bool
	ConnectedAt time.Time
	RTT         time.Duration
	Inflight    int
	Statistics
}

// Info returns a snapshot of the peer's information.
func (p *Peer) Info() PeerInfo {
	p.mu.RLock()
	info := PeerInfo{
		Remote:      p.remote,
		State:       p.state,
		Encrypted:   p.session != nil,
		ConnectedAt: p.connectedAt,
		RTT:         p.rtt,
	}
	p.mu.RUnlock()
	info.Inflight = p.Inflight()
	info.Statistics = p.stats.snapshot()
	return info
}

// Dispose drops the peer immediately without notifying the remote.
func (p *Peer) Dispose() {
	p.dispose(ReasonDisposed, nil, nil)
}

// Disconnect notifies the remote and waits up to DisconnectDelay for its
// acknowledgment before disposing the peer. In-flight messages are
// abandoned. A peer that is not connected yet is disposed at once.
func (p *Peer) Disconnect(ctx context.Context, message packet.Writable) error {
	if p.disposed.Load() {
		return ErrDisposed
	}

	p.mu.Lock()
	switch p.state {
	case StateDisconnecting:
		p.mu.Unlock()
		return ErrNotConnected
	case StateConnected:
		p.state = StateDisconnecting
		p.mu.Unlock()
	default:
		p.state = StateDisconnected
		p.mu.Unlock()
		p.dispose(ReasonDisconnected, nil, nil)
		return nil
	}

	p.stopInflight()
	if err := p.sendRecord(disconnectRecord(message)); err != nil {
		p.host.exception(p.remote, err)
	}

	timer := time.NewTimer(p.config.DisconnectDelay)
	defer timer.Stop()

	var err error
	select {
	case <-p.disconnected:
	case <-timer.C:
		p.log.Debug().Msg("disconnect not acknowledged")
	case <-p.ctx.Done():
	case <-ctx.Done():
		err = ctx.Err()
	}
	p.dispose(ReasonDisconnected, nil, nil)
	return err
}

// dispose ends the peer. Only the first call has an effect.
func (p *Peer) dispose(reason DisconnectReason, message []byte, err error) {
	if !p.disposed.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	p.state = StateDisconnected
	p.mu.Unlock()

	p.cancel()
	p.stopInflight()
	p.host.removePeer(p)

	ev := p.log.Debug().Stringer("reason", reason)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("peer disconnected")

	var rd *packet.Reader
	if message != nil {
		rd = packet.NewReader(message)
	}
	p.host.safe("OnPeerDisconnect", func() {
		p.listener.OnPeerDisconnect(p, rd, reason, err)
	})
}

// connect starts the outbound handshake. It does nothing unless the peer
// is disconnected.
func (p *Peer) connect(message []byte) error {
	p.mu.Lock()
	if p.disposed.Load() {
		p.mu.Unlock()
		return ErrDisposed
	}
	if p.state != StateDisconnected {
		p.mu.Unlock()
		return nil
	}

	req := &packet.Request{Message: message}
	if p.exchanger != nil {
		req.Key = p.exchanger.PublicKey()
	}
	if len(p.config.RemotePublicKey) > 0 {
		challenge, err := crypt.Random(crypt.SignatureSize)
		if err != nil {
			p.mu.Unlock()
			return err
		}
		p.challenge = challenge
		req.Random = challenge
	}
	p.state = StateConnecting
	p.mu.Unlock()

	w := packet.NewWriter(nil)
	w.Write(req)
	go p.connectLoop(w.Bytes())

	p.log.Debug().Bool("authenticate", req.Random != nil).Msg("connecting")
	return nil
}

func (p *Peer) connectLoop(request []byte) {
	ticker := time.NewTicker(p.config.ConnectDelay)
	defer ticker.Stop()

	for attempt := 0; attempt < p.config.ConnectAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
			}
		}
		if p.State() != StateConnecting {
			return
		}
		if _, err := p.host.send(p.dest, packet.TypeRequest, request, nil); err != nil {
			p.host.exception(p.remote, err)
		}
	}

	select {
	case <-p.ctx.Done():
		return
	case <-ticker.C:
	}

	p.mu.Lock()
	if p.state != StateConnecting {
		p.mu.Unlock()
		return
	}
	p.state = StateDisconnected
	p.mu.Unlock()
	p.dispose(ReasonTimeout, nil, nil)
}

// establish derives the session for the remote exchanger key. Called with
// mu held.
func (p *Peer) establish(key []byte) error {
	if p.exchanger == nil {
		if len(key) != 0 {
			return ErrEncryptionMode
		}
	} else {
		if len(key) != crypt.KeySize {
			return ErrEncryptionMode
		}
		s, err := p.exchanger.Derive(key)
		if err != nil {
			return err
		}
		p.session = s
	}
	p.remoteKey = bytes.Clone(key)
	p.state = StateConnected
	p.connectedAt = time.Now()
	return nil
}

// buildAccept serializes an Accept answering a request with the given
// challenge.
func (p *Peer) buildAccept(random []byte) ([]byte, error) {
	acc := &packet.Accept{}
	if p.exchanger != nil {
		acc.Key = p.exchanger.PublicKey()
	}
	if len(random) > 0 {
		if p.host.auth == nil {
			return nil, ErrNoPrivateKey
		}
		acc.Signature = p.host.auth.Sign(random, acc.Key)
	}
	w := packet.NewWriter(nil)
	w.Write(acc)
	return w.Bytes(), nil
}

// accept completes an inbound handshake and answers it.
func (p *Peer) accept(key, random []byte) error {
	accept, err := p.buildAccept(random)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.disposed.Load() {
		p.mu.Unlock()
		return ErrDisposed
	}
	if p.state == StateConnected || p.state == StateDisconnecting {
		p.mu.Unlock()
		return nil
	}
	if err := p.establish(key); err != nil {
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	if _, err := p.host.send(p.dest, packet.TypeAccept, accept, nil); err != nil {
		p.host.exception(p.remote, err)
	}
	p.connected()
	return nil
}

// receiveRequest handles a request from the address of an existing peer.
func (p *Peer) receiveRequest(req *packet.Request) error {
	p.mu.RLock()
	state, remoteKey, at := p.state, p.remoteKey, p.connectedAt
	p.mu.RUnlock()

	switch state {
	case StateConnecting:
		// Both sides connected to each other at once. A peer that demands
		// proof of identity waits for the remote Accept instead.
		if len(p.config.RemotePublicKey) > 0 {
			return nil
		}
		if err := p.host.checkRequest(req.Key, req.Random); err != nil {
			return err
		}
		return p.accept(req.Key, req.Random)
	case StateConnected:
		if !bytes.Equal(req.Key, remoteKey) || time.Since(at) > p.config.handshakeWindow() {
			return ErrUnexpectedRequest
		}
		// The remote missed our Accept.
		accept, err := p.buildAccept(req.Random)
		if err != nil {
			return err
		}
		if _, err := p.host.send(p.dest, packet.TypeAccept, accept, nil); err != nil {
			p.host.exception(p.remote, err)
		}
		return nil
	default:
		return ErrUnexpectedRequest
	}
}

func (p *Peer) handleAccept(payload []byte) error {
	acc, err := packet.ParseAccept(payload)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.state != StateConnecting {
		p.mu.Unlock()
		return nil
	}
	if len(p.config.RemotePublicKey) > 0 &&
		!crypt.Verify(p.config.RemotePublicKey, acc.Signature, p.challenge, acc.Key) {
		p.mu.Unlock()
		return ErrAuthentication
	}
	if err := p.establish(acc.Key); err != nil {
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	p.connected()
	return nil
}

func (p *Peer) handleReject(payload []byte) {
	p.mu.Lock()
	if p.state != StateConnecting {
		p.mu.Unlock()
		return
	}
	p.state = StateDisconnected
	p.mu.Unlock()
	p.dispose(ReasonRejected, bytes.Clone(payload), nil)
}

// connected runs once the handshake completed on either side.
func (p *Peer) connected() {
	if p.disposed.Load() {
		return
	}
	p.lastReceived.Store(p.host.Ticks())
	p.log.Debug().Bool("encrypted", p.exchanger != nil).Msg("peer connected")

	p.host.safe("OnPeerConnect", func() {
		p.listener.OnPeerConnect(p)
	})

	// Reliable messages queued while connecting go out now.
	p.flightMu.Lock()
	for _, m := range p.inflight {
		m.wake()
	}
	p.flightMu.Unlock()

	go p.pingLoop()
}

// pingLoop measures the round trip time and disposes the peer when the
// remote stays silent for DuplicateTimeout.
func (p *Peer) pingLoop() {
	ticker := time.NewTicker(p.config.PingDelay)
	defer ticker.Stop()

	for {
		if p.State() == StateConnected {
			now := p.host.Ticks()
			idle := time.Duration(now-p.lastReceived.Load()) * time.Millisecond
			if idle >= p.config.DuplicateTimeout {
				p.dispose(ReasonTimeout, nil, nil)
				return
			}
			if err := p.sendRecord(pingRecord(now)); err != nil {
				p.host.exception(p.remote, err)
			}
		}
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// exception reports a packet that could not be processed. The connection
// survives.
func (p *Peer) exception(err error) {
	p.host.stats.dropped.Add(1)
	if p.disposed.Load() {
		return
	}
	p.log.Debug().Err(err).Msg("peer exception")
	p.host.safe("OnPeerException", func() {
		p.listener.OnPeerException(p, err)
	})
}
