package host

import (
	"bytes"
	"net/netip"
	"sync/atomic"

	"github.com/vibing/supernet/packet"
)

// ConnectionRequest is a connection request received from an address
// without a peer. It must be answered at most once, with Accept or Reject.
type ConnectionRequest struct {
	host     *Host
	remote   netip.AddrPort
	key      []byte
	random   []byte
	message  []byte
	received uint32
	answered atomic.Bool
}

func newConnectionRequest(h *Host, remote netip.AddrPort, req *packet.Request) *ConnectionRequest {
	return &ConnectionRequest{
		host:     h,
		remote:   remote,
		key:      bytes.Clone(req.Key),
		random:   bytes.Clone(req.Random),
		message:  bytes.Clone(req.Message),
		received: h.Ticks(),
	}
}

// Host returns the host that received the request.
func (r *ConnectionRequest) Host() *Host { return r.host }

// Remote returns the normalized address of the requester.
func (r *ConnectionRequest) Remote() netip.AddrPort { return r.remote }

// Key returns the requester's exchanger public key.
func (r *ConnectionRequest) Key() []byte { return r.key }

// Random returns the requester's authentication challenge.
func (r *ConnectionRequest) Random() []byte { return r.random }

// Encrypted reports whether the requester offered a key exchange.
func (r *ConnectionRequest) Encrypted() bool { return len(r.key) > 0 }

// Authenticate reports whether the requester asked this host to prove its
// identity.
func (r *ConnectionRequest) Authenticate() bool { return len(r.random) > 0 }

// Message returns a reader over the request message.
func (r *ConnectionRequest) Message() *packet.Reader { return packet.NewReader(r.message) }

// Received returns the host tick the request arrived at.
func (r *ConnectionRequest) Received() uint32 { return r.received }

// Answered reports whether Accept or Reject was called successfully.
func (r *ConnectionRequest) Answered() bool { return r.answered.Load() }

// Accept calls Host.Accept.
func (r *ConnectionRequest) Accept(config PeerConfig, listener PeerListener) (*Peer, error) {
	return r.host.Accept(r, config, listener)
}

// Reject calls Host.Reject.
func (r *ConnectionRequest) Reject(message packet.Writable) error {
	return r.host.Reject(r, message)
}
