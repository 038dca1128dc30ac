package host

import (
	"net/netip"
	"time"

	"github.com/vibing/supernet/packet"
)

// HostListener receives host-level events. Readers passed to listener
// methods are only valid for the duration of the call.
type HostListener interface {
	// OnHostReceiveRequest is called for a connection request from an
	// address without a peer. Answer it with Accept or Reject.
	OnHostReceiveRequest(request *ConnectionRequest, message *packet.Reader)
	// OnHostReceiveSocket is called with every raw datagram.
	OnHostReceiveSocket(remote netip.AddrPort, data []byte)
	OnHostReceiveUnconnected(remote netip.AddrPort, message *packet.Reader)
	OnHostReceiveBroadcast(remote netip.AddrPort, message *packet.Reader)
	// OnHostException is called for dropped packets and socket errors.
	// remote is the zero value when no address is involved.
	OnHostException(remote netip.AddrPort, err error)
	OnHostShutdown()
}

// PeerListener receives events of one peer.
type PeerListener interface {
	OnPeerConnect(peer *Peer)
	// OnPeerDisconnect is called exactly once per peer. message is the
	// remote's disconnect or reject message and may be nil.
	OnPeerDisconnect(peer *Peer, message *packet.Reader, reason DisconnectReason, err error)
	OnPeerReceive(peer *Peer, message *packet.Reader, info MessageReceived)
	OnPeerUpdateRTT(peer *Peer, rtt time.Duration)
	OnPeerException(peer *Peer, err error)
}

// MessageListener receives events of one sent message.
type MessageListener interface {
	OnMessageSend(peer *Peer, message *MessageSent)
	OnMessageAcknowledge(peer *Peer, message *MessageSent)
}

// HostEvents implements HostListener with optional functions.
type HostEvents struct {
	ReceiveRequest     func(request *ConnectionRequest, message *packet.Reader)
	ReceiveSocket      func(remote netip.AddrPort, data []byte)
	ReceiveUnconnected func(remote netip.AddrPort, message *packet.Reader)
	ReceiveBroadcast   func(remote netip.AddrPort, message *packet.Reader)
	Exception          func(remote netip.AddrPort, err error)
	Shutdown           func()
}

func (e *HostEvents) OnHostReceiveRequest(request *ConnectionRequest, message *packet.Reader) {
	if e.ReceiveRequest != nil {
		e.ReceiveRequest(request, message)
	}
}

func (e *HostEvents) OnHostReceiveSocket(remote netip.AddrPort, data []byte) {
	if e.ReceiveSocket != nil {
		e.ReceiveSocket(remote, data)
	}
}

func (e *HostEvents) OnHostReceiveUnconnected(remote netip.AddrPort, message *packet.Reader) {
	if e.ReceiveUnconnected != nil {
		e.ReceiveUnconnected(remote, message)
	}
}

func (e *HostEvents) OnHostReceiveBroadcast(remote netip.AddrPort, message *packet.Reader) {
	if e.ReceiveBroadcast != nil {
		e.ReceiveBroadcast(remote, message)
	}
}

func (e *HostEvents) OnHostException(remote netip.AddrPort, err error) {
	if e.Exception != nil {
		e.Exception(remote, err)
	}
}

func (e *HostEvents) OnHostShutdown() {
	if e.Shutdown != nil {
		e.Shutdown()
	}
}

// PeerEvents implements PeerListener with optional functions.
type PeerEvents struct {
	Connect    func(peer *Peer)
	Disconnect func(peer *Peer, message *packet.Reader, reason DisconnectReason, err error)
	Receive    func(peer *Peer, message *packet.Reader, info MessageReceived)
	UpdateRTT  func(peer *Peer, rtt time.Duration)
	Exception  func(peer *Peer, err error)
}

func (e *PeerEvents) OnPeerConnect(peer *Peer) {
	if e.Connect != nil {
		e.Connect(peer)
	}
}

func (e *PeerEvents) OnPeerDisconnect(peer *Peer, message *packet.Reader, reason DisconnectReason, err error) {
	if e.Disconnect != nil {
		e.Disconnect(peer, message, reason, err)
	}
}

func (e *PeerEvents) OnPeerReceive(peer *Peer, message *packet.Reader, info MessageReceived) {
	if e.Receive != nil {
		e.Receive(peer, message, info)
	}
}

func (e *PeerEvents) OnPeerUpdateRTT(peer *Peer, rtt time.Duration) {
	if e.UpdateRTT != nil {
		e.UpdateRTT(peer, rtt)
	}
}

func (e *PeerEvents) OnPeerException(peer *Peer, err error) {
	if e.Exception != nil {
		e.Exception(peer, err)
	}
}

// MessageEvents implements MessageListener with optional functions.
type MessageEvents struct {
	Send        func(peer *Peer, message *MessageSent)
	Acknowledge func(peer *Peer, message *MessageSent)
}

func (e *MessageEvents) OnMessageSend(peer *Peer, message *MessageSent) {
	if e.Send != nil {
		e.Send(peer, message)
	}
}

func (e *MessageEvents) OnMessageAcknowledge(peer *Peer, message *MessageSent) {
	if e.Acknowledge != nil {
		e.Acknowledge(peer, message)
	}
}
