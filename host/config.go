package host

import (
	"net/netip"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vibing/supernet/compress"
	"github.com/vibing/supernet/transport"
)

// Host defaults.
const (
	DefaultReceiveMTU        = 1500
	DefaultReceiveCount      = 8
	DefaultTTL               = 64
	DefaultSendBufferSize    = 64 * 1024
	DefaultReceiveBufferSize = 64 * 1024
)

// Peer defaults.
const (
	DefaultConnectAttempts  = 12
	DefaultConnectDelay     = 250 * time.Millisecond
	DefaultDisconnectDelay  = 300 * time.Millisecond
	DefaultDuplicateTimeout = 5 * time.Second
	DefaultPingDelay        = time.Second
	DefaultResendDelay      = 200 * time.Millisecond
)

// HostConfig contains configuration for creating a Host.
// Zero values take the defaults above.
type HostConfig struct {
	// DualMode binds an IPv6 socket that also serves IPv4 peers.
	DualMode bool

	// Port is the local port. Zero picks an ephemeral port.
	Port uint16

	// BindAddress is the local address. The zero value binds all
	// interfaces.
	BindAddress netip.Addr

	// Broadcast enables SendBroadcast and the reception of broadcasts.
	Broadcast bool

	// Compression compresses outgoing packets when that makes them
	// smaller. Incoming compressed packets are always accepted.
	Compression bool

	// Compressor is used for compression and decompression.
	// Default: DEFLATE at the default level.
	Compressor compress.Compressor

	// CRC32 adds a checksum to outgoing packets.
	CRC32 bool

	TTL               int
	SendBufferSize    int
	ReceiveBufferSize int

	// ReceiveMTU is the size of the receive buffers and the largest
	// packet Send accepts.
	ReceiveMTU int

	// ReceiveCount bounds the number of datagrams processed concurrently.
	ReceiveCount int

	// PrivateKey is the Ed25519 seed or private key used to prove this
	// host's identity to peers that know its public key.
	PrivateKey []byte

	// Unencrypted disables the key exchange. Both hosts must agree.
	Unencrypted bool

	// RequestRate limits connection requests handed to the listener,
	// in requests per second. Zero disables the limit.
	RequestRate rate.Limit

	// RequestBurst is the burst size for RequestRate. Default: 16.
	RequestBurst int

	// Logger receives diagnostics. Default: the global zerolog logger.
	Logger *zerolog.Logger

	// Conn replaces the UDP socket (for testing). The host owns it and
	// closes it on Dispose.
	Conn transport.Conn
}

func (c HostConfig) withDefaults() HostConfig {
	if c.ReceiveMTU <= 0 {
		c.ReceiveMTU = DefaultReceiveMTU
	}
	if c.ReceiveCount <= 0 {
		c.ReceiveCount = DefaultReceiveCount
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = DefaultSendBufferSize
	}
	if c.ReceiveBufferSize <= 0 {
		c.ReceiveBufferSize = DefaultReceiveBufferSize
	}
	if c.Compressor == nil {
		c.Compressor = compress.NewDeflate(-1)
	}
	if c.RequestRate > 0 && c.RequestBurst <= 0 {
		c.RequestBurst = 16
	}
	return c
}

func (c HostConfig) socketOptions() transport.Options {
	return transport.Options{
		DualMode:          c.DualMode,
		BindAddress:       c.BindAddress,
		Port:              c.Port,
		Broadcast:         c.Broadcast,
		TTL:               c.TTL,
		SendBufferSize:    c.SendBufferSize,
		ReceiveBufferSize: c.ReceiveBufferSize,
	}
}

// PeerConfig contains configuration for a peer.
// Zero values take the defaults above.
type PeerConfig struct {
	// ConnectAttempts is the number of connection requests sent before
	// giving up.
	ConnectAttempts int

	// ConnectDelay is the interval between connection requests.
	ConnectDelay time.Duration

	// DisconnectDelay bounds how long Disconnect waits for the remote
	// acknowledgment.
	DisconnectDelay time.Duration

	// DuplicateTimeout disconnects the peer when nothing was received for
	// this long.
	DuplicateTimeout time.Duration

	// PingDelay is the interval between pings.
	PingDelay time.Duration

	// ResendDelay is the interval between resends of an unacknowledged
	// reliable message.
	ResendDelay time.Duration

	// RemotePublicKey, when set, requires the remote host to prove it
	// holds the matching Ed25519 private key.
	RemotePublicKey []byte
}

func (c PeerConfig) withDefaults() PeerConfig {
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = DefaultConnectAttempts
	}
	if c.ConnectDelay <= 0 {
		c.ConnectDelay = DefaultConnectDelay
	}
	if c.DisconnectDelay <= 0 {
		c.DisconnectDelay = DefaultDisconnectDelay
	}
	if c.DuplicateTimeout <= 0 {
		c.DuplicateTimeout = DefaultDuplicateTimeout
	}
	if c.PingDelay <= 0 {
		c.PingDelay = DefaultPingDelay
	}
	if c.ResendDelay <= 0 {
		c.ResendDelay = DefaultResendDelay
	}
	return c
}

// handshakeWindow is how long after connecting a repeated request from the
// same remote key is answered with the original Accept.
func (c PeerConfig) handshakeWindow() time.Duration {
	return time.Duration(c.ConnectAttempts) * c.ConnectDelay
}
