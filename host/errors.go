package host

import (
	"errors"
	"fmt"

	"github.com/vibing/supernet/packet"
)

// Host errors.
var (
	ErrDisposed          = errors.New("host: disposed")
	ErrNotConnected      = errors.New("host: peer not connected")
	ErrBroadcastDisabled = errors.New("host: broadcast disabled")
	ErrMessageTooLarge   = errors.New("host: message too large")
	ErrAuthentication    = errors.New("host: authentication failed")
	ErrInvalidRequest    = errors.New("host: invalid connection request")
	ErrRequestAnswered   = errors.New("host: connection request already answered")
	ErrForeignRequest    = errors.New("host: connection request belongs to another host")
	ErrNoPrivateKey      = errors.New("host: no private key to sign with")
	ErrEncryptionMode    = errors.New("host: remote encryption mode does not match")
	ErrNilMessage        = errors.New("host: nil message")
)

// Format errors reported for received packets.
var (
	ErrUnknownPeer       = fmt.Errorf("%w: no peer for address", packet.ErrMalformed)
	ErrUnexpectedRequest = fmt.Errorf("%w: request for an established peer", packet.ErrMalformed)
	ErrUnknownRecord     = fmt.Errorf("%w: unknown record kind", packet.ErrMalformed)
)
