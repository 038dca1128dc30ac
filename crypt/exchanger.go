// Package crypt implements the key exchange, authentication and session
// encryption used by connected peers.
//
// Key agreement is X25519. Session keys are derived from the shared secret
// and both public keys with HKDF over BLAKE2s, one key per direction.
// Packets are sealed with ChaCha20-Poly1305 using an explicit 64-bit
// counter nonce and checked against a sliding replay window.
package crypt

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

// KeySize is the size of exchanger public/private keys in bytes.
const KeySize = 32

// Key represents a 32-byte cryptographic key.
type Key [KeySize]byte

// IsZero returns true if the key is all zeros.
func (k Key) IsZero() bool {
	var zero Key
	return k == zero
}

// String returns the hex-encoded key.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// ErrInvalidPublicKey is returned when a remote public key cannot be used.
var ErrInvalidPublicKey = errors.New("crypt: invalid public key")

// Exchanger holds one side of an X25519 key agreement.
// A peer keeps the same exchanger for its lifetime so that a resent or
// simultaneous request derives the same session.
type Exchanger struct {
	private Key
	public  Key
}

// NewExchanger generates a new random exchanger key pair.
func NewExchanger() (*Exchanger, error) {
	return NewExchangerFrom(rand.Reader)
}

// NewExchangerFrom generates an exchanger key pair using the provided
// random source.
func NewExchangerFrom(random io.Reader) (*Exchanger, error) {
	var priv Key
	if _, err := io.ReadFull(random, priv[:]); err != nil {
		return nil, fmt.Errorf("crypt: failed to generate random key: %w", err)
	}

	// Clamp the private key for Curve25519
	// Reference: https://cr.yp.to/ecdh.html
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("crypt: failed to derive public key: %w", err)
	}

	e := &Exchanger{private: priv}
	copy(e.public[:], pub)
	return e, nil
}

// PublicKey returns the public half to send to the remote side.
func (e *Exchanger) PublicKey() []byte {
	return bytes.Clone(e.public[:])
}

// Derive performs the key agreement with the remote public key and returns
// a session. Both sides derive the same keys with send and receive swapped.
func (e *Exchanger) Derive(remote []byte) (*Session, error) {
	if len(remote) != KeySize {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(remote))
	}

	shared, err := curve25519.X25519(e.private[:], remote)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	// Low-order points produce an all-zero secret
	var secret Key
	copy(secret[:], shared)
	if secret.IsZero() {
		return nil, ErrInvalidPublicKey
	}

	// Order the public keys so both sides hash the same transcript.
	lo, hi := e.public[:], remote
	initiator := true
	if bytes.Compare(lo, hi) > 0 {
		lo, hi = hi, lo
		initiator = false
	}

	ck := Hash([]byte(protocolName), lo, hi)
	k1, k2 := KDF2(&ck, secret[:])

	if initiator {
		return NewSession(k1, k2)
	}
	return NewSession(k2, k1)
}

const protocolName = "supernet_x25519_chachapoly_blake2s"
