package crypt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	// SeedSize is the size of a private key seed.
	SeedSize = ed25519.SeedSize

	// PublicKeySize is the size of an authenticator public key.
	PublicKeySize = ed25519.PublicKeySize

	// SignatureSize is the size of a signature, and of the random
	// challenge a connecting peer sends when it wants the remote host to
	// prove its identity.
	SignatureSize = ed25519.SignatureSize
)

// ErrInvalidPrivateKey is returned for private keys of the wrong length.
var ErrInvalidPrivateKey = errors.New("crypt: invalid private key")

// Authenticator signs handshake data with a host's long-term Ed25519 key.
type Authenticator struct {
	private ed25519.PrivateKey
}

// NewAuthenticator creates an authenticator from a 32-byte seed or a
// 64-byte Ed25519 private key.
func NewAuthenticator(private []byte) (*Authenticator, error) {
	switch len(private) {
	case ed25519.SeedSize:
		return &Authenticator{private: ed25519.NewKeyFromSeed(private)}, nil
	case ed25519.PrivateKeySize:
		key := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
		copy(key, private)
		return &Authenticator{private: key}, nil
	default:
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPrivateKey, len(private))
	}
}

// PublicKey returns the public key remote peers use to verify this host.
func (a *Authenticator) PublicKey() []byte {
	return []byte(a.private.Public().(ed25519.PublicKey))
}

// Sign signs the concatenation of parts.
func (a *Authenticator) Sign(parts ...[]byte) []byte {
	return ed25519.Sign(a.private, concat(parts))
}

// Verify reports whether signature is a valid signature of the
// concatenation of parts by public.
func Verify(public, signature []byte, parts ...[]byte) bool {
	if len(public) != PublicKeySize || len(signature) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(public), concat(parts), signature)
}

// GenerateKey returns a new Ed25519 seed and its public key.
func GenerateKey() (seed, public []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return priv.Seed(), pub, nil
}

// Random returns n bytes from the system random source.
func Random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("crypt: random: %w", err)
	}
	return b, nil
}

func concat(parts [][]byte) []byte {
	if len(parts) == 1 {
		return parts[0]
	}
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
