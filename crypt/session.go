package crypt

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// CounterSize is the size of the explicit nonce counter on the wire.
	CounterSize = 8

	// TagSize is the Poly1305 tag size.
	TagSize = chacha20poly1305.Overhead

	// MaxCounter is the last counter a session may use.
	MaxCounter = ^uint64(0) - 1
)

// Session errors.
var (
	ErrCounterExhausted = errors.New("crypt: nonce counter exhausted")
	ErrReplayDetected   = errors.New("crypt: replay detected")
	ErrDecryptionFailed = errors.New("crypt: decryption failed")
	ErrShortCiphertext  = errors.New("crypt: ciphertext too short")
)

// Session seals and opens packets with a pair of directional keys.
// It is safe for concurrent use.
type Session struct {
	send    cipher.AEAD
	recv    cipher.AEAD
	counter atomic.Uint64
	replay  ReplayFilter
}

// NewSession creates a session from directional keys.
func NewSession(sendKey, recvKey Key) (*Session, error) {
	send, err := chacha20poly1305.New(sendKey[:])
	if err != nil {
		return nil, err
	}
	recv, err := chacha20poly1305.New(recvKey[:])
	if err != nil {
		return nil, err
	}
	return &Session{send: send, recv: recv}, nil
}

// Overhead returns the number of bytes Seal adds to a plaintext.
func (s *Session) Overhead() int {
	return CounterSize + TagSize
}

// Seal appends the counter and the encrypted plaintext to dst.
func (s *Session) Seal(dst, plaintext []byte) ([]byte, error) {
	n := s.counter.Add(1) - 1
	if n >= MaxCounter {
		return nil, ErrCounterExhausted
	}

	var nonce [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[4:], n)

	dst = binary.LittleEndian.AppendUint64(dst, n)
	return s.send.Seal(dst, nonce[:], plaintext, nil), nil
}

// Open decrypts a sealed packet and appends the plaintext to dst.
// A counter is only recorded in the replay window after authentication.
func (s *Session) Open(dst, sealed []byte) ([]byte, error) {
	if len(sealed) < CounterSize+TagSize {
		return nil, ErrShortCiphertext
	}
	n := binary.LittleEndian.Uint64(sealed)

	var nonce [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[4:], n)

	out, err := s.recv.Open(dst, nonce[:], sealed[CounterSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if !s.replay.Accept(n) {
		return nil, ErrReplayDetected
	}
	return out, nil
}

// Sent returns the number of packets sealed so far.
func (s *Session) Sent() uint64 {
	return s.counter.Load()
}
