package crypt

import (
	"crypto/hmac"
	"hash"

	"golang.org/x/crypto/blake2s"
)

// HashSize is the BLAKE2s-256 output size.
const HashSize = 32

// Hash computes BLAKE2s-256 hash of the input data.
func Hash(data ...[]byte) Key {
	h, _ := blake2s.New256(nil)
	for _, d := range data {
		h.Write(d)
	}
	var out Key
	h.Sum(out[:0])
	return out
}

// HMAC computes HMAC-BLAKE2s-256.
func HMAC(key *Key, data ...[]byte) Key {
	mac := hmac.New(func() hash.Hash {
		h, _ := blake2s.New256(nil)
		return h
	}, key[:])
	for _, d := range data {
		mac.Write(d)
	}
	var out Key
	mac.Sum(out[:0])
	return out
}

// KDF2 derives two keys from a chaining key and input using HKDF.
//
//	secret  = HMAC(chainingKey, input)
//	output1 = HMAC(secret, 0x01)
//	output2 = HMAC(secret, output1 || 0x02)
func KDF2(chainingKey *Key, input []byte) (Key, Key) {
	secret := HMAC(chainingKey, input)
	k1 := HMAC(&secret, []byte{0x01})
	k2 := HMAC(&secret, k1[:], []byte{0x02})
	return k1, k2
}
