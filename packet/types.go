// Package packet frames and deframes datagrams exchanged by hosts.
//
// Every datagram starts with one header byte. The low three bits hold the
// packet type and the high five bits hold flags. When the Verified flag is
// set a little-endian CRC32 (IEEE) of the remaining bytes follows the
// header. The rest is the payload, compressed when the Compressed flag is
// set and, for Connected packets between encrypted peers, sealed by the
// peer session. Handshake packets travel in plaintext.
//
//	+--------+-----------------+------------------------+
//	| header | CRC32 (opt, LE) | payload                |
//	+--------+-----------------+------------------------+
package packet

import (
	"fmt"
	"strings"
)

// Type is the packet type stored in the low bits of the header.
type Type uint8

// Packet types.
const (
	TypeRequest     Type = 0 // connection request
	TypeUnconnected Type = 1 // datagram outside any peer
	TypeBroadcast   Type = 2 // broadcast datagram
	TypeConnected   Type = 3 // record between connected peers
	TypeReject      Type = 4 // connection request rejected
	TypeAccept      Type = 5 // connection request accepted
	TypeUnused1     Type = 6
	TypeUnused2     Type = 7
)

// Flags is the flag mask stored in the high bits of the header.
type Flags uint8

// Packet flags. Fragmented, Combined and Timed are reserved: packets
// carrying them are rejected.
const (
	FlagFragmented Flags = 0x08
	FlagCombined   Flags = 0x10
	FlagTimed      Flags = 0x20
	FlagVerified   Flags = 0x40
	FlagCompressed Flags = 0x80

	// FlagsReserved is the set of flags no packet may carry.
	FlagsReserved = FlagFragmented | FlagCombined | FlagTimed
)

const (
	typeMask  = 0x07
	flagsMask = 0xF8

	// HeaderSize is the size of the header byte.
	HeaderSize = 1

	// ChecksumSize is the size of the CRC32 that follows the header.
	ChecksumSize = 4
)

// Header packs a type and flags into a header byte.
func Header(t Type, f Flags) byte {
	return byte(t)&typeMask | byte(f)&flagsMask
}

// SplitHeader extracts the type and flags from a header byte.
func SplitHeader(b byte) (Type, Flags) {
	return Type(b & typeMask), Flags(b & flagsMask)
}

// Unused reports whether t is one of the unassigned types.
func (t Type) Unused() bool {
	return t == TypeUnused1 || t == TypeUnused2
}

// PeerAddressed reports whether packets of type t belong to an existing peer.
func (t Type) PeerAddressed() bool {
	return t == TypeConnected || t == TypeReject || t == TypeAccept
}

func (t Type) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeUnconnected:
		return "unconnected"
	case TypeBroadcast:
		return "broadcast"
	case TypeConnected:
		return "connected"
	case TypeReject:
		return "reject"
	case TypeAccept:
		return "accept"
	case TypeUnused1:
		return "unused1"
	case TypeUnused2:
		return "unused2"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Has reports whether all bits of flag are set.
func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, v := range []struct {
		flag Flags
		name string
	}{
		{FlagFragmented, "fragmented"},
		{FlagCombined, "combined"},
		{FlagTimed, "timed"},
		{FlagVerified, "verified"},
		{FlagCompressed, "compressed"},
	} {
		if f&v.flag != 0 {
			parts = append(parts, v.name)
		}
	}
	return strings.Join(parts, "|")
}
