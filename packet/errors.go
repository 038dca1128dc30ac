package packet

import (
	"errors"
	"fmt"
)

// ErrMalformed is the root of every framing error. Use errors.Is to test
// for it.
var ErrMalformed = errors.New("packet: malformed")

// Framing errors.
var (
	ErrEmpty         = fmt.Errorf("%w: empty packet", ErrMalformed)
	ErrUnusedType    = fmt.Errorf("%w: unused packet type", ErrMalformed)
	ErrReservedFlag  = fmt.Errorf("%w: reserved flag set", ErrMalformed)
	ErrChecksum      = fmt.Errorf("%w: checksum mismatch", ErrMalformed)
	ErrShortRead     = fmt.Errorf("%w: short read", ErrMalformed)
	ErrNoCompressor  = fmt.Errorf("%w: compressed packet without decompressor", ErrMalformed)
	ErrSealOverflow  = errors.New("packet: sealed payload exceeds buffer")
	ErrPayloadLength = fmt.Errorf("%w: payload length out of range", ErrMalformed)
)
