package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/vibing/supernet/compress"
)

// Allocator supplies packet buffers.
type Allocator interface {
	Acquire(size int) []byte
	Release(buf []byte)
}

// Sealer encrypts outgoing payloads. dst has enough capacity for the
// plaintext plus Overhead bytes.
type Sealer interface {
	Overhead() int
	Seal(dst, plaintext []byte) ([]byte, error)
}

// Opener decrypts incoming payloads.
type Opener interface {
	Open(dst, sealed []byte) ([]byte, error)
}

// Codec frames and deframes packets.
// A Codec is safe for concurrent use once configured.
type Codec struct {
	// Allocator supplies buffers. Nil allocates from the heap.
	Allocator Allocator

	// Compressor decompresses incoming packets and, when Compress is
	// set, compresses outgoing ones.
	Compressor compress.Compressor

	// Compress enables compression of outgoing payloads. A payload is
	// sent compressed only if that makes it smaller.
	Compress bool

	// CRC enables the CRC32 on outgoing packets. Incoming checksums are
	// always verified when present.
	CRC bool

	// DecompressSize is the initial buffer size for decompressed payloads.
	// Zero uses 4 times the compressed length.
	DecompressSize int
}

// Packet is a decoded packet. Payload may point into a buffer owned by the
// packet; call Release once the payload is no longer used.
type Packet struct {
	Type    Type
	Flags   Flags
	Payload []byte

	bufs  [2][]byte
	alloc Allocator
}

// Release returns the packet's buffers to the allocator.
// It is safe to call more than once.
func (p *Packet) Release() {
	if p.alloc != nil {
		for i, b := range p.bufs {
			if b != nil {
				p.alloc.Release(b)
				p.bufs[i] = nil
			}
		}
	}
	p.Payload = nil
}

func (c *Codec) acquire(n int) []byte {
	if c.Allocator == nil {
		return make([]byte, n)
	}
	return c.Allocator.Acquire(n)
}

// Release returns a buffer produced by Encode.
func (c *Codec) Release(buf []byte) {
	if c.Allocator != nil && buf != nil {
		c.Allocator.Release(buf)
	}
}

// Overhead returns the largest number of bytes Encode adds to a payload
// that does not compress, excluding the sealer overhead.
func (c *Codec) Overhead() int {
	if c.CRC {
		return HeaderSize + ChecksumSize
	}
	return HeaderSize
}

// Encode frames payload as a packet of type t. The payload is compressed
// first, then sealed when sealer is not nil, then checksummed. The result
// comes from the allocator and must be handed back with Release.
func (c *Codec) Encode(t Type, payload []byte, sealer Sealer) ([]byte, error) {
	var flags Flags
	body := payload

	var scratch []byte
	if c.Compress && c.Compressor != nil && len(payload) > 0 {
		scratch = c.acquire(c.Compressor.MaxCompressedLength(len(payload)))
		n, err := c.Compressor.Compress(scratch, payload)
		switch {
		case err == nil && n < len(payload):
			body = scratch[:n]
			flags |= FlagCompressed
		case err == nil, errors.Is(err, compress.ErrShortBuffer):
			// Send uncompressed.
		default:
			c.Release(scratch)
			return nil, fmt.Errorf("packet: compress: %w", err)
		}
	}
	defer c.Release(scratch)

	hdr := HeaderSize
	if c.CRC {
		hdr += ChecksumSize
		flags |= FlagVerified
	}
	overhead := 0
	if sealer != nil {
		overhead = sealer.Overhead()
	}

	out := c.acquire(hdr + len(body) + overhead)
	n := len(body)
	if sealer != nil {
		sealed, err := sealer.Seal(out[hdr:hdr], body)
		if err != nil {
			c.Release(out)
			return nil, err
		}
		if len(sealed) > len(out)-hdr {
			c.Release(out)
			return nil, ErrSealOverflow
		}
		n = copy(out[hdr:], sealed)
	} else {
		copy(out[hdr:], body)
	}
	out = out[:hdr+n]

	if c.CRC {
		binary.LittleEndian.PutUint32(out[HeaderSize:], crc32.ChecksumIEEE(out[hdr:]))
	}
	out[0] = Header(t, flags)
	return out, nil
}

// Decode deframes data. Checks run in wire order: header, reserved flags,
// checksum, then opener, then decompression. data is not modified and must
// stay valid for as long as the returned packet when neither opener nor
// decompression copied it.
func (c *Codec) Decode(data []byte, opener Opener) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, ErrEmpty
	}
	t, flags := SplitHeader(data[0])
	if t.Unused() {
		return nil, ErrUnusedType
	}
	if flags&FlagsReserved != 0 {
		return nil, ErrReservedFlag
	}

	body := data[HeaderSize:]
	if flags.Has(FlagVerified) {
		if len(body) < ChecksumSize {
			return nil, ErrChecksum
		}
		sum := binary.LittleEndian.Uint32(body)
		body = body[ChecksumSize:]
		if crc32.ChecksumIEEE(body) != sum {
			return nil, ErrChecksum
		}
	}

	p := &Packet{Type: t, Flags: flags, alloc: c.Allocator}

	if opener != nil {
		buf := c.acquire(len(body))
		plain, err := opener.Open(buf[:0], body)
		if err != nil {
			c.Release(buf)
			return nil, err
		}
		p.bufs[0] = buf
		body = plain
	}

	if flags.Has(FlagCompressed) {
		if c.Compressor == nil {
			p.Release()
			return nil, ErrNoCompressor
		}
		size := c.DecompressSize
		if size <= 0 {
			size = 4 * len(body)
		}
		buf := c.acquire(size)
		out, err := c.Compressor.Decompress(buf, body)
		if err != nil {
			c.Release(buf)
			p.Release()
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if sameArray(out, buf) {
			p.bufs[1] = buf
		} else {
			c.Release(buf)
		}
		body = out
	}

	p.Payload = body
	return p, nil
}

// sameArray reports whether a and b share a backing array end.
func sameArray(a, b []byte) bool {
	if cap(a) == 0 || cap(b) == 0 {
		return false
	}
	return &a[:cap(a)][cap(a)-1] == &b[:cap(b)][cap(b)-1]
}
