// Package compress provides the packet compressors used by the host.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/s2"
)

// MaxDecompressedSize bounds the output of Decompress.
const MaxDecompressedSize = 1 << 20

// Compressor compresses and decompresses packet payloads.
// Implementations must be safe for concurrent use.
type Compressor interface {
	// MaxCompressedLength returns the largest possible output of
	// Compress for an input of n bytes.
	MaxCompressedLength(n int) int

	// Compress compresses src into dst and returns the number of bytes
	// written. dst must be at least MaxCompressedLength(len(src)) long.
	Compress(dst, src []byte) (int, error)

	// Decompress decompresses src. The result reuses dst when it is large
	// enough and is allocated otherwise.
	Decompress(dst, src []byte) ([]byte, error)
}

// Errors.
var (
	ErrShortBuffer = errors.New("compress: destination buffer too short")
	ErrTooLarge    = errors.New("compress: decompressed data too large")
)

// Deflate is a Compressor using raw DEFLATE streams.
type Deflate struct {
	level   int
	writers sync.Pool
	readers sync.Pool
}

// NewDeflate creates a DEFLATE compressor at the given level.
// Use flate.DefaultCompression for the default.
func NewDeflate(level int) *Deflate {
	return &Deflate{level: level}
}

// MaxCompressedLength returns the worst case for stored blocks plus the
// stream trailer.
func (d *Deflate) MaxCompressedLength(n int) int {
	return n + (n/16383+1)*5 + 16
}

// Compress implements Compressor.
func (d *Deflate) Compress(dst, src []byte) (int, error) {
	out := fixedWriter{buf: dst}

	w, _ := d.writers.Get().(*flate.Writer)
	if w == nil {
		var err error
		w, err = flate.NewWriter(&out, d.level)
		if err != nil {
			return 0, fmt.Errorf("compress: %w", err)
		}
	} else {
		w.Reset(&out)
	}
	defer d.writers.Put(w)

	if _, err := w.Write(src); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return out.n, nil
}

// Decompress implements Compressor.
func (d *Deflate) Decompress(dst, src []byte) ([]byte, error) {
	r, _ := d.readers.Get().(io.ReadCloser)
	if r == nil {
		r = flate.NewReader(bytes.NewReader(src))
	} else if err := r.(flate.Resetter).Reset(bytes.NewReader(src), nil); err != nil {
		return nil, err
	}
	defer d.readers.Put(r)

	buf := bytes.NewBuffer(dst[:0])
	n, err := io.Copy(buf, io.LimitReader(r, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("compress: inflate: %w", err)
	}
	if n > MaxDecompressedSize {
		return nil, ErrTooLarge
	}
	return buf.Bytes(), nil
}

// S2 is a Compressor using the S2 block format.
// Blocks carry their decoded length, so Decompress allocates at most once.
type S2 struct{}

// NewS2 creates an S2 compressor.
func NewS2() S2 {
	return S2{}
}

// MaxCompressedLength implements Compressor.
func (S2) MaxCompressedLength(n int) int {
	return s2.MaxEncodedLen(n)
}

// Compress implements Compressor.
func (S2) Compress(dst, src []byte) (int, error) {
	if len(dst) < s2.MaxEncodedLen(len(src)) {
		return 0, ErrShortBuffer
	}
	return len(s2.Encode(dst, src)), nil
}

// Decompress implements Compressor.
func (S2) Decompress(dst, src []byte) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("compress: s2: %w", err)
	}
	if n > MaxDecompressedSize {
		return nil, ErrTooLarge
	}
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	out, err := s2.Decode(dst[:cap(dst)], src)
	if err != nil {
		return nil, fmt.Errorf("compress: s2: %w", err)
	}
	return out, nil
}

// fixedWriter writes into a fixed slice and fails instead of growing.
type fixedWriter struct {
	buf []byte
	n   int
}

func (w *fixedWriter) Write(p []byte) (int, error) {
	if len(w.buf)-w.n < len(p) {
		return 0, ErrShortBuffer
	}
	w.n += copy(w.buf[w.n:], p)
	return len(p), nil
}
