package compress

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/klauspost/compress/flate"
)

func compressors() map[string]Compressor {
	return map[string]Compressor{
		"deflate": NewDeflate(flate.DefaultCompression),
		"s2":      NewS2(),
	}
}

func TestRoundTrip(t *testing.T) {
	random := make([]byte, 4096)
	rand.Read(random)

	inputs := map[string][]byte{
		"empty":      {},
		"short":      []byte("hi"),
		"repetitive": bytes.Repeat([]byte("supernet "), 500),
		"random":     random,
	}

	for cname, c := range compressors() {
		for iname, in := range inputs {
			t.Run(cname+"/"+iname, func(t *testing.T) {
				dst := make([]byte, c.MaxCompressedLength(len(in)))
				n, err := c.Compress(dst, in)
				if err != nil {
					t.Fatalf("Compress: %v", err)
				}

				out, err := c.Decompress(nil, dst[:n])
				if err != nil {
					t.Fatalf("Decompress: %v", err)
				}
				if !bytes.Equal(out, in) {
					t.Errorf("round trip mismatch: got %d bytes, want %d", len(out), len(in))
				}
			})
		}
	}
}

func TestCompressShrinksRepetitive(t *testing.T) {
	in := bytes.Repeat([]byte{0xAB}, 2000)
	for name, c := range compressors() {
		dst := make([]byte, c.MaxCompressedLength(len(in)))
		n, err := c.Compress(dst, in)
		if err != nil {
			t.Fatalf("%s: Compress: %v", name, err)
		}
		if n >= len(in)/4 {
			t.Errorf("%s: compressed %d bytes to %d", name, len(in), n)
		}
	}
}

func TestDecompressReusesDst(t *testing.T) {
	in := bytes.Repeat([]byte("abc"), 100)
	for name, c := range compressors() {
		dst := make([]byte, c.MaxCompressedLength(len(in)))
		n, _ := c.Compress(dst, in)

		buf := make([]byte, 0, 1024)
		out, err := c.Decompress(buf, dst[:n])
		if err != nil {
			t.Fatalf("%s: Decompress: %v", name, err)
		}
		if &out[0] != &buf[:1][0] {
			t.Errorf("%s: Decompress did not reuse dst", name)
		}
	}
}

func TestDecompressGarbage(t *testing.T) {
	garbage := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x01, 0x02}
	for name, c := range compressors() {
		if _, err := c.Decompress(nil, garbage); err == nil {
			t.Errorf("%s: expected error for garbage input", name)
		}
	}
}

func TestCompressShortBuffer(t *testing.T) {
	in := make([]byte, 1000)
	rand.Read(in)

	_, err := NewS2().Compress(make([]byte, 10), in)
	if !errors.Is(err, ErrShortBuffer) {
		t.Errorf("s2: err = %v, want ErrShortBuffer", err)
	}

	_, err = NewDeflate(flate.BestSpeed).Compress(make([]byte, 10), in)
	if err == nil {
		t.Error("deflate: expected error for short buffer")
	}
}
