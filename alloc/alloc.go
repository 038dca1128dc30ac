// Package alloc pools byte buffers for packets and messages.
//
// Buffers are grouped in power-of-two size classes. Acquire returns a
// buffer of the requested length whose capacity is the class size;
// Release puts it back into the matching class. Buffers whose capacity
// does not match a class (for example slices grown by append) are left to
// the garbage collector.
package alloc

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

const (
	// MinSize is the smallest size class.
	MinSize = 64

	// MaxSize is the largest pooled size class. Larger requests are
	// allocated directly and never pooled.
	MaxSize = 1 << 20

	minShift = 6  // log2(MinSize)
	maxShift = 20 // log2(MaxSize)
)

// Allocator is a set of size-classed buffer pools.
// It is safe for concurrent use.
type Allocator struct {
	pools [maxShift - minShift + 1]sync.Pool

	// outstanding tracks buffers acquired but not yet released.
	// Used for leak detection in tests.
	outstanding atomic.Int64
}

// New creates an allocator.
func New() *Allocator {
	a := &Allocator{}
	for i := range a.pools {
		size := 1 << (i + minShift)
		a.pools[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
	return a
}

// class returns the pool index for a buffer of capacity n, or -1.
func class(n int) int {
	if n <= MinSize {
		return 0
	}
	if n > MaxSize {
		return -1
	}
	return bits.Len(uint(n-1)) - minShift
}

// Acquire returns a buffer of length size.
// The contents are not zeroed.
func (a *Allocator) Acquire(size int) []byte {
	if size < 0 {
		size = 0
	}
	a.outstanding.Add(1)
	c := class(size)
	if c < 0 {
		return make([]byte, size)
	}
	bp := a.pools[c].Get().(*[]byte)
	return (*bp)[:size]
}

// Release returns a buffer acquired with Acquire.
// Releasing nil is a no-op.
func (a *Allocator) Release(buf []byte) {
	if buf == nil {
		return
	}
	a.outstanding.Add(-1)
	n := cap(buf)
	c := class(n)
	if c < 0 || 1<<(c+minShift) != n {
		return
	}
	buf = buf[:n]
	a.pools[c].Put(&buf)
}

// Outstanding returns the number of buffers acquired and not released.
func (a *Allocator) Outstanding() int64 {
	return a.outstanding.Load()
}
