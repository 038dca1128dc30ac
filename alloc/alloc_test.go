package alloc

import (
	"sync"
	"testing"
)

func TestAcquireLength(t *testing.T) {
	a := New()

	tests := []struct {
		size    int
		wantCap int
	}{
		{0, 64},
		{1, 64},
		{64, 64},
		{65, 128},
		{1500, 2048},
		{4096, 4096},
		{MaxSize, MaxSize},
	}

	for _, tt := range tests {
		buf := a.Acquire(tt.size)
		if len(buf) != tt.size {
			t.Errorf("Acquire(%d): len = %d", tt.size, len(buf))
		}
		if cap(buf) != tt.wantCap {
			t.Errorf("Acquire(%d): cap = %d, want %d", tt.size, cap(buf), tt.wantCap)
		}
		a.Release(buf)
	}

	if n := a.Outstanding(); n != 0 {
		t.Errorf("Outstanding() = %d, want 0", n)
	}
}

func TestAcquireOversize(t *testing.T) {
	a := New()

	buf := a.Acquire(MaxSize + 1)
	if len(buf) != MaxSize+1 {
		t.Fatalf("len = %d, want %d", len(buf), MaxSize+1)
	}
	a.Release(buf)

	if n := a.Outstanding(); n != 0 {
		t.Errorf("Outstanding() = %d, want 0", n)
	}
}

func TestReleaseForeignBuffer(t *testing.T) {
	a := New()

	// A buffer that was grown by append no longer matches its class.
	buf := a.Acquire(10)
	buf = append(buf[:cap(buf)], 1)
	a.Release(buf)

	// Must not panic and must not hand out a short buffer afterwards.
	got := a.Acquire(100)
	if cap(got) != 128 {
		t.Errorf("cap = %d, want 128", cap(got))
	}
	a.Release(got)
	a.Release(nil)
}

func TestOutstanding(t *testing.T) {
	a := New()

	bufs := make([][]byte, 0, 10)
	for i := 0; i < 10; i++ {
		bufs = append(bufs, a.Acquire(512))
	}
	if n := a.Outstanding(); n != 10 {
		t.Errorf("Outstanding() = %d, want 10", n)
	}

	for _, b := range bufs {
		a.Release(b)
	}
	if n := a.Outstanding(); n != 0 {
		t.Errorf("Outstanding() = %d, want 0", n)
	}
}

func TestConcurrentAcquireRelease(t *testing.T) {
	a := New()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				buf := a.Acquire(100 + g*100 + i%7)
				buf[0] = byte(g)
				a.Release(buf)
			}
		}(g)
	}
	wg.Wait()

	if n := a.Outstanding(); n != 0 {
		t.Errorf("Outstanding() = %d, want 0", n)
	}
}
