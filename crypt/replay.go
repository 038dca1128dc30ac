package crypt

import "sync"

// ReplayWindowSize is the number of counters behind the highest one seen
// that are still accepted once.
const ReplayWindowSize = 2048

const replayWords = ReplayWindowSize / 64

// ReplayFilter rejects counters that were already seen or that fall behind
// the sliding window. Bit n of the bitmap represents max-n.
type ReplayFilter struct {
	mu     sync.Mutex
	bitmap [replayWords]uint64
	max    uint64
	seen   bool
}

// Accept records counter and returns true if it was not seen before and is
// inside the window.
func (rf *ReplayFilter) Accept(counter uint64) bool {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if !rf.seen || counter > rf.max {
		shift := uint64(ReplayWindowSize)
		if rf.seen {
			shift = counter - rf.max
		}
		rf.slide(shift)
		rf.max = counter
		rf.seen = true
		rf.bitmap[0] |= 1
		return true
	}

	delta := rf.max - counter
	if delta >= ReplayWindowSize {
		return false
	}
	word, bit := delta/64, delta%64
	if rf.bitmap[word]&(1<<bit) != 0 {
		return false
	}
	rf.bitmap[word] |= 1 << bit
	return true
}

// slide moves all recorded counters shift positions further from max.
func (rf *ReplayFilter) slide(shift uint64) {
	if shift >= ReplayWindowSize {
		rf.bitmap = [replayWords]uint64{}
		return
	}

	words, bits := int(shift/64), shift%64
	for i := replayWords - 1; i >= 0; i-- {
		var v uint64
		if j := i - words; j >= 0 {
			v = rf.bitmap[j] << bits
			if bits > 0 && j > 0 {
				v |= rf.bitmap[j-1] >> (64 - bits)
			}
		}
		rf.bitmap[i] = v
	}
}

// Max returns the highest counter accepted so far.
func (rf *ReplayFilter) Max() uint64 {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.max
}
