package host

// windowSize is the number of sequence numbers tracked behind the newest
// one, both for duplicate suppression and for buffering ahead of the next
// ordered message.
const windowSize = 1024

const windowWords = windowSize / 64

// seqLess reports whether a precedes b in 16-bit serial arithmetic.
func seqLess(a, b uint16) bool {
	return int16(a-b) < 0
}

// seqWindow remembers which of the last windowSize sequence numbers were
// seen. Bit n of bits represents max-n.
type seqWindow struct {
	bits [windowWords]uint64
	max  uint16
	seen bool
}

// accept records seq and reports whether it is new. Sequence numbers that
// fell behind the window are rejected.
func (w *seqWindow) accept(seq uint16) bool {
	if !w.seen {
		w.seen = true
		w.max = seq
		w.bits = [windowWords]uint64{}
		w.bits[0] = 1
		return true
	}

	d := int16(seq - w.max)
	if d > 0 {
		w.slide(int(d))
		w.max = seq
		w.bits[0] |= 1
		return true
	}

	back := int(-int32(d))
	if back >= windowSize {
		return false
	}
	word, bit := back/64, uint(back%64)
	if w.bits[word]&(1<<bit) != 0 {
		return false
	}
	w.bits[word] |= 1 << bit
	return true
}

func (w *seqWindow) slide(shift int) {
	if shift >= windowSize {
		w.bits = [windowWords]uint64{}
		return
	}
	words, bits := shift/64, uint(shift%64)
	for i := windowWords - 1; i >= 0; i-- {
		var v uint64
		if j := i - words; j >= 0 {
			v = w.bits[j] << bits
			if bits > 0 && j > 0 {
				v |= w.bits[j-1] >> (64 - bits)
			}
		}
		w.bits[i] = v
	}
}

// recvState is the receive side of one channel and stream.
type recvState struct {
	// Ordered reliable: next sequence to deliver and arrivals ahead of it.
	next    uint16
	pending map[uint16]*dataRecord

	// Ordered unreliable: last delivered sequence.
	last    uint16
	hasLast bool

	// Unordered unique: recently seen sequences.
	window seqWindow
}

// orderedReliable returns the records that become deliverable with r, in
// order, and whether r should be acknowledged. Records further ahead than
// the window are neither buffered nor acknowledged so the sender retries.
func (s *recvState) orderedReliable(r *dataRecord) (deliver []*dataRecord, ack bool) {
	d := int(int16(r.seq - s.next))
	switch {
	case d < 0:
		return nil, true
	case d == 0:
		deliver = append(deliver, r)
		s.next++
		for {
			q, ok := s.pending[s.next]
			if !ok {
				break
			}
			delete(s.pending, s.next)
			deliver = append(deliver, q)
			s.next++
		}
		return deliver, true
	case d < windowSize:
		if s.pending == nil {
			s.pending = make(map[uint16]*dataRecord)
		}
		if _, ok := s.pending[r.seq]; !ok {
			held := *r
			held.payload = append([]byte(nil), r.payload...)
			s.pending[r.seq] = &held
		}
		return nil, true
	default:
		return nil, false
	}
}

// orderedUnreliable reports whether r is newer than everything delivered.
func (s *recvState) orderedUnreliable(r *dataRecord) bool {
	if s.hasLast && !seqLess(s.last, r.seq) {
		return false
	}
	s.last = r.seq
	s.hasLast = true
	return true
}
