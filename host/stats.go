package host

import "sync/atomic"

// Statistics is a snapshot of traffic counters.
type Statistics struct {
	TxPackets uint64
	TxBytes   uint64
	RxPackets uint64
	RxBytes   uint64

	// Dropped counts received packets that were discarded.
	Dropped uint64
}

type counters struct {
	txPackets atomic.Uint64
	txBytes   atomic.Uint64
	rxPackets atomic.Uint64
	rxBytes   atomic.Uint64
	dropped   atomic.Uint64
}

func (c *counters) sent(n int) {
	c.txPackets.Add(1)
	c.txBytes.Add(uint64(n))
}

func (c *counters) received(n int) {
	c.rxPackets.Add(1)
	c.rxBytes.Add(uint64(n))
}

func (c *counters) snapshot() Statistics {
	return Statistics{
		TxPackets: c.txPackets.Load(),
		TxBytes:   c.txBytes.Load(),
		RxPackets: c.rxPackets.Load(),
		RxBytes:   c.rxBytes.Load(),
		Dropped:   c.dropped.Load(),
	}
}
