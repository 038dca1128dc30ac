package host

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/vibing/supernet/crypt"
	"github.com/vibing/supernet/packet"
)

// Send sends message to the remote. See SendWith.
func (p *Peer) Send(message Message) (*MessageSent, error) {
	return p.SendWith(message, nil)
}

// SendWith sends message to the remote and reports its transmissions and
// acknowledgment to listener, which may be nil.
//
// Reliable messages sent while connecting are held until the handshake
// completes. Unreliable ones are dropped. Socket errors are reported to
// the host listener, not returned.
func (p *Peer) SendWith(message Message, listener MessageListener) (*MessageSent, error) {
	if p.disposed.Load() {
		return nil, ErrDisposed
	}
	if message == nil {
		return nil, ErrNilMessage
	}

	opts := message.Options()
	rec := &dataRecord{
		flags:   flagsOf(opts),
		channel: opts.Channel,
		created: p.host.Ticks(),
	}
	hdr := dataHeaderLen(rec.flags)
	w := packet.NewWriter(make([]byte, hdr, hdr+64))
	w.Write(message)
	record := w.Bytes()
	if len(record)+p.overhead() > p.host.config.ReceiveMTU {
		return nil, ErrMessageTooLarge
	}

	p.mu.Lock()
	state := p.state
	if state != StateConnected && state != StateConnecting {
		p.mu.Unlock()
		return nil, ErrNotConnected
	}
	stream := rec.flags.stream()
	rec.seq = p.sendSeq[stream][rec.channel]
	p.sendSeq[stream][rec.channel]++
	p.mu.Unlock()

	putDataHeader(record, rec)

	m := &MessageSent{
		peer:     p,
		listener: listener,
		message:  message,
		options:  opts,
		key:      flightKey{stream: stream, channel: rec.channel, seq: rec.seq},
		created:  rec.created,
		record:   record,
		kick:     make(chan struct{}, 1),
	}
	m.ctx, m.cancel = context.WithCancel(p.ctx)

	if !opts.Reliable {
		if state == StateConnected {
			p.transmit(m)
		} else {
			p.log.Debug().Uint8("channel", rec.channel).Msg("unreliable message dropped while connecting")
		}
		m.cancel()
		return m, nil
	}

	p.flightMu.Lock()
	if p.disposed.Load() {
		p.flightMu.Unlock()
		m.cancel()
		return nil, ErrDisposed
	}
	p.inflight[m.key] = m
	p.flightMu.Unlock()

	go m.resend(p.config.ResendDelay)
	return m, nil
}

// overhead is the framing added to a record on the wire.
func (p *Peer) overhead() int {
	n := p.host.codec.Overhead()
	if p.exchanger != nil {
		n += crypt.CounterSize + crypt.TagSize
	}
	return n
}

// transmit hands one copy of m to the socket if the peer is connected.
func (p *Peer) transmit(m *MessageSent) {
	if m.acked.Load() || m.ctx.Err() != nil || p.State() != StateConnected {
		return
	}
	m.attempts.Add(1)
	m.lastSent.Store(p.host.Ticks())
	if err := p.sendRecord(m.record); err != nil {
		p.host.exception(p.remote, err)
		return
	}
	if m.listener != nil {
		p.host.safe("OnMessageSend", func() {
			m.listener.OnMessageSend(p, m)
		})
	}
}

// sendRecord seals rec with the session and sends it as a Connected packet.
func (p *Peer) sendRecord(rec []byte) error {
	p.mu.RLock()
	s := p.session
	p.mu.RUnlock()

	var sealer packet.Sealer
	if s != nil {
		sealer = s
	} else if p.exchanger != nil {
		return ErrNotConnected
	}

	n, err := p.host.send(p.dest, packet.TypeConnected, rec, sealer)
	if err != nil {
		return err
	}
	p.stats.sent(n)
	return nil
}

func (p *Peer) removeInflight(m *MessageSent) {
	p.flightMu.Lock()
	if p.inflight[m.key] == m {
		delete(p.inflight, m.key)
	}
	p.flightMu.Unlock()
}

// stopInflight cancels every unacknowledged reliable message.
func (p *Peer) stopInflight() {
	p.flightMu.Lock()
	msgs := p.inflight
	p.inflight = make(map[flightKey]*MessageSent)
	p.flightMu.Unlock()

	for _, m := range msgs {
		m.cancel()
	}
}

// receive handles a Connected, Accept or Reject packet from the remote.
func (p *Peer) receive(t packet.Type, data []byte) {
	if p.disposed.Load() {
		return
	}

	var opener packet.Opener
	if t == packet.TypeConnected {
		p.mu.RLock()
		state, s := p.state, p.session
		p.mu.RUnlock()
		if state != StateConnected && state != StateDisconnecting {
			p.exception(ErrNotConnected)
			return
		}
		if s != nil {
			opener = s
		} else if p.exchanger != nil {
			p.exception(ErrNotConnected)
			return
		}
	}

	pk, err := p.host.codec.Decode(data, opener)
	if err != nil {
		p.exception(err)
		return
	}
	defer pk.Release()
	p.stats.received(len(data))

	switch t {
	case packet.TypeAccept:
		err = p.handleAccept(pk.Payload)
	case packet.TypeReject:
		p.handleReject(pk.Payload)
	case packet.TypeConnected:
		p.lastReceived.Store(p.host.Ticks())
		err = p.handleRecord(pk.Payload)
	}
	if err != nil {
		p.exception(err)
	}
}

func (p *Peer) handleRecord(payload []byte) error {
	rd := packet.NewReader(payload)
	kind, err := rd.ReadUint8()
	if err != nil {
		return err
	}

	switch kind {
	case recordData:
		return p.handleData(rd)

	case recordAck:
		key, err := parseAck(rd)
		if err != nil {
			return err
		}
		p.flightMu.Lock()
		m := p.inflight[key]
		delete(p.inflight, key)
		p.flightMu.Unlock()
		if m != nil {
			m.acknowledge()
		}

	case recordPing:
		ticks, err := rd.ReadUint32()
		if err != nil {
			return err
		}
		if err := p.sendRecord(pongRecord(ticks, p.host.Ticks())); err != nil {
			p.host.exception(p.remote, err)
		}

	case recordPong:
		echo, err := rd.ReadUint32()
		if err != nil {
			return err
		}
		remote, err := rd.ReadUint32()
		if err != nil {
			return err
		}
		p.updateRTT(echo, remote)

	case recordDisconnect:
		if err := p.sendRecord([]byte{recordDisconnectAck}); err != nil {
			p.host.exception(p.remote, err)
		}
		p.dispose(ReasonTerminated, bytes.Clone(rd.Remaining()), nil)

	case recordDisconnectAck:
		p.ackOnce.Do(func() { close(p.disconnected) })

	default:
		return fmt.Errorf("%w: %d", ErrUnknownRecord, kind)
	}
	return nil
}

// updateRTT folds a round trip sample into the smoothed RTT and estimates
// the remote clock offset.
func (p *Peer) updateRTT(echo, remote uint32) {
	now := p.host.Ticks()
	if tickAfter(echo, now) {
		return
	}
	ms := now - echo
	sample := time.Duration(ms) * time.Millisecond

	p.mu.Lock()
	if p.rtt == 0 {
		p.rtt = sample
	} else {
		p.rtt += (sample - p.rtt) / 8
	}
	p.offset = remote - (echo + ms/2)
	p.hasOffset = true
	rtt := p.rtt
	p.mu.Unlock()

	p.host.safe("OnPeerUpdateRTT", func() {
		p.listener.OnPeerUpdateRTT(p, rtt)
	})
}

func (p *Peer) handleData(rd *packet.Reader) error {
	r, err := parseData(rd)
	if err != nil {
		return err
	}
	received := p.host.Ticks()

	p.recvMu.Lock()
	defer p.recvMu.Unlock()

	key := uint16(r.flags.stream())<<8 | uint16(r.channel)
	st := p.recv[key]
	if st == nil {
		st = &recvState{}
		p.recv[key] = st
	}

	ack := r.flags.has(flagReliable)
	var deliver []*dataRecord
	switch {
	case r.flags.has(flagOrdered) && ack:
		deliver, ack = st.orderedReliable(r)
	case r.flags.has(flagOrdered):
		if st.orderedUnreliable(r) {
			deliver = []*dataRecord{r}
		}
	case r.flags.has(flagUnique):
		if st.window.accept(r.seq) {
			deliver = []*dataRecord{r}
		}
	default:
		deliver = []*dataRecord{r}
	}

	if ack {
		if err := p.sendRecord(ackRecord(r.flags, r.channel, r.seq)); err != nil {
			p.host.exception(p.remote, err)
		}
	}
	for _, d := range deliver {
		p.deliver(d, received)
	}
	return nil
}

func (p *Peer) deliver(r *dataRecord, received uint32) {
	info := MessageReceived{
		MessageOptions: MessageOptions{
			Channel:  r.channel,
			Timed:    r.flags.has(flagTimed),
			Reliable: r.flags.has(flagReliable),
			Ordered:  r.flags.has(flagOrdered),
			Unique:   r.flags.has(flagUnique),
		},
		Sequence: r.seq,
		Received: received,
	}
	if info.Timed {
		p.mu.RLock()
		offset, ok := p.offset, p.hasOffset
		p.mu.RUnlock()
		if ok {
			info.Created = r.created - offset
		} else {
			info.Created = received
		}
	}

	p.host.safe("OnPeerReceive", func() {
		p.listener.OnPeerReceive(p, packet.NewReader(r.payload), info)
	})
}
