package host

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/vibing/supernet/packet"
)

// MessageOptions selects how a message is delivered.
type MessageOptions struct {
	// Channel partitions sequencing and duplicate suppression.
	Channel uint8

	// Timed carries the creation time so the receiver can tell how old
	// the message is.
	Timed bool

	// Reliable resends the message until it is acknowledged.
	Reliable bool

	// Ordered delivers messages of the channel in send order. Unreliable
	// messages that arrive late are dropped; reliable ones are buffered.
	Ordered bool

	// Unique drops duplicates on the receiving side.
	Unique bool
}

// Message is an application message sent to a connected peer.
type Message interface {
	packet.Writable
	Options() MessageOptions
}

// RawMessage is a Message with a byte payload.
type RawMessage struct {
	MessageOptions
	Payload []byte
}

// Write implements packet.Writable.
func (m RawMessage) Write(w *packet.Writer) { w.WriteBytes(m.Payload) }

// Options implements Message.
func (m RawMessage) Options() MessageOptions { return m.MessageOptions }

// MessageReceived describes a delivered message.
type MessageReceived struct {
	MessageOptions
	Sequence uint16

	// Received is the host tick the message was processed at.
	Received uint32

	// Created is the host tick the message was created at, translated to
	// the local clock. Only set for timed messages.
	Created uint32
}

// Age returns how long ago a timed message was created.
func (m MessageReceived) Age() time.Duration {
	if !m.Timed || tickAfter(m.Created, m.Received) {
		return 0
	}
	return time.Duration(m.Received-m.Created) * time.Millisecond
}

func tickAfter(a, b uint32) bool {
	return int32(a-b) > 0
}

// MessageSent tracks one message handed to Peer.Send.
type MessageSent struct {
	peer     *Peer
	listener MessageListener
	message  Message
	options  MessageOptions
	key      flightKey
	created  uint32

	// record is the serialized data record, reused for every resend.
	record []byte

	attempts atomic.Int32
	lastSent atomic.Uint32
	acked    atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	kick   chan struct{}
}

// Peer returns the peer the message was sent to.
func (m *MessageSent) Peer() *Peer { return m.peer }

// Message returns the sent message.
func (m *MessageSent) Message() Message { return m.message }

// Options returns the delivery options.
func (m *MessageSent) Options() MessageOptions { return m.options }

// Sequence returns the sequence number assigned to the message.
func (m *MessageSent) Sequence() uint16 { return m.key.seq }

// Attempts returns how many times the message was handed to the socket.
func (m *MessageSent) Attempts() int { return int(m.attempts.Load()) }

// Created returns the host tick the message was created at.
func (m *MessageSent) Created() uint32 { return m.created }

// LastSent returns the host tick of the last transmission.
func (m *MessageSent) LastSent() uint32 { return m.lastSent.Load() }

// Acknowledged reports whether the remote acknowledged the message.
func (m *MessageSent) Acknowledged() bool { return m.acked.Load() }

// StopResending abandons delivery of a reliable message. It does nothing
// for unreliable messages or messages already acknowledged.
func (m *MessageSent) StopResending() {
	if !m.options.Reliable {
		return
	}
	m.cancel()
	m.peer.removeInflight(m)
}

// wake makes the resend loop transmit immediately.
func (m *MessageSent) wake() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// acknowledge marks the message delivered and stops its resend loop.
func (m *MessageSent) acknowledge() {
	if !m.acked.CompareAndSwap(false, true) {
		return
	}
	m.cancel()
	if m.listener != nil {
		m.peer.host.safe("OnMessageAcknowledge", func() {
			m.listener.OnMessageAcknowledge(m.peer, m)
		})
	}
}

// resend transmits the message every ResendDelay while the peer is
// connected, until it is acknowledged or cancelled.
func (m *MessageSent) resend(delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	m.peer.transmit(m)
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
		m.peer.transmit(m)
		timer.Reset(delay)
	}
}
