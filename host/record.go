package host

import (
	"fmt"

	"github.com/vibing/supernet/packet"
)

// Record kinds carried inside Connected packets.
const (
	recordData          byte = 1
	recordAck           byte = 2
	recordPing          byte = 3
	recordPong          byte = 4
	recordDisconnect    byte = 5
	recordDisconnectAck byte = 6
)

// messageFlags is the option byte of data and ack records.
type messageFlags uint8

const (
	flagReliable messageFlags = 1 << iota
	flagOrdered
	flagUnique
	flagTimed

	flagsKnown = flagReliable | flagOrdered | flagUnique | flagTimed

	// streamMask selects the bits that pick a sequence stream.
	streamMask = flagReliable | flagOrdered
)

func flagsOf(o MessageOptions) messageFlags {
	var f messageFlags
	if o.Reliable {
		f |= flagReliable
	}
	if o.Ordered {
		f |= flagOrdered
	}
	if o.Unique {
		f |= flagUnique
	}
	if o.Timed {
		f |= flagTimed
	}
	return f
}

func (f messageFlags) has(flag messageFlags) bool { return f&flag != 0 }
func (f messageFlags) stream() uint8              { return uint8(f & streamMask) }

// Data record layout:
//
//	[kind][flags][channel][u16 seq][u32 created, if timed][payload]
const dataHeaderSize = 5

func dataHeaderLen(f messageFlags) int {
	if f.has(flagTimed) {
		return dataHeaderSize + 4
	}
	return dataHeaderSize
}

type dataRecord struct {
	flags   messageFlags
	channel uint8
	seq     uint16
	created uint32
	payload []byte
}

// putDataHeader writes the header into the first dataHeaderLen bytes of b.
func putDataHeader(b []byte, r *dataRecord) {
	w := packet.NewWriter(b[:0])
	w.WriteUint8(recordData)
	w.WriteUint8(uint8(r.flags))
	w.WriteUint8(r.channel)
	w.WriteUint16(r.seq)
	if r.flags.has(flagTimed) {
		w.WriteUint32(r.created)
	}
}

func parseData(rd *packet.Reader) (*dataRecord, error) {
	var r dataRecord
	flags, err := rd.ReadUint8()
	if err != nil {
		return nil, err
	}
	r.flags = messageFlags(flags)
	if r.flags&^flagsKnown != 0 {
		return nil, fmt.Errorf("%w: message flags %#x", packet.ErrMalformed, flags)
	}
	if r.channel, err = rd.ReadUint8(); err != nil {
		return nil, err
	}
	if r.seq, err = rd.ReadUint16(); err != nil {
		return nil, err
	}
	if r.flags.has(flagTimed) {
		if r.created, err = rd.ReadUint32(); err != nil {
			return nil, err
		}
	}
	r.payload = rd.Remaining()
	return &r, nil
}

// Ack record layout: [kind][flags][channel][u16 seq]
func ackRecord(flags messageFlags, channel uint8, seq uint16) []byte {
	w := packet.NewWriter(make([]byte, 0, 5))
	w.WriteUint8(recordAck)
	w.WriteUint8(uint8(flags))
	w.WriteUint8(channel)
	w.WriteUint16(seq)
	return w.Bytes()
}

// flightKey identifies an in-flight reliable message.
type flightKey struct {
	stream  uint8
	channel uint8
	seq     uint16
}

func parseAck(rd *packet.Reader) (flightKey, error) {
	flags, err := rd.ReadUint8()
	if err != nil {
		return flightKey{}, err
	}
	channel, err := rd.ReadUint8()
	if err != nil {
		return flightKey{}, err
	}
	seq, err := rd.ReadUint16()
	if err != nil {
		return flightKey{}, err
	}
	return flightKey{stream: messageFlags(flags).stream(), channel: channel, seq: seq}, nil
}

// Ping record layout: [kind][u32 sender ticks]
func pingRecord(ticks uint32) []byte {
	w := packet.NewWriter(make([]byte, 0, 5))
	w.WriteUint8(recordPing)
	w.WriteUint32(ticks)
	return w.Bytes()
}

// Pong record layout: [kind][u32 echoed ticks][u32 responder ticks]
func pongRecord(echo, ticks uint32) []byte {
	w := packet.NewWriter(make([]byte, 0, 9))
	w.WriteUint8(recordPong)
	w.WriteUint32(echo)
	w.WriteUint32(ticks)
	return w.Bytes()
}

// Disconnect record layout: [kind][message]
func disconnectRecord(message packet.Writable) []byte {
	w := packet.NewWriter(nil)
	w.WriteUint8(recordDisconnect)
	w.Write(message)
	return w.Bytes()
}
