package host

import (
	"errors"
	"testing"
	"time"

	"github.com/vibing/supernet/packet"
)

func TestSeqWindow(t *testing.T) {
	tests := []struct {
		name string
		seqs []uint16
		want []bool
	}{
		{"sequential", []uint16{0, 1, 2, 3}, []bool{true, true, true, true}},
		{"duplicate", []uint16{5, 5}, []bool{true, false}},
		{"out of order", []uint16{10, 8, 9, 8}, []bool{true, true, true, false}},
		{"wraparound", []uint16{65534, 65535, 0, 1, 65535}, []bool{true, true, true, true, false}},
		{"edge of window", []uint16{1023, 0, 0}, []bool{true, true, false}},
		{"behind window", []uint16{1024, 0}, []bool{true, false}},
		{"large jump", []uint16{0, 5000, 0, 4999}, []bool{true, true, false, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w seqWindow
			for i, seq := range tt.seqs {
				if got := w.accept(seq); got != tt.want[i] {
					t.Errorf("accept(%d) #%d = %v, want %v", seq, i, got, tt.want[i])
				}
			}
		})
	}
}

func TestSeqWindowSlideAcrossWords(t *testing.T) {
	var w seqWindow
	for seq := uint16(0); seq < 200; seq += 2 {
		if !w.accept(seq) {
			t.Fatalf("accept(%d) rejected", seq)
		}
	}
	for seq := uint16(0); seq < 200; seq++ {
		want := seq%2 == 1
		if got := w.accept(seq); got != want {
			t.Errorf("accept(%d) = %v, want %v", seq, got, want)
		}
	}
}

func TestOrderedReliable(t *testing.T) {
	var s recvState
	rec := func(seq uint16) *dataRecord {
		return &dataRecord{seq: seq, payload: []byte{byte(seq)}}
	}
	seqs := func(rs []*dataRecord) []uint16 {
		var out []uint16
		for _, r := range rs {
			out = append(out, r.seq)
		}
		return out
	}

	if d, ack := s.orderedReliable(rec(2)); len(d) != 0 || !ack {
		t.Fatalf("ahead: deliver %v ack %v", seqs(d), ack)
	}
	if d, ack := s.orderedReliable(rec(1)); len(d) != 0 || !ack {
		t.Fatalf("ahead: deliver %v ack %v", seqs(d), ack)
	}

	d, ack := s.orderedReliable(rec(0))
	if got := seqs(d); len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 || !ack {
		t.Fatalf("in order: deliver %v ack %v", got, ack)
	}
	if d[2].payload[0] != 2 {
		t.Error("buffered payload lost")
	}

	if d, ack := s.orderedReliable(rec(1)); len(d) != 0 || !ack {
		t.Errorf("duplicate: deliver %v ack %v, want re-ack only", seqs(d), ack)
	}
	if d, ack := s.orderedReliable(rec(3 + windowSize)); len(d) != 0 || ack {
		t.Errorf("beyond window: deliver %v ack %v, want neither", seqs(d), ack)
	}
	if len(s.pending) != 0 {
		t.Errorf("pending = %d, want 0", len(s.pending))
	}
}

func TestOrderedReliableCopiesBufferedPayload(t *testing.T) {
	var s recvState
	buf := []byte("original")
	s.orderedReliable(&dataRecord{seq: 1, payload: buf})
	copy(buf, "reused!!")

	d, _ := s.orderedReliable(&dataRecord{seq: 0})
	if len(d) != 2 || string(d[1].payload) != "original" {
		t.Errorf("buffered payload = %q", d[1].payload)
	}
}

func TestOrderedUnreliable(t *testing.T) {
	var s recvState
	tests := []struct {
		seq  uint16
		want bool
	}{
		{3, true},
		{2, false},
		{3, false},
		{7, true},
		{65535, false},
	}
	for _, tt := range tests {
		if got := s.orderedUnreliable(&dataRecord{seq: tt.seq}); got != tt.want {
			t.Errorf("orderedUnreliable(%d) = %v, want %v", tt.seq, got, tt.want)
		}
	}
}

func TestDataRecord(t *testing.T) {
	tests := []struct {
		name string
		opts MessageOptions
	}{
		{"plain", MessageOptions{Channel: 3}},
		{"timed reliable", MessageOptions{Channel: 200, Timed: true, Reliable: true}},
		{"ordered unique", MessageOptions{Ordered: true, Unique: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &dataRecord{flags: flagsOf(tt.opts), channel: tt.opts.Channel, seq: 0xBEEF, created: 123456}
			hdr := dataHeaderLen(in.flags)
			buf := append(make([]byte, hdr), "payload"...)
			putDataHeader(buf, in)

			if buf[0] != recordData {
				t.Fatalf("kind = %d", buf[0])
			}
			rd := packet.NewReader(buf[1:])
			out, err := parseData(rd)
			if err != nil {
				t.Fatal(err)
			}
			if out.flags != in.flags || out.channel != in.channel || out.seq != in.seq {
				t.Errorf("got %+v, want %+v", out, in)
			}
			if tt.opts.Timed && out.created != in.created {
				t.Errorf("created = %d, want %d", out.created, in.created)
			}
			if string(out.payload) != "payload" {
				t.Errorf("payload = %q", out.payload)
			}
		})
	}
}

func TestParseDataRejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown flag", []byte{0x10, 0, 0, 0}},
		{"short seq", []byte{0, 1, 0}},
		{"short created", []byte{byte(flagTimed), 1, 0, 0, 1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseData(packet.NewReader(tt.data)); !errors.Is(err, packet.ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestAckRecord(t *testing.T) {
	flags := flagsOf(MessageOptions{Reliable: true, Ordered: true, Unique: true})
	b := ackRecord(flags, 9, 513)
	if b[0] != recordAck {
		t.Fatalf("kind = %d", b[0])
	}
	key, err := parseAck(packet.NewReader(b[1:]))
	if err != nil {
		t.Fatal(err)
	}
	want := flightKey{stream: uint8(flagReliable | flagOrdered), channel: 9, seq: 513}
	if key != want {
		t.Errorf("key = %+v, want %+v", key, want)
	}
}

func TestMessageAge(t *testing.T) {
	tests := []struct {
		name string
		info MessageReceived
		want time.Duration
	}{
		{"untimed", MessageReceived{Received: 100, Created: 50}, 0},
		{"timed", MessageReceived{MessageOptions: MessageOptions{Timed: true}, Received: 100, Created: 40}, 60 * time.Millisecond},
		{"future", MessageReceived{MessageOptions: MessageOptions{Timed: true}, Received: 100, Created: 120}, 0},
		{"wrapped", MessageReceived{MessageOptions: MessageOptions{Timed: true}, Received: 5, Created: ^uint32(0) - 4}, 10 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.Age(); got != tt.want {
				t.Errorf("Age() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	h := HostConfig{}.withDefaults()
	if h.ReceiveMTU != DefaultReceiveMTU || h.ReceiveCount != DefaultReceiveCount || h.Compressor == nil {
		t.Errorf("host defaults = %+v", h)
	}
	if h.RequestBurst != 0 {
		t.Errorf("RequestBurst = %d without a rate", h.RequestBurst)
	}
	if h := (HostConfig{RequestRate: 5}).withDefaults(); h.RequestBurst != 16 {
		t.Errorf("RequestBurst = %d, want 16", h.RequestBurst)
	}

	p := PeerConfig{ConnectDelay: time.Second}.withDefaults()
	if p.ConnectDelay != time.Second || p.ConnectAttempts != DefaultConnectAttempts || p.ResendDelay != DefaultResendDelay {
		t.Errorf("peer defaults = %+v", p)
	}
	if got := p.handshakeWindow(); got != time.Duration(DefaultConnectAttempts)*time.Second {
		t.Errorf("handshakeWindow() = %v", got)
	}
}

func TestStateStrings(t *testing.T) {
	if StateConnecting.String() != "connecting" || ReasonTerminated.String() != "terminated" {
		t.Error("unexpected state names")
	}
	if PeerState(99).String() != "unknown" || DisconnectReason(99).String() != "unknown" {
		t.Error("unexpected name for unknown values")
	}
}
