package packet

import "math"

// Request is the payload of a connection request:
//
//	[u16 keyLen][u16 randomLen][key][random][message]
type Request struct {
	Key     []byte // exchanger public key, empty when unencrypted
	Random  []byte // authentication challenge, empty when not requested
	Message []byte // application message
}

// RequestHeaderSize is the size of the two length fields.
const RequestHeaderSize = 4

// Write implements Writable.
func (r *Request) Write(w *Writer) {
	w.WriteUint16(uint16(len(r.Key)))
	w.WriteUint16(uint16(len(r.Random)))
	w.WriteBytes(r.Key)
	w.WriteBytes(r.Random)
	w.WriteBytes(r.Message)
}

// ParseRequest parses a request payload. The result aliases data.
func ParseRequest(data []byte) (*Request, error) {
	key, random, msg, err := parseTriple(data)
	if err != nil {
		return nil, err
	}
	return &Request{Key: key, Random: random, Message: msg}, nil
}

// Accept is the payload of an Accept packet:
//
//	[u16 keyLen][u16 sigLen][key][signature][message]
//
// The signature covers the request's random challenge followed by Key.
type Accept struct {
	Key       []byte
	Signature []byte
	Message   []byte
}

// Write implements Writable.
func (a *Accept) Write(w *Writer) {
	w.WriteUint16(uint16(len(a.Key)))
	w.WriteUint16(uint16(len(a.Signature)))
	w.WriteBytes(a.Key)
	w.WriteBytes(a.Signature)
	w.WriteBytes(a.Message)
}

// ParseAccept parses an accept payload. The result aliases data.
func ParseAccept(data []byte) (*Accept, error) {
	key, sig, msg, err := parseTriple(data)
	if err != nil {
		return nil, err
	}
	return &Accept{Key: key, Signature: sig, Message: msg}, nil
}

// Valid reports whether the variable fields fit their u16 length prefix.
func (r *Request) Valid() bool {
	return len(r.Key) <= math.MaxUint16 && len(r.Random) <= math.MaxUint16
}

func parseTriple(data []byte) (a, b, rest []byte, err error) {
	rd := NewReader(data)
	la, err := rd.ReadUint16()
	if err != nil {
		return nil, nil, nil, err
	}
	lb, err := rd.ReadUint16()
	if err != nil {
		return nil, nil, nil, err
	}
	if int(la)+int(lb) > rd.Len() {
		return nil, nil, nil, ErrPayloadLength
	}
	a, _ = rd.ReadBytes(int(la))
	b, _ = rd.ReadBytes(int(lb))
	return a, b, rd.Remaining(), nil
}
