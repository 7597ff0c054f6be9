package wire

import (
	"github.com/axonlink/axonlink/pkg/buserr"
	"github.com/axonlink/axonlink/pkg/multiaddr"
)

// Seven-bit expansion. Payload bytes are fed LSB-first into a bit
// accumulator and drained seven bits per wire octet, leaving the high bit
// clear for the start-of-packet marker. The header length field counts wire
// octets, so the receiver recovers the byte count as len*7/8: the packing
// wastes at most six bits per frame and round-trips for every byte count up
// to MaxPayload.

// pack7 expands 8-bit payload bytes into 7-bit wire octets.
func pack7(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	out := make([]byte, 0, (len(data)*8+6)/7)
	var acc uint32
	var nbits uint
	for _, b := range data {
		acc |= uint32(b) << nbits
		nbits += 8
		for nbits >= 7 {
			out = append(out, byte(acc&0x7F))
			acc >>= 7
			nbits -= 7
		}
	}
	if nbits > 0 {
		out = append(out, byte(acc&0x7F))
	}
	return out
}

// unpack7 contracts 7-bit wire octets back into 8-bit payload bytes.
func unpack7(oct []byte) []byte {
	if len(oct) == 0 {
		return nil
	}
	out := make([]byte, 0, len(oct)*7/8)
	var acc uint32
	var nbits uint
	for _, o := range oct {
		acc |= uint32(o&0x7F) << nbits
		nbits += 7
		if nbits >= 8 {
			out = append(out, byte(acc))
			acc >>= 8
			nbits -= 8
		}
	}
	return out
}

// checksum returns the octet that makes the seven-bit sum of the whole
// frame, itself included, come out to zero.
func checksum(octets []byte) byte {
	var sum byte
	for _, o := range octets {
		sum += o
	}
	return (0x80 - sum) & 0x7F
}

// Encode serializes f into wire octets. The payload must fit MaxPayload
// bytes; flow-controlled types get the checksum tail appended.
func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, buserr.New(multiaddr.Unknown, buserr.PayloadTooLarge)
	}
	wirePayload := pack7(f.Payload)
	h0, h1 := f.header(len(wirePayload))

	out := make([]byte, 0, HeaderLen+len(wirePayload)+1)
	out = append(out, h0, h1)
	out = append(out, wirePayload...)
	if f.Type.FlowControlled() {
		out = append(out, checksum(out))
	}
	return out, nil
}

// Decode parses one complete frame from octets. It is the non-incremental
// counterpart of Scanner, used where a whole frame is already in hand.
func Decode(octets []byte) (Frame, error) {
	var f Frame
	if len(octets) < HeaderLen || !IsStart(octets[0]) {
		return f, buserr.New(multiaddr.Unknown, buserr.Fragment)
	}
	addr, t, src, mode, wireLen := parseHeader(octets[0], octets[1])

	want := HeaderLen + wireLen
	if t.FlowControlled() {
		want++
	}
	if len(octets) != want {
		return f, buserr.New(multiaddr.Unknown, buserr.Fragment)
	}
	for _, o := range octets[1:] {
		if IsStart(o) {
			return f, buserr.New(multiaddr.Unknown, buserr.Fragment)
		}
	}
	if t.FlowControlled() {
		var sum byte
		for _, o := range octets {
			sum += o
		}
		if sum&0x7F != 0 {
			return f, buserr.New(multiaddr.Unknown, buserr.BadChecksum)
		}
	}

	f.Addr = addr
	f.Type = t
	f.Src = src
	f.Mode = mode
	f.Payload = unpack7(octets[HeaderLen : HeaderLen+wireLen])
	return f, nil
}
