package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonlink/axonlink/pkg/buserr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{"empty command", Frame{Addr: 0, Type: PktCommand}},
		{"one byte", Frame{Addr: 3, Type: PktCommand, Payload: []byte{0x42}}},
		{"response with data", Frame{Addr: 7, Type: PktResponse, Src: SrcNode, Payload: []byte{0x11, 0x22, 0x33, 0x44}}},
		{"mode bit", Frame{Addr: 1, Type: PktError, Src: SrcNode, Mode: true, Payload: []byte{0x01, 0x20}}},
		{"extend low", Frame{Addr: 2, Type: PktExtendLow, Src: SrcNode, Payload: []byte{ExtLowDataAcq, 0xAA, 0xBB, 0xCC, 0xDD}}},
		{"high bytes survive packing", Frame{Addr: 5, Type: PktCommand, Payload: []byte{0xFF, 0x80, 0x7F, 0x00, 0xFF}}},
		{"max payload", Frame{Addr: 15, Type: PktCommand, Payload: make([]byte, MaxPayload)}},
		{"trigger no payload", Frame{Addr: 4, Type: PktTrigger}},
		{"attention", AttnFrame(6, 0xDEADBEEF)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			octets, err := Encode(tt.frame)
			require.NoError(t, err)

			got, err := Decode(octets)
			require.NoError(t, err)

			assert.Equal(t, tt.frame.Addr, got.Addr)
			assert.Equal(t, tt.frame.Type, got.Type)
			assert.Equal(t, tt.frame.Src, got.Src)
			assert.Equal(t, tt.frame.Mode, got.Mode)
			if len(tt.frame.Payload) == 0 {
				assert.Empty(t, got.Payload)
			} else {
				assert.Equal(t, tt.frame.Payload, got.Payload)
			}

			// Re-encoding the decoded frame must reproduce the stream.
			again, err := Encode(got)
			require.NoError(t, err)
			assert.Equal(t, octets, again)
		})
	}
}

func TestEncodePayloadTooLarge(t *testing.T) {
	_, err := Encode(Frame{Type: PktCommand, Payload: make([]byte, MaxPayload)})
	require.NoError(t, err)

	_, err = Encode(Frame{Type: PktCommand, Payload: make([]byte, MaxPayload+1)})
	require.Error(t, err)
	assert.Equal(t, buserr.PayloadTooLarge, buserr.CodeOf(err))
}

func TestChecksumSumsToZero(t *testing.T) {
	frames := []Frame{
		{Addr: 0, Type: PktCommand, Payload: []byte{CmdGetParam0, ParamNodeID}},
		{Addr: 9, Type: PktResponse, Src: SrcNode, Payload: []byte{1, 2, 3, 4, 5, 6, 7}},
		{Addr: 15, Type: PktExtendLow, Payload: []byte{ExtLowHostAlive}},
	}
	for _, f := range frames {
		octets, err := Encode(f)
		require.NoError(t, err)

		var sum byte
		for _, o := range octets {
			sum += o
		}
		assert.Zero(t, sum&0x7F, "frame %s", f)
	}
}

func TestControlTypesHaveNoChecksum(t *testing.T) {
	octets, err := Encode(TriggerFrame(2))
	require.NoError(t, err)
	assert.Len(t, octets, HeaderLen)

	octets, err = Encode(SetAddrFrame(0))
	require.NoError(t, err)
	// header plus the expanded one-byte payload, no tail
	assert.Len(t, octets, HeaderLen+2)
}

func TestDecodeBadChecksum(t *testing.T) {
	octets, err := Encode(Frame{Addr: 1, Type: PktResponse, Src: SrcNode, Payload: []byte{0x55}})
	require.NoError(t, err)

	octets[len(octets)-2] ^= 0x01
	_, err = Decode(octets)
	assert.Equal(t, buserr.BadChecksum, buserr.CodeOf(err))
}

func TestDecodeTruncated(t *testing.T) {
	octets, err := Encode(Frame{Addr: 1, Type: PktCommand, Payload: []byte{1, 2, 3}})
	require.NoError(t, err)

	_, err = Decode(octets[:len(octets)-1])
	assert.Equal(t, buserr.Fragment, buserr.CodeOf(err))
}

func TestHeaderBitLayout(t *testing.T) {
	octets, err := Encode(Frame{Addr: 0xA, Type: PktResponse, Src: SrcNode, Mode: true, Payload: []byte{0x7F}})
	require.NoError(t, err)

	// octet 0: SOP | type<<4 | addr
	assert.Equal(t, byte(0x80|0x10|0x0A), octets[0])
	// octet 1: src | mode | wire length (one byte packs into two octets)
	assert.Equal(t, byte(0x40|0x20|0x02), octets[1])
	// continuation octets keep bit 7 clear
	for _, o := range octets[1:] {
		assert.Zero(t, o&0x80)
	}
}

func TestPack7Unpack7(t *testing.T) {
	for n := 0; n <= MaxPayload; n++ {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i*37 + 11)
		}
		wire := pack7(data)
		assert.LessOrEqual(t, len(wire), MaxWirePayload)
		got := unpack7(wire)
		if n == 0 {
			assert.Empty(t, got)
		} else {
			assert.Equal(t, data, got, "length %d", n)
		}
	}
}
