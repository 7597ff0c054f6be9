package wire

import "encoding/binary"

// Control frame builders and views: the non-flow-controlled packets that
// run the ring itself, plus the extension sub-coded packets.

// SetAddrFrame builds the ring enumeration packet. The host sends it with
// the starting address in the payload; every node claims the current value,
// increments it, and forwards the packet downstream, so the copy that
// returns to the host carries the total node count.
func SetAddrFrame(start uint8) Frame {
	return Frame{
		Type:    PktSetAddr,
		Payload: []byte{start},
	}
}

// SetAddrCount extracts the node count from a returned enumeration packet.
// The Mode header bit doubles as a configuration error flag on this type.
func SetAddrCount(f Frame) (count int, cfgErr bool) {
	if len(f.Payload) == 0 {
		return 0, true
	}
	return int(f.Payload[0]), f.Mode
}

// RevAddrFrame builds the reverse enumeration packet used to verify ring
// wiring: nodes decrement instead of increment, so a healthy ring returns
// the packet carrying exactly zero.
func RevAddrFrame(start uint8) Frame {
	return Frame{
		Type:    PktExtendHigh,
		Payload: []byte{ExtHighRevAddr, start},
	}
}

// RevAddrResidue extracts the remaining count from a returned reverse
// enumeration packet. Non-zero means nodes are missing or miswired.
func RevAddrResidue(f Frame) int {
	if len(f.Payload) < 2 {
		return -1
	}
	return int(f.Payload[1])
}

// TriggerFrame builds the broadcast event release for a trigger group.
func TriggerFrame(group uint8) Frame {
	return Frame{
		Type: PktTrigger,
		Addr: group,
	}
}

// ResetFrame builds the broadcast node reset.
func ResetFrame() Frame {
	return Frame{
		Type:    PktExtendHigh,
		Payload: []byte{ExtHighReset},
	}
}

// BaudRateFrame builds the broadcast rate change. Nodes switch after the
// packet has traversed the full ring; the host follows after a guard delay.
func BaudRateFrame(rate int) Frame {
	p := []byte{ExtHighBaudRate, 0, 0}
	binary.LittleEndian.PutUint16(p[1:], RateCode(rate))
	return Frame{
		Type:    PktExtendHigh,
		Payload: p,
	}
}

// BaudRateOf extracts the rate from a baud-change packet, or 0 when the
// multiplier is unsupported.
func BaudRateOf(f Frame) int {
	if len(f.Payload) < 3 {
		return 0
	}
	return RateFromCode(binary.LittleEndian.Uint16(f.Payload[1:]))
}

// NodeStopFrame builds the high-priority stop that bypasses flow control.
// With broadcast set the Mode bit tells every node on the ring to act;
// otherwise only the addressed node stops.
func NodeStopFrame(addr uint8, reg StopReg, broadcast bool) Frame {
	p := []byte{ExtHighNodeStop, byte(reg), byte(reg >> 8)}
	return Frame{
		Addr:    addr,
		Type:    PktExtendHigh,
		Mode:    broadcast,
		Payload: p,
	}
}

// NodeStopRegOf extracts the stop register from a network-wide stop packet.
func NodeStopRegOf(f Frame) StopReg {
	if len(f.Payload) < 3 {
		return StopTypeAbrupt
	}
	return StopReg(f.Payload[1]) | StopReg(f.Payload[2])<<8
}

// HostAliveFrame builds the periodic host ping emitted by the background
// worker when watchdogs are armed.
func HostAliveFrame() Frame {
	return Frame{
		Type:    PktExtendLow,
		Payload: []byte{ExtLowHostAlive},
	}
}

// AttnFrame builds a node attention packet carrying the raised bits. Only
// the simulator and tests construct these; real nodes originate them.
func AttnFrame(addr uint8, bits uint32) Frame {
	p := make([]byte, 5)
	p[0] = 0
	binary.LittleEndian.PutUint32(p[1:], bits)
	return Frame{
		Addr:    addr,
		Type:    PktAttnReq,
		Src:     SrcNode,
		Payload: p,
	}
}

// AttnBitsOf extracts the raised attention bits.
func AttnBitsOf(f Frame) uint32 {
	if len(f.Payload) < 5 {
		return 0
	}
	return binary.LittleEndian.Uint32(f.Payload[1:])
}

// ParamChgFrame builds a parameter-change notice.
func ParamChgFrame(addr uint8, bank int, index uint8) Frame {
	return Frame{
		Addr:    addr,
		Type:    PktExtendLow,
		Src:     SrcNode,
		Payload: []byte{ExtLowParamChg, byte(bank), index},
	}
}

// ParamChgOf extracts the bank and index from a parameter-change notice.
func ParamChgOf(f Frame) (bank int, index uint8, ok bool) {
	if len(f.Payload) < 3 {
		return 0, 0, false
	}
	return int(f.Payload[1]), f.Payload[2], true
}

// ExtCode returns the extension sub-code of an ExtendLow or ExtendHigh
// frame, or -1 for anything else.
func ExtCode(f Frame) int {
	if f.Type != PktExtendLow && f.Type != PktExtendHigh {
		return -1
	}
	if len(f.Payload) == 0 {
		return -1
	}
	return int(f.Payload[0])
}
