package wire

import "encoding/binary"

// StatusReg is the 48-bit node status word, kept opaque. The low 32 bits
// are attentionable: a node raises an attention packet when a rising edge
// lands in its attention mask. Field meaning varies by device family, so
// the driver exposes the word plus a family-keyed view instead of a
// universal field model.
type StatusReg [6]byte

// StatusRegFromBytes copies up to six octets into a StatusReg.
func StatusRegFromBytes(b []byte) StatusReg {
	var r StatusReg
	copy(r[:], b)
	return r
}

// AttnBits returns the attentionable low 32 bits.
func (r StatusReg) AttnBits() uint32 {
	return binary.LittleEndian.Uint32(r[:4])
}

// Bits returns the whole word as a 64-bit integer with the top 16 bits
// clear.
func (r StatusReg) Bits() uint64 {
	var b [8]byte
	copy(b[:], r[:])
	return binary.LittleEndian.Uint64(b[:])
}

// IsClear reports whether no bit is set.
func (r StatusReg) IsClear() bool {
	return r == StatusReg{}
}

// Common attentionable status bits shared by the integrated-servo and
// compact families. Families may define more; these are the ones the driver
// itself reacts to.
const (
	StatusBitWarning     uint32 = 1 << 0  // warning register non-zero
	StatusBitUserAlert   uint32 = 1 << 1  // alert register non-zero
	StatusBitNotReady    uint32 = 1 << 2  // node not ready for motion
	StatusBitMoveBufFull uint32 = 1 << 3  // move buffer full
	StatusBitInMotion    uint32 = 1 << 4  // executing a move
	StatusBitMoveDone    uint32 = 1 << 5  // move completed
	StatusBitReadyToGo   uint32 = 1 << 6  // enabled and idle
	StatusBitMotionLock  uint32 = 1 << 7  // E-Stop latch engaged
	StatusBitDisabled    uint32 = 1 << 8  // servo disabled
	StatusBitInAHome     uint32 = 1 << 9  // homing in progress
	StatusBitShutdown    uint32 = 1 << 10 // node shut down
)

// StatusView reads family-specific meaning out of an opaque status word.
// Only the fields the driver needs are modeled; applications needing the
// full register map work with the raw word.
type StatusView struct {
	Dev  DeviceType
	Word StatusReg
}

// motionLockBit returns the per-family position of the E-Stop latch bit.
func (v StatusView) motionLockBit() uint32 {
	switch v.Dev {
	case DevCompactMotor, DevCompactServo:
		// Compact families moved the latch up one position to make room
		// for an extended buffer flag.
		return StatusBitMotionLock << 1
	default:
		return StatusBitMotionLock
	}
}

// MotionLocked reports whether the E-Stop latch reads as engaged.
func (v StatusView) MotionLocked() bool {
	return v.Word.AttnBits()&v.motionLockBit() != 0
}

// Disabled reports whether the servo reads as disabled.
func (v StatusView) Disabled() bool {
	return v.Word.AttnBits()&StatusBitDisabled != 0
}

// InMotion reports whether a move is executing.
func (v StatusView) InMotion() bool {
	return v.Word.AttnBits()&StatusBitInMotion != 0
}
