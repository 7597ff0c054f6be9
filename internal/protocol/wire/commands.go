package wire

import "encoding/binary"

// Core command numbers. Every node implements the low block; the servo
// opcodes start at the move base and are transported, not interpreted, by
// the link layer.
const (
	CmdGetParam0   = 0
	CmdSetParam0   = 1
	CmdGetParam1   = 2
	CmdSetParam1   = 3
	CmdNodeStop    = 4
	CmdNetAccess   = 5
	CmdUserID      = 6
	CmdChkBaudRate = 7
	CmdAlertClr    = 8
	CmdAlertLog    = 9
	CmdGetParam2   = 11
	CmdSetParam2   = 12
	CmdGetParam3   = 13
	CmdSetParam3   = 14
	CmdCommonEnd   = 16

	CmdAddPosn  = 19
	CmdSyncPosn = 21
	CmdDataAcq  = 25

	// Move opcode block. The style offsets mirror the node's motion
	// generator selectors.
	CmdMovePosnAbs     = 64
	CmdMovePosnRel     = 65
	CmdMovePosnAbsTrig = 66
	CmdMovePosnRelTrig = 67
	CmdMoveVel         = 68
	CmdMoveVelTrig     = 69
	CmdMoveSkyline     = 70
)

// MoveOpcodeRange reports whether op is in the move command block and
// therefore subject to the host-side motion lockout latch.
func MoveOpcodeRange(op uint8) bool {
	return (op >= CmdMovePosnAbs && op <= CmdMoveSkyline) || op == CmdAddPosn
}

// ParamOptNonVolatile is OR-ed into a parameter index to address the
// non-volatile shadow of a parameter instead of the run-time value.
const ParamOptNonVolatile = 0x80

// Parameter banks. A node publishes up to four banks of 256 parameters.
const (
	BankCore  = 0
	BankSetup = 1
	BankDrive = 2
	BankAux   = 3
	NumBanks  = 4
)

var getParamOp = [NumBanks]uint8{CmdGetParam0, CmdGetParam1, CmdGetParam2, CmdGetParam3}
var setParamOp = [NumBanks]uint8{CmdSetParam0, CmdSetParam1, CmdSetParam2, CmdSetParam3}

// Core parameter numbers in bank 0.
const (
	ParamNodeID        = 0
	ParamFWVersion     = 1
	ParamHWVersion     = 2
	ParamResellerID    = 3
	ParamSerialNum     = 4
	ParamOptionReg     = 5
	ParamSamplePeriod  = 8
	ParamAlertReg      = 9
	ParamStopType      = 10
	ParamWatchdogTime  = 11
	ParamNetStat       = 12
	ParamStatusAccum   = 13
	ParamStatusRise    = 14
	ParamStatusAttnMsk = 15
	ParamStatusRT      = 16
	ParamTimestamp     = 17
	ParamPartNum       = 19
	ParamStatusFall    = 22
	ParamOutReg        = 32
	ParamUserOutReg    = 36
	ParamWarnReg       = 70
	ParamWarnMask      = 71
	ParamAlertMask     = 72
	ParamOnTime        = 89
	ParamUserRAM0      = 90
	ParamUserDataNV0   = 91
	ParamUserDataNV1   = 92
	ParamUserDataNV2   = 93
	ParamUserDataNV3   = 94

	ParamNetChecksumCtr = 104
	ParamNetFragCtr     = 105
	ParamNetStrayCtr    = 106
	ParamNetOverrunCtr  = 107
)

// Net access levels for CmdNetAccess.
const (
	AccessReadOnly = 0
	AccessTune     = 1
	AccessFull     = 2
	AccessFactory  = 3
)

// Command payload builders. Each returns the payload of a PktCommand frame:
// opcode first, arguments after.

// GetParamCmd builds a parameter read. Set the non-volatile option bit on
// index to read the shadow value.
func GetParamCmd(bank int, index uint8) []byte {
	return []byte{getParamOp[bank&3], index}
}

// SetParamCmd builds a parameter write.
func SetParamCmd(bank int, index uint8, value []byte) []byte {
	p := make([]byte, 0, 2+len(value))
	p = append(p, setParamOp[bank&3], index)
	return append(p, value...)
}

// NodeStopCmd builds a node stop carrying the 16-bit stop register.
func NodeStopCmd(reg StopReg) []byte {
	return []byte{CmdNodeStop, byte(reg), byte(reg >> 8)}
}

// NetAccessCmd builds an access level change.
func NetAccessCmd(level uint8) []byte {
	return []byte{CmdNetAccess, level}
}

// UserIDReadCmd builds a user ID read.
func UserIDReadCmd() []byte {
	return []byte{CmdUserID}
}

// UserIDWriteCmd builds a user ID write. The ID is silently truncated to
// the payload capacity left after the opcode.
func UserIDWriteCmd(id string) []byte {
	if len(id) > MaxPayload-1 {
		id = id[:MaxPayload-1]
	}
	return append([]byte{CmdUserID}, id...)
}

// ChkBaudRateCmd asks a node whether it supports the proposed rate. The
// response carries one octet: non-zero means supported.
func ChkBaudRateCmd(rate int) []byte {
	p := []byte{CmdChkBaudRate, 0, 0}
	binary.LittleEndian.PutUint16(p[1:], RateCode(rate))
	return p
}

// AlertClrCmd builds a clear of the non-serious alert register bits.
func AlertClrCmd() []byte {
	return []byte{CmdAlertClr}
}

// AlertLogCmd builds an alert log operation: 0 read, 1 clear, 2 mark epoch.
func AlertLogCmd(op uint8) []byte {
	return []byte{CmdAlertLog, op}
}

// MovePosnCmd builds a positional move. Trigger selects the group-released
// variant that waits for a Trigger broadcast.
func MovePosnCmd(target int32, relative, trigger bool) []byte {
	op := uint8(CmdMovePosnAbs)
	if relative {
		op = CmdMovePosnRel
	}
	if trigger {
		op += 2
	}
	p := []byte{op, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(p[1:], uint32(target))
	return p
}

// MoveVelCmd builds a velocity move.
func MoveVelCmd(vel int32, trigger bool) []byte {
	op := uint8(CmdMoveVel)
	if trigger {
		op = CmdMoveVelTrig
	}
	p := []byte{op, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(p[1:], uint32(vel))
	return p
}

// MoveSkylineCmd builds one segment of a skyline (segmented profile) move.
func MoveSkylineCmd(target int32, segVel int32) []byte {
	p := []byte{CmdMoveSkyline, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(p[1:], uint32(target))
	binary.LittleEndian.PutUint32(p[5:], uint32(segVel))
	return p
}

// AddPosnCmd builds a servo position adjustment.
func AddPosnCmd(delta int32) []byte {
	p := []byte{CmdAddPosn, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(p[1:], uint32(delta))
	return p
}

// SyncPosnCmd builds a position synchronize.
func SyncPosnCmd() []byte {
	return []byte{CmdSyncPosn}
}

// MoveAck is the response payload of a move command.
type MoveAck uint8

// Move acceptance states in bits [6:5] of the ack octet; bits [3:0] carry
// the node's remaining move buffer count.
const (
	MoveAccepted MoveAck = 0
	MoveQueued   MoveAck = 1
	MoveRejected MoveAck = 2
)

// ParseMoveAck splits a move response payload.
func ParseMoveAck(payload []byte) (state MoveAck, buffersRemaining int) {
	if len(payload) == 0 {
		return MoveRejected, 0
	}
	return MoveAck(payload[0] >> 5 & 0x3), int(payload[0] & 0x0F)
}

// EncodeMoveAck packs a move acceptance state with the remaining buffer
// count. The node side of the conversation uses this; the host only parses.
func EncodeMoveAck(state MoveAck, buffersRemaining int) byte {
	return byte(state)<<5 | byte(buffersRemaining)&0x0F
}
