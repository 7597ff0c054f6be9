package wire

// StopReg is the 16-bit node-stop register. The low byte selects the motion
// generator action and the latched modifiers; the Clear bit turns the same
// modifier bits into a latch release instead.
//
//	[2:0] style   [3] clear   [4] e-stop   [5] controlled
//	[6] quiet     [7] disable
type StopReg uint16

// Stop styles: what the motion generator does when the stop lands.
const (
	StopStyleAbrupt      StopReg = 0 // kill motion immediately
	StopStyleRamp        StopReg = 1 // decelerate at the stop decel limit
	StopStyleAfterCycle  StopReg = 2 // stop after the current cycle completes
	StopStyleIgnore      StopReg = 3 // node ignores the stop
	StopStyleRampAtDecel StopReg = 4 // decelerate at the active decel limit
)

// Modifier bits. Setting a modifier latches it on the node; setting it
// together with StopClear releases just that latch.
const (
	StopClear      StopReg = 1 << 3
	StopEStop      StopReg = 1 << 4 // motion lockout until cleared
	StopControlled StopReg = 1 << 5 // force the controlled output register
	StopQuiet      StopReg = 1 << 6 // suppress status register update
	StopDisable    StopReg = 1 << 7 // disable the servo when motion ends
)

// Common stop codes.
const (
	StopTypeAbrupt       = StopStyleAbrupt
	StopTypeRamp         = StopStyleRamp
	StopTypeIgnore       = StopStyleIgnore
	StopTypeEStopAbrupt  = StopStyleAbrupt | StopEStop
	StopTypeEStopRamp    = StopStyleRamp | StopEStop
	StopTypeClrEStop     = StopClear | StopEStop
	StopTypeClrCtrld     = StopClear | StopControlled
	StopTypeClrDisable   = StopClear | StopDisable
	StopTypeClrAll       = StopClear | StopEStop | StopControlled | StopQuiet | StopDisable
)

// Style extracts the motion generator action.
func (r StopReg) Style() StopReg {
	return r & 0x7
}

// IsClear reports whether this stop releases latches rather than setting
// them.
func (r StopReg) IsClear() bool {
	return r&StopClear != 0
}

// SetsEStop reports whether this stop latches the motion lockout.
func (r StopReg) SetsEStop() bool {
	return r&StopEStop != 0 && !r.IsClear()
}

// ClearsEStop reports whether this stop releases the motion lockout.
func (r StopReg) ClearsEStop() bool {
	return r&StopEStop != 0 && r.IsClear()
}

// SetsDisable reports whether this stop latches the servo-disable action.
func (r StopReg) SetsDisable() bool {
	return r&StopDisable != 0 && !r.IsClear()
}
