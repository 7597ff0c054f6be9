package buserr

// On-wire error packets carry a 16-bit word with a five-bit error code and a
// two-bit class. The mapping into the driver taxonomy lives here so the
// classifier stays free of wire knowledge beyond field extraction.

// Error classes reported by nodes.
const (
	errClassNet    = 0
	errClassCmd    = 1
	errClassExtend = 3
)

// Network-detected error codes (class 0).
const (
	netErrFragment = iota
	netErrChecksum
	netErrStray
	netErrOverrun
	netErrFraming
	netErrRxParity
	netErrBabble
)

// Command-processing error codes (class 1).
const (
	cmdErrInternal = iota
	cmdErrUnknown
	cmdErrArgs
	cmdErrWriteFail
	cmdErrNVM
	cmdErrAccessLvl
	cmdErrMoveFull
	cmdErrMoveSpec
	cmdErrEStopped
	cmdErrMoveRange
	cmdErrShutdown
	cmdErrIex
	cmdErrBlocked
	cmdErrHoming
	cmdErrInMotion = 16
)

var netErrCodes = map[int]Code{
	netErrFragment: Fragment,
	netErrChecksum: BadChecksum,
	netErrStray:    StrayData,
	netErrOverrun:  PortOverrun,
	netErrFraming:  FramingError,
	netErrRxParity: RxParity,
	netErrBabble:   Babble,
}

var cmdErrCodes = map[int]Code{
	cmdErrInternal:  CommandInternal,
	cmdErrUnknown:   CommandUnknown,
	cmdErrArgs:      IllegalArgs,
	cmdErrWriteFail: WriteToReadOnly,
	cmdErrNVM:       NVMFailure,
	cmdErrAccessLvl: InsufficientAccess,
	cmdErrMoveFull:  MoveBufferFull,
	cmdErrMoveSpec:  MoveSpecError,
	cmdErrEStopped:  EStopped,
	cmdErrMoveRange: MoveRange,
	cmdErrShutdown:  ShutdownBlocked,
	cmdErrIex:       IexStopped,
	cmdErrBlocked:   MotionBlocked,
	cmdErrHoming:    HomingBlocked,
	cmdErrInMotion:  InMotion,
}

// FromWire maps a node-reported error word into the taxonomy. The word
// layout is code in bits [4:0], class in bits [6:5]; higher bits are
// code-specific optional data and ignored here.
func FromWire(word uint16) Code {
	code := int(word & 0x1F)
	class := int(word >> 5 & 0x3)
	switch class {
	case errClassNet:
		if c, ok := netErrCodes[code]; ok {
			return c
		}
	case errClassCmd:
		if c, ok := cmdErrCodes[code]; ok {
			return c
		}
	}
	return CommandInternal
}
