// Package buserr defines the error taxonomy shared by every driver API.
//
// All failures — transport faults, framing damage, addressing mistakes,
// command rejections, motion refusals, and node self-reported errors — are
// expressed as a single Code so that callers can switch on one enumeration
// regardless of which layer produced the failure. Errors carry the
// originating multi-address and, when a node reported the error, a snapshot
// of the command that triggered it.
package buserr

import (
	"errors"
	"fmt"

	"github.com/axonlink/axonlink/pkg/multiaddr"
)

// Code classifies a driver failure.
type Code int

const (
	// OK is the zero value; it never appears inside a non-nil error.
	OK Code = iota

	// Transport family: serial port level failures.
	PortNotOpen
	WriteFailed
	ReadFailed
	PortOverrun

	// Framing family: damage detected while reassembling frames. These are
	// counted per network and normally surface only through diagnostics.
	Fragment
	BadChecksum
	StrayData
	Babble
	RxParity
	FramingError

	// Addressing family.
	UnknownAddress
	AddressOutOfRange
	NetworkNotOnline

	// Command family.
	CommandInternal
	CommandUnknown
	IllegalArgs
	WriteToReadOnly
	NVMFailure
	InsufficientAccess
	CommandTimeout

	// Motion family.
	MoveBufferFull
	MoveSpecError
	EStopped
	MoveRange
	ShutdownBlocked
	MotionBlocked
	InMotion
	HomingBlocked
	IexStopped

	// Lifecycle family.
	CommAborted
	NodeReset
	BaudUnsupported

	// Codec family.
	PayloadTooLarge
)

var codeText = map[Code]string{
	OK:                 "no error",
	PortNotOpen:        "serial port is not open",
	WriteFailed:        "serial port write failed",
	ReadFailed:         "serial port read failed",
	PortOverrun:        "serial port receive overrun",
	Fragment:           "packet fragment detected",
	BadChecksum:        "bad packet checksum",
	StrayData:          "stray data on link",
	Babble:             "runaway byte stream without packet start",
	RxParity:           "serial port parity error",
	FramingError:       "serial port framing error",
	UnknownAddress:     "address has not been assigned",
	AddressOutOfRange:  "node address beyond detected ring size",
	NetworkNotOnline:   "network is not online",
	CommandInternal:    "node internal command error",
	CommandUnknown:     "command unknown on this node",
	IllegalArgs:        "illegal or missing command arguments",
	WriteToReadOnly:    "attempt to write read-only value",
	NVMFailure:         "node non-volatile memory failure",
	InsufficientAccess: "insufficient access level",
	CommandTimeout:     "command response timed out",
	MoveBufferFull:     "move buffers full",
	MoveSpecError:      "move specification error",
	EStopped:           "motion attempted in E-Stopped state",
	MoveRange:          "move distance out of range",
	ShutdownBlocked:    "motion attempted in shutdown state",
	MotionBlocked:      "motion blocked until stop condition cleared",
	InMotion:           "command refused while move in progress",
	HomingBlocked:      "motion attempted while homing",
	IexStopped:         "I/O expander interaction while stopped",
	CommAborted:        "command aborted by network shutdown",
	NodeReset:          "node reset during command",
	BaudUnsupported:    "requested baud rate unsupported",
	PayloadTooLarge:    "payload exceeds packet capacity",
}

// String returns the static human-readable description for the code.
func (c Code) String() string {
	if s, ok := codeText[c]; ok {
		return s
	}
	return fmt.Sprintf("error code %d", int(c))
}

// IsMotion reports whether the code belongs to the motion family.
func (c Code) IsMotion() bool {
	return c >= MoveBufferFull && c <= IexStopped
}

// IsFraming reports whether the code belongs to the framing family.
// Framing errors are counted, not surfaced, unless the link breaks.
func (c Code) IsFraming() bool {
	return c >= Fragment && c <= FramingError
}

// Error is the concrete error type returned by driver APIs.
type Error struct {
	// Addr is the node the failure relates to, or multiaddr.Unknown for
	// network-level failures.
	Addr multiaddr.Addr

	// Code classifies the failure.
	Code Code

	// Cmd holds a snapshot of the command octets that triggered a node
	// reported error, when known. At most the first 18 octets are kept.
	Cmd []byte

	// Wrapped carries an underlying OS or transport error, if any.
	Wrapped error
}

// cmdSnapshotMax bounds the retained command snapshot.
const cmdSnapshotMax = 18

// New returns an Error for addr with the given code.
func New(addr multiaddr.Addr, code Code) *Error {
	return &Error{Addr: addr, Code: code}
}

// Wrap returns an Error for addr with the given code and underlying cause.
func Wrap(addr multiaddr.Addr, code Code, err error) *Error {
	return &Error{Addr: addr, Code: code, Wrapped: err}
}

// WithCommand attaches a command snapshot, truncated to 18 octets.
func (e *Error) WithCommand(cmd []byte) *Error {
	n := len(cmd)
	if n > cmdSnapshotMax {
		n = cmdSnapshotMax
	}
	e.Cmd = append([]byte(nil), cmd[:n]...)
	return e
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Addr, e.Code, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Addr, e.Code)
}

// Unwrap exposes the underlying cause for errors.Is chains.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches against another *Error by code, ignoring the address. This
// lets callers write errors.Is(err, buserr.New(multiaddr.Unknown, code)).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// CodeOf extracts the Code from any error, or OK when err is nil and
// CommandInternal when the error did not originate in this taxonomy.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CommandInternal
}
