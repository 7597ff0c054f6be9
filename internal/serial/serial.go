// Package serial abstracts the byte transport under a network.
//
// The link engine only needs a handful of operations beyond Read/Write:
// rate changes for baud negotiation, a line break to force nodes back to
// the discovery state, and buffer flushes around those events. Production
// code opens a real port; tests and the ring simulator provide in-memory
// implementations of the same interface.
package serial

import (
	"errors"
	"io"
	"time"
)

// ErrClosed is returned by operations on a closed port.
var ErrClosed = errors.New("serial: port closed")

// ErrTimeout is returned by Read when the configured read timeout expires
// with no data.
var ErrTimeout = errors.New("serial: read timeout")

// Port is one serial channel. Read blocks until at least one octet is
// available, the read timeout passes, or the port closes. Implementations
// must allow Close to be called concurrently with a blocked Read and make
// the Read return ErrClosed.
type Port interface {
	io.ReadWriteCloser

	// SetBaud reconfigures the line rate in bits per second.
	SetBaud(rate int) error

	// SendBreak holds the line in break state for the duration.
	SendBreak(d time.Duration) error

	// Flush discards unread input and untransmitted output.
	Flush() error

	// SetReadTimeout bounds how long Read blocks. Zero means block
	// indefinitely.
	SetReadTimeout(d time.Duration)
}

// Opener opens the named port at an initial rate. The production opener is
// OpenPort; tests substitute simulator factories.
type Opener func(name string, rate int) (Port, error)
