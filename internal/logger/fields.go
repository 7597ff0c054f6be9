package logger

import (
	"fmt"
	"log/slog"

	"github.com/axonlink/axonlink/pkg/multiaddr"
)

// Standard field keys for structured logging. Use these keys consistently
// across all log statements so a single grep or log query covers every
// layer of the driver.
const (
	// Addressing
	KeyNet  = "net"  // network index
	KeyNode = "node" // node address within the ring
	KeyAddr = "addr" // combined multi-address, "net:node"

	// Link traffic
	KeyPktType = "pkt_type" // packet type mnemonic
	KeyOpcode  = "opcode"   // command opcode
	KeyOctets  = "octets"   // raw octet count
	KeyCmdID   = "cmd_id"   // command correlation id
	KeyDepth   = "depth"    // tracker in-flight depth

	// Network lifecycle
	KeyState = "state" // state machine state
	KeyBaud  = "baud"  // line rate in bits/s
	KeyNodes = "nodes" // discovered node count
	KeyPort  = "port"  // serial port path

	// Operation metadata
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyDeadlineMs = "deadline_ms" // caller deadline in milliseconds
	KeyError      = "error"       // error message
	KeyErrorCode  = "error_code"  // taxonomy code
	KeyAttempt    = "attempt"     // retry attempt number

	// Node identity
	KeyDevType = "dev_type" // device family
	KeyFWVers  = "fw_vers"  // firmware version
	KeySerial  = "serial"   // unit serial number

	// Parameters
	KeyBank  = "bank"  // parameter bank
	KeyIndex = "index" // parameter index

	// Events
	KeyAttnBits = "attn_bits" // raised attention bits
	KeyStopType = "stop_type" // node stop register
	KeyDamage   = "damage"    // link damage kind
)

// Field constructors for type safety.

// Net returns a slog.Attr for the network index
func Net(n int) slog.Attr {
	return slog.Int(KeyNet, n)
}

// Node returns a slog.Attr for a node address
func Node(n int) slog.Attr {
	return slog.Int(KeyNode, n)
}

// Addr returns a slog.Attr for a multi-address
func Addr(a multiaddr.Addr) slog.Attr {
	return slog.String(KeyAddr, a.String())
}

// PktType returns a slog.Attr for a packet type mnemonic
func PktType(t fmt.Stringer) slog.Attr {
	return slog.String(KeyPktType, t.String())
}

// Opcode returns a slog.Attr for a command opcode
func Opcode(op uint8) slog.Attr {
	return slog.Int(KeyOpcode, int(op))
}

// Octets returns a slog.Attr for a raw octet count
func Octets(n int) slog.Attr {
	return slog.Int(KeyOctets, n)
}

// CmdID returns a slog.Attr for a command correlation id
func CmdID(id fmt.Stringer) slog.Attr {
	return slog.String(KeyCmdID, id.String())
}

// Depth returns a slog.Attr for the tracker depth
func Depth(d int) slog.Attr {
	return slog.Int(KeyDepth, d)
}

// State returns a slog.Attr for a state machine state
func State(s fmt.Stringer) slog.Attr {
	return slog.String(KeyState, s.String())
}

// Baud returns a slog.Attr for a line rate
func Baud(rate int) slog.Attr {
	return slog.Int(KeyBaud, rate)
}

// Nodes returns a slog.Attr for a discovered node count
func Nodes(n int) slog.Attr {
	return slog.Int(KeyNodes, n)
}

// Port returns a slog.Attr for a serial port path
func Port(name string) slog.Attr {
	return slog.String(KeyPort, name)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Bank returns a slog.Attr for a parameter bank
func Bank(b int) slog.Attr {
	return slog.Int(KeyBank, b)
}

// Index returns a slog.Attr for a parameter index
func Index(i uint8) slog.Attr {
	return slog.Int(KeyIndex, int(i))
}

// AttnBits returns a slog.Attr for raised attention bits
func AttnBits(bits uint32) slog.Attr {
	return slog.String(KeyAttnBits, fmt.Sprintf("%#08x", bits))
}

// Damage returns a slog.Attr for a link damage kind
func Damage(kind fmt.Stringer) slog.Attr {
	return slog.String(KeyDamage, kind.String())
}
