package metrics

import "time"

// LinkMetrics provides observability for one network's link layer.
//
// Implementations collect command latency, wire throughput, framing damage,
// and tracker occupancy. This interface is optional - pass nil to disable
// metrics collection with zero overhead.
type LinkMetrics interface {
	// RecordCommand records a completed tracked command with its opcode,
	// total round-trip duration, and outcome.
	//
	// Parameters:
	//   - opcode: command opcode name (e.g. "get-param", "move-posn")
	//   - duration: submission to response delivery
	//   - errCode: taxonomy code string if the command failed, empty on success
	RecordCommand(opcode string, duration time.Duration, errCode string)

	// RecordFrame records one frame moved over the wire.
	//
	// Parameters:
	//   - dir: "tx" or "rx"
	//   - octets: raw frame length including header and checksum
	RecordFrame(dir string, octets int)

	// RecordDamage records one unit of link damage seen by the scanner.
	//
	// Parameters:
	//   - kind: "fragment", "checksum", "stray", "babble", "overrun"
	RecordDamage(kind string)

	// SetTrackerDepth reports the in-flight command count after each
	// slot push or pop.
	SetTrackerDepth(depth int)

	// SetOnline reports network availability transitions.
	SetOnline(online bool)

	// RecordAttention counts one received attention packet.
	RecordAttention()
}
