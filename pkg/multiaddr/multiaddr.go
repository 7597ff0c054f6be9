// Package multiaddr provides the combined network/node address value used
// across the driver API.
//
// A fieldbus installation may span more than one serial network. Rather than
// passing (network, node) pairs through every API, both coordinates are
// packed into a single 32-bit Addr. Applications treat Addr as an opaque
// handle; the driver splits it back apart at the transport boundary.
package multiaddr

import "fmt"

// MaxNodesPerNet is the number of node slots on one network. The on-wire
// address field is four bits wide, which bounds a ring at sixteen nodes.
const MaxNodesPerNet = 16

// nodeMask extracts the node portion of an Addr.
const nodeMask = MaxNodesPerNet - 1

// Addr identifies one node on one network as a single value.
//
// The low four bits carry the node address within its ring; the remaining
// bits carry the network index. Conversions are pure arithmetic and never
// fail; validity against the actual ring size is checked by the driver when
// the address is used.
type Addr uint32

// Unknown marks an address that has not been assigned yet.
const Unknown Addr = 0xFFFFFFFF

// New packs a network index and node address into an Addr.
func New(net int, node int) Addr {
	return Addr(uint32(net)*MaxNodesPerNet + uint32(node)&nodeMask)
}

// Net returns the network index portion.
func (a Addr) Net() int {
	return int(a / MaxNodesPerNet)
}

// Node returns the node address portion.
func (a Addr) Node() int {
	return int(a & nodeMask)
}

// IsUnknown reports whether a is the unassigned sentinel.
func (a Addr) IsUnknown() bool {
	return a == Unknown
}

// String renders the address as "net:node" for logs and error messages.
func (a Addr) String() string {
	if a.IsUnknown() {
		return "unknown"
	}
	return fmt.Sprintf("%d:%d", a.Net(), a.Node())
}
