package link

import (
	"sync"

	"github.com/axonlink/axonlink/internal/protocol/wire"
	"github.com/axonlink/axonlink/pkg/multiaddr"
)

// NodeInfo is the driver's record of one discovered node. It is owned by
// its Network; applications only ever hold the multi-address.
type NodeInfo struct {
	Addr multiaddr.Addr

	// Identity, filled by the inventory pass.
	Dev     wire.DeviceID
	FW      wire.FWVersion
	HW      wire.HWVersion
	Option  uint32
	Serial  uint32
	PartNum string
	UserID  string

	mu sync.Mutex

	// paramCache holds the last read or written value per (bank, index).
	// Invalidated when the node announces a parameter change.
	paramCache map[uint16][]byte

	// motionLock mirrors the node's E-Stop latch on the host side, so
	// motion opcodes are refused locally without a round trip.
	motionLock bool

	// stopType caches the configured default stop register.
	stopType wire.StopReg

	// diag holds the node's self-reported link error counters.
	diag    DiagStats
	diagSet bool
}

// DiagStats mirrors the per-node link damage counters a node reports in
// its diagnostic packets and error-counter parameters.
type DiagStats struct {
	Fragments uint16
	Checksums uint16
	Strays    uint16
	Overruns  uint16
}

func newNodeInfo(addr multiaddr.Addr) *NodeInfo {
	return &NodeInfo{
		Addr:       addr,
		paramCache: make(map[uint16][]byte),
	}
}

func paramKey(bank int, index uint8) uint16 {
	return uint16(bank)<<8 | uint16(index)
}

// CacheGet returns the cached value for a parameter, if any.
func (n *NodeInfo) CacheGet(bank int, index uint8) ([]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.paramCache[paramKey(bank, index)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// CachePut stores a parameter value.
func (n *NodeInfo) CachePut(bank int, index uint8, value []byte) {
	n.mu.Lock()
	n.paramCache[paramKey(bank, index)] = append([]byte(nil), value...)
	n.mu.Unlock()
}

// CacheInvalidate drops one cached parameter, or the whole cache when
// index is negative.
func (n *NodeInfo) CacheInvalidate(bank int, index int) {
	n.mu.Lock()
	if index < 0 {
		n.paramCache = make(map[uint16][]byte)
	} else {
		delete(n.paramCache, paramKey(bank, uint8(index)))
	}
	n.mu.Unlock()
}

// SetMotionLock records the host-side E-Stop latch state.
func (n *NodeInfo) SetMotionLock(locked bool) {
	n.mu.Lock()
	n.motionLock = locked
	n.mu.Unlock()
}

// MotionLocked reports the host-side E-Stop latch.
func (n *NodeInfo) MotionLocked() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.motionLock
}

// SetStopType caches the configured default stop register.
func (n *NodeInfo) SetStopType(reg wire.StopReg) {
	n.mu.Lock()
	n.stopType = reg
	n.mu.Unlock()
}

// StopType returns the cached default stop register.
func (n *NodeInfo) StopType() wire.StopReg {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stopType
}

// SetDiag stores self-reported link counters from a diagnostic packet.
func (n *NodeInfo) SetDiag(d DiagStats) {
	n.mu.Lock()
	n.diag = d
	n.diagSet = true
	n.mu.Unlock()
}

// Diag returns the self-reported counters and whether any were received.
func (n *NodeInfo) Diag() (DiagStats, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.diag, n.diagSet
}
