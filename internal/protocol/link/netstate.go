package link

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/xid"

	"github.com/axonlink/axonlink/internal/logger"
	"github.com/axonlink/axonlink/internal/protocol/wire"
	"github.com/axonlink/axonlink/internal/serial"
	"github.com/axonlink/axonlink/pkg/buserr"
	"github.com/axonlink/axonlink/pkg/multiaddr"
)

// zeroID is the nil correlation id for unsolicited host traffic.
func zeroID() xid.ID {
	return xid.ID{}
}

// State is the network lifecycle state. Only the state machine mutates it.
type State int

const (
	StateOffline State = iota
	StateProbing
	StateBreakSent
	StateAddressAssigning
	StateAddressReversing
	StateBaudNegotiating
	StateInventorying
	StateOnline
	StateBroken
	StateStopping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateProbing:
		return "probing"
	case StateBreakSent:
		return "break-sent"
	case StateAddressAssigning:
		return "address-assigning"
	case StateAddressReversing:
		return "address-reversing"
	case StateBaudNegotiating:
		return "baud-negotiating"
	case StateInventorying:
		return "inventorying"
	case StateOnline:
		return "online"
	case StateBroken:
		return "broken"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

func (n *Network) setState(s State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
	logger.Debug("network state", logger.KeyNet, n.Index, logger.KeyState, s.String())
}

// Start brings the network from cold to online: port probe, break, address
// assignment, optional ring verification, baud negotiation, and inventory.
// It blocks for the whole traversal and leaves the background worker
// running on success.
func (n *Network) Start(resetNodes bool) error {
	n.stopping.Store(false)
	return n.bringUp(resetNodes)
}

func (n *Network) bringUp(resetNodes bool) error {
	n.Tracker.Reopen()

	// Probing: open the port at the base rate.
	n.setState(StateProbing)
	port, err := n.open(n.portName, wire.BaseRate)
	if err != nil {
		n.setState(StateOffline)
		n.Disp.NetChange(ChangeNoPort)
		logger.Error("port open failed",
			logger.KeyNet, n.Index, logger.KeyPort, n.portName, logger.KeyError, err.Error())
		return buserr.Wrap(multiaddr.Unknown, buserr.PortNotOpen, err)
	}

	n.mu.Lock()
	n.port = port
	n.rate = wire.BaseRate
	n.mu.Unlock()
	n.startReader(port)

	n.Disp.NetChange(ChangeResetting)

	fail := func(err error) error {
		n.teardownPort()
		n.setState(StateBroken)
		n.Disp.NetChange(ChangeBroken)
		return err
	}

	// Break: force every node back to the base-rate discovery state.
	if err := port.SendBreak(wire.BreakMs * time.Millisecond); err != nil {
		return fail(buserr.Wrap(multiaddr.Unknown, buserr.WriteFailed, err))
	}
	n.setState(StateBreakSent)
	time.Sleep(wire.BreakRecoveryMs * time.Millisecond)

	if resetNodes {
		if err := n.WriteFrame(wire.ResetFrame(), zeroID()); err != nil {
			return fail(err)
		}
		time.Sleep(n.cfg.ResetWait)
		_ = port.Flush()
	}

	// Address assignment.
	n.setState(StateAddressAssigning)
	count, err := n.assignAddresses()
	if err != nil {
		return fail(err)
	}
	logger.Info("ring enumerated", logger.KeyNet, n.Index, logger.KeyNodes, count)

	// Ring verification.
	if n.AutoDiscovery() {
		n.setState(StateAddressReversing)
		if err := n.reverseCheck(count); err != nil {
			return fail(err)
		}
	}

	// Baud negotiation.
	n.setState(StateBaudNegotiating)
	if err := n.negotiateBaud(port, count); err != nil {
		return fail(err)
	}

	// Inventory.
	n.setState(StateInventorying)
	nodes, err := n.inventory(count)
	if err != nil {
		return fail(err)
	}

	n.mu.Lock()
	n.nodes = nodes
	n.state = StateOnline
	n.mu.Unlock()

	if n.met != nil {
		n.met.SetOnline(true)
	}
	n.poll.start()
	n.Disp.NetChange(ChangeOnline)
	logger.Info("network online",
		logger.KeyNet, n.Index, logger.KeyNodes, count, logger.KeyBaud, n.Rate())
	return nil
}

// assignAddresses sends the enumeration packet and waits for it to come
// back around the ring carrying the node count.
func (n *Network) assignAddresses() (int, error) {
	var lastErr error
	for attempt := 1; attempt <= n.cfg.AssignRetries; attempt++ {
		n.drainCtl()
		if err := n.WriteFrame(wire.SetAddrFrame(0), zeroID()); err != nil {
			return 0, err
		}

		f, ok := n.waitCtl(wire.PktSetAddr, -1, n.cfg.CtlTimeout)
		if !ok {
			lastErr = buserr.New(multiaddr.Unknown, buserr.CommandTimeout)
			logger.Warn("address assignment timed out",
				logger.KeyNet, n.Index, logger.KeyAttempt, attempt)
			continue
		}

		count, cfgErr := wire.SetAddrCount(f)
		if cfgErr {
			lastErr = buserr.New(multiaddr.Unknown, buserr.UnknownAddress)
			continue
		}
		if count == 0 || count > multiaddr.MaxNodesPerNet {
			lastErr = buserr.New(multiaddr.Unknown, buserr.UnknownAddress)
			continue
		}
		return count, nil
	}
	return 0, fmt.Errorf("address assignment failed after %d attempts: %w",
		n.cfg.AssignRetries, lastErr)
}

// reverseCheck verifies the ring by running the enumeration backwards. A
// healthy ring of N nodes returns a zero residue; anything else means a
// node is missing, duplicated, or wired out of order.
func (n *Network) reverseCheck(count int) error {
	var lastErr error
	for attempt := 1; attempt <= n.cfg.AssignRetries; attempt++ {
		n.drainCtl()
		if err := n.WriteFrame(wire.RevAddrFrame(uint8(count)), zeroID()); err != nil {
			return err
		}

		f, ok := n.waitCtl(wire.PktExtendHigh, wire.ExtHighRevAddr, n.cfg.CtlTimeout)
		if !ok {
			lastErr = buserr.New(multiaddr.Unknown, buserr.CommandTimeout)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if residue := wire.RevAddrResidue(f); residue != 0 {
			return fmt.Errorf("ring reversal mismatch, residue %d of %d nodes: %w",
				residue, count, buserr.New(multiaddr.Unknown, buserr.UnknownAddress))
		}
		return nil
	}
	return fmt.Errorf("ring reversal failed after %d attempts: %w",
		n.cfg.AssignRetries, lastErr)
}

// negotiateBaud finds the fastest rate every node accepts, then switches
// the ring and the port to it.
func (n *Network) negotiateBaud(port serial.Port, count int) error {
	target := n.cfg.TargetRate
	if !wire.ValidRate(target) {
		target = wire.BaseRate
	}

	for target > wire.BaseRate {
		if n.allNodesAccept(target, count) {
			break
		}
		n.Disp.NetChange(ChangeBaudUnsupported)
		logger.Warn("rate rejected, degrading",
			logger.KeyNet, n.Index, logger.KeyBaud, target)
		target = wire.NextLowerRate(target)
	}

	if target <= wire.BaseRate {
		// Everyone stays at the base rate; nothing to switch.
		return nil
	}

	n.Disp.NetChange(ChangeBaudChanging)
	if err := n.WriteFrame(wire.BaudRateFrame(target), zeroID()); err != nil {
		return err
	}

	// Let the broadcast traverse the ring before moving the host port.
	time.Sleep(20 * time.Millisecond)
	if err := port.SetBaud(target); err != nil {
		return buserr.Wrap(multiaddr.Unknown, buserr.BaudUnsupported, err)
	}
	_ = port.Flush()

	n.mu.Lock()
	n.rate = target
	n.mu.Unlock()
	logger.Info("rate negotiated", logger.KeyNet, n.Index, logger.KeyBaud, target)
	return nil
}

// allNodesAccept polls every node for the proposed rate at the current
// rate. A timeout counts as a rejection.
func (n *Network) allNodesAccept(rate int, count int) bool {
	for addr := 0; addr < count; addr++ {
		resp, err := n.runRaw(uint8(addr), wire.ChkBaudRateCmd(rate), n.cfg.ReadDeadline)
		if err != nil || len(resp) == 0 || resp[0] == 0 {
			return false
		}
	}
	return true
}

// inventory reads the identity block from every node. A partial inventory
// is a failure; no half-populated ring ever goes online.
func (n *Network) inventory(count int) ([]*NodeInfo, error) {
	nodes := make([]*NodeInfo, count)
	for addr := 0; addr < count; addr++ {
		node := newNodeInfo(multiaddr.New(n.Index, addr))

		reads := []struct {
			index uint8
			apply func([]byte)
		}{
			{wire.ParamNodeID, func(v []byte) { node.Dev = wire.DeviceID(le16(v)) }},
			{wire.ParamFWVersion, func(v []byte) { node.FW = wire.FWVersion(le16(v)) }},
			{wire.ParamHWVersion, func(v []byte) { node.HW = wire.HWVersion(le16(v)) }},
			{wire.ParamOptionReg, func(v []byte) { node.Option = le32(v) }},
			{wire.ParamSerialNum, func(v []byte) { node.Serial = le32(v) }},
			{wire.ParamPartNum, func(v []byte) { node.PartNum = cString(v) }},
		}
		for _, r := range reads {
			resp, err := n.runRaw(uint8(addr), wire.GetParamCmd(wire.BankCore, r.index), n.cfg.ReadDeadline)
			if err != nil {
				return nil, fmt.Errorf("inventory of node %d parameter %d: %w", addr, r.index, err)
			}
			r.apply(resp)
			node.CachePut(wire.BankCore, r.index, resp)
		}

		nodes[addr] = node
		logger.Debug("node inventoried",
			logger.KeyNet, n.Index, logger.KeyNode, addr,
			logger.KeyDevType, node.Dev.Type().String(),
			logger.KeyFWVers, node.FW.String(),
			logger.KeySerial, node.Serial)
	}
	return nodes, nil
}

// Stop takes the network down in order: worker, tracker, reader, port.
func (n *Network) Stop() {
	n.stopping.Store(true)

	n.mu.Lock()
	if n.state == StateClosed {
		n.mu.Unlock()
		return
	}
	n.state = StateStopping
	n.mu.Unlock()

	n.poll.stopAndWait()
	n.Tracker.Close()
	n.teardownPort()

	if n.met != nil {
		n.met.SetOnline(false)
	}
	n.setState(StateClosed)
	n.Disp.NetChange(ChangeOffline)
	n.Disp.Close()
}

// Restart tears down the link and runs the full bring-up again.
func (n *Network) Restart(resetNodes bool) error {
	n.mu.Lock()
	wasOnline := n.state == StateOnline
	n.mu.Unlock()

	if wasOnline {
		n.poll.stopAndWait()
		n.Tracker.Flush()
		n.teardownPort()
	}
	n.setState(StateOffline)
	return n.bringUp(resetNodes)
}

// teardownPort stops the reader and closes the port.
func (n *Network) teardownPort() {
	n.mu.Lock()
	port := n.port
	n.port = nil
	n.mu.Unlock()

	if port != nil {
		port.Close()
	}
	n.stopReader()
}

// markBroken moves an online network to Broken: the tracker drains, the
// trace ring is snapshotted for post-mortem, and when auto-discovery is on
// a recovery loop starts re-probing with backoff.
func (n *Network) markBroken(cause error) {
	n.mu.Lock()
	if n.state == StateBroken || n.state == StateStopping || n.state == StateClosed {
		n.mu.Unlock()
		return
	}
	n.state = StateBroken
	n.mu.Unlock()

	logger.Error("network broken",
		logger.KeyNet, n.Index, logger.KeyError, cause.Error())

	if n.met != nil {
		n.met.SetOnline(false)
	}
	n.poll.stopAndWait()
	n.Tracker.Flush()
	n.teardownPort()
	n.snapshotTrace()
	n.Disp.NetChange(ChangeBroken)

	if n.AutoDiscovery() && !n.stopping.Load() {
		n.startRecovery()
	}
}

// snapshotTrace dumps the trace ring into the temp dir for post-mortem.
func (n *Network) snapshotTrace() {
	name := fmt.Sprintf("axonlink-net%d-%s.trace", n.Index, uuid.NewString())
	path := filepath.Join(os.TempDir(), name)
	if err := n.Trace.Dump(path); err != nil {
		logger.Warn("trace snapshot failed",
			logger.KeyNet, n.Index, logger.KeyError, err.Error())
		return
	}
	logger.Info("trace snapshot written", logger.KeyNet, n.Index, "path", path)
}

// startRecovery re-probes the link until it comes back or the network is
// stopped.
func (n *Network) startRecovery() {
	if !n.recovering.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer n.recovering.Store(false)

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = n.cfg.RecoveryInitial
		bo.MaxInterval = n.cfg.RecoveryMax
		bo.MaxElapsedTime = 0 // retry until stopped

		attempt := 0
		err := backoff.Retry(func() error {
			if n.stopping.Load() {
				return backoff.Permanent(errors.New("network stopping"))
			}
			attempt++
			logger.Info("recovery attempt",
				logger.KeyNet, n.Index, logger.KeyAttempt, attempt)
			return n.bringUp(false)
		}, bo)
		if err != nil {
			logger.Warn("recovery abandoned",
				logger.KeyNet, n.Index, logger.KeyError, err.Error())
		}
	}()
}

// waitCtl waits for a control frame of the given type (and extension code,
// unless -1) from the reader.
func (n *Network) waitCtl(t wire.PktType, extCode int, timeout time.Duration) (wire.Frame, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case f := <-n.ctl:
			if f.Type != t {
				continue
			}
			if extCode >= 0 && wire.ExtCode(f) != extCode {
				continue
			}
			return f, true
		case <-deadline.C:
			return wire.Frame{}, false
		}
	}
}

// drainCtl empties stale control frames before a fresh exchange.
func (n *Network) drainCtl() {
	for {
		select {
		case <-n.ctl:
		default:
			return
		}
	}
}

func le16(v []byte) uint16 {
	if len(v) < 2 {
		if len(v) == 1 {
			return uint16(v[0])
		}
		return 0
	}
	return binary.LittleEndian.Uint16(v)
}

func le32(v []byte) uint32 {
	var b [4]byte
	copy(b[:], v)
	return binary.LittleEndian.Uint32(b[:])
}

func cString(v []byte) string {
	for i, c := range v {
		if c == 0 {
			return string(v[:i])
		}
	}
	return string(v)
}
