package driver

import (
	"github.com/axonlink/axonlink/internal/logger"
	"github.com/axonlink/axonlink/internal/protocol/link"
	"github.com/axonlink/axonlink/internal/protocol/wire"
	"github.com/axonlink/axonlink/pkg/multiaddr"
)

// Callbacks are the application event hooks. Register them once via
// SetCallbacks; any field may be nil. Delivery is single-threaded per
// network, in classification order, with no driver locks held.
type Callbacks struct {
	OnError       func(link.ErrRecord)
	OnAttention   func(link.AttnRecord)
	OnNetChange   func(net int, change link.NetChange)
	OnParamChange func(link.ParamChange)
	OnCacheInval  func(addr multiaddr.Addr)
	OnComplete    func(link.CompletionInfo)
}

// SetCallbacks replaces the application hooks for all networks.
func (d *Driver) SetCallbacks(cb Callbacks) {
	d.cbMu.Lock()
	d.cb = cb
	d.cbMu.Unlock()
}

// linkCallbacks builds the per-network dispatcher hooks: driver-internal
// reactions first (auto-brake, shutdown groups), application forwarding
// second.
func (d *Driver) linkCallbacks(n *link.Network) link.Callbacks {
	return link.Callbacks{
		OnError: func(rec link.ErrRecord) {
			d.cbMu.Lock()
			fn := d.cb.OnError
			d.cbMu.Unlock()
			if fn != nil {
				fn(rec)
			}
		},
		OnAttention: func(rec link.AttnRecord) {
			d.handleAttention(n, rec)
			d.cbMu.Lock()
			fn := d.cb.OnAttention
			d.cbMu.Unlock()
			if fn != nil {
				fn(rec)
			}
		},
		OnNetChange: func(net int, change link.NetChange) {
			d.cbMu.Lock()
			fn := d.cb.OnNetChange
			d.cbMu.Unlock()
			if fn != nil {
				fn(net, change)
			}
		},
		OnParamChange: func(chg link.ParamChange) {
			d.cbMu.Lock()
			fn := d.cb.OnParamChange
			d.cbMu.Unlock()
			if fn != nil {
				fn(chg)
			}
		},
		OnCacheInval: func(addr multiaddr.Addr) {
			d.cbMu.Lock()
			fn := d.cb.OnCacheInval
			d.cbMu.Unlock()
			if fn != nil {
				fn(addr)
			}
		},
		OnComplete: func(info link.CompletionInfo) {
			d.cbMu.Lock()
			fn := d.cb.OnComplete
			d.cbMu.Unlock()
			if fn != nil {
				fn(info)
			}
		},
	}
}

// NextAttention pops the oldest undelivered attention for a network.
func (d *Driver) NextAttention(net int) (link.AttnRecord, bool, error) {
	n, err := d.network(net)
	if err != nil {
		return link.AttnRecord{}, false, err
	}
	rec, ok := n.Disp.NextAttention()
	return rec, ok, nil
}

// FlushAttentions drops all undelivered attentions for a network.
func (d *Driver) FlushAttentions(net int) error {
	n, err := d.network(net)
	if err != nil {
		return err
	}
	n.Disp.FlushAttentions()
	return nil
}

// NextError pops the oldest unconsumed error event for a network.
func (d *Driver) NextError(net int) (link.ErrRecord, bool, error) {
	n, err := d.network(net)
	if err != nil {
		return link.ErrRecord{}, false, err
	}
	rec, ok := n.Disp.NextError()
	return rec, ok, nil
}

// NextNetChange pops the oldest unconsumed lifecycle event for a network.
func (d *Driver) NextNetChange(net int) (link.NetChange, bool, error) {
	n, err := d.network(net)
	if err != nil {
		return 0, false, err
	}
	c, ok := n.Disp.NextNetChange()
	return c, ok, nil
}

// ParamsHaveChanged reports and clears the node's parameter-change flag.
func (d *Driver) ParamsHaveChanged(addr multiaddr.Addr) (bool, error) {
	n, _, err := d.resolve(addr)
	if err != nil {
		return false, err
	}
	return n.Disp.ParamsHaveChanged(addr), nil
}

// BrakeControl selects how a brake output is driven.
type BrakeControl int

const (
	// BrakeAutoControl lets the auto-brake binding drive the output.
	BrakeAutoControl BrakeControl = iota
	// BrakePreventEngage holds the brake released regardless of bindings.
	BrakePreventEngage
	// BrakeForceEngage asserts the brake immediately and keeps it on.
	BrakeForceEngage
)

type brakeKey struct {
	net   int
	brake int
}

type brakeBinding struct {
	mode    BrakeControl
	enabled bool
	addr    multiaddr.Addr
}

// SetBrakeControl sets the drive mode for one brake output.
func (d *Driver) SetBrakeControl(net int, brake int, mode BrakeControl) error {
	if _, err := d.network(net); err != nil {
		return err
	}
	d.brakeMu.Lock()
	b := d.ensureBrake(net, brake)
	b.mode = mode
	d.brakeMu.Unlock()

	switch mode {
	case BrakeForceEngage:
		return d.driveBrake(net, brake, true)
	case BrakePreventEngage:
		return d.driveBrake(net, brake, false)
	}
	return nil
}

// GetBrakeControl reads the drive mode for one brake output.
func (d *Driver) GetBrakeControl(net int, brake int) (BrakeControl, error) {
	if _, err := d.network(net); err != nil {
		return 0, err
	}
	d.brakeMu.Lock()
	defer d.brakeMu.Unlock()
	if b, ok := d.brakes[brakeKey{net, brake}]; ok {
		return b.mode, nil
	}
	return BrakeAutoControl, nil
}

// SetAutoBrake binds a brake output to a node: when the node transitions
// to disabled, the brake asserts.
func (d *Driver) SetAutoBrake(net int, brake int, enabled bool, addr multiaddr.Addr) error {
	if _, err := d.network(net); err != nil {
		return err
	}
	d.brakeMu.Lock()
	b := d.ensureBrake(net, brake)
	b.enabled = enabled
	b.addr = addr
	d.brakeMu.Unlock()
	return nil
}

// GetAutoBrake reads a brake binding back.
func (d *Driver) GetAutoBrake(net int, brake int) (enabled bool, addr multiaddr.Addr, err error) {
	if _, err := d.network(net); err != nil {
		return false, multiaddr.Unknown, err
	}
	d.brakeMu.Lock()
	defer d.brakeMu.Unlock()
	if b, ok := d.brakes[brakeKey{net, brake}]; ok {
		return b.enabled, b.addr, nil
	}
	return false, multiaddr.Unknown, nil
}

// ensureBrake returns the binding record, creating it. Caller holds
// brakeMu.
func (d *Driver) ensureBrake(net, brake int) *brakeBinding {
	k := brakeKey{net, brake}
	b, ok := d.brakes[k]
	if !ok {
		b = &brakeBinding{addr: multiaddr.Unknown}
		d.brakes[k] = b
	}
	return b
}

// driveBrake asserts or releases a brake output. Brake outputs live on
// the user output register of the ring's first node; each brake index is
// one bit.
func (d *Driver) driveBrake(net int, brake int, assert bool) error {
	addr := multiaddr.New(net, 0)
	cur, err := d.GetOutputReg(addr)
	if err != nil {
		return err
	}
	bit := uint32(1) << uint(brake)
	next := cur &^ bit
	if assert {
		next = cur | bit
	}
	if next == cur {
		return nil
	}
	return d.SetOutputReg(addr, next)
}

// ShutdownInfo arms a node for group stop on shutdown events.
type ShutdownInfo struct {
	// Enabled arms the entry.
	Enabled bool

	// EventMask selects the attention bits that trip the group stop.
	EventMask uint32

	// StopType is the stop register to send when tripped.
	StopType wire.StopReg
}

// SetShutdownInfo arms or disarms shutdown handling for one node.
func (d *Driver) SetShutdownInfo(addr multiaddr.Addr, info ShutdownInfo) error {
	if _, _, err := d.resolve(addr); err != nil {
		return err
	}
	d.shutMu.Lock()
	d.shutInfo[addr] = info
	d.shutMu.Unlock()
	return nil
}

// GetShutdownInfo reads a node's shutdown arming back.
func (d *Driver) GetShutdownInfo(addr multiaddr.Addr) (ShutdownInfo, error) {
	if _, _, err := d.resolve(addr); err != nil {
		return ShutdownInfo{}, err
	}
	d.shutMu.Lock()
	defer d.shutMu.Unlock()
	return d.shutInfo[addr], nil
}

// ShutdownInitiate fires the armed stops for one network immediately.
func (d *Driver) ShutdownInitiate(net int) error {
	n, err := d.network(net)
	if err != nil {
		return err
	}
	d.initiateShutdownStops(n)
	return nil
}

// initiateShutdownStops sends each armed node its configured stop.
func (d *Driver) initiateShutdownStops(n *link.Network) {
	d.shutMu.Lock()
	var armed []struct {
		addr multiaddr.Addr
		info ShutdownInfo
	}
	for addr, info := range d.shutInfo {
		if info.Enabled && addr.Net() == n.Index {
			armed = append(armed, struct {
				addr multiaddr.Addr
				info ShutdownInfo
			}{addr, info})
		}
	}
	d.shutMu.Unlock()

	for _, a := range armed {
		if err := d.NodeStop(a.addr, a.info.StopType); err != nil {
			logger.Warn("shutdown stop failed",
				logger.KeyAddr, a.addr.String(), logger.KeyError, err.Error())
		}
	}
}

// handleAttention runs the driver's own reactions to an attention before
// the application sees it: auto-brake on disable, shutdown group stops.
func (d *Driver) handleAttention(n *link.Network, rec link.AttnRecord) {
	// auto-brake: a disable edge on a bound node asserts the brake
	if rec.Bits&wire.StatusBitDisabled != 0 {
		d.brakeMu.Lock()
		var hits []brakeKey
		for k, b := range d.brakes {
			if b.enabled && b.mode == BrakeAutoControl && b.addr == rec.Addr {
				hits = append(hits, k)
			}
		}
		d.brakeMu.Unlock()
		for _, k := range hits {
			if err := d.driveBrake(k.net, k.brake, true); err != nil {
				logger.Warn("auto-brake assert failed",
					logger.KeyNet, k.net, logger.KeyError, err.Error())
			}
		}
	}

	// shutdown groups: a masked event stops every armed node on the net
	d.shutMu.Lock()
	tripped := false
	for addr, info := range d.shutInfo {
		if info.Enabled && addr == rec.Addr && info.EventMask&rec.Bits != 0 {
			tripped = true
		}
	}
	d.shutMu.Unlock()
	if tripped {
		d.initiateShutdownStops(n)
	}
}
