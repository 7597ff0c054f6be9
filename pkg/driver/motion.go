package driver

import (
	"github.com/axonlink/axonlink/internal/logger"
	"github.com/axonlink/axonlink/internal/protocol/link"
	"github.com/axonlink/axonlink/internal/protocol/wire"
	"github.com/axonlink/axonlink/pkg/buserr"
	"github.com/axonlink/axonlink/pkg/multiaddr"
)

// MoveResult reports how the node's onboard move buffer took a request.
type MoveResult struct {
	State            wire.MoveAck
	BuffersRemaining int
}

// checkMotionAllowed enforces the host-side E-Stop latch: after a latching
// stop, motion opcodes fail locally until a clearing stop is issued.
func (d *Driver) checkMotionAllowed(addr multiaddr.Addr) error {
	_, node, err := d.resolve(addr)
	if err != nil {
		return err
	}
	if node.MotionLocked() {
		return buserr.New(addr, buserr.MotionBlocked)
	}
	return nil
}

// runMove submits a flow-controlled move command and decodes the ack.
func (d *Driver) runMove(addr multiaddr.Addr, cmd []byte) (MoveResult, error) {
	if err := d.checkMotionAllowed(addr); err != nil {
		return MoveResult{}, err
	}
	n, _, err := d.resolve(addr)
	if err != nil {
		return MoveResult{}, err
	}
	resp, err := n.RunCommand(uint8(addr.Node()), cmd, d.opts.Link.MotionDeadline)
	if err != nil {
		return MoveResult{}, err
	}
	state, remaining := wire.ParseMoveAck(resp)
	if state == wire.MoveRejected {
		return MoveResult{State: state, BuffersRemaining: remaining},
			buserr.New(addr, buserr.MoveSpecError)
	}
	return MoveResult{State: state, BuffersRemaining: remaining}, nil
}

// MoveAbsolute commands a positional move to an absolute target.
func (d *Driver) MoveAbsolute(addr multiaddr.Addr, target int32, triggered bool) (MoveResult, error) {
	return d.runMove(addr, wire.MovePosnCmd(target, false, triggered))
}

// MoveRelative commands a positional move by a signed distance.
func (d *Driver) MoveRelative(addr multiaddr.Addr, dist int32, triggered bool) (MoveResult, error) {
	return d.runMove(addr, wire.MovePosnCmd(dist, true, triggered))
}

// MoveVelocity commands a velocity move.
func (d *Driver) MoveVelocity(addr multiaddr.Addr, vel int32, triggered bool) (MoveResult, error) {
	return d.runMove(addr, wire.MoveVelCmd(vel, triggered))
}

// MoveSkyline commands one segment of a segmented-profile move.
func (d *Driver) MoveSkyline(addr multiaddr.Addr, target int32, segVel int32) (MoveResult, error) {
	return d.runMove(addr, wire.MoveSkylineCmd(target, segVel))
}

// AddToPosition adjusts the servo's position accumulator without motion.
func (d *Driver) AddToPosition(addr multiaddr.Addr, delta int32) error {
	if err := d.checkMotionAllowed(addr); err != nil {
		return err
	}
	n, _, err := d.resolve(addr)
	if err != nil {
		return err
	}
	_, err = n.RunCommand(uint8(addr.Node()), wire.AddPosnCmd(delta), d.opts.Link.MotionDeadline)
	return err
}

// SyncPosition latches the node's position capture.
func (d *Driver) SyncPosition(addr multiaddr.Addr) error {
	n, _, err := d.resolve(addr)
	if err != nil {
		return err
	}
	_, err = n.RunCommand(uint8(addr.Node()), wire.SyncPosnCmd(), d.opts.Link.MotionDeadline)
	return err
}

// Trigger releases all waiting group moves in the trigger group. Released
// moves are not individually acknowledged.
func (d *Driver) Trigger(net int, group uint8) error {
	n, err := d.network(net)
	if err != nil {
		return err
	}
	return n.WriteFrame(wire.TriggerFrame(group), zeroCmdID())
}

// NodeStop issues a stop to one node. The packet rides the high-priority
// extension type, bypassing the command window entirely, so a stop lands
// even when the pipeline is saturated. Latching and clearing modifiers
// update the host-side motion lock.
func (d *Driver) NodeStop(addr multiaddr.Addr, reg wire.StopReg) error {
	n, node, err := d.resolve(addr)
	if err != nil {
		return err
	}
	f := wire.NodeStopFrame(uint8(addr.Node()), reg, false)
	if err := n.WriteFrame(f, zeroCmdID()); err != nil {
		return err
	}
	d.applyStopLatch(node, reg)
	logger.Info("node stop issued",
		logger.KeyAddr, addr.String(), logger.KeyStopType, int(reg))
	return nil
}

// NodeStopNet broadcasts a stop to every node on the network.
func (d *Driver) NodeStopNet(net int, reg wire.StopReg) error {
	n, err := d.network(net)
	if err != nil {
		return err
	}
	f := wire.NodeStopFrame(0, reg, true)
	if err := n.WriteFrame(f, zeroCmdID()); err != nil {
		return err
	}
	for _, node := range n.Nodes() {
		d.applyStopLatch(node, reg)
	}
	logger.Info("network stop issued", logger.KeyNet, net, logger.KeyStopType, int(reg))
	return nil
}

func (d *Driver) applyStopLatch(node *link.NodeInfo, reg wire.StopReg) {
	switch {
	case reg.SetsEStop():
		node.SetMotionLock(true)
	case reg.ClearsEStop():
		node.SetMotionLock(false)
	}
}
