package driver

import (
	"context"
	"time"

	"github.com/rs/xid"

	"github.com/axonlink/axonlink/internal/protocol/link"
	"github.com/axonlink/axonlink/internal/protocol/wire"
	"github.com/axonlink/axonlink/internal/telemetry"
	"github.com/axonlink/axonlink/pkg/buserr"
	"github.com/axonlink/axonlink/pkg/multiaddr"
)

// ParamRef addresses one typed value on a node. The driver treats the
// value as opaque bytes; scaling and interpretation belong to the caller.
type ParamRef struct {
	// Bank selects one of the node's parameter namespaces (0..3).
	Bank int

	// Index selects the parameter within the bank.
	Index uint8

	// NonVolatile addresses the parameter's non-volatile shadow instead
	// of the live value.
	NonVolatile bool
}

func (p ParamRef) wireIndex() uint8 {
	idx := p.Index
	if p.NonVolatile {
		idx |= wire.ParamOptNonVolatile
	}
	return idx
}

func zeroCmdID() xid.ID {
	return xid.ID{}
}

// RunCommand submits a raw tracked command to a node and blocks for the
// matched response. A zero timeout applies the configured read deadline.
func (d *Driver) RunCommand(addr multiaddr.Addr, cmd []byte, timeout time.Duration) ([]byte, error) {
	return d.RunCommandCtx(context.Background(), addr, cmd, timeout)
}

// RunCommandCtx is RunCommand with span propagation and a context-capped
// deadline. A context deadline shorter than timeout wins.
func (d *Driver) RunCommandCtx(ctx context.Context, addr multiaddr.Addr, cmd []byte, timeout time.Duration) ([]byte, error) {
	var opcode uint8
	if len(cmd) > 0 {
		opcode = cmd[0]
	}
	ctx, span := telemetry.StartCommandSpan(ctx, addr.Net(), addr.Node(), opcode)
	defer span.End()

	n, _, err := d.resolve(addr)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	if timeout == 0 {
		timeout = d.opts.Link.ReadDeadline
	}
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	resp, err := n.RunCommand(uint8(addr.Node()), cmd, timeout)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	return resp, nil
}

// CommandResult carries one asynchronous command outcome.
type CommandResult struct {
	Response []byte
	Err      error
}

// RunCommandAsync submits a tracked command and returns immediately. The
// result arrives on the returned channel exactly once. The command shares
// the same tracker window and ordering guarantees as RunCommand.
func (d *Driver) RunCommandAsync(addr multiaddr.Addr, cmd []byte, timeout time.Duration) <-chan CommandResult {
	out := make(chan CommandResult, 1)
	go func() {
		resp, err := d.RunCommand(addr, cmd, timeout)
		out <- CommandResult{Response: resp, Err: err}
	}()
	return out
}

// SendCommandUntracked transmits a command without response tracking, for
// diagnostics. Pair with GetUntrackedResponse.
func (d *Driver) SendCommandUntracked(addr multiaddr.Addr, cmd []byte) error {
	n, _, err := d.resolve(addr)
	if err != nil {
		return err
	}
	return n.SendUntracked(uint8(addr.Node()), cmd)
}

// GetUntrackedResponse pops the oldest response that matched no tracked
// command on the network.
func (d *Driver) GetUntrackedResponse(net int) ([]byte, bool, error) {
	n, err := d.network(net)
	if err != nil {
		return nil, false, err
	}
	f, ok := n.UntrackedResponse()
	if !ok {
		return nil, false, nil
	}
	return f.Payload, true, nil
}

// GetParam reads a parameter from the node and refreshes the local cache.
func (d *Driver) GetParam(addr multiaddr.Addr, ref ParamRef) ([]byte, error) {
	n, node, err := d.resolve(addr)
	if err != nil {
		return nil, err
	}
	resp, err := n.RunCommand(uint8(addr.Node()),
		wire.GetParamCmd(ref.Bank, ref.wireIndex()), d.opts.Link.ReadDeadline)
	if err != nil {
		return nil, err
	}
	node.CachePut(ref.Bank, ref.wireIndex(), resp)
	return resp, nil
}

// GetParamCached returns the last seen value without touching the wire.
// The second result reports whether anything was cached.
func (d *Driver) GetParamCached(addr multiaddr.Addr, ref ParamRef) ([]byte, bool, error) {
	_, node, err := d.resolve(addr)
	if err != nil {
		return nil, false, err
	}
	v, ok := node.CacheGet(ref.Bank, ref.wireIndex())
	return v, ok, nil
}

// SetParam writes a parameter and updates the local cache on success.
func (d *Driver) SetParam(addr multiaddr.Addr, ref ParamRef, value []byte) error {
	n, node, err := d.resolve(addr)
	if err != nil {
		return err
	}
	_, err = n.RunCommand(uint8(addr.Node()),
		wire.SetParamCmd(ref.Bank, ref.wireIndex(), value), d.opts.Link.ReadDeadline)
	if err != nil {
		return err
	}
	node.CachePut(ref.Bank, ref.wireIndex(), value)
	return nil
}

// mask parameters by kind
var maskParam = map[MaskKind]uint8{
	MaskAttention: wire.ParamStatusAttnMsk,
	MaskWarning:   wire.ParamWarnMask,
	MaskAlert:     wire.ParamAlertMask,
}

// MaskKind selects one of a node's event mask registers.
type MaskKind int

const (
	MaskAttention MaskKind = iota
	MaskWarning
	MaskAlert
)

// SetMask writes an event mask register.
func (d *Driver) SetMask(addr multiaddr.Addr, kind MaskKind, bits uint32) error {
	idx, ok := maskParam[kind]
	if !ok {
		return buserr.New(addr, buserr.IllegalArgs)
	}
	v := make([]byte, 4)
	le32Put(v, bits)
	return d.SetParam(addr, ParamRef{Bank: wire.BankCore, Index: idx}, v)
}

// GetMask reads an event mask register.
func (d *Driver) GetMask(addr multiaddr.Addr, kind MaskKind) (uint32, error) {
	idx, ok := maskParam[kind]
	if !ok {
		return 0, buserr.New(addr, buserr.IllegalArgs)
	}
	v, err := d.GetParam(addr, ParamRef{Bank: wire.BankCore, Index: idx})
	if err != nil {
		return 0, err
	}
	return le32(v), nil
}

// StatusKind selects one of the status register views.
type StatusKind int

const (
	StatusRT StatusKind = iota
	StatusRise
	StatusFall
	StatusAccum
)

var statusParam = map[StatusKind]uint8{
	StatusRT:    wire.ParamStatusRT,
	StatusRise:  wire.ParamStatusRise,
	StatusFall:  wire.ParamStatusFall,
	StatusAccum: wire.ParamStatusAccum,
}

// GetStatus reads a status register as the opaque 48-bit word.
func (d *Driver) GetStatus(addr multiaddr.Addr, kind StatusKind) (wire.StatusReg, error) {
	idx, ok := statusParam[kind]
	if !ok {
		return wire.StatusReg{}, buserr.New(addr, buserr.IllegalArgs)
	}
	v, err := d.GetParam(addr, ParamRef{Bank: wire.BankCore, Index: idx})
	if err != nil {
		return wire.StatusReg{}, err
	}
	return wire.StatusRegFromBytes(v), nil
}

// StatusViewOf wraps a status word with the node's device-family view.
func (d *Driver) StatusViewOf(addr multiaddr.Addr, word wire.StatusReg) (wire.StatusView, error) {
	_, node, err := d.resolve(addr)
	if err != nil {
		return wire.StatusView{}, err
	}
	return wire.StatusView{Dev: node.Dev.Type(), Word: word}, nil
}

// SetOutputReg writes the node's user output register.
func (d *Driver) SetOutputReg(addr multiaddr.Addr, bits uint32) error {
	v := make([]byte, 4)
	le32Put(v, bits)
	return d.SetParam(addr, ParamRef{Bank: wire.BankCore, Index: wire.ParamUserOutReg}, v)
}

// GetOutputReg reads the node's user output register.
func (d *Driver) GetOutputReg(addr multiaddr.Addr) (uint32, error) {
	v, err := d.GetParam(addr, ParamRef{Bank: wire.BankCore, Index: wire.ParamUserOutReg})
	if err != nil {
		return 0, err
	}
	return le32(v), nil
}

// SetStopType configures the node's default stop register.
func (d *Driver) SetStopType(addr multiaddr.Addr, reg wire.StopReg) error {
	_, node, err := d.resolve(addr)
	if err != nil {
		return err
	}
	v := []byte{byte(reg), byte(reg >> 8)}
	if err := d.SetParam(addr, ParamRef{Bank: wire.BankCore, Index: wire.ParamStopType}, v); err != nil {
		return err
	}
	node.SetStopType(reg)
	return nil
}

// GetStopType reads the node's default stop register.
func (d *Driver) GetStopType(addr multiaddr.Addr) (wire.StopReg, error) {
	v, err := d.GetParam(addr, ParamRef{Bank: wire.BankCore, Index: wire.ParamStopType})
	if err != nil {
		return 0, err
	}
	if len(v) < 2 {
		return 0, buserr.New(addr, buserr.IllegalArgs)
	}
	return wire.StopReg(v[0]) | wire.StopReg(v[1])<<8, nil
}

// ClearAlerts clears the node's non-serious alert bits. Idempotent.
func (d *Driver) ClearAlerts(addr multiaddr.Addr) error {
	n, node, err := d.resolve(addr)
	if err != nil {
		return err
	}
	_, err = n.RunCommand(uint8(addr.Node()), wire.AlertClrCmd(), d.opts.Link.ReadDeadline)
	if err != nil {
		return err
	}
	node.CacheInvalidate(wire.BankCore, wire.ParamAlertReg)
	return nil
}

// UserID reads the node's user-assigned identifier string.
func (d *Driver) UserID(addr multiaddr.Addr) (string, error) {
	n, _, err := d.resolve(addr)
	if err != nil {
		return "", err
	}
	resp, err := n.RunCommand(uint8(addr.Node()), wire.UserIDReadCmd(), d.opts.Link.ReadDeadline)
	if err != nil {
		return "", err
	}
	return string(resp), nil
}

// SetUserID writes the node's user-assigned identifier string.
func (d *Driver) SetUserID(addr multiaddr.Addr, id string) error {
	n, node, err := d.resolve(addr)
	if err != nil {
		return err
	}
	_, err = n.RunCommand(uint8(addr.Node()), wire.UserIDWriteCmd(id), d.opts.Link.ReadDeadline)
	if err != nil {
		return err
	}
	node.UserID = id
	return nil
}

// NodeRecord is the inventory view of one node handed to applications.
type NodeRecord struct {
	Addr    multiaddr.Addr
	Dev     wire.DeviceID
	FW      wire.FWVersion
	HW      wire.HWVersion
	Option  uint32
	Serial  uint32
	PartNum string
}

func recordOf(node *link.NodeInfo) NodeRecord {
	return NodeRecord{
		Addr:    node.Addr,
		Dev:     node.Dev,
		FW:      node.FW,
		HW:      node.HW,
		Option:  node.Option,
		Serial:  node.Serial,
		PartNum: node.PartNum,
	}
}

// InventoryCount returns how many nodes of the device type exist across
// all networks. DevUnknown counts every node.
func (d *Driver) InventoryCount(dev wire.DeviceType) int {
	count := 0
	d.mu.Lock()
	nets := append([]*link.Network(nil), d.nets...)
	d.mu.Unlock()
	for _, n := range nets {
		for _, node := range n.Nodes() {
			if dev == wire.DevUnknown || node.Dev.Type() == dev {
				count++
			}
		}
	}
	return count
}

// InventoryRecords returns the inventory for the device type across all
// networks, in network then address order.
func (d *Driver) InventoryRecords(dev wire.DeviceType) []NodeRecord {
	var out []NodeRecord
	d.mu.Lock()
	nets := append([]*link.Network(nil), d.nets...)
	d.mu.Unlock()
	for _, n := range nets {
		for _, node := range n.Nodes() {
			if dev == wire.DevUnknown || node.Dev.Type() == dev {
				out = append(out, recordOf(node))
			}
		}
	}
	return out
}

// NetInventoryCount is the per-network variant of InventoryCount.
func (d *Driver) NetInventoryCount(net int, dev wire.DeviceType) (int, error) {
	n, err := d.network(net)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, node := range n.Nodes() {
		if dev == wire.DevUnknown || node.Dev.Type() == dev {
			count++
		}
	}
	return count, nil
}

// NetInventoryRecords is the per-network variant of InventoryRecords.
func (d *Driver) NetInventoryRecords(net int, dev wire.DeviceType) ([]NodeRecord, error) {
	n, err := d.network(net)
	if err != nil {
		return nil, err
	}
	var out []NodeRecord
	for _, node := range n.Nodes() {
		if dev == wire.DevUnknown || node.Dev.Type() == dev {
			out = append(out, recordOf(node))
		}
	}
	return out, nil
}

func le32(v []byte) uint32 {
	var out uint32
	for i := 0; i < len(v) && i < 4; i++ {
		out |= uint32(v[i]) << (8 * i)
	}
	return out
}

func le32Put(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}
