// Package sim provides an in-process ring of simulated nodes behind the
// serial.Port interface.
//
// The simulator speaks the real wire format through the same codec the
// driver uses, so tests exercise the full path: encode, port, scanner,
// classifier, tracker. Fault injection covers the failure modes the link
// layer must survive: corrupted octets, blackouts, miswired rings.
package sim

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/axonlink/axonlink/internal/protocol/wire"
	"github.com/axonlink/axonlink/internal/serial"
)

// moveBufDepth is each node's onboard move buffer capacity.
const moveBufDepth = 4

// Node is one simulated device on the ring.
type Node struct {
	Dev     wire.DeviceID
	FW      wire.FWVersion
	HW      wire.HWVersion
	Serial  uint32
	PartNum string
	MaxRate int // fastest rate the node accepts

	params   map[uint16][]byte
	estopped bool
	disabled bool
	userID   string

	movesUsed int
	waiting   int // trigger-released moves parked in the buffer
}

// NewNode returns a simulated integrated servo with sensible identity.
func NewNode(serialNum uint32) *Node {
	n := &Node{
		Dev:     wire.DeviceID(uint16(wire.DevIntegratedServo)<<8 | 0x10),
		FW:      wire.FWVersion(0x1503),
		HW:      wire.HWVersion(0x0100),
		Serial:  serialNum,
		PartNum: "AX-2341-ES",
		MaxRate: wire.Baud108x,
		params:  make(map[uint16][]byte),
	}
	n.seedParams()
	return n
}

func key(bank int, index uint8) uint16 {
	return uint16(bank)<<8 | uint16(index)
}

func (n *Node) seedParams() {
	put16 := func(index uint8, v uint16) {
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, v)
		n.params[key(wire.BankCore, index)] = b
	}
	put32 := func(index uint8, v uint32) {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		n.params[key(wire.BankCore, index)] = b
	}

	put16(wire.ParamNodeID, uint16(n.Dev))
	put16(wire.ParamFWVersion, uint16(n.FW))
	put16(wire.ParamHWVersion, uint16(n.HW))
	put32(wire.ParamSerialNum, n.Serial)
	put16(wire.ParamOptionReg, 0)
	put16(wire.ParamStopType, uint16(wire.StopTypeRamp))
	n.params[key(wire.BankCore, wire.ParamPartNum)] = append([]byte(n.PartNum), 0)

	put32(wire.ParamAlertReg, 0)
	put32(wire.ParamWarnReg, 0)
	put32(wire.ParamStatusAttnMsk, 0)
	put32(wire.ParamWarnMask, 0)
	put32(wire.ParamAlertMask, 0)
	put32(wire.ParamOutReg, 0)
	put32(wire.ParamUserOutReg, 0)
	put32(wire.ParamUserRAM0, 0)

	// status registers are 48-bit words
	n.params[key(wire.BankCore, wire.ParamStatusRT)] = make([]byte, 6)
	n.params[key(wire.BankCore, wire.ParamStatusAccum)] = make([]byte, 6)
	n.params[key(wire.BankCore, wire.ParamStatusRise)] = make([]byte, 6)
	n.params[key(wire.BankCore, wire.ParamStatusFall)] = make([]byte, 6)
}

// statusWord recomputes the node's live status register.
func (n *Node) statusWord() []byte {
	w := make([]byte, 6)
	var bits uint32
	if n.estopped {
		bits |= wire.StatusBitMotionLock
	}
	if n.disabled {
		bits |= wire.StatusBitDisabled
	}
	if n.movesUsed > 0 {
		bits |= wire.StatusBitInMotion
	}
	if n.movesUsed >= moveBufDepth {
		bits |= wire.StatusBitMoveBufFull
	}
	binary.LittleEndian.PutUint32(w, bits)
	return w
}

// Ring simulates a daisy-chained ring of nodes on one serial line.
type Ring struct {
	mu    sync.Mutex
	nodes []*Node

	host *serial.PipePort // handed to the driver
	dev  *serial.PipePort // simulator end

	rate      int // rate the nodes are listening at
	hostRate  int
	addressed bool

	miswired     bool
	corruptNext  bool
	blackoutTill time.Time

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewRing builds a ring and returns it with a serial.Opener that hands the
// driver a fresh host end of the line on every open. Reopening models a
// re-plugged or re-probed port: the old pair dies, the nodes stay.
func NewRing(nodes ...*Node) (*Ring, serial.Opener) {
	r := &Ring{
		nodes:    nodes,
		rate:     wire.BaseRate,
		hostRate: wire.BaseRate,
		quit:     make(chan struct{}),
	}

	opener := func(_ string, rate int) (serial.Port, error) {
		return r.openLine(rate), nil
	}
	return r, opener
}

// openLine wires a new pipe pair between the driver and the ring.
func (r *Ring) openLine(rate int) serial.Port {
	host, dev := serial.Pipe()

	host.OnBaud = func(rate int) {
		r.mu.Lock()
		r.hostRate = rate
		r.mu.Unlock()
	}
	host.OnBreak = func(d time.Duration) {
		if d < wire.BreakMs*time.Millisecond {
			return
		}
		r.mu.Lock()
		r.rate = wire.BaseRate
		r.addressed = false
		r.mu.Unlock()
	}

	r.mu.Lock()
	oldDev := r.dev
	r.host = host
	r.dev = dev
	r.hostRate = rate
	r.rate = wire.BaseRate
	r.mu.Unlock()

	if oldDev != nil {
		oldDev.Close()
	}

	r.wg.Add(1)
	go r.run(dev)
	return host
}

// Close stops the simulator goroutines.
func (r *Ring) Close() {
	close(r.quit)
	r.mu.Lock()
	dev := r.dev
	r.mu.Unlock()
	if dev != nil {
		dev.Close()
	}
	r.wg.Wait()
}

// CorruptNextResponse flips one bit in the next outbound response frame.
func (r *Ring) CorruptNextResponse() {
	r.mu.Lock()
	r.corruptNext = true
	r.mu.Unlock()
}

// Blackout drops all traffic in both directions for d, simulating a link
// break without the line-level break signal.
func (r *Ring) Blackout(d time.Duration) {
	r.mu.Lock()
	r.blackoutTill = time.Now().Add(d)
	r.mu.Unlock()
}

// SetMiswired makes the reverse-address check fail.
func (r *Ring) SetMiswired(on bool) {
	r.mu.Lock()
	r.miswired = on
	r.mu.Unlock()
}

// RaiseAttention emits an attention packet from a node.
func (r *Ring) RaiseAttention(node int, bits uint32) {
	r.send(wire.AttnFrame(uint8(node), bits))
}

// EmitDataAcq streams one acquisition point from a node.
func (r *Ring) EmitDataAcq(node int, pt wire.DataAcqPoint) {
	r.send(wire.DataAcqFrame(uint8(node), pt))
}

// Node exposes a simulated node for test assertions.
func (r *Ring) Node(i int) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nodes[i]
}

// EStopped reports a node's E-Stop latch.
func (r *Ring) EStopped(node int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nodes[node].estopped
}

// run consumes host-originated octets from one line until it dies.
func (r *Ring) run(dev *serial.PipePort) {
	defer r.wg.Done()

	scanner := &wire.Scanner{
		OnFrame: func(f wire.Frame, _ []byte) {
			f.Payload = append([]byte(nil), f.Payload...)
			r.handle(f)
		},
	}

	buf := make([]byte, 256)
	for {
		select {
		case <-r.quit:
			return
		default:
		}
		n, err := dev.Read(buf)
		if err != nil {
			return
		}
		if r.dropping() {
			continue
		}
		scanner.FeedAll(buf[:n])
	}
}

// dropping reports whether traffic is currently lost to a blackout or a
// host/node rate mismatch.
func (r *Ring) dropping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Now().Before(r.blackoutTill) {
		return true
	}
	return r.hostRate != r.rate
}

// send transmits a frame to the host, applying pending fault injection.
func (r *Ring) send(f wire.Frame) {
	if r.dropping() {
		return
	}
	octets, err := wire.Encode(f)
	if err != nil {
		return
	}

	r.mu.Lock()
	if r.corruptNext && f.Type == wire.PktResponse {
		// flip the LSB of the last payload octet
		octets[len(octets)-2] ^= 0x01
		r.corruptNext = false
	}
	dev := r.dev
	r.mu.Unlock()

	if dev != nil {
		_, _ = dev.Write(octets)
	}
}

// handle reacts to one host frame.
func (r *Ring) handle(f wire.Frame) {
	switch f.Type {
	case wire.PktSetAddr:
		r.handleSetAddr(f)
	case wire.PktExtendHigh:
		r.handleExtendHigh(f)
	case wire.PktCommand:
		r.handleCommand(f)
	case wire.PktTrigger:
		r.handleTrigger(f)
	}
}

func (r *Ring) handleSetAddr(f wire.Frame) {
	r.mu.Lock()
	count := len(r.nodes)
	r.addressed = true
	r.mu.Unlock()

	start := uint8(0)
	if len(f.Payload) > 0 {
		start = f.Payload[0]
	}
	// every node claims an address and increments the rolling value
	out := wire.SetAddrFrame(start + uint8(count))
	out.Src = wire.SrcNode
	r.send(out)
}

func (r *Ring) handleExtendHigh(f wire.Frame) {
	switch wire.ExtCode(f) {
	case wire.ExtHighRevAddr:
		r.mu.Lock()
		miswired := r.miswired
		count := len(r.nodes)
		r.mu.Unlock()

		start := 0
		if len(f.Payload) >= 2 {
			start = int(f.Payload[1])
		}
		residue := start - count
		if miswired {
			residue = 1
		}
		if residue < 0 {
			residue = (residue + 256) % 256
		}
		out := wire.RevAddrFrame(uint8(residue))
		out.Src = wire.SrcNode
		r.send(out)

	case wire.ExtHighBaudRate:
		rate := wire.BaudRateOf(f)
		if rate == 0 {
			return
		}
		// nodes switch once the packet clears the ring
		go func() {
			time.Sleep(5 * time.Millisecond)
			r.mu.Lock()
			r.rate = rate
			r.mu.Unlock()
		}()

	case wire.ExtHighNodeStop:
		reg := wire.NodeStopRegOf(f)
		r.mu.Lock()
		if f.Mode {
			for _, node := range r.nodes {
				node.applyStop(reg)
			}
		} else if int(f.Addr) < len(r.nodes) {
			r.nodes[f.Addr].applyStop(reg)
		}
		r.mu.Unlock()

	case wire.ExtHighReset:
		r.mu.Lock()
		for _, node := range r.nodes {
			node.estopped = false
			node.disabled = false
			node.movesUsed = 0
			node.waiting = 0
			node.seedParams()
		}
		r.mu.Unlock()
	}
}

func (r *Ring) handleTrigger(_ wire.Frame) {
	r.mu.Lock()
	for _, node := range r.nodes {
		node.movesUsed -= node.waiting
		if node.movesUsed < 0 {
			node.movesUsed = 0
		}
		node.waiting = 0
	}
	r.mu.Unlock()
}

func (r *Ring) handleCommand(f wire.Frame) {
	r.mu.Lock()
	if int(f.Addr) >= len(r.nodes) {
		r.mu.Unlock()
		// no node claims the address; the ring swallows the frame
		return
	}
	node := r.nodes[f.Addr]
	resp, errWord := node.exec(f.Payload)
	r.mu.Unlock()

	if errWord != 0 {
		p := make([]byte, 2)
		binary.LittleEndian.PutUint16(p, errWord)
		r.send(wire.Frame{
			Addr:    f.Addr,
			Type:    wire.PktError,
			Src:     wire.SrcNode,
			Payload: p,
		})
		return
	}
	r.send(wire.Frame{
		Addr:    f.Addr,
		Type:    wire.PktResponse,
		Src:     wire.SrcNode,
		Payload: resp,
	})
}

// node error words: code | class<<5
func errWord(class, code uint16) uint16 {
	return code | class<<5
}

// applyStop implements the stop register semantics.
func (n *Node) applyStop(reg wire.StopReg) {
	if reg.IsClear() {
		if reg&wire.StopEStop != 0 {
			n.estopped = false
		}
		if reg&wire.StopDisable != 0 {
			n.disabled = false
		}
		return
	}
	if reg&wire.StopEStop != 0 {
		n.estopped = true
	}
	if reg&wire.StopDisable != 0 {
		n.disabled = true
	}
	if reg.Style() != wire.StopStyleIgnore {
		n.movesUsed = 0
		n.waiting = 0
	}
}

// exec runs one command payload. It returns the response payload, or a
// non-zero error word.
func (n *Node) exec(cmd []byte) ([]byte, uint16) {
	if len(cmd) == 0 {
		return nil, errWord(1, 2) // missing args
	}
	op := cmd[0]

	switch op {
	case wire.CmdGetParam0, wire.CmdGetParam1, wire.CmdGetParam2, wire.CmdGetParam3:
		if len(cmd) < 2 {
			return nil, errWord(1, 2)
		}
		bank := bankOfGet(op)
		if bank == wire.BankCore && cmd[1] == wire.ParamStatusRT {
			return n.statusWord(), 0
		}
		v, ok := n.params[key(bank, cmd[1])]
		if !ok {
			return nil, errWord(1, 2) // illegal args
		}
		return append([]byte(nil), v...), 0

	case wire.CmdSetParam0, wire.CmdSetParam1, wire.CmdSetParam2, wire.CmdSetParam3:
		if len(cmd) < 2 {
			return nil, errWord(1, 2)
		}
		bank := bankOfSet(op)
		if bank == wire.BankCore && cmd[1]&^wire.ParamOptNonVolatile == wire.ParamNodeID {
			return nil, errWord(1, 3) // read-only
		}
		n.params[key(bank, cmd[1])] = append([]byte(nil), cmd[2:]...)
		return []byte{}, 0

	case wire.CmdNodeStop:
		if len(cmd) < 3 {
			return nil, errWord(1, 2)
		}
		n.applyStop(wire.StopReg(cmd[1]) | wire.StopReg(cmd[2])<<8)
		return []byte{}, 0

	case wire.CmdChkBaudRate:
		if len(cmd) < 3 {
			return nil, errWord(1, 2)
		}
		rate := wire.RateFromCode(binary.LittleEndian.Uint16(cmd[1:]))
		if rate != 0 && rate <= n.MaxRate {
			return []byte{1}, 0
		}
		return []byte{0}, 0

	case wire.CmdUserID:
		if len(cmd) == 1 {
			return []byte(n.userID), 0
		}
		n.userID = string(cmd[1:])
		return []byte{}, 0

	case wire.CmdAlertClr:
		n.params[key(wire.BankCore, wire.ParamAlertReg)] = make([]byte, 4)
		return []byte{}, 0

	case wire.CmdAlertLog:
		return []byte{0}, 0

	case wire.CmdAddPosn, wire.CmdSyncPosn:
		if n.estopped {
			return nil, errWord(1, 8) // e-stopped
		}
		return []byte{}, 0

	case wire.CmdMovePosnAbs, wire.CmdMovePosnRel, wire.CmdMovePosnAbsTrig,
		wire.CmdMovePosnRelTrig, wire.CmdMoveVel, wire.CmdMoveVelTrig,
		wire.CmdMoveSkyline:
		return n.execMove(op)

	case wire.CmdDataAcq:
		return []byte{}, 0
	}

	return nil, errWord(1, 1) // command unknown
}

func (n *Node) execMove(op uint8) ([]byte, uint16) {
	if n.estopped {
		return nil, errWord(1, 8) // motion while e-stopped
	}
	if n.disabled {
		return nil, errWord(1, 10) // motion while shut down
	}
	if n.movesUsed >= moveBufDepth {
		return nil, errWord(1, 6) // buffers full
	}
	n.movesUsed++

	triggered := op == wire.CmdMovePosnAbsTrig || op == wire.CmdMovePosnRelTrig ||
		op == wire.CmdMoveVelTrig
	if triggered {
		n.waiting++
	} else {
		// immediate moves complete quickly; model them as instantly done
		n.movesUsed--
	}

	state := wire.MoveAccepted
	if triggered {
		state = wire.MoveQueued
	}
	return []byte{wire.EncodeMoveAck(state, moveBufDepth-n.movesUsed)}, 0
}

func bankOfGet(op uint8) int {
	switch op {
	case wire.CmdGetParam1:
		return wire.BankSetup
	case wire.CmdGetParam2:
		return wire.BankDrive
	case wire.CmdGetParam3:
		return wire.BankAux
	}
	return wire.BankCore
}

func bankOfSet(op uint8) int {
	switch op {
	case wire.CmdSetParam1:
		return wire.BankSetup
	case wire.CmdSetParam2:
		return wire.BankDrive
	case wire.CmdSetParam3:
		return wire.BankAux
	}
	return wire.BankCore
}
