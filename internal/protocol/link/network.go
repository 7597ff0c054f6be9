package link

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/axonlink/axonlink/internal/logger"
	"github.com/axonlink/axonlink/internal/protocol/wire"
	"github.com/axonlink/axonlink/internal/serial"
	"github.com/axonlink/axonlink/internal/tracelog"
	"github.com/axonlink/axonlink/pkg/buserr"
	"github.com/axonlink/axonlink/pkg/metrics"
	"github.com/axonlink/axonlink/pkg/multiaddr"
)

// SerialStats are the raw octet and frame counters for one port.
type SerialStats struct {
	RxOctets uint64
	TxOctets uint64
	RxFrames uint64
	TxFrames uint64
}

// HostErrStats are the host-side link damage counters.
type HostErrStats struct {
	Fragments uint64
	Checksums uint64
	Strays    uint64
	Overruns  uint64
	Babbles   uint64
}

// Network owns one serial port and the ring of nodes behind it: the reader,
// the command tracker, the state machine, the dispatcher, the background
// worker, and the trace ring.
type Network struct {
	Index int

	cfg      Config
	portName string
	open     serial.Opener

	Tracker *Tracker
	Disp    *Dispatcher
	Trace   *tracelog.Log

	met metrics.LinkMetrics

	mu    sync.Mutex
	port  serial.Port
	state State
	nodes []*NodeInfo
	rate  int

	// writeMu is the single writer guard for the port.
	writeMu sync.Mutex

	readerStop chan struct{}
	readerWG   sync.WaitGroup

	// ctl carries control packets (address enumeration returns, baud
	// acknowledgements) to the state machine during bring-up.
	ctl chan wire.Frame

	poll *poller

	// recovery bookkeeping
	recovering atomic.Bool
	stopping   atomic.Bool

	rxOctets atomic.Uint64
	txOctets atomic.Uint64
	rxFrames atomic.Uint64
	txFrames atomic.Uint64

	fragments atomic.Uint64
	checksums atomic.Uint64
	strays    atomic.Uint64
	overruns  atomic.Uint64
	babbles   atomic.Uint64
	triggers  atomic.Uint64

	lastTraffic atomic.Int64 // unix nanos of last received frame
	hostAliveAt atomic.Int64 // unix nanos of last node host-alive echo

	untrackedMu sync.Mutex
	untrackedQ  []wire.Frame

	dacqMu sync.Mutex
	dacq   map[int][]wire.DataAcqPoint
}

// NewNetwork assembles a Network for one port. Nothing touches the port
// until Start.
func NewNetwork(index int, portName string, open serial.Opener, cfg Config, met metrics.LinkMetrics) *Network {
	n := &Network{
		Index:    index,
		cfg:      cfg,
		portName: portName,
		open:     open,
		met:      met,
		state:    StateOffline,
		rate:     wire.BaseRate,
		ctl:      make(chan wire.Frame, 16),
		dacq:     make(map[int][]wire.DataAcqPoint),
	}
	n.Trace = tracelog.New(cfg.TraceCapacity)
	n.Disp = NewDispatcher(index)
	n.Tracker = NewTracker(index, cfg.QueueLimit, cfg.StaleTimeout, n.sendCommand)
	n.Tracker.SetMetrics(met)
	n.Tracker.SetCompletionFunc(n.Disp.Complete)
	n.poll = newPoller(n)
	return n
}

// State returns the current lifecycle state.
func (n *Network) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Online reports whether commands can run.
func (n *Network) Online() bool {
	return n.State() == StateOnline
}

// Rate returns the negotiated line rate.
func (n *Network) Rate() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rate
}

// NodeCount returns the inventoried ring size.
func (n *Network) NodeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.nodes)
}

// Node returns the record for a node address, or an error for addresses
// beyond the inventoried ring.
func (n *Network) Node(addr int) (*NodeInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if addr < 0 || addr >= len(n.nodes) {
		return nil, buserr.New(multiaddr.New(n.Index, addr), buserr.AddressOutOfRange)
	}
	return n.nodes[addr], nil
}

// Nodes returns the node records in address order.
func (n *Network) Nodes() []*NodeInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*NodeInfo(nil), n.nodes...)
}

// SerialStats returns the octet and frame counters.
func (n *Network) SerialStats() SerialStats {
	return SerialStats{
		RxOctets: n.rxOctets.Load(),
		TxOctets: n.txOctets.Load(),
		RxFrames: n.rxFrames.Load(),
		TxFrames: n.txFrames.Load(),
	}
}

// HostErrStats returns the host-side damage counters and whether any
// damage has been seen.
func (n *Network) HostErrStats() (HostErrStats, bool) {
	s := HostErrStats{
		Fragments: n.fragments.Load(),
		Checksums: n.checksums.Load(),
		Strays:    n.strays.Load(),
		Overruns:  n.overruns.Load(),
		Babbles:   n.babbles.Load(),
	}
	set := s.Fragments+s.Checksums+s.Strays+s.Overruns+s.Babbles > 0
	return s, set
}

// SetAutoDiscovery toggles ring verification and autonomous recovery.
func (n *Network) SetAutoDiscovery(on bool) {
	n.mu.Lock()
	n.cfg.AutoDiscovery = on
	n.mu.Unlock()
}

// AutoDiscovery reports the current setting.
func (n *Network) AutoDiscovery() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.AutoDiscovery
}

// SetQueueLimit resizes the tracker window.
func (n *Network) SetQueueLimit(limit int) {
	n.Tracker.SetLimit(limit)
}

// RunCommand submits a tracked command to a node address and blocks for
// the matched response.
func (n *Network) RunCommand(addr uint8, payload []byte, timeout time.Duration) ([]byte, error) {
	maddr := multiaddr.New(n.Index, int(addr))
	if !n.Online() {
		return nil, buserr.New(maddr, buserr.NetworkNotOnline)
	}
	if int(addr) >= n.NodeCount() {
		return nil, buserr.New(maddr, buserr.AddressOutOfRange)
	}
	return n.Tracker.Run(addr, payload, timeout)
}

// runRaw bypasses the online and range checks; the state machine uses it
// during bring-up while the ring is still being measured.
func (n *Network) runRaw(addr uint8, payload []byte, timeout time.Duration) ([]byte, error) {
	return n.Tracker.Run(addr, payload, timeout)
}

// sendCommand is the tracker's transmit hook.
func (n *Network) sendCommand(p *pending) error {
	f := wire.Frame{
		Addr:    p.addr,
		Type:    wire.PktCommand,
		Src:     wire.SrcHost,
		Payload: p.cmd,
	}
	return n.WriteFrame(f, p.id)
}

// SendUntracked transmits a command without consuming a tracker slot. Its
// response, having no pending record, lands in the untracked queue.
func (n *Network) SendUntracked(addr uint8, payload []byte) error {
	f := wire.Frame{
		Addr:    addr,
		Type:    wire.PktCommand,
		Src:     wire.SrcHost,
		Payload: payload,
	}
	return n.WriteFrame(f, xid.ID{})
}

// UntrackedResponse pops the oldest response that matched no pending
// command.
func (n *Network) UntrackedResponse() (wire.Frame, bool) {
	n.untrackedMu.Lock()
	defer n.untrackedMu.Unlock()
	if len(n.untrackedQ) == 0 {
		return wire.Frame{}, false
	}
	f := n.untrackedQ[0]
	n.untrackedQ = n.untrackedQ[1:]
	return f, true
}

// WriteFrame encodes and transmits one frame under the writer guard.
func (n *Network) WriteFrame(f wire.Frame, cmdID xid.ID) error {
	octets, err := wire.Encode(f)
	if err != nil {
		return err
	}

	n.mu.Lock()
	port := n.port
	n.mu.Unlock()
	if port == nil {
		return buserr.New(multiaddr.New(n.Index, int(f.Addr)), buserr.PortNotOpen)
	}

	n.writeMu.Lock()
	_, werr := port.Write(octets)
	n.writeMu.Unlock()

	if werr != nil {
		return buserr.Wrap(multiaddr.New(n.Index, int(f.Addr)), buserr.WriteFailed, werr)
	}

	n.txOctets.Add(uint64(len(octets)))
	n.txFrames.Add(1)
	n.Trace.Add(tracelog.TX, octets, f.String(), cmdID)
	if n.met != nil {
		n.met.RecordFrame("tx", len(octets))
	}
	return nil
}

// Flush drains the tracker and the port buffers.
func (n *Network) Flush() int {
	n.mu.Lock()
	port := n.port
	n.mu.Unlock()
	if port != nil {
		_ = port.Flush()
	}
	return n.Tracker.Flush()
}

// startReader launches the port reader goroutine.
func (n *Network) startReader(port serial.Port) {
	n.readerStop = make(chan struct{})
	n.readerWG.Add(1)
	go n.readLoop(port, n.readerStop)
}

// stopReader tears the reader down and waits for it.
func (n *Network) stopReader() {
	if n.readerStop != nil {
		close(n.readerStop)
		n.readerStop = nil
	}
	n.readerWG.Wait()
}

// readLoop consumes port octets and feeds the scanner. Each network has
// exactly one; it owns the read side of the port.
func (n *Network) readLoop(port serial.Port, stop chan struct{}) {
	defer n.readerWG.Done()

	scanner := &wire.Scanner{
		OnFrame:  n.onFrame,
		OnDamage: n.onDamage,
	}
	port.SetReadTimeout(100 * time.Millisecond)

	buf := make([]byte, 256)
	for {
		select {
		case <-stop:
			return
		default:
		}

		nr, err := port.Read(buf)
		switch err {
		case nil:
			n.rxOctets.Add(uint64(nr))
			scanner.FeedAll(buf[:nr])
		case serial.ErrTimeout:
			continue
		case serial.ErrClosed:
			return
		default:
			select {
			case <-stop:
				return
			default:
			}
			logger.Error("port read failed",
				logger.KeyNet, n.Index, logger.KeyPort, n.portName, logger.KeyError, err.Error())
			go n.markBroken(buserr.Wrap(multiaddr.Unknown, buserr.ReadFailed, err))
			return
		}
	}
}

// onFrame classifies one reassembled frame and routes it. Runs on the
// reader goroutine; everything here must be quick and non-blocking.
func (n *Network) onFrame(f wire.Frame, raw []byte) {
	n.rxFrames.Add(1)
	n.lastTraffic.Store(time.Now().UnixNano())
	n.Trace.Add(tracelog.RX, raw, f.String(), xid.ID{})
	if n.met != nil {
		n.met.RecordFrame("rx", len(raw))
	}

	switch f.Type {
	case wire.PktResponse:
		if !n.Tracker.HandleResponse(f.Addr, f.Payload) {
			n.pushUntracked(f)
		}

	case wire.PktError:
		n.handleErrorPacket(f)

	case wire.PktAttnReq:
		if n.met != nil {
			n.met.RecordAttention()
		}
		n.Disp.Attention(AttnRecord{
			Addr: multiaddr.New(n.Index, int(f.Addr)),
			Bits: wire.AttnBitsOf(f),
			When: time.Now(),
		})

	case wire.PktExtendLow:
		n.handleExtendLow(f)

	case wire.PktExtendHigh:
		n.handleExtendHigh(f)

	case wire.PktSetAddr:
		n.postCtl(f)

	case wire.PktTrigger:
		// Triggers are node-bound; the host only counts the echo.
		n.triggers.Add(1)
	}
}

func (n *Network) handleErrorPacket(f wire.Frame) {
	if len(f.Payload) < 2 {
		n.onDamage(buserr.Fragment, len(f.Payload))
		return
	}
	code := buserr.FromWire(binary.LittleEndian.Uint16(f.Payload))
	maddr := multiaddr.New(n.Index, int(f.Addr))

	n.Tracker.HandleError(f.Addr, code)

	rec := ErrRecord{Addr: maddr, Code: code}
	if len(f.Payload) > 2 {
		rec.Cmd = append([]byte(nil), f.Payload[2:]...)
	}
	n.Disp.Error(rec)
}

func (n *Network) handleExtendLow(f wire.Frame) {
	switch wire.ExtCode(f) {
	case wire.ExtLowDataAcq:
		if pt, ok := wire.ParseDataAcq(f); ok {
			n.pushDataAcq(int(f.Addr), pt)
		}

	case wire.ExtLowParamChg:
		bank, index, ok := wire.ParamChgOf(f)
		if !ok {
			return
		}
		if node, err := n.Node(int(f.Addr)); err == nil {
			node.CacheInvalidate(bank, int(index))
		}
		n.Disp.ParamChanged(ParamChange{
			Addr:  multiaddr.New(n.Index, int(f.Addr)),
			Bank:  bank,
			Index: index,
		})

	case wire.ExtLowHostAlive:
		n.hostAliveAt.Store(time.Now().UnixNano())
	}
}

func (n *Network) handleExtendHigh(f wire.Frame) {
	switch wire.ExtCode(f) {
	case wire.ExtHighDiagInfo:
		n.handleDiagInfo(f)
	default:
		// Reverse-address returns, baud acknowledgements, resets: all
		// state machine input.
		n.postCtl(f)
	}
}

// handleDiagInfo stores a node's self-reported error counters.
func (n *Network) handleDiagInfo(f wire.Frame) {
	if len(f.Payload) < 9 {
		return
	}
	node, err := n.Node(int(f.Addr))
	if err != nil {
		return
	}
	p := f.Payload[1:]
	node.SetDiag(DiagStats{
		Fragments: binary.LittleEndian.Uint16(p[0:]),
		Checksums: binary.LittleEndian.Uint16(p[2:]),
		Strays:    binary.LittleEndian.Uint16(p[4:]),
		Overruns:  binary.LittleEndian.Uint16(p[6:]),
	})
}

// postCtl hands a control frame to the state machine without ever blocking
// the reader.
func (n *Network) postCtl(f wire.Frame) {
	select {
	case n.ctl <- f:
	default:
		logger.Warn("control packet dropped, no consumer",
			logger.KeyNet, n.Index, logger.KeyPktType, f.Type.String())
	}
}

// onDamage accounts link damage reported by the scanner.
func (n *Network) onDamage(kind wire.DamageKind, octets int) {
	switch kind {
	case buserr.Fragment:
		n.fragments.Add(1)
	case buserr.BadChecksum:
		n.checksums.Add(1)
	case buserr.StrayData:
		n.strays.Add(1)
	case buserr.Babble:
		n.babbles.Add(1)
	case buserr.PortOverrun:
		n.overruns.Add(1)
	}
	if n.met != nil {
		n.met.RecordDamage(damageName(kind))
	}
	n.Trace.Add(tracelog.RX, nil, fmt.Sprintf("damage: %s (%d octets)", kind, octets), xid.ID{})
	logger.Debug("link damage",
		logger.KeyNet, n.Index, logger.KeyDamage, kind.String(), logger.KeyOctets, octets)
}

func (n *Network) pushUntracked(f wire.Frame) {
	n.untrackedMu.Lock()
	if len(n.untrackedQ) < 64 {
		n.untrackedQ = append(n.untrackedQ, f)
	}
	n.untrackedMu.Unlock()
}

// pushDataAcq appends one acquisition point, dropping the oldest past the
// configured depth.
func (n *Network) pushDataAcq(node int, pt wire.DataAcqPoint) {
	n.dacqMu.Lock()
	q := n.dacq[node]
	if len(q) >= n.cfg.DataAcqDepth {
		q = q[1:]
	}
	n.dacq[node] = append(q, pt)
	n.dacqMu.Unlock()
}

// DataAcqPoints pops up to max acquisition points for a node.
func (n *Network) DataAcqPoints(node int, max int) []wire.DataAcqPoint {
	n.dacqMu.Lock()
	defer n.dacqMu.Unlock()
	q := n.dacq[node]
	if len(q) == 0 {
		return nil
	}
	if max <= 0 || max > len(q) {
		max = len(q)
	}
	out := append([]wire.DataAcqPoint(nil), q[:max]...)
	n.dacq[node] = q[max:]
	return out
}

// DataAcqCount returns the queued acquisition point count for a node.
func (n *Network) DataAcqCount(node int) int {
	n.dacqMu.Lock()
	defer n.dacqMu.Unlock()
	return len(n.dacq[node])
}

// FlushDataAcq drops queued acquisition points for a node.
func (n *Network) FlushDataAcq(node int) {
	n.dacqMu.Lock()
	delete(n.dacq, node)
	n.dacqMu.Unlock()
}

// TriggerCount returns the observed trigger echo count.
func (n *Network) TriggerCount() uint64 {
	return n.triggers.Load()
}

// BackgroundPollControl starts or pauses the background worker.
func (n *Network) BackgroundPollControl(start bool) {
	if start {
		n.poll.start()
	} else {
		n.poll.stopAndWait()
	}
}

// PollerRunning reports whether the background worker is active.
func (n *Network) PollerRunning() bool {
	return n.poll.Running()
}
