package link

import (
	"sync"
	"time"

	"github.com/axonlink/axonlink/internal/logger"
	"github.com/axonlink/axonlink/pkg/buserr"
	"github.com/axonlink/axonlink/pkg/multiaddr"
)

// NetChange enumerates the network lifecycle events published to
// applications.
type NetChange int

const (
	ChangeOffline NetChange = iota
	ChangeOnline
	ChangeResetting
	ChangeSending
	ChangeNoPort
	ChangeFlashMode
	ChangeBaudUnsupported
	ChangeBaudChanging
	ChangeBroken
	ChangeDriverOnline
)

func (c NetChange) String() string {
	switch c {
	case ChangeOffline:
		return "offline"
	case ChangeOnline:
		return "online"
	case ChangeResetting:
		return "resetting"
	case ChangeSending:
		return "sending"
	case ChangeNoPort:
		return "no-port"
	case ChangeFlashMode:
		return "flash-mode"
	case ChangeBaudUnsupported:
		return "baud-unsupported"
	case ChangeBaudChanging:
		return "baud-changing"
	case ChangeBroken:
		return "broken"
	case ChangeDriverOnline:
		return "driver-online"
	}
	return "unknown"
}

// AttnRecord is one received attention.
type AttnRecord struct {
	Addr multiaddr.Addr
	Bits uint32
	When time.Time
}

// ErrRecord is one surfaced error event.
type ErrRecord struct {
	Addr multiaddr.Addr
	Code buserr.Code
	// Cmd snapshots the triggering command when known, up to 18 octets.
	Cmd []byte
}

// ParamChange identifies a node-announced parameter mutation.
type ParamChange struct {
	Addr  multiaddr.Addr
	Bank  int
	Index uint8
}

// Callbacks bundles the application event hooks. Any field may be nil. All
// callbacks for one network are invoked from a single dispatch goroutine,
// never from the reader, and with no driver locks held.
type Callbacks struct {
	OnError       func(ErrRecord)
	OnAttention   func(AttnRecord)
	OnNetChange   func(net int, change NetChange)
	OnParamChange func(ParamChange)
	OnCacheInval  func(addr multiaddr.Addr)
	OnComplete    func(CompletionInfo)
}

// event is the internal dispatch unit.
type event struct {
	attn     *AttnRecord
	errRec   *ErrRecord
	change   *NetChange
	paramChg *ParamChange
	inval    *multiaddr.Addr
	complete *CompletionInfo
}

// dispatchDepth bounds the event channel. The reader must never block on a
// slow application callback; past this depth events are dropped and
// counted.
const dispatchDepth = 256

// queueDepth bounds the pollable queues.
const queueDepth = 128

// Dispatcher owns callback delivery and the pollable event queues for one
// network.
type Dispatcher struct {
	netIndex int

	mu        sync.Mutex
	cb        Callbacks
	attnQ     []AttnRecord
	errQ      []ErrRecord
	changeQ   []NetChange
	paramFlag map[multiaddr.Addr]bool
	dropped   uint64

	events chan event
	quit   chan struct{}
	wg     sync.WaitGroup
}

// NewDispatcher returns a started Dispatcher.
func NewDispatcher(netIndex int) *Dispatcher {
	d := &Dispatcher{
		netIndex:  netIndex,
		paramFlag: make(map[multiaddr.Addr]bool),
		events:    make(chan event, dispatchDepth),
		quit:      make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// SetCallbacks replaces the application hooks.
func (d *Dispatcher) SetCallbacks(cb Callbacks) {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
}

// Close stops the dispatch goroutine. Queued events are dropped.
func (d *Dispatcher) Close() {
	close(d.quit)
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case ev := <-d.events:
			d.deliver(ev)
		}
	}
}

func (d *Dispatcher) deliver(ev event) {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()

	switch {
	case ev.attn != nil && cb.OnAttention != nil:
		cb.OnAttention(*ev.attn)
	case ev.errRec != nil && cb.OnError != nil:
		cb.OnError(*ev.errRec)
	case ev.change != nil && cb.OnNetChange != nil:
		cb.OnNetChange(d.netIndex, *ev.change)
	case ev.paramChg != nil && cb.OnParamChange != nil:
		cb.OnParamChange(*ev.paramChg)
	case ev.inval != nil && cb.OnCacheInval != nil:
		cb.OnCacheInval(*ev.inval)
	case ev.complete != nil && cb.OnComplete != nil:
		cb.OnComplete(*ev.complete)
	}
}

// post enqueues an event without ever blocking the caller.
func (d *Dispatcher) post(ev event) {
	select {
	case d.events <- ev:
	default:
		d.mu.Lock()
		d.dropped++
		n := d.dropped
		d.mu.Unlock()
		if n%100 == 1 {
			logger.Warn("event dispatch queue full, dropping",
				logger.KeyNet, d.netIndex, "dropped_total", n)
		}
	}
}

// Attention records an attention and schedules its callback.
func (d *Dispatcher) Attention(rec AttnRecord) {
	d.mu.Lock()
	if len(d.attnQ) < queueDepth {
		d.attnQ = append(d.attnQ, rec)
	}
	d.mu.Unlock()
	d.post(event{attn: &rec})
}

// NextAttention pops the oldest undelivered attention, for environments
// that cannot re-enter the driver from a callback.
func (d *Dispatcher) NextAttention() (AttnRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.attnQ) == 0 {
		return AttnRecord{}, false
	}
	rec := d.attnQ[0]
	d.attnQ = d.attnQ[1:]
	return rec, true
}

// FlushAttentions drops all queued attentions.
func (d *Dispatcher) FlushAttentions() {
	d.mu.Lock()
	d.attnQ = nil
	d.mu.Unlock()
}

// Error records an error event and schedules its callback.
func (d *Dispatcher) Error(rec ErrRecord) {
	d.mu.Lock()
	if len(d.errQ) < queueDepth {
		d.errQ = append(d.errQ, rec)
	}
	d.mu.Unlock()
	d.post(event{errRec: &rec})
}

// NextError pops the oldest unconsumed error event.
func (d *Dispatcher) NextError() (ErrRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.errQ) == 0 {
		return ErrRecord{}, false
	}
	rec := d.errQ[0]
	d.errQ = d.errQ[1:]
	return rec, true
}

// NetChange records a lifecycle event and schedules its callback.
func (d *Dispatcher) NetChange(change NetChange) {
	d.mu.Lock()
	if len(d.changeQ) < queueDepth {
		d.changeQ = append(d.changeQ, change)
	}
	d.mu.Unlock()
	d.post(event{change: &change})
}

// NextNetChange pops the oldest unconsumed lifecycle event.
func (d *Dispatcher) NextNetChange() (NetChange, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.changeQ) == 0 {
		return 0, false
	}
	c := d.changeQ[0]
	d.changeQ = d.changeQ[1:]
	return c, true
}

// ParamChanged records a parameter-change notice, marks the node for the
// polled interface, and schedules both callbacks.
func (d *Dispatcher) ParamChanged(chg ParamChange) {
	d.mu.Lock()
	d.paramFlag[chg.Addr] = true
	d.mu.Unlock()
	d.post(event{paramChg: &chg})
	addr := chg.Addr
	d.post(event{inval: &addr})
}

// ParamsHaveChanged reports and clears the changed flag for addr.
func (d *Dispatcher) ParamsHaveChanged(addr multiaddr.Addr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paramFlag[addr] {
		d.paramFlag[addr] = false
		return true
	}
	return false
}

// Complete schedules a command completion callback.
func (d *Dispatcher) Complete(info CompletionInfo) {
	d.post(event{complete: &info})
}

// Dropped returns how many events were lost to backpressure.
func (d *Dispatcher) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}
