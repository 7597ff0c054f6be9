package link

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/axonlink/axonlink/pkg/buserr"
	"github.com/axonlink/axonlink/pkg/metrics"
	"github.com/axonlink/axonlink/pkg/multiaddr"
)

// The protocol carries no sequence numbers: a response is matched to a
// command purely by source address and arrival order. The Tracker preserves
// that implicit ordering end-to-end. Commands enter a bounded FIFO window;
// a response always settles the oldest outstanding command for its address.
//
// An expired command does not free its slot immediately: the node will
// still answer it, and releasing the slot early would let a fresh command's
// response land on the dead one. The slot is reclaimed when the late
// response arrives, when the network resets, or by the stale sweep.

// pending is one in-flight command.
type pending struct {
	id      xid.ID
	addr    uint8
	opcode  uint8
	cmd     []byte
	queued  time.Time
	sent    time.Time
	expired bool // deadline passed; awaiting late response or sweep
	staleAt time.Time

	done chan cmdResult
}

type cmdResult struct {
	payload []byte
	err     error
}

// CompletionInfo carries per-command timing for the completion callback.
type CompletionInfo struct {
	CmdID  xid.ID
	Addr   multiaddr.Addr
	Opcode uint8

	// QueueTime is how long the command waited for a slot.
	QueueTime time.Duration
	// ExecTime is submission to response delivery, pacing included.
	ExecTime time.Duration
	// RingDepth is the in-flight count when the command was sent.
	RingDepth int
}

// Tracker enforces request/response matching for one network.
type Tracker struct {
	netIndex int
	limit    int
	staleFor time.Duration

	// send writes an encoded command frame to the wire. Injected by the
	// Network so the Tracker stays port-agnostic.
	send func(p *pending) error

	// onComplete receives timing stats after each matched pair.
	onComplete func(CompletionInfo)

	met metrics.LinkMetrics

	mu       sync.Mutex
	inflight []*pending
	reserved int // slots granted but not yet in inflight
	waiters  []chan struct{}
	closed   bool

	strays atomic.Uint64
}

// NewTracker returns a Tracker with the given window size.
func NewTracker(netIndex, limit int, staleFor time.Duration, send func(*pending) error) *Tracker {
	if limit < 1 {
		limit = 1
	}
	return &Tracker{
		netIndex: netIndex,
		limit:    limit,
		staleFor: staleFor,
		send:     send,
	}
}

// SetCompletionFunc registers the completion statistics callback.
func (t *Tracker) SetCompletionFunc(fn func(CompletionInfo)) {
	t.mu.Lock()
	t.onComplete = fn
	t.mu.Unlock()
}

// SetMetrics attaches an optional metrics sink.
func (t *Tracker) SetMetrics(m metrics.LinkMetrics) {
	t.mu.Lock()
	t.met = m
	t.mu.Unlock()
}

// SetLimit resizes the in-flight window. Shrinking takes effect as slots
// drain; nothing in flight is cancelled.
func (t *Tracker) SetLimit(limit int) {
	if limit < 1 {
		limit = 1
	}
	t.mu.Lock()
	t.limit = limit
	t.mu.Unlock()
}

// Depth returns the current in-flight count.
func (t *Tracker) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight) + t.reserved
}

// Strays returns how many responses arrived with no matching command.
func (t *Tracker) Strays() uint64 {
	return t.strays.Load()
}

// Run submits one command and blocks until its response, a node error, or
// the deadline. A zero timeout means: fail immediately with CommandTimeout
// when no slot is free, otherwise proceed with the stale-sweep grace as the
// response deadline.
func (t *Tracker) Run(addr uint8, cmd []byte, timeout time.Duration) ([]byte, error) {
	maddr := multiaddr.New(t.netIndex, int(addr))

	var opcode uint8
	if len(cmd) > 0 {
		opcode = cmd[0]
	}

	p := &pending{
		id:     xid.New(),
		addr:   addr,
		opcode: opcode,
		cmd:    cmd,
		queued: time.Now(),
		done:   make(chan cmdResult, 1),
	}

	noWait := timeout <= 0
	respTimeout := timeout
	if noWait {
		respTimeout = t.staleFor
	}

	if err := t.acquireSlot(maddr, respTimeout, noWait); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.reserved--
		t.mu.Unlock()
		return nil, buserr.New(maddr, buserr.CommAborted)
	}
	t.reserved--
	t.inflight = append(t.inflight, p)
	p.sent = time.Now()
	depth := len(t.inflight)
	t.mu.Unlock()

	if err := t.send(p); err != nil {
		t.remove(p)
		return nil, buserr.Wrap(maddr, buserr.WriteFailed, err)
	}

	timer := time.NewTimer(respTimeout)
	defer timer.Stop()

	select {
	case res := <-p.done:
		if res.err != nil {
			return nil, res.err
		}
		t.complete(p, depth)
		return res.payload, nil

	case <-timer.C:
		t.expire(p)
		return nil, buserr.New(maddr, buserr.CommandTimeout).WithCommand(cmd)
	}
}

// acquireSlot blocks until a window slot frees or the deadline passes.
// Fairness is FIFO on entry.
func (t *Tracker) acquireSlot(maddr multiaddr.Addr, timeout time.Duration, noWait bool) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return buserr.New(maddr, buserr.CommAborted)
	}
	if len(t.inflight)+t.reserved < t.limit {
		t.reserved++
		t.mu.Unlock()
		return nil
	}
	if noWait {
		t.mu.Unlock()
		return buserr.New(maddr, buserr.CommandTimeout)
	}

	w := make(chan struct{})
	t.waiters = append(t.waiters, w)
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w:
		t.mu.Lock()
		if t.closed {
			t.releaseSlotLocked()
			t.mu.Unlock()
			return buserr.New(maddr, buserr.CommAborted)
		}
		t.mu.Unlock()
		return nil

	case <-timer.C:
		t.mu.Lock()
		for i, q := range t.waiters {
			if q == w {
				t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
				t.mu.Unlock()
				return buserr.New(maddr, buserr.CommandTimeout)
			}
		}
		// Lost the race: a slot was granted while the timer fired.
		// Hand it back before reporting the timeout.
		t.releaseSlotLocked()
		t.mu.Unlock()
		return buserr.New(maddr, buserr.CommandTimeout)
	}
}

// releaseSlotLocked passes a freed slot to the oldest waiter, or returns it
// to the pool. Caller holds t.mu.
func (t *Tracker) releaseSlotLocked() {
	if len(t.waiters) > 0 {
		// The freed slot is already counted in reserved by the caller's
		// reclassify; hand that reservation to the oldest waiter as is.
		w := t.waiters[0]
		t.waiters = t.waiters[1:]
		close(w)
		return
	}
	if t.reserved > 0 {
		t.reserved--
	}
	if t.met != nil {
		t.met.SetTrackerDepth(len(t.inflight) + t.reserved)
	}
}

// remove drops p from the in-flight window and frees its slot.
func (t *Tracker) remove(p *pending) {
	t.mu.Lock()
	for i, q := range t.inflight {
		if q == p {
			t.inflight = append(t.inflight[:i], t.inflight[i+1:]...)
			t.reserved++ // temporarily reclassify so release hands it on
			t.releaseSlotLocked()
			break
		}
	}
	t.mu.Unlock()
}

// expire marks p as deadline-expired. The slot stays held until the late
// response is consumed or the stale sweep reclaims it.
func (t *Tracker) expire(p *pending) {
	t.mu.Lock()
	p.expired = true
	p.staleAt = time.Now().Add(t.staleFor)
	t.mu.Unlock()
}

// HandleResponse settles the oldest outstanding command addressed to addr.
// It reports false when nothing matched, in which case the caller counts a
// stray.
func (t *Tracker) HandleResponse(addr uint8, payload []byte) bool {
	t.mu.Lock()
	var p *pending
	for i, q := range t.inflight {
		if q.addr == addr {
			p = q
			t.inflight = append(t.inflight[:i], t.inflight[i+1:]...)
			t.reserved++
			t.releaseSlotLocked()
			break
		}
	}
	t.mu.Unlock()

	if p == nil {
		t.strays.Add(1)
		return false
	}
	if p.expired {
		// The caller already returned Timeout; the late response only
		// frees the slot.
		return true
	}
	p.done <- cmdResult{payload: payload}
	return true
}

// HandleError fails the oldest outstanding command addressed to addr with
// the node-reported code. It reports false when nothing was outstanding,
// leaving the caller to surface the error through the callback alone.
func (t *Tracker) HandleError(addr uint8, code buserr.Code) bool {
	t.mu.Lock()
	var p *pending
	for i, q := range t.inflight {
		if q.addr == addr {
			p = q
			t.inflight = append(t.inflight[:i], t.inflight[i+1:]...)
			t.reserved++
			t.releaseSlotLocked()
			break
		}
	}
	t.mu.Unlock()

	if p == nil {
		return false
	}
	if !p.expired {
		err := buserr.New(multiaddr.New(t.netIndex, int(addr)), code).WithCommand(p.cmd)
		p.done <- cmdResult{err: err}
	}
	return true
}

// Sweep reclaims slots held by expired commands whose responses never
// arrived. Driven by the background worker.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	kept := t.inflight[:0]
	reclaimed := 0
	for _, p := range t.inflight {
		if p.expired && now.After(p.staleAt) {
			reclaimed++
			continue
		}
		kept = append(kept, p)
	}
	t.inflight = kept
	for i := 0; i < reclaimed; i++ {
		t.reserved++
		t.releaseSlotLocked()
	}
	t.mu.Unlock()
	return reclaimed
}

// Flush fails every outstanding command with CommAborted and empties the
// window. Used on shutdown, port failure, and explicit flush.
func (t *Tracker) Flush() int {
	t.mu.Lock()
	dropped := t.inflight
	t.inflight = nil
	t.reserved = 0
	// Woken waiters get real reservations out of the now-empty window;
	// any beyond the limit keep waiting in order.
	for len(t.waiters) > 0 && t.reserved < t.limit {
		w := t.waiters[0]
		t.waiters = t.waiters[1:]
		t.reserved++
		close(w)
	}
	if t.closed {
		// Closing wakes everyone; each waiter observes the flag and
		// hands its reservation straight back.
		for _, w := range t.waiters {
			t.reserved++
			close(w)
		}
		t.waiters = nil
	}
	if t.met != nil {
		t.met.SetTrackerDepth(t.reserved)
	}
	t.mu.Unlock()

	for _, p := range dropped {
		if !p.expired {
			err := buserr.New(multiaddr.New(t.netIndex, int(p.addr)), buserr.CommAborted)
			p.done <- cmdResult{err: err}
		}
	}
	return len(dropped)
}

// Close flushes and refuses further submissions.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.Flush()
}

// Reopen clears the closed flag after a successful network restart.
func (t *Tracker) Reopen() {
	t.mu.Lock()
	t.closed = false
	t.mu.Unlock()
}

// complete emits the completion statistics.
func (t *Tracker) complete(p *pending, depth int) {
	t.mu.Lock()
	fn := t.onComplete
	met := t.met
	t.mu.Unlock()

	now := time.Now()
	if fn != nil {
		fn(CompletionInfo{
			CmdID:     p.id,
			Addr:      multiaddr.New(t.netIndex, int(p.addr)),
			Opcode:    p.opcode,
			QueueTime: p.sent.Sub(p.queued),
			ExecTime:  now.Sub(p.queued),
			RingDepth: depth,
		})
	}
	if met != nil {
		met.RecordCommand(opcodeName(p.opcode), now.Sub(p.queued), "")
	}
}
