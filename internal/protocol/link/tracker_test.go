package link

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonlink/axonlink/pkg/buserr"
)

// fakeWire collects sent commands and lets tests answer them by hand.
type fakeWire struct {
	mu   sync.Mutex
	sent []*pending
}

func (w *fakeWire) send(p *pending) error {
	w.mu.Lock()
	w.sent = append(w.sent, p)
	w.mu.Unlock()
	return nil
}

func (w *fakeWire) sentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sent)
}

func newTestTracker(limit int) (*Tracker, *fakeWire) {
	w := &fakeWire{}
	t := NewTracker(0, limit, 200*time.Millisecond, w.send)
	return t, w
}

func TestRunMatchesResponse(t *testing.T) {
	tr, w := newTestTracker(4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for w.sentCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		tr.HandleResponse(3, []byte{0xAA, 0xBB})
	}()

	resp, err := tr.Run(3, []byte{0x00, 0x01}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, resp)
	<-done
	assert.Zero(t, tr.Depth())
}

func TestResponsesMatchOldestPerAddress(t *testing.T) {
	tr, w := newTestTracker(4)

	var first, second atomic.Value
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		resp, err := tr.Run(1, []byte{0x10}, time.Second)
		require.NoError(t, err)
		first.Store(resp[0])
	}()
	for w.sentCount() < 1 {
		time.Sleep(time.Millisecond)
	}
	go func() {
		defer wg.Done()
		resp, err := tr.Run(1, []byte{0x11}, time.Second)
		require.NoError(t, err)
		second.Store(resp[0])
	}()
	for w.sentCount() < 2 {
		time.Sleep(time.Millisecond)
	}

	// responses arrive in command order
	tr.HandleResponse(1, []byte{0x01})
	tr.HandleResponse(1, []byte{0x02})
	wg.Wait()

	assert.Equal(t, byte(0x01), first.Load())
	assert.Equal(t, byte(0x02), second.Load())
}

func TestWindowBackpressure(t *testing.T) {
	tr, w := newTestTracker(2)

	var maxDepth atomic.Int64
	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := tr.Run(0, []byte{0x20}, 2*time.Second)
			results <- err
		}()
	}

	// answer commands as they appear, watching the depth
	answered := 0
	deadline := time.Now().Add(2 * time.Second)
	for answered < 3 && time.Now().Before(deadline) {
		if d := int64(tr.Depth()); d > maxDepth.Load() {
			maxDepth.Store(d)
		}
		if w.sentCount() > answered {
			// small settle so the third submission can try to overfill
			time.Sleep(5 * time.Millisecond)
			if d := int64(tr.Depth()); d > maxDepth.Load() {
				maxDepth.Store(d)
			}
			tr.HandleResponse(0, []byte{0x01})
			answered++
		}
		time.Sleep(time.Millisecond)
	}

	for i := 0; i < 3; i++ {
		assert.NoError(t, <-results)
	}
	assert.LessOrEqual(t, maxDepth.Load(), int64(2))
}

func TestZeroDeadlineFailsWhenFull(t *testing.T) {
	tr, w := newTestTracker(1)

	go func() {
		_, _ = tr.Run(0, []byte{0x30}, time.Second)
	}()
	for w.sentCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	_, err := tr.Run(0, []byte{0x31}, 0)
	assert.Equal(t, buserr.CommandTimeout, buserr.CodeOf(err))

	tr.HandleResponse(0, []byte{0x01})
}

func TestErrorPacketFailsOldest(t *testing.T) {
	tr, w := newTestTracker(4)

	errs := make(chan error, 1)
	go func() {
		_, err := tr.Run(2, []byte{0x40}, time.Second)
		errs <- err
	}()
	for w.sentCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	assert.True(t, tr.HandleError(2, buserr.MoveBufferFull))
	err := <-errs
	assert.Equal(t, buserr.MoveBufferFull, buserr.CodeOf(err))
	assert.Zero(t, tr.Depth())

	// nothing outstanding now
	assert.False(t, tr.HandleError(2, buserr.EStopped))
}

func TestStrayResponseCounted(t *testing.T) {
	tr, _ := newTestTracker(4)

	assert.False(t, tr.HandleResponse(5, []byte{0x01}))
	assert.Equal(t, uint64(1), tr.Strays())
}

func TestTimeoutHoldsSlotUntilLateResponse(t *testing.T) {
	tr, w := newTestTracker(1)

	_, err := tr.Run(0, []byte{0x50}, 10*time.Millisecond)
	assert.Equal(t, buserr.CommandTimeout, buserr.CodeOf(err))
	require.Equal(t, 1, w.sentCount())

	// slot is still held for the late response
	assert.Equal(t, 1, tr.Depth())

	// late response consumes the pending without being delivered anywhere
	assert.True(t, tr.HandleResponse(0, []byte{0x99}))
	assert.Zero(t, tr.Depth())
	assert.Zero(t, tr.Strays())
}

func TestSweepReclaimsAbandonedSlot(t *testing.T) {
	w := &fakeWire{}
	tr := NewTracker(0, 1, 20*time.Millisecond, w.send)

	_, err := tr.Run(0, []byte{0x60}, 5*time.Millisecond)
	assert.Equal(t, buserr.CommandTimeout, buserr.CodeOf(err))
	assert.Equal(t, 1, tr.Depth())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, tr.Sweep(time.Now()))
	assert.Zero(t, tr.Depth())
}

func TestFlushAbortsOutstanding(t *testing.T) {
	tr, w := newTestTracker(4)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := tr.Run(0, []byte{0x70}, time.Second)
			errs <- err
		}()
	}
	for w.sentCount() < 2 {
		time.Sleep(time.Millisecond)
	}

	assert.Equal(t, 2, tr.Flush())
	for i := 0; i < 2; i++ {
		assert.Equal(t, buserr.CommAborted, buserr.CodeOf(<-errs))
	}
}

func TestClosedTrackerRefusesWork(t *testing.T) {
	tr, _ := newTestTracker(2)
	tr.Close()

	_, err := tr.Run(0, []byte{0x80}, time.Second)
	assert.Equal(t, buserr.CommAborted, buserr.CodeOf(err))

	tr.Reopen()
	go func() {
		time.Sleep(5 * time.Millisecond)
		tr.HandleResponse(0, []byte{0x01})
	}()
	_, err = tr.Run(0, []byte{0x81}, time.Second)
	assert.NoError(t, err)
}

func TestCompletionStats(t *testing.T) {
	tr, w := newTestTracker(4)

	infos := make(chan CompletionInfo, 1)
	tr.SetCompletionFunc(func(ci CompletionInfo) { infos <- ci })

	go func() {
		for w.sentCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(10 * time.Millisecond)
		tr.HandleResponse(4, []byte{0x01})
	}()

	_, err := tr.Run(4, []byte{wireGetParam, 0x05}, time.Second)
	require.NoError(t, err)

	ci := <-infos
	assert.Equal(t, uint8(wireGetParam), ci.Opcode)
	assert.Equal(t, 1, ci.RingDepth)
	assert.GreaterOrEqual(t, ci.ExecTime, 10*time.Millisecond)
	assert.False(t, ci.CmdID.IsNil())
}

const wireGetParam = 0 // bank 0 parameter read opcode
