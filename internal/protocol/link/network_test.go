package link

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonlink/axonlink/internal/protocol/wire"
	"github.com/axonlink/axonlink/internal/sim"
	"github.com/axonlink/axonlink/pkg/buserr"
	"github.com/axonlink/axonlink/pkg/multiaddr"
)

// testConfig shrinks every timing knob so bring-up and recovery run in
// milliseconds.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReadDeadline = 100 * time.Millisecond
	cfg.MotionDeadline = 200 * time.Millisecond
	cfg.StopDeadline = 100 * time.Millisecond
	cfg.StaleTimeout = 100 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	cfg.CtlTimeout = 200 * time.Millisecond
	cfg.ResetWait = 20 * time.Millisecond
	cfg.RecoveryInitial = 20 * time.Millisecond
	cfg.RecoveryMax = 100 * time.Millisecond
	return cfg
}

func startRing(t *testing.T, cfg Config, nodes ...*sim.Node) (*Network, *sim.Ring) {
	t.Helper()
	ring, opener := sim.NewRing(nodes...)
	n := NewNetwork(0, "sim0", opener, cfg, nil)
	t.Cleanup(func() {
		n.Stop()
		ring.Close()
	})
	require.NoError(t, n.Start(false))
	return n, ring
}

func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBringUpTwoNodes(t *testing.T) {
	n, _ := startRing(t, testConfig(), sim.NewNode(1001), sim.NewNode(1002))

	assert.Equal(t, StateOnline, n.State())
	assert.Equal(t, 2, n.NodeCount())
	assert.Equal(t, 115200, n.Rate())

	// lifecycle events arrive in order: resetting before online
	var seen []NetChange
	for {
		c, ok := n.Disp.NextNetChange()
		if !ok {
			break
		}
		seen = append(seen, c)
	}
	require.NotEmpty(t, seen)
	assert.Contains(t, seen, ChangeResetting)
	assert.Equal(t, ChangeOnline, seen[len(seen)-1])

	// inventory populated both records
	node0, err := n.Node(0)
	require.NoError(t, err)
	assert.Equal(t, wire.DevIntegratedServo, node0.Dev.Type())
	assert.Equal(t, uint32(1001), node0.Serial)
	assert.Equal(t, "AX-2341-ES", node0.PartNum)

	node1, err := n.Node(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1002), node1.Serial)
}

func TestAddressOutOfRange(t *testing.T) {
	n, _ := startRing(t, testConfig(), sim.NewNode(1))

	_, err := n.RunCommand(1, wire.GetParamCmd(wire.BankCore, wire.ParamNodeID), 0)
	assert.Equal(t, buserr.AddressOutOfRange, buserr.CodeOf(err))

	_, err = n.Node(5)
	assert.Equal(t, buserr.AddressOutOfRange, buserr.CodeOf(err))
}

func TestParameterRoundTrip(t *testing.T) {
	n, _ := startRing(t, testConfig(), sim.NewNode(7))

	value := []byte{0x11, 0x22, 0x33, 0x44}
	_, err := n.RunCommand(0, wire.SetParamCmd(wire.BankCore, wire.ParamUserDataNV0, value),
		time.Second)
	require.NoError(t, err)

	resp, err := n.RunCommand(0, wire.GetParamCmd(wire.BankCore, wire.ParamUserDataNV0),
		time.Second)
	require.NoError(t, err)
	assert.Equal(t, value, resp)
}

func TestChecksumFaultInjection(t *testing.T) {
	cfg := testConfig()
	n, ring := startRing(t, cfg, sim.NewNode(7))

	// keep the background worker out of the exchange so the damaged
	// slot's lifetime is deterministic
	n.BackgroundPollControl(false)

	before, _ := n.HostErrStats()

	ring.CorruptNextResponse()
	_, err := n.RunCommand(0, wire.GetParamCmd(wire.BankCore, wire.ParamNodeID),
		50*time.Millisecond)
	assert.Equal(t, buserr.CommandTimeout, buserr.CodeOf(err))

	after, _ := n.HostErrStats()
	assert.Equal(t, before.Checksums+1, after.Checksums)

	// the corrupted response never settles its command; the stale sweep
	// reclaims the slot and the link keeps working
	time.Sleep(cfg.StaleTimeout + 50*time.Millisecond)
	n.Tracker.Sweep(time.Now())

	_, err = n.RunCommand(0, wire.GetParamCmd(wire.BankCore, wire.ParamNodeID),
		200*time.Millisecond)
	require.NoError(t, err)

	// both the damaged exchange and the good one are in the trace
	assert.Greater(t, n.Trace.Len(), 2)
}

func TestNodeErrorFailsCommand(t *testing.T) {
	n, ring := startRing(t, testConfig(), sim.NewNode(7))

	var mu sync.Mutex
	var errRecs []ErrRecord
	n.Disp.SetCallbacks(Callbacks{
		OnError: func(rec ErrRecord) {
			mu.Lock()
			errRecs = append(errRecs, rec)
			mu.Unlock()
		},
	})

	// an E-Stopped node refuses moves with a node-reported error
	_, err := n.RunCommand(0, wire.NodeStopCmd(wire.StopTypeEStopAbrupt), time.Second)
	require.NoError(t, err)
	require.True(t, ring.EStopped(0))

	_, err = n.RunCommand(0, wire.MovePosnCmd(1000, true, false), time.Second)
	assert.Equal(t, buserr.EStopped, buserr.CodeOf(err))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errRecs) == 1
	}, "error callback not delivered")

	mu.Lock()
	assert.Equal(t, buserr.EStopped, errRecs[0].Code)
	assert.Equal(t, multiaddr.New(0, 0), errRecs[0].Addr)
	mu.Unlock()
}

func TestMoveAckCarriesBuffersRemaining(t *testing.T) {
	n, _ := startRing(t, testConfig(), sim.NewNode(7))

	resp, err := n.RunCommand(0, wire.MovePosnCmd(500, false, true), time.Second)
	require.NoError(t, err)
	state, remaining := wire.ParseMoveAck(resp)
	assert.Equal(t, wire.MoveQueued, state)
	assert.Equal(t, 3, remaining)

	// a trigger broadcast releases the parked move
	require.NoError(t, n.WriteFrame(wire.TriggerFrame(0), zeroID()))
	waitFor(t, time.Second, func() bool {
		resp, err := n.RunCommand(0, wire.MovePosnCmd(500, false, true), time.Second)
		if err != nil {
			return false
		}
		_, rem := wire.ParseMoveAck(resp)
		return rem == 3
	}, "trigger did not release buffered move")
}

func TestBaudDegradesToCommonRate(t *testing.T) {
	slow := sim.NewNode(9)
	slow.MaxRate = wire.Baud1x

	cfg := testConfig()
	n, _ := startRing(t, cfg, sim.NewNode(8), slow)

	// the slow node rejects everything above the base rate
	assert.Equal(t, wire.BaseRate, n.Rate())
	assert.Equal(t, StateOnline, n.State())

	var sawUnsupported bool
	for {
		c, ok := n.Disp.NextNetChange()
		if !ok {
			break
		}
		if c == ChangeBaudUnsupported {
			sawUnsupported = true
		}
	}
	assert.True(t, sawUnsupported)
}

func TestMiswiredRingBreaksBringUp(t *testing.T) {
	ring, opener := sim.NewRing(sim.NewNode(1), sim.NewNode(2))
	defer ring.Close()
	ring.SetMiswired(true)

	n := NewNetwork(0, "sim0", opener, testConfig(), nil)
	defer n.Stop()

	err := n.Start(false)
	require.Error(t, err)
	assert.Equal(t, StateBroken, n.State())
}

func TestAttentionDelivery(t *testing.T) {
	n, ring := startRing(t, testConfig(), sim.NewNode(7))

	got := make(chan AttnRecord, 4)
	n.Disp.SetCallbacks(Callbacks{
		OnAttention: func(rec AttnRecord) { got <- rec },
	})

	ring.RaiseAttention(0, 0x00000040)

	select {
	case rec := <-got:
		assert.Equal(t, multiaddr.New(0, 0), rec.Addr)
		assert.Equal(t, uint32(0x40), rec.Bits)
	case <-time.After(time.Second):
		t.Fatal("attention callback not delivered")
	}

	// the polled queue saw it too
	rec, ok := n.Disp.NextAttention()
	assert.True(t, ok)
	assert.Equal(t, uint32(0x40), rec.Bits)
}

func TestDataAcqStream(t *testing.T) {
	n, ring := startRing(t, testConfig(), sim.NewNode(7))

	for i := 0; i < 5; i++ {
		ring.EmitDataAcq(0, wire.DataAcqPoint{Chan0: int16(i * 10), Chan1: int16(-i), Inputs: 1})
	}

	waitFor(t, time.Second, func() bool { return n.DataAcqCount(0) == 5 },
		"acquisition points not queued")

	pts := n.DataAcqPoints(0, 3)
	require.Len(t, pts, 3)
	assert.Equal(t, int16(0), pts[0].Chan0)
	assert.Equal(t, int16(20), pts[2].Chan0)
	assert.Equal(t, 2, n.DataAcqCount(0))

	n.FlushDataAcq(0)
	assert.Zero(t, n.DataAcqCount(0))
}

func TestBlackoutBreaksAndRecovers(t *testing.T) {
	cfg := testConfig()
	n, ring := startRing(t, cfg, sim.NewNode(41), sim.NewNode(42))

	// consume bring-up events
	for {
		if _, ok := n.Disp.NextNetChange(); !ok {
			break
		}
	}

	ring.Blackout(400 * time.Millisecond)

	waitFor(t, 3*time.Second, func() bool {
		for {
			c, ok := n.Disp.NextNetChange()
			if !ok {
				return false
			}
			if c == ChangeBroken {
				return true
			}
		}
	}, "network never noticed the blackout")

	// auto-discovery re-probes until the ring answers again
	waitFor(t, 5*time.Second, func() bool { return n.State() == StateOnline },
		"network did not recover")

	// identity preserved across recovery
	node0, err := n.Node(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(41), node0.Serial)

	_, err = n.RunCommand(1, wire.GetParamCmd(wire.BankCore, wire.ParamNodeID), time.Second)
	assert.NoError(t, err)
}

func TestUntrackedResponses(t *testing.T) {
	n, _ := startRing(t, testConfig(), sim.NewNode(7))

	require.NoError(t, n.SendUntracked(0, wire.GetParamCmd(wire.BankCore, wire.ParamNodeID)))

	waitFor(t, time.Second, func() bool {
		_, ok := n.UntrackedResponse()
		return ok
	}, "untracked response never arrived")

	// untracked traffic still counts as a stray for diagnostics
	assert.Equal(t, uint64(1), n.Tracker.Strays())
}

func TestBackgroundPollControl(t *testing.T) {
	n, _ := startRing(t, testConfig(), sim.NewNode(7))

	assert.True(t, n.PollerRunning())
	n.BackgroundPollControl(false)
	assert.False(t, n.PollerRunning())
	n.BackgroundPollControl(true)
	assert.True(t, n.PollerRunning())
}

func TestSerialStatsAdvance(t *testing.T) {
	n, _ := startRing(t, testConfig(), sim.NewNode(7))

	before := n.SerialStats()
	_, err := n.RunCommand(0, wire.GetParamCmd(wire.BankCore, wire.ParamNodeID), time.Second)
	require.NoError(t, err)
	after := n.SerialStats()

	assert.Greater(t, after.TxFrames, before.TxFrames)
	assert.Greater(t, after.RxFrames, before.RxFrames)
	assert.Greater(t, after.TxOctets, before.TxOctets)
}
