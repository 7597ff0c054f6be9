package driver

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonlink/axonlink/internal/protocol/link"
	"github.com/axonlink/axonlink/internal/protocol/wire"
	"github.com/axonlink/axonlink/internal/sim"
	"github.com/axonlink/axonlink/pkg/buserr"
	"github.com/axonlink/axonlink/pkg/multiaddr"
)

func fastLink() link.Config {
	cfg := link.DefaultConfig()
	cfg.ReadDeadline = 200 * time.Millisecond
	cfg.MotionDeadline = 300 * time.Millisecond
	cfg.StopDeadline = 100 * time.Millisecond
	cfg.StaleTimeout = 100 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	cfg.CtlTimeout = 200 * time.Millisecond
	cfg.ResetWait = 20 * time.Millisecond
	cfg.RecoveryInitial = 20 * time.Millisecond
	cfg.RecoveryMax = 100 * time.Millisecond
	return cfg
}

func startDriver(t *testing.T, nodes ...*sim.Node) (*Driver, *sim.Ring) {
	t.Helper()
	ring, opener := sim.NewRing(nodes...)
	d := New(Options{Link: fastLink(), Opener: opener})
	t.Cleanup(func() {
		d.Shutdown()
		ring.Close()
	})
	require.NoError(t, d.InitNets(false, []ControllerSpec{{Port: "sim0"}}))
	return d, ring
}

func TestColdStartInventory(t *testing.T) {
	d, _ := startDriver(t, sim.NewNode(501), sim.NewNode(502))

	assert.Equal(t, 1, d.NetCount())
	assert.True(t, d.Online(0))

	assert.Equal(t, 2, d.InventoryCount(wire.DevIntegratedServo))
	assert.Equal(t, 2, d.InventoryCount(wire.DevUnknown))
	assert.Zero(t, d.InventoryCount(wire.DevCompactServo))

	recs := d.InventoryRecords(wire.DevIntegratedServo)
	require.Len(t, recs, 2)
	assert.Equal(t, multiaddr.New(0, 0), recs[0].Addr)
	assert.Equal(t, multiaddr.New(0, 1), recs[1].Addr)
	assert.Equal(t, uint32(501), recs[0].Serial)
	assert.Equal(t, uint32(502), recs[1].Serial)

	count, err := d.NetInventoryCount(0, wire.DevIntegratedServo)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestParamRoundTrip(t *testing.T) {
	d, _ := startDriver(t, sim.NewNode(1))
	addr := multiaddr.New(0, 0)

	ref := ParamRef{Bank: wire.BankCore, Index: wire.ParamUserDataNV0}
	value := []byte{0x11, 0x22, 0x33, 0x44}

	require.NoError(t, d.SetParam(addr, ref, value))

	got, err := d.GetParam(addr, ref)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	// cache holds the value too
	cached, ok, err := d.GetParamCached(addr, ref)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, value, cached)
}

func TestNonVolatileShadow(t *testing.T) {
	d, _ := startDriver(t, sim.NewNode(1))
	addr := multiaddr.New(0, 0)

	live := ParamRef{Bank: wire.BankCore, Index: wire.ParamUserRAM0}
	shadow := ParamRef{Bank: wire.BankCore, Index: wire.ParamUserRAM0, NonVolatile: true}

	require.NoError(t, d.SetParam(addr, live, []byte{0x01}))
	require.NoError(t, d.SetParam(addr, shadow, []byte{0x02}))

	liveV, err := d.GetParam(addr, live)
	require.NoError(t, err)
	shadowV, err := d.GetParam(addr, shadow)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, liveV)
	assert.Equal(t, []byte{0x02}, shadowV)
}

func TestEStopLatchBlocksMotion(t *testing.T) {
	d, ring := startDriver(t, sim.NewNode(1), sim.NewNode(2))
	addr := multiaddr.New(0, 1)

	// a latching stop engages the host-side lock
	require.NoError(t, d.NodeStop(addr, wire.StopTypeEStopRamp))

	_, err := d.MoveRelative(addr, 1000, false)
	assert.Equal(t, buserr.MotionBlocked, buserr.CodeOf(err))

	// the other node is unaffected
	_, err = d.MoveRelative(multiaddr.New(0, 0), 1000, false)
	assert.NoError(t, err)

	// clearing the latch restores motion
	require.NoError(t, d.NodeStop(addr, wire.StopTypeClrEStop))

	// wait for the sim to process the clearing stop
	deadline := time.Now().Add(time.Second)
	for ring.EStopped(1) && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	res, err := d.MoveRelative(addr, 1000, false)
	require.NoError(t, err)
	assert.Equal(t, wire.MoveAccepted, res.State)
}

func TestMoveAckSurfacesBuffers(t *testing.T) {
	d, _ := startDriver(t, sim.NewNode(1))
	addr := multiaddr.New(0, 0)

	res, err := d.MoveAbsolute(addr, 5000, true)
	require.NoError(t, err)
	assert.Equal(t, wire.MoveQueued, res.State)
	assert.Equal(t, 3, res.BuffersRemaining)

	require.NoError(t, d.Trigger(0, 0))
}

func TestMasksAndOutputReg(t *testing.T) {
	d, _ := startDriver(t, sim.NewNode(1))
	addr := multiaddr.New(0, 0)

	require.NoError(t, d.SetMask(addr, MaskAttention, 0x00FF00FF))
	got, err := d.GetMask(addr, MaskAttention)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00FF00FF), got)

	require.NoError(t, d.SetOutputReg(addr, 0x5))
	out, err := d.GetOutputReg(addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x5), out)
}

func TestStopTypeConfig(t *testing.T) {
	d, _ := startDriver(t, sim.NewNode(1))
	addr := multiaddr.New(0, 0)

	require.NoError(t, d.SetStopType(addr, wire.StopTypeEStopAbrupt))
	reg, err := d.GetStopType(addr)
	require.NoError(t, err)
	assert.Equal(t, wire.StopTypeEStopAbrupt, reg)
}

func TestClearAlertsIdempotent(t *testing.T) {
	d, _ := startDriver(t, sim.NewNode(1))
	addr := multiaddr.New(0, 0)

	require.NoError(t, d.ClearAlerts(addr))
	require.NoError(t, d.ClearAlerts(addr))

	v, err := d.GetParam(addr, ParamRef{Bank: wire.BankCore, Index: wire.ParamAlertReg})
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 4), v)
}

func TestUserIDRoundTrip(t *testing.T) {
	d, _ := startDriver(t, sim.NewNode(1))
	addr := multiaddr.New(0, 0)

	require.NoError(t, d.SetUserID(addr, "axis-left"))
	id, err := d.UserID(addr)
	require.NoError(t, err)
	assert.Equal(t, "axis-left", id)
}

func TestAddressValidation(t *testing.T) {
	d, _ := startDriver(t, sim.NewNode(1))

	_, err := d.GetParam(multiaddr.New(0, 1),
		ParamRef{Bank: wire.BankCore, Index: wire.ParamNodeID})
	assert.Equal(t, buserr.AddressOutOfRange, buserr.CodeOf(err))

	_, err = d.GetParam(multiaddr.New(3, 0),
		ParamRef{Bank: wire.BankCore, Index: wire.ParamNodeID})
	assert.Equal(t, buserr.UnknownAddress, buserr.CodeOf(err))

	_, err = d.GetParam(multiaddr.Unknown,
		ParamRef{Bank: wire.BankCore, Index: wire.ParamNodeID})
	assert.Equal(t, buserr.UnknownAddress, buserr.CodeOf(err))
}

func TestAutoBrakeOnDisable(t *testing.T) {
	d, ring := startDriver(t, sim.NewNode(1), sim.NewNode(2))
	bound := multiaddr.New(0, 1)

	require.NoError(t, d.SetAutoBrake(0, 2, true, bound))

	enabled, addr, err := d.GetAutoBrake(0, 2)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, bound, addr)

	// the bound node reports a disable edge
	ring.RaiseAttention(1, wire.StatusBitDisabled)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		out, err := d.GetOutputReg(multiaddr.New(0, 0))
		require.NoError(t, err)
		if out&(1<<2) != 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("auto-brake did not assert the output")
}

func TestShutdownGroupStop(t *testing.T) {
	d, ring := startDriver(t, sim.NewNode(1), sim.NewNode(2))

	info := ShutdownInfo{
		Enabled:   true,
		EventMask: wire.StatusBitUserAlert,
		StopType:  wire.StopTypeEStopAbrupt,
	}
	require.NoError(t, d.SetShutdownInfo(multiaddr.New(0, 0), info))
	require.NoError(t, d.SetShutdownInfo(multiaddr.New(0, 1), info))

	got, err := d.GetShutdownInfo(multiaddr.New(0, 0))
	require.NoError(t, err)
	assert.True(t, got.Enabled)

	// an armed event on node 0 stops every armed node
	ring.RaiseAttention(0, wire.StatusBitUserAlert)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ring.EStopped(0) && ring.EStopped(1) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("shutdown group stop did not reach all armed nodes")
}

func TestTraceDump(t *testing.T) {
	d, _ := startDriver(t, sim.NewNode(1))

	_, err := d.GetParam(multiaddr.New(0, 0),
		ParamRef{Bank: wire.BankCore, Index: wire.ParamNodeID})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "net0.trace")
	require.NoError(t, d.TraceDump(0, path))

	require.NoError(t, d.TraceEnable(0, false))
	require.NoError(t, d.TraceEnable(0, true))
}

func TestSerialAndErrorStats(t *testing.T) {
	d, _ := startDriver(t, sim.NewNode(1))

	_, err := d.GetParam(multiaddr.New(0, 0),
		ParamRef{Bank: wire.BankCore, Index: wire.ParamNodeID})
	require.NoError(t, err)

	stats, err := d.SerialStats(0)
	require.NoError(t, err)
	assert.NotZero(t, stats.TxFrames)
	assert.NotZero(t, stats.RxFrames)

	_, set, err := d.GetHostErrStats(0)
	require.NoError(t, err)
	assert.False(t, set)
}

func TestUntrackedPath(t *testing.T) {
	d, _ := startDriver(t, sim.NewNode(1))
	addr := multiaddr.New(0, 0)

	require.NoError(t, d.SendCommandUntracked(addr,
		wire.GetParamCmd(wire.BankCore, wire.ParamNodeID)))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		payload, ok, err := d.GetUntrackedResponse(0)
		require.NoError(t, err)
		if ok {
			assert.NotEmpty(t, payload)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("untracked response never surfaced")
}

func TestDataAcqAPI(t *testing.T) {
	d, ring := startDriver(t, sim.NewNode(1))
	addr := multiaddr.New(0, 0)

	for i := 0; i < 3; i++ {
		ring.EmitDataAcq(0, wire.DataAcqPoint{Chan0: int16(i), Chan1: 0, Inputs: 0})
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if count, _ := d.GetDataAcqCount(addr); count == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	pts, err := d.GetDataAcqPoints(addr, 10)
	require.NoError(t, err)
	assert.Len(t, pts, 3)

	require.NoError(t, d.FlushDataAcq(addr))
	count, err := d.GetDataAcqCount(addr)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPolledEvents(t *testing.T) {
	d, ring := startDriver(t, sim.NewNode(1))

	// bring-up left lifecycle events behind
	var sawOnline bool
	for {
		c, ok, err := d.NextNetChange(0)
		require.NoError(t, err)
		if !ok {
			break
		}
		if c == link.ChangeOnline {
			sawOnline = true
		}
	}
	assert.True(t, sawOnline)

	ring.RaiseAttention(0, 0x10)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		rec, ok, err := d.NextAttention(0)
		require.NoError(t, err)
		if ok {
			assert.Equal(t, uint32(0x10), rec.Bits)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("polled attention never arrived")
}
