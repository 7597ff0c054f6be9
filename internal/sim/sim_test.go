package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonlink/axonlink/internal/protocol/wire"
)

func TestNodeParamStore(t *testing.T) {
	n := NewNode(42)

	resp, errw := n.exec(wire.GetParamCmd(wire.BankCore, wire.ParamNodeID))
	require.Zero(t, errw)
	assert.Len(t, resp, 2)

	// unknown parameter is an argument error
	_, errw = n.exec(wire.GetParamCmd(wire.BankDrive, 200))
	assert.NotZero(t, errw)

	// writes round-trip
	_, errw = n.exec(wire.SetParamCmd(wire.BankCore, wire.ParamUserDataNV1, []byte{1, 2}))
	require.Zero(t, errw)
	resp, errw = n.exec(wire.GetParamCmd(wire.BankCore, wire.ParamUserDataNV1))
	require.Zero(t, errw)
	assert.Equal(t, []byte{1, 2}, resp)

	// device id is read-only
	_, errw = n.exec(wire.SetParamCmd(wire.BankCore, wire.ParamNodeID, []byte{0, 0}))
	assert.NotZero(t, errw)
}

func TestNodeStopSemantics(t *testing.T) {
	n := NewNode(1)

	_, errw := n.exec(wire.NodeStopCmd(wire.StopTypeEStopAbrupt))
	require.Zero(t, errw)
	assert.True(t, n.estopped)

	// motion refused while latched
	_, errw = n.exec(wire.MovePosnCmd(100, true, false))
	assert.NotZero(t, errw)

	_, errw = n.exec(wire.NodeStopCmd(wire.StopTypeClrEStop))
	require.Zero(t, errw)
	assert.False(t, n.estopped)

	resp, errw := n.exec(wire.MovePosnCmd(100, true, false))
	require.Zero(t, errw)
	state, _ := wire.ParseMoveAck(resp)
	assert.Equal(t, wire.MoveAccepted, state)
}

func TestMoveBufferFills(t *testing.T) {
	n := NewNode(1)

	// triggered moves park in the buffer until released
	for i := 0; i < moveBufDepth; i++ {
		resp, errw := n.exec(wire.MoveVelCmd(10, true))
		require.Zero(t, errw)
		_, remaining := wire.ParseMoveAck(resp)
		assert.Equal(t, moveBufDepth-i-1, remaining)
	}

	_, errw := n.exec(wire.MoveVelCmd(10, true))
	assert.NotZero(t, errw) // buffers full
}
