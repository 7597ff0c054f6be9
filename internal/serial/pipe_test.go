package serial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeTransfersOctets(t *testing.T) {
	host, node := Pipe()
	defer host.Close()

	_, err := host.Write([]byte{0x80, 0x02, 0x7F})
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := node.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 0x02, 0x7F}, buf[:n])
}

func TestPipeReadTimeout(t *testing.T) {
	host, _ := Pipe()
	defer host.Close()

	host.SetReadTimeout(10 * time.Millisecond)
	buf := make([]byte, 1)
	_, err := host.Read(buf)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestPipeCloseUnblocksReader(t *testing.T) {
	host, node := Pipe()

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := node.Read(buf)
		done <- err
	}()

	time.Sleep(5 * time.Millisecond)
	host.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("reader did not unblock on close")
	}
}

func TestPipeLineEvents(t *testing.T) {
	host, node := Pipe()
	defer host.Close()

	var gotRate int
	var gotBreak time.Duration
	host.OnBaud = func(rate int) { gotRate = rate }
	host.OnBreak = func(d time.Duration) { gotBreak = d }

	require.NoError(t, host.SetBaud(115200))
	require.NoError(t, host.SendBreak(40*time.Millisecond))

	assert.Equal(t, 115200, gotRate)
	assert.Equal(t, 40*time.Millisecond, gotBreak)
	assert.Equal(t, 115200, host.Rate())
	assert.Equal(t, 9600, node.Rate())
}
