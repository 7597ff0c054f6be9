package tracelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndSnapshot(t *testing.T) {
	l := New(8)

	l.Add(TX, []byte{0x80, 0x02}, "cmd addr=0", xid.New())
	l.Add(RX, []byte{0x91, 0x02}, "resp addr=1", xid.ID{})

	entries := l.Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, TX, entries[0].Dir)
	assert.Equal(t, RX, entries[1].Dir)
	assert.Equal(t, uint64(1), entries[0].Seq)
	assert.Equal(t, uint64(2), entries[1].Seq)
}

func TestRingWraps(t *testing.T) {
	l := New(4)
	for i := 0; i < 10; i++ {
		l.Add(TX, []byte{byte(i)}, "", xid.ID{})
	}

	entries := l.Snapshot()
	require.Len(t, entries, 4)
	// oldest surviving entry first
	assert.Equal(t, byte(6), entries[0].Raw[0])
	assert.Equal(t, byte(9), entries[3].Raw[0])
	assert.Equal(t, 4, l.Len())
}

func TestDisableStopsCapture(t *testing.T) {
	l := New(4)
	l.Enable(false)
	l.Add(TX, []byte{1}, "", xid.ID{})
	assert.Zero(t, l.Len())

	l.Enable(true)
	l.Add(TX, []byte{1}, "", xid.ID{})
	assert.Equal(t, 1, l.Len())
}

func TestAddCopiesRaw(t *testing.T) {
	l := New(4)
	buf := []byte{0xAA}
	l.Add(RX, buf, "", xid.ID{})
	buf[0] = 0x00

	assert.Equal(t, byte(0xAA), l.Snapshot()[0].Raw[0])
}

func TestDump(t *testing.T) {
	l := New(8)
	id := xid.New()
	l.Add(TX, []byte{0x80, 0x02, 0x00, 0x7E}, "cmd addr=0 get-param", id)
	l.Add(RX, []byte{0xC0, 0x42}, "bad checksum", xid.ID{})

	path := filepath.Join(t.TempDir(), "trace.txt")
	require.NoError(t, l.Dump(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, "TX 80 02 00 7e")
	assert.Contains(t, text, "bad checksum")
	assert.Contains(t, text, "cmd="+id.String())
	assert.True(t, strings.HasPrefix(text, "# frame trace"))
}
