package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonlink/axonlink/pkg/multiaddr"
)

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "text", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Info("network online", KeyNet, 0, KeyBaud, 115200)

	line := buf.String()
	assert.Contains(t, line, "[INFO] network online")
	assert.Contains(t, line, "net=0")
	assert.Contains(t, line, "baud=115200")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Warn("checksum damage", KeyNet, 1, KeyOctets, 34)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "checksum damage", rec["msg"])
	assert.Equal(t, float64(1), rec["net"])
	assert.Equal(t, float64(34), rec["octets"])
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Debug("dropped")
	Info("dropped too")
	Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestFieldConstructors(t *testing.T) {
	a := Addr(multiaddr.New(1, 3))
	assert.Equal(t, KeyAddr, a.Key)
	assert.Equal(t, "1:3", a.Value.String())

	assert.Equal(t, "attn_bits", AttnBits(0x40).Key)
	assert.Equal(t, "0x00000040", AttnBits(0x40).Value.String())
}
