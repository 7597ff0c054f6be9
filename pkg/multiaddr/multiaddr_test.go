package multiaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		net  int
		node int
	}{
		{"first node first net", 0, 0},
		{"last node first net", 0, 15},
		{"first node second net", 1, 0},
		{"mid node second net", 1, 7},
		{"high net index", 12, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.net, tt.node)
			assert.Equal(t, tt.net, a.Net())
			assert.Equal(t, tt.node, a.Node())
			assert.False(t, a.IsUnknown())
		})
	}
}

func TestUnknown(t *testing.T) {
	assert.True(t, Unknown.IsUnknown())
	assert.Equal(t, "unknown", Unknown.String())
}

func TestString(t *testing.T) {
	assert.Equal(t, "1:7", New(1, 7).String())
	assert.Equal(t, "0:0", New(0, 0).String())
}
