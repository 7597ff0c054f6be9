package buserr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonlink/axonlink/pkg/multiaddr"
)

func TestErrorString(t *testing.T) {
	err := New(multiaddr.New(0, 3), CommandTimeout)
	assert.Equal(t, "0:3: command response timed out", err.Error())
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("EIO")
	err := Wrap(multiaddr.Unknown, ReadFailed, cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ReadFailed, CodeOf(err))

	wrapped := fmt.Errorf("bring-up: %w", err)
	assert.Equal(t, ReadFailed, CodeOf(wrapped))
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(multiaddr.New(0, 1), MotionBlocked)
	b := New(multiaddr.New(1, 5), MotionBlocked)
	assert.ErrorIs(t, a, b)
	assert.NotErrorIs(t, a, New(multiaddr.New(0, 1), EStopped))
}

func TestWithCommandTruncates(t *testing.T) {
	cmd := make([]byte, 30)
	err := New(multiaddr.New(0, 0), IllegalArgs).WithCommand(cmd)
	require.Len(t, err.Cmd, 18)
}

func TestFromWire(t *testing.T) {
	tests := []struct {
		name  string
		class int
		code  int
		want  Code
	}{
		{"net checksum", 0, 1, BadChecksum},
		{"net babble", 0, 6, Babble},
		{"cmd unknown", 1, 1, CommandUnknown},
		{"cmd estopped", 1, 8, EStopped},
		{"cmd in motion", 1, 16, InMotion},
		{"unknown class", 3, 2, CommandInternal},
		{"unknown code", 1, 31, CommandInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			word := uint16(tt.code) | uint16(tt.class)<<5
			assert.Equal(t, tt.want, FromWire(word))
		})
	}
}

func TestFamilies(t *testing.T) {
	assert.True(t, BadChecksum.IsFraming())
	assert.False(t, CommandTimeout.IsFraming())
	assert.True(t, MotionBlocked.IsMotion())
	assert.False(t, CommAborted.IsMotion())
}
