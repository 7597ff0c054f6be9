package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, IsEnabled())
	assert.NoError(t, shutdown(context.Background()))

	// spans still work as no-ops
	ctx, span := StartCommandSpan(context.Background(), 0, 3, 0)
	assert.NotNil(t, ctx)
	span.End()
}

func TestInitProfilingDisabled(t *testing.T) {
	shutdown, err := InitProfiling(ProfilingConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown())
}

func TestRecordErrorNilSafe(t *testing.T) {
	RecordError(context.Background(), nil)
}
