package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, 8, cfg.Link.QueueLimit)
	assert.Equal(t, 100*time.Millisecond, cfg.Link.ReadDeadline)
	assert.True(t, cfg.Link.AutoDiscovery)
	assert.Empty(t, cfg.Controllers)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
logging:
  level: DEBUG
  format: json
  output: stderr
controllers:
  - port: /dev/ttyXR0
    rate: 115200
  - port: /dev/ttyXR1
link:
  queue_limit: 4
  read_deadline: 250ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	require.Len(t, cfg.Controllers, 2)
	assert.Equal(t, "/dev/ttyXR0", cfg.Controllers[0].Port)
	assert.Equal(t, 115200, cfg.Controllers[0].Rate)
	assert.Equal(t, 4, cfg.Link.QueueLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Link.ReadDeadline)
	// unset fields keep defaults
	assert.Equal(t, time.Second, cfg.Link.MotionDeadline)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad log level", "logging:\n  level: CHATTY\n  format: text\n  output: stderr\n"},
		{"bad rate", "controllers:\n  - port: /dev/ttyXR0\n    rate: 57600\n"},
		{"queue limit too big", "link:\n  queue_limit: 64\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("AXONLINK_LOGGING_LEVEL", "ERROR")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.Logging.Level)
}

func TestWriteSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	require.NoError(t, WriteSample(path, false))

	// the sample loads back cleanly
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.Logging.Level)

	// refuses to clobber without force
	assert.Error(t, WriteSample(path, false))
	assert.NoError(t, WriteSample(path, true))
}

func TestFromMap(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"logging": map[string]any{"level": "DEBUG"},
		"link":    map[string]any{"read_deadline": "250ms"},
	})
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.Link.ReadDeadline)
	// untouched sections keep their defaults
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLinkOfFillsGaps(t *testing.T) {
	cfg := &Config{Link: LinkConfig{QueueLimit: 2}}
	out := cfg.LinkOf()
	assert.Equal(t, 2, out.QueueLimit)
	assert.Equal(t, time.Second, out.MotionDeadline)
	assert.Equal(t, 4096, out.TraceCapacity)
}
