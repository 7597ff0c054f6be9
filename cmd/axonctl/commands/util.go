package commands

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/axonlink/axonlink/internal/protocol/link"
	"github.com/axonlink/axonlink/pkg/config"
)

// toLinkConfig maps the file-level link section onto the engine config.
func toLinkConfig(cfg *config.Config) link.Config {
	out := link.DefaultConfig()
	lc := cfg.LinkOf()
	out.QueueLimit = lc.QueueLimit
	out.ReadDeadline = lc.ReadDeadline
	out.MotionDeadline = lc.MotionDeadline
	out.StopDeadline = lc.StopDeadline
	out.PollInterval = lc.PollInterval
	out.AutoDiscovery = lc.AutoDiscovery
	out.TraceCapacity = lc.TraceCapacity
	return out
}

// parseHexBytes parses "11 22 33", "112233", or "11:22:33" into bytes.
func parseHexBytes(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(s)
	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("odd hex digit count in %q", s)
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("bad hex value %q: %w", s, err)
	}
	return b, nil
}
