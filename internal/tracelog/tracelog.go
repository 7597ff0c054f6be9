// Package tracelog keeps a bounded ring of every frame moved over a
// network, for post-mortem dumps. Capture can be toggled at run time; the
// writer path never blocks on a consumer.
package tracelog

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Direction of a captured frame.
type Direction uint8

const (
	TX Direction = iota
	RX
)

func (d Direction) String() string {
	if d == TX {
		return "TX"
	}
	return "RX"
}

// Entry is one captured frame.
type Entry struct {
	Seq  uint64
	When time.Time
	Dir  Direction
	Raw  []byte
	Note string // decoded summary or damage annotation

	// CmdID correlates a transmitted command with its completion record.
	// Zero for unsolicited traffic.
	CmdID xid.ID
}

// DefaultCapacity is the ring depth when none is configured.
const DefaultCapacity = 4096

// Log is a per-network trace ring.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	seq     uint64
	enabled bool
}

// New returns a Log with the given capacity; capacity <= 0 selects the
// default. Capture starts enabled.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		entries: make([]Entry, capacity),
		enabled: true,
	}
}

// Enable toggles capture. Disabling does not clear captured entries.
func (l *Log) Enable(on bool) {
	l.mu.Lock()
	l.enabled = on
	l.mu.Unlock()
}

// Enabled reports whether capture is on.
func (l *Log) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Add records one frame. The raw octets are copied; callers may reuse the
// buffer immediately.
func (l *Log) Add(dir Direction, raw []byte, note string, cmdID xid.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return
	}
	l.seq++
	l.entries[l.next] = Entry{
		Seq:   l.seq,
		When:  time.Now(),
		Dir:   dir,
		Raw:   append([]byte(nil), raw...),
		Note:  note,
		CmdID: cmdID,
	}
	l.next++
	if l.next == len(l.entries) {
		l.next = 0
		l.full = true
	}
}

// Snapshot returns the captured entries oldest first.
func (l *Log) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Entry
	if l.full {
		out = make([]Entry, 0, len(l.entries))
		out = append(out, l.entries[l.next:]...)
		out = append(out, l.entries[:l.next]...)
	} else {
		out = append(out, l.entries[:l.next]...)
	}
	return out
}

// Len returns the number of captured entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.entries)
	}
	return l.next
}

// Clear drops all captured entries.
func (l *Log) Clear() {
	l.mu.Lock()
	l.next = 0
	l.full = false
	l.mu.Unlock()
}

// Dump writes the ring to path as an annotated hex log. The file is
// self-contained UTF-8 text; one line per frame.
func (l *Log) Dump(path string) error {
	entries := l.Snapshot()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("tracelog: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "# frame trace, %d entries, written %s\n",
		len(entries), time.Now().Format(time.RFC3339))
	for _, e := range entries {
		fmt.Fprintf(w, "%8d %s.%06d %s % x",
			e.Seq,
			e.When.Format("15:04:05"),
			e.When.Nanosecond()/1000,
			e.Dir,
			e.Raw,
		)
		if e.Note != "" {
			fmt.Fprintf(w, "  ; %s", e.Note)
		}
		if !e.CmdID.IsNil() {
			fmt.Fprintf(w, "  cmd=%s", e.CmdID)
		}
		fmt.Fprintln(w)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("tracelog: write %s: %w", path, err)
	}
	return nil
}
