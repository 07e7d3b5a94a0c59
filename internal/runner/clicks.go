package runner

import (
	"bytes"
	"time"
)

// ClickEntry is one executed click and the screenshot taken just before it.
type ClickEntry struct {
	X          int
	Y          int
	At         time.Time
	Screenshot []byte
}

// LoopConfig tunes click-loop detection.
type LoopConfig struct {
	Tolerance int
	Window    time.Duration
	Threshold int
	Size      int
}

// LoopVerdict is the outcome of checking a click against the history.
type LoopVerdict struct {
	Loop    bool
	Matches int
}

// ClickHistory is a bounded ring of recent clicks used to spot dead coordinates.
type ClickHistory struct {
	cfg     LoopConfig
	entries []ClickEntry
	next    int
	full    bool
}

// NewClickHistory creates an empty history.
func NewClickHistory(cfg LoopConfig) *ClickHistory {
	if cfg.Size <= 0 {
		cfg.Size = 10
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	return &ClickHistory{cfg: cfg, entries: make([]ClickEntry, cfg.Size)}
}

// Record appends an executed click, evicting the oldest when full.
func (h *ClickHistory) Record(e ClickEntry) {
	h.entries[h.next] = e
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
}

// Len returns the number of entries held.
func (h *ClickHistory) Len() int {
	if h.full {
		return len(h.entries)
	}
	return h.next
}

// Entries returns the held entries, oldest first.
func (h *ClickHistory) Entries() []ClickEntry {
	if !h.full {
		return append([]ClickEntry(nil), h.entries[:h.next]...)
	}
	out := make([]ClickEntry, 0, len(h.entries))
	out = append(out, h.entries[h.next:]...)
	return append(out, h.entries[:h.next]...)
}

// Check decides whether a click at (x, y) would repeat a dead click. It is a loop
// when at least Threshold-1 recent clicks landed within Tolerance pixels and the
// screenshot before the most recent of them equals the current one.
func (h *ClickHistory) Check(x, y int, now time.Time, screenshot []byte) LoopVerdict {
	var v LoopVerdict
	var latest *ClickEntry
	entries := h.Entries()
	for i := range entries {
		e := &entries[i]
		if abs(e.X-x) > h.cfg.Tolerance || abs(e.Y-y) > h.cfg.Tolerance {
			continue
		}
		if h.cfg.Window > 0 && now.Sub(e.At) > h.cfg.Window {
			continue
		}
		v.Matches++
		latest = e
	}
	if latest != nil && v.Matches >= h.cfg.Threshold-1 && bytes.Equal(latest.Screenshot, screenshot) {
		v.Loop = true
	}
	return v
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
