package runner

import "sync"

// runningCap is the highest progress shown before a terminal action.
const runningCap = 99

// Progress is a monotonic percentage that stays below 100 until Complete.
type Progress struct {
	mu    sync.Mutex
	value int
	done  bool
}

// NewProgress starts at start, clamped to the running range.
func NewProgress(start int) *Progress {
	p := &Progress{}
	p.Raise(start)
	return p
}

// Advance adds step and returns the new value.
func (p *Progress) Advance(step int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.done && step > 0 {
		p.value += step
		if p.value > runningCap {
			p.value = runningCap
		}
	}
	return p.value
}

// Raise lifts the value to v if it is higher. It never lowers it.
func (p *Progress) Raise(v int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.done {
		if v > runningCap {
			v = runningCap
		}
		if v > p.value {
			p.value = v
		}
	}
	return p.value
}

// Complete pins the value at 100.
func (p *Progress) Complete() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = true
	p.value = 100
	return p.value
}

// Value returns the current percentage.
func (p *Progress) Value() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}
