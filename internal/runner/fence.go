// Package runner drives a persona through its tasks against a live session.
package runner

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrStaleExecution is returned once a newer execution has taken over the run.
var ErrStaleExecution = errors.New("runner: execution superseded")

// Token identifies one execution of one run.
type Token struct {
	RunID  string
	ExecID string
}

type gate struct {
	mu     sync.Mutex
	active string
}

// Fence tracks the active execution per run. Writes made through Guard are
// serialised with Begin, so no stale write can land after a new execution starts.
type Fence struct {
	mu    sync.Mutex
	gates map[string]*gate
}

// NewFence creates an empty fence.
func NewFence() *Fence {
	return &Fence{gates: make(map[string]*gate)}
}

func (f *Fence) gate(runID string) *gate {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gates[runID]
	if !ok {
		g = &gate{}
		f.gates[runID] = g
	}
	return g
}

// Begin starts a new execution for runID, invalidating any previous one.
func (f *Fence) Begin(runID string) Token {
	g := f.gate(runID)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = "exec_" + uuid.New().String()[:8]
	return Token{RunID: runID, ExecID: g.active}
}

// Valid reports whether tok is still the active execution.
func (f *Fence) Valid(tok Token) bool {
	g := f.gate(tok.RunID)
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active == tok.ExecID
}

// Check returns ErrStaleExecution when tok is no longer active.
func (f *Fence) Check(tok Token) error {
	if !f.Valid(tok) {
		return ErrStaleExecution
	}
	return nil
}

// Guard runs fn only while tok is active, holding the run's gate for its duration.
func (f *Fence) Guard(tok Token, fn func() error) error {
	g := f.gate(tok.RunID)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active != tok.ExecID {
		return ErrStaleExecution
	}
	return fn()
}

// Invalidate stops whichever execution is active for runID.
func (f *Fence) Invalidate(runID string) {
	g := f.gate(runID)
	g.mu.Lock()
	g.active = ""
	g.mu.Unlock()
}

// Active returns the active execution id for runID, or "".
func (f *Fence) Active(runID string) string {
	g := f.gate(runID)
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Release clears tok's run if tok is still the active execution.
func (f *Fence) Release(tok Token) {
	g := f.gate(tok.RunID)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == tok.ExecID {
		g.active = ""
	}
}
