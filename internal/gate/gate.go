// Package gate serialises reconciliation passes per category and drops
// passes whose input has not changed since the last applied one.
package gate

import (
	"sync"

	"safemap/core-go/internal/fingerprint"
)

type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Decision is the result of Admit.
type Decision int

const (
	Admitted Decision = iota
	Busy
	Unchanged
)

func (d Decision) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case Busy:
		return "busy"
	default:
		return "unchanged"
	}
}

type slot struct {
	state   State
	applied fingerprint.Fingerprint
}

// Gate tracks an Idle/Running flag and the last applied fingerprint for each
// category. There is no Running -> Running transition: an update arriving
// while a pass runs is skipped, and the next differing update is picked up.
type Gate struct {
	mu    sync.Mutex
	slots map[string]*slot
}

func New() *Gate {
	return &Gate{slots: make(map[string]*slot)}
}

func (g *Gate) slot(category string) *slot {
	s, ok := g.slots[category]
	if !ok {
		s = &slot{}
		g.slots[category] = s
	}
	return s
}

// ShouldRun reports whether a pass with fp would be admitted right now.
func (g *Gate) ShouldRun(category string, fp fingerprint.Fingerprint) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.slot(category)
	return s.state == Idle && s.applied != fp
}

// Begin moves category to Running. It returns false if a pass is already
// running.
func (g *Gate) Begin(category string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.slot(category)
	if s.state == Running {
		return false
	}
	s.state = Running
	return true
}

// End returns category to Idle. Call it with defer so that a pass that fails
// part way never wedges the gate.
func (g *Gate) End(category string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.slot(category).state = Idle
}

// Admit combines ShouldRun and Begin atomically.
func (g *Gate) Admit(category string, fp fingerprint.Fingerprint) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.slot(category)
	if s.state == Running {
		return Busy
	}
	if fp != fingerprint.None && s.applied == fp {
		return Unchanged
	}
	s.state = Running
	return Admitted
}

// Commit records fp as the last applied fingerprint for category.
func (g *Gate) Commit(category string, fp fingerprint.Fingerprint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.slot(category).applied = fp
}

// Forget clears the last applied fingerprint so the next pass always runs.
func (g *Gate) Forget(category string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.slot(category).applied = fingerprint.None
}

func (g *Gate) Applied(category string) fingerprint.Fingerprint {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.slot(category).applied
}

func (g *Gate) State(category string) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.slot(category).state
}
