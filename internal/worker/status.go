package worker

import (
	"sync"
	"time"
)

// Status is the worker's runtime state surfaced on /health. The worker
// writes after each cycle; handlers read concurrently.
type Status struct {
	mu         sync.Mutex
	iterations uint64
	lastCycle  time.Time
}

// NewStatus returns a zeroed status.
func NewStatus() *Status {
	return &Status{}
}

// RecordCycle notes one completed worker cycle.
func (s *Status) RecordCycle(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations++
	s.lastCycle = at
}

// Snapshot is a point-in-time copy of the worker state. LastCycle is zero
// until the first cycle completes.
type Snapshot struct {
	Iterations uint64
	LastCycle  time.Time
}

// Snapshot returns the current worker state.
func (s *Status) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Iterations: s.iterations, LastCycle: s.lastCycle}
}
