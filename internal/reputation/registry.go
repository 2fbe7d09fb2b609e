// Package reputation tracks public contributors by source address and
// decides whether their submissions are admitted.
package reputation

import (
	"sync"
)

// Status is the admission state of a source address.
type Status string

const (
	// StatusProbation is the initial state of every new address.
	StatusProbation Status = "probation"
	// StatusTrusted is reserved for future promotion policy; it is never
	// assigned automatically and admission treats it like probation.
	StatusTrusted Status = "trusted"
	// StatusBanned is terminal for the process lifetime.
	StatusBanned Status = "banned"
)

// BanThreshold is the failure count beyond which an address is banned.
const BanThreshold = 5

// Actor is the recorded history of one source address.
type Actor struct {
	Successes uint32 `json:"successes"`
	Failures  uint32 `json:"failures"`
	Status    Status `json:"status"`
}

// Registry is a coarse-locked map of source address to actor history.
// Entries are created lazily on first sight and live until process exit.
type Registry struct {
	mu     sync.Mutex
	actors map[string]*Actor
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{actors: make(map[string]*Actor)}
}

// Admit looks up the address, creating a probationary entry on first
// sight. ok is false iff the address is banned.
func (r *Registry) Admit(addr string) (Actor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	actor := r.lookup(addr)
	return *actor, actor.Status != StatusBanned
}

// RecordSuccess counts one accepted submission for the address.
func (r *Registry) RecordSuccess(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookup(addr).Successes++
}

// RecordFailure counts one rejected submission and reports whether this
// failure crossed the ban threshold. Bans never lift within a process.
func (r *Registry) RecordFailure(addr string) (newlyBanned bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	actor := r.lookup(addr)
	actor.Failures++
	if actor.Status != StatusBanned && actor.Failures > BanThreshold {
		actor.Status = StatusBanned
		return true
	}
	return false
}

// Get returns a copy of the actor for the address, if one exists.
func (r *Registry) Get(addr string) (Actor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	actor, ok := r.actors[addr]
	if !ok {
		return Actor{}, false
	}
	return *actor, true
}

// Snapshot copies the whole registry, for health reporting and tests.
func (r *Registry) Snapshot() map[string]Actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Actor, len(r.actors))
	for addr, actor := range r.actors {
		out[addr] = *actor
	}
	return out
}

// lookup returns the live entry for addr, creating it if needed.
// Callers must hold the lock.
func (r *Registry) lookup(addr string) *Actor {
	actor, ok := r.actors[addr]
	if !ok {
		actor = &Actor{Status: StatusProbation}
		r.actors[addr] = actor
	}
	return actor
}
