// Package dmap implements the state mapper (spec.md §4.E), the hard part of
// this core: it maintains DScenarios (per-node-consistent sets of states)
// and performs the mapping operation that, on packet transmission, decides
// which receiver states must fork to keep exploration sound and complete.
//
// Four algorithms are offered, one Mapper implementation each: CoB, CoW1,
// CoW2, and Super (with optional clustering). All four share the
// admissibility check defined here; CoB, CoW1 and CoW2 also share the
// Scenario bookkeeping type, while Super keeps its own SuperScenario.
package dmap

import (
	"fmt"
	"sort"
	"sync"

	"github.com/knsymex/knsymex/knstats"
	"github.com/knsymex/knsymex/node"
)

// Forker is the engine-level state-fork primitive this package consumes
// (spec.md §1's "state-fork primitive"); kept as a narrow function type
// rather than pulling in the whole engine.State interface so mappers don't
// need to know how a fork attaches dsym/configuration records — that is the
// caller's (runenv's) job, done via onFork below.
type Forker func(parent StateRef) StateRef

// StateRef is the minimal per-state identity this package needs: enough to
// put a state in exactly one map key and to know its node affiliation.
// A real StateRef wraps engine.State; tests use a trivial implementation.
type StateRef interface {
	ID() uint64
	Node() node.ID
}

// Scenario is the DState + DScenario pair for CoB/CoW1/CoW2 (spec.md §3):
// an N-slot table where slot i holds the set of member states at node i.
// (Super uses a different representation, SuperScenario, since its slots
// hold VStates rather than states — see super.go.)
type Scenario struct {
	mu    sync.Mutex
	id    uint64
	slots map[node.ID]map[StateRef]bool
}

func newScenario(id uint64) *Scenario {
	return &Scenario{id: id, slots: make(map[node.ID]map[StateRef]bool)}
}

func (s *Scenario) ID() uint64 { return s.id }

func (s *Scenario) add(n node.ID, ref StateRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slots[n] == nil {
		s.slots[n] = make(map[StateRef]bool)
	}
	s.slots[n][ref] = true
}

func (s *Scenario) remove(n node.ID, ref StateRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots[n], ref)
	if len(s.slots[n]) == 0 {
		delete(s.slots, n)
	}
}

func (s *Scenario) members(n node.ID) []StateRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StateRef, 0, len(s.slots[n]))
	for ref := range s.slots[n] {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (s *Scenario) nodes() []node.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]node.ID, 0, len(s.slots))
	for n := range s.slots {
		out = append(out, n)
	}
	return out
}

// Mapper is the contract spec.md §4.E describes: ensure a unique receiver
// per (sender, destination), enumerate receivers after Map ran, remove a
// whole DScenario, and force exactly-one-peer-per-node (Explode). Whole-
// cluster termination is not part of this interface; package term builds
// it on top of these methods.
type Mapper interface {
	// Attach registers a freshly created state at its node, in a brand new
	// singleton DScenario (used for boot-phase states and as the target of
	// Fork below).
	Attach(ref StateRef)

	// Map ensures every receiver at dest in sender's DScenario is uniquely
	// identifiable. Admissibility (spec.md §4.E) is checked first.
	Map(sender StateRef, dest node.ID) error

	// PhonyMap is the bulk form: semantically ∀s∈senders. Map(s,dest), but
	// may exploit same-DScenario batching.
	PhonyMap(senders []StateRef, dest node.ID) error

	// FindTargets enumerates dest-node receivers for sender, after a Map.
	FindTargets(sender StateRef, dest node.ID) []StateRef

	// Remove deletes the entire DScenario of ref from the mapper.
	Remove(ref StateRef)

	// Explode guarantees ref's DScenario has exactly one state per node in
	// nodes (spec.md §4.E.5).
	Explode(ref StateRef, nodes []node.ID) error

	// Fork notifies the mapper that parent was engine-forked into child
	// independent of any Map call (CoB's proactive peer-forking hook;
	// a no-op for the CoW/Super variants, which fork reactively inside Map).
	Fork(parent, child StateRef)

	// Kind identifies the algorithm, for metrics/logging.
	Kind() string
}

// PhonyCapable reports whether a mapper accepts phony (deferred) packets.
// All four mappers implement it: CoB and Super return true, CoW1/CoW2
// return false. Every PhonyMap implementation simply calls Map once per
// sender, in order.
type PhonyCapable interface {
	SupportsPhonyPackets() bool
}

// ErrNotAdmissible is returned by Map/PhonyMap when the admissibility check
// of spec.md §4.E fails (not an engine-level error — callers should treat
// this as "nothing to do", not a test-terminating error).
type ErrNotAdmissible struct{ Reason string }

func (e *ErrNotAdmissible) Error() string { return "mapping not admissible: " + e.Reason }

// checkAdmissible implements spec.md §4.E's admissibility predicate: sender
// has a mapping record (always true once Attach has run — callers must
// Attach before Map), sender's node and dest are both populated, and
// dest != sender's node (local delivery is a no-op).
func checkAdmissible(senderNode, destNode node.ID, destPopulated bool) error {
	if destNode == senderNode {
		return &ErrNotAdmissible{Reason: "local delivery is a no-op"}
	}
	if !destPopulated {
		return &ErrNotAdmissible{Reason: fmt.Sprintf("destination node %d is not populated", destNode)}
	}
	return nil
}

func recordFork(kind, reason string) {
	knstats.EngineForks.WithLabelValues(kind, reason).Inc()
}
