package dmap

import (
	"sync"

	"github.com/knsymex/knsymex/node"
)

// CoB implements Copy-on-Branch (spec.md §4.E.1): every DScenario is kept
// isomorphic across all its member nodes by forking every peer the instant
// any one member forks. Map itself is then a cheap admissibility check —
// the peer a sender needs at dest already exists, because it was created in
// lock-step back when the sender's own twin was created.
type CoB struct {
	mu        sync.Mutex
	scenarios map[uint64]*Scenario
	byState   map[StateRef]*Scenario
	fork      Forker
	nextID    uint64
}

func NewCoB(fork Forker) *CoB {
	return &CoB{
		scenarios: make(map[uint64]*Scenario),
		byState:   make(map[StateRef]*Scenario),
		fork:      fork,
	}
}

func (m *CoB) Kind() string { return "cob" }

func (m *CoB) SupportsPhonyPackets() bool { return true }

func (m *CoB) Attach(ref StateRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := newScenario(m.nextID)
	m.nextID++
	sc.add(ref.Node(), ref)
	m.scenarios[sc.id] = sc
	m.byState[ref] = sc
}

func (m *CoB) Map(sender StateRef, dest node.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.byState[sender]
	if sc == nil {
		return &ErrNotAdmissible{Reason: "sender not attached"}
	}
	return checkAdmissible(sender.Node(), dest, len(sc.members(dest)) > 0)
}

func (m *CoB) PhonyMap(senders []StateRef, dest node.ID) error {
	for _, s := range senders {
		if err := m.Map(s, dest); err != nil {
			return err
		}
	}
	return nil
}

func (m *CoB) FindTargets(sender StateRef, dest node.ID) []StateRef {
	m.mu.Lock()
	sc := m.byState[sender]
	m.mu.Unlock()
	if sc == nil {
		return nil
	}
	return sc.members(dest)
}

func (m *CoB) Remove(ref StateRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.byState[ref]
	if sc == nil {
		return
	}
	for _, n := range sc.nodes() {
		for _, r := range sc.members(n) {
			delete(m.byState, r)
		}
	}
	delete(m.scenarios, sc.id)
}

// Explode populates any node in nodes that ref's DScenario does not yet
// cover, by forking ref itself into each missing slot (CoB already
// guarantees at most one state per covered slot, so this is the whole job).
func (m *CoB) Explode(ref StateRef, nodes []node.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.byState[ref]
	if sc == nil {
		return &ErrNotAdmissible{Reason: "not attached"}
	}
	for _, n := range nodes {
		if len(sc.members(n)) > 0 {
			continue
		}
		child := m.fork(ref)
		sc.add(n, child)
		m.byState[child] = sc
		recordFork("cob", "explode-populate")
	}
	return nil
}

// Fork is CoB's defining behavior: the instant parent forks into child
// (independent of any Map call), every other member of parent's DScenario
// is forced to fork too, producing a whole new twin DScenario that shares
// no members with the original (spec.md §4.E.1).
func (m *CoB) Fork(parent, child StateRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.byState[parent]
	if sc == nil {
		return
	}
	twin := newScenario(m.nextID)
	m.nextID++
	for _, n := range sc.nodes() {
		for _, ref := range sc.members(n) {
			var peer StateRef
			if ref == parent {
				peer = child
			} else {
				peer = m.fork(ref)
				recordFork("cob", "peer-sync")
			}
			twin.add(n, peer)
			m.byState[peer] = twin
		}
	}
	m.scenarios[twin.id] = twin
}

var (
	_ Mapper       = (*CoB)(nil)
	_ PhonyCapable = (*CoB)(nil)
)
