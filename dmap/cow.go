package dmap

import (
	"sync"

	"github.com/knsymex/knsymex/node"
)

type txDestKey struct {
	sender uint64
	dest   node.ID
}

// CoW1 implements the naive Copy-on-Write mapper (spec.md §4.E.2): DState
// slots are left shared across scenarios until a Map call actually finds
// more than one rival at the destination, at which point the whole
// DScenario is cloned once per extra rival so every sender ends up paired
// with exactly one dest peer. This is the expensive variant — every other
// slot is forked along with the one that mattered.
type CoW1 struct {
	mu        sync.Mutex
	scenarios map[uint64]*Scenario
	byState   map[StateRef]*Scenario
	targets   map[txDestKey]StateRef
	fork      Forker
	nextID    uint64
}

func NewCoW1(fork Forker) *CoW1 {
	return &CoW1{
		scenarios: make(map[uint64]*Scenario),
		byState:   make(map[StateRef]*Scenario),
		targets:   make(map[txDestKey]StateRef),
		fork:      fork,
	}
}

func (m *CoW1) Kind() string { return "cow1" }

func (m *CoW1) SupportsPhonyPackets() bool { return false }

func (m *CoW1) Attach(ref StateRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := newScenario(m.nextID)
	m.nextID++
	sc.add(ref.Node(), ref)
	m.scenarios[sc.id] = sc
	m.byState[ref] = sc
}

func (m *CoW1) Map(sender StateRef, dest node.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.byState[sender]
	if sc == nil {
		return &ErrNotAdmissible{Reason: "sender not attached"}
	}
	rivals := sc.members(dest)
	if err := checkAdmissible(sender.Node(), dest, len(rivals) > 0); err != nil {
		return err
	}
	if len(rivals) == 1 {
		m.targets[txDestKey{sender.ID(), dest}] = rivals[0]
		return nil
	}

	// More than one rival: sender keeps rivals[0], and for every other
	// rival a whole clone of the scenario is built, sender included, so
	// each clone's sender copy has exactly that rival at dest.
	keep := rivals[0]
	for _, r := range rivals[1:] {
		sc.remove(dest, r)
	}
	m.targets[txDestKey{sender.ID(), dest}] = keep

	for _, r := range rivals[1:] {
		clone := newScenario(m.nextID)
		m.nextID++
		senderClone := m.fork(sender)
		m.byState[senderClone] = clone
		for _, n := range sc.nodes() {
			if n == dest {
				continue
			}
			for _, ref := range sc.members(n) {
				var peer StateRef
				if ref == sender {
					peer = senderClone
				} else {
					peer = m.fork(ref)
					m.byState[peer] = clone
				}
				clone.add(n, peer)
			}
		}
		clone.add(dest, r)
		m.byState[r] = clone
		m.scenarios[clone.id] = clone
		m.targets[txDestKey{senderClone.ID(), dest}] = r
		recordFork("cow1", "rival-split")
	}
	return nil
}

func (m *CoW1) PhonyMap(senders []StateRef, dest node.ID) error {
	for _, s := range senders {
		if err := m.Map(s, dest); err != nil {
			return err
		}
	}
	return nil
}

func (m *CoW1) FindTargets(sender StateRef, dest node.ID) []StateRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.targets[txDestKey{sender.ID(), dest}]; ok {
		return []StateRef{t}
	}
	sc := m.byState[sender]
	if sc == nil {
		return nil
	}
	return sc.members(dest)
}

func (m *CoW1) Remove(ref StateRef) {
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

func (m *CoW1) Explode(ref StateRef, nodes []node.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.byState[ref]
	if sc == nil {
		return &ErrNotAdmissible{Reason: "not attached"}
	}
	for _, n := range nodes {
		members := sc.members(n)
		if len(members) == 0 {
			child := m.fork(ref)
			sc.add(n, child)
			m.byState[child] = sc
			recordFork("cow1", "explode-populate")
			continue
		}
		if len(members) > 1 {
			keep := members[0]
			for _, other := range members[1:] {
				sc.remove(n, other)
			}
			_ = keep
		}
	}
	return nil
}

// Fork is a no-op for CoW1: members only split reactively, inside Map.
func (m *CoW1) Fork(parent, child StateRef) {}

// CoW2 implements the minimal-split Copy-on-Write mapper (spec.md §4.E.3):
// where CoW1 clones the entire DScenario per extra rival, CoW2 stops at the
// first rival (lowest state ID) and moves only the sender/dest pair into a
// thin two-slot scenario; every other slot stays in the original scenario
// only and is neither copied nor forked into the new one. It trades the stronger per-scenario partition invariant for a
// much cheaper split — the right call when rivals are rare and dest-bound
// payloads rarely depend on more than a couple of other nodes' state.
type CoW2 struct {
	mu        sync.Mutex
	scenarios map[uint64]*Scenario
	byState   map[StateRef]*Scenario
	targets   map[txDestKey]StateRef
	fork      Forker
	nextID    uint64
}

func NewCoW2(fork Forker) *CoW2 {
	return &CoW2{
		scenarios: make(map[uint64]*Scenario),
		byState:   make(map[StateRef]*Scenario),
		targets:   make(map[txDestKey]StateRef),
		fork:      fork,
	}
}

func (m *CoW2) Kind() string { return "cow2" }

func (m *CoW2) SupportsPhonyPackets() bool { return false }

func (m *CoW2) Attach(ref StateRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := newScenario(m.nextID)
	m.nextID++
	sc.add(ref.Node(), ref)
	m.scenarios[sc.id] = sc
	m.byState[ref] = sc
}

func (m *CoW2) Map(sender StateRef, dest node.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.byState[sender]
	if sc == nil {
		return &ErrNotAdmissible{Reason: "sender not attached"}
	}
	rivals := sc.members(dest)
	if err := checkAdmissible(sender.Node(), dest, len(rivals) > 0); err != nil {
		return err
	}
	if len(rivals) == 1 {
		m.targets[txDestKey{sender.ID(), dest}] = rivals[0]
		return nil
	}

	chosen := rivals[0]
	clone := newScenario(m.nextID)
	m.nextID++
	clone.add(sender.Node(), sender)
	clone.add(dest, chosen)
	sc.remove(dest, chosen)
	sc.remove(sender.Node(), sender)
	m.byState[sender] = clone
	m.byState[chosen] = clone
	m.scenarios[clone.id] = clone
	m.targets[txDestKey{sender.ID(), dest}] = chosen
	recordFork("cow2", "minimal-split")
	return nil
}

func (m *CoW2) PhonyMap(senders []StateRef, dest node.ID) error {
	for _, s := range senders {
		if err := m.Map(s, dest); err != nil {
			return err
		}
	}
	return nil
}

func (m *CoW2) FindTargets(sender StateRef, dest node.ID) []StateRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.targets[txDestKey{sender.ID(), dest}]; ok {
		return []StateRef{t}
	}
	sc := m.byState[sender]
	if sc == nil {
		return nil
	}
	return sc.members(dest)
}

func (m *CoW2) Remove(ref StateRef) {
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

func (m *CoW2) Explode(ref StateRef, nodes []node.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.byState[ref]
	if sc == nil {
		return &ErrNotAdmissible{Reason: "not attached"}
	}
	for _, n := range nodes {
		members := sc.members(n)
		if len(members) == 0 {
			child := m.fork(ref)
			sc.add(n, child)
			m.byState[child] = sc
			recordFork("cow2", "explode-populate")
			continue
		}
		if len(members) > 1 {
			for _, other := range members[1:] {
				sc.remove(n, other)
			}
		}
	}
	return nil
}

func (m *CoW2) Fork(parent, child StateRef) {}

var (
	_ Mapper       = (*CoW1)(nil)
	_ PhonyCapable = (*CoW1)(nil)
	_ Mapper       = (*CoW2)(nil)
	_ PhonyCapable = (*CoW2)(nil)
)
