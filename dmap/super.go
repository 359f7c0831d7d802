package dmap

import (
	"sync"

	"github.com/knsymex/knsymex/node"
)

// VState is Super-DState's unit of account: a set of real states at one
// node considered equivalent until something (Map or Explode) forces them
// apart.
// Keeping several real states behind one VState is what lets Super avoid
// the fork storms CoB and CoW1/CoW2 are prone to under heavy fan-out.
type VState struct {
	id       uint64
	members  []StateRef
	exploded bool
}

func (v *VState) Members() []StateRef { return append([]StateRef(nil), v.members...) }

// SuperScenario is Super's DScenario: one VState per populated node.
type SuperScenario struct {
	mu    sync.Mutex
	id    uint64
	slots map[node.ID]*VState
}

func newSuperScenario(id uint64) *SuperScenario {
	return &SuperScenario{id: id, slots: make(map[node.ID]*VState)}
}

func (s *SuperScenario) nodes() []node.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]node.ID, 0, len(s.slots))
	for n := range s.slots {
		out = append(out, n)
	}
	return out
}

// Super implements the Super-DState mapper (spec.md §4.E.4): the default
// algorithm. Map splits the sender's own DState and any super-rivalled
// receiver inline (see Map below); Explode additionally tears a merged
// VState apart into one member per sibling scenario when a caller needs a
// concrete per-node state rather than the merged representative.
type Super struct {
	mu             sync.Mutex
	byState        map[StateRef]*SuperScenario
	fork           Forker
	nextScenarioID uint64
	nextVStateID   uint64
	clustering     bool
	clusters       *clusterIndex
}

// NewSuper builds a Super mapper. When clustering is true, every VState
// populated at a shared dest slot is folded into the same named cluster via
// a BFS-style union as Map calls discover the connection (spec.md §4.E.4's
// optional clustering extension).
func NewSuper(fork Forker, clustering bool) *Super {
	s := &Super{
		byState: make(map[StateRef]*SuperScenario),
		fork:    fork,
	}
	if clustering {
		s.clustering = true
		s.clusters = newClusterIndex()
	}
	return s
}

func (m *Super) Kind() string { return "super" }

func (m *Super) SupportsPhonyPackets() bool { return true }

func (m *Super) Attach(ref StateRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := newSuperScenario(m.nextScenarioID)
	m.nextScenarioID++
	vs := &VState{id: m.nextVStateID, members: []StateRef{ref}}
	m.nextVStateID++
	sc.slots[ref.Node()] = vs
	m.byState[ref] = sc
	if m.clustering {
		m.clusters.assign(vs)
	}
}

// Map performs spec.md §4.E.4's three-step algorithm inline, rather than
// deferring all forking to a separately invoked Explode: a transmission
// must leave its receiver uniquely identifiable by the time Map returns,
// and the only moment Map knows which dest this sender is actually
// targeting is right now.
func (m *Super) Map(sender StateRef, dest node.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.byState[sender]
	if sc == nil {
		return &ErrNotAdmissible{Reason: "sender not attached"}
	}

	sc.mu.Lock()
	senderVS := sc.slots[sender.Node()]
	destVS := sc.slots[dest]
	sc.mu.Unlock()

	if err := checkAdmissible(sender.Node(), dest, destVS != nil); err != nil {
		return err
	}

	// Step 1: if sender's own slot is still shared with rivals that never
	// actually transmitted together, split them apart first so this
	// transmission is evaluated against a scenario sender doesn't have to
	// share with states it has nothing to do with.
	if senderVS != nil && len(senderVS.members) > 1 {
		sc = m.splitSenderDState(sender, sc, senderVS)
		sc.mu.Lock()
		destVS = sc.slots[dest]
		sc.mu.Unlock()
	}

	// Steps 2-3: receiver super-rival detection and heir-slot duplication.
	// destVS's members are candidate receivers; any whose total VState
	// count (system-wide, at dest) exceeds how many of those VStates this
	// sender's own DStates actually reach must fork, so the targeted
	// subset and the untouched bystander subset stop sharing an identity.
	if destVS != nil {
		m.splitSuperRivals(sender, dest, destVS)
	}

	if m.clustering {
		sc.mu.Lock()
		senderVS = sc.slots[sender.Node()]
		destVS = sc.slots[dest]
		sc.mu.Unlock()
		if senderVS != nil {
			m.clusters.merge(senderVS, destVS)
		}
	}
	return nil
}

// splitSenderDState implements step 1: sender alone migrates into a freshly
// cloned scenario. Every other slot is duplicated by VState reference (no
// engine fork - a VState is cheap to share until something forces it
// apart), so the clone starts out knowing everything the original scenario
// already knew.
func (m *Super) splitSenderDState(sender StateRef, sc *SuperScenario, senderVS *VState) *SuperScenario {
	clone := newSuperScenario(m.nextScenarioID)
	m.nextScenarioID++

	sc.mu.Lock()
	newSenderVS := &VState{id: m.nextVStateID, members: []StateRef{sender}}
	m.nextVStateID++

	remaining := make([]StateRef, 0, len(senderVS.members)-1)
	for _, r := range senderVS.members {
		if r != sender {
			remaining = append(remaining, r)
		}
	}
	senderVS.members = remaining

	clone.slots[sender.Node()] = newSenderVS
	for n, vs := range sc.slots {
		if n == sender.Node() {
			continue
		}
		clone.slots[n] = vs
	}
	sc.mu.Unlock()

	m.byState[sender] = clone
	if m.clustering {
		m.clusters.assign(newSenderVS)
	}
	recordFork("super", "sender-dstate-split")
	return clone
}

// vstateHit pairs a VState with the scenario it was found in, since the
// same VState pointer can be reached through more than one scenario once
// splitSenderDState has duplicated a slot by reference.
type vstateHit struct {
	sc *SuperScenario
	vs *VState
}

// allScenarios returns every distinct scenario currently reachable from
// byState. A VState's membership isn't tracked by any separate index
// (tests routinely mutate .members directly, the same white-box way
// Explode's own tests already do), so super-rival detection has to scan
// rather than consult a cache.
func (m *Super) allScenarios() []*SuperScenario {
	seen := make(map[*SuperScenario]bool)
	out := make([]*SuperScenario, 0, len(m.byState))
	for _, sc := range m.byState {
		if !seen[sc] {
			seen[sc] = true
			out = append(out, sc)
		}
	}
	return out
}

// vstatesContaining finds every distinct VState, across every reachable
// scenario, whose slot at n holds a member identified by id. Multiplicity
// (spec.md §4.E.4 step 2) is exactly len() of this result.
func (m *Super) vstatesContaining(id uint64, n node.ID) []vstateHit {
	var out []vstateHit
	seen := make(map[*VState]bool)
	for _, sc := range m.allScenarios() {
		sc.mu.Lock()
		vs := sc.slots[n]
		sc.mu.Unlock()
		if vs == nil || seen[vs] {
			continue
		}
		for _, mem := range vs.members {
			if mem.ID() == id {
				seen[vs] = true
				out = append(out, vstateHit{sc: sc, vs: vs})
				break
			}
		}
	}
	return out
}

// splitSuperRivals implements spec.md §4.E.4 steps 2-3 for one dest slot.
// For every distinct receiver identity present in destVS, it computes
// input (how many of that receiver's VStates live in a scenario sender
// also occupies) against multiplicity (that receiver's total VState
// count at dest). A receiver with input < multiplicity is super-rivalled:
// it engine-forks once, and every bystander VState (the ones sender's own
// DStates never reach) has its member swapped for the fork, leaving the
// targeted subset holding the original identity.
func (m *Super) splitSuperRivals(sender StateRef, dest node.ID, destVS *VState) {
	senderHits := m.vstatesContaining(sender.ID(), sender.Node())
	senderScenarios := make(map[*SuperScenario]bool, len(senderHits))
	for _, h := range senderHits {
		senderScenarios[h.sc] = true
	}

	seenReceiver := make(map[uint64]bool)
	for _, recv := range destVS.members {
		id := recv.ID()
		if seenReceiver[id] {
			continue
		}
		seenReceiver[id] = true

		hits := m.vstatesContaining(id, dest)
		multiplicity := len(hits)
		if multiplicity <= 1 {
			continue
		}
		var bystanders []vstateHit
		input := 0
		for _, h := range hits {
			if senderScenarios[h.sc] {
				input++
			} else {
				bystanders = append(bystanders, h)
			}
		}
		if input >= multiplicity || len(bystanders) == 0 {
			continue
		}

		child := m.fork(recv)
		// byState only records one scenario per ref; when bystanders span
		// more than one scenario the fork's canonical home is the first,
		// same simplification CoW1 makes for its own multi-clone fan-out.
		m.byState[child] = bystanders[0].sc
		for _, h := range bystanders {
			h.sc.mu.Lock()
			for i, mem := range h.vs.members {
				if mem.ID() == id {
					h.vs.members[i] = child
				}
			}
			h.sc.mu.Unlock()
		}
		recordFork("super", "super-rival-split")
	}
}

// RemoveEdge implements spec.md §4.E.4's clustering-variant removeEdge:
// drop the reachability edge between sender's VState and dest's VState and
// let clusterIndex's BFS decide whether the cluster they shared splits. A
// no-op mapper without clustering enabled, or a sender/dest pair with no
// populated slots, has nothing to split.
func (m *Super) RemoveEdge(sender StateRef, dest node.ID) {
	if !m.clustering {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.byState[sender]
	if sc == nil {
		return
	}
	sc.mu.Lock()
	senderVS := sc.slots[sender.Node()]
	destVS := sc.slots[dest]
	sc.mu.Unlock()
	if senderVS == nil || destVS == nil {
		return
	}
	m.clusters.removeEdge(senderVS, destVS)
}

func (m *Super) PhonyMap(senders []StateRef, dest node.ID) error {
	for _, s := range senders {
		if err := m.Map(s, dest); err != nil {
			return err
		}
	}
	return nil
}

func (m *Super) FindTargets(sender StateRef, dest node.ID) []StateRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.byState[sender]
	if sc == nil {
		return nil
	}
	sc.mu.Lock()
	vs := sc.slots[dest]
	sc.mu.Unlock()
	if vs == nil {
		return nil
	}
	return vs.Members()
}

func (m *Super) Remove(ref StateRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.byState[ref]
	if sc == nil {
		return
	}
	sc.mu.Lock()
	slots := sc.slots
	sc.mu.Unlock()
	for _, vs := range slots {
		for _, r := range vs.members {
			delete(m.byState, r)
		}
		if m.clustering {
			m.clusters.drop(vs)
		}
	}
}

// Explode is where Super pays the cost CoB/CoW pay up front: for every node
// in nodes whose VState merges more than one real state, the merge is torn
// apart into one singleton VState per member, each in its own sibling
// scenario, and the slot's surviving VState keeps only the first member.
// Missing slots are populated by forking ref, same as the other mappers.
func (m *Super) Explode(ref StateRef, nodes []node.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.byState[ref]
	if sc == nil {
		return &ErrNotAdmissible{Reason: "not attached"}
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for _, n := range nodes {
		vs := sc.slots[n]
		if vs == nil {
			child := m.fork(ref)
			nvs := &VState{id: m.nextVStateID, members: []StateRef{child}}
			m.nextVStateID++
			sc.slots[n] = nvs
			m.byState[child] = sc
			if m.clustering {
				m.clusters.assign(nvs)
			}
			recordFork("super", "explode-populate")
			continue
		}
		if vs.exploded || len(vs.members) <= 1 {
			continue
		}
		keep := vs.members[0]
		for _, other := range vs.members[1:] {
			sib := newSuperScenario(m.nextScenarioID)
			m.nextScenarioID++
			ovs := &VState{id: m.nextVStateID, members: []StateRef{other}, exploded: true}
			m.nextVStateID++
			sib.slots[n] = ovs
			m.byState[other] = sib
			if m.clustering {
				m.clusters.assign(ovs)
			}
			recordFork("super", "explode-split")
		}
		vs.members = []StateRef{keep}
		vs.exploded = true
	}
	return nil
}

// Fork is a no-op for Super: VState membership changes only through Attach
// (boot), Map (sender-DState and super-rival splits) and Explode (forced
// split); a bare engine fork that the mapper was never told about has no
// DScenario to update.
func (m *Super) Fork(parent, child StateRef) {}

var (
	_ Mapper       = (*Super)(nil)
	_ PhonyCapable = (*Super)(nil)
)
