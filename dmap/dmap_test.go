package dmap

import (
	"testing"

	"github.com/knsymex/knsymex/node"
)

type testRef struct {
	id uint64
	n  node.ID
}

func (r *testRef) ID() uint64    { return r.id }
func (r *testRef) Node() node.ID { return r.n }

// forkCounter builds a Forker that hands out fresh testRefs at the parent's
// node, counting how many forks it performed.
func forkCounter() (Forker, *int) {
	next := uint64(1000)
	count := 0
	return func(parent StateRef) StateRef {
		next++
		count++
		return &testRef{id: next, n: parent.Node()}
	}, &count
}

func TestCoBForkSyncsPeers(t *testing.T) {
	fork, _ := forkCounter()
	m := NewCoB(fork)

	root := &testRef{id: 1, n: node.FirstNode}
	peer := &testRef{id: 2, n: node.FirstNode + 1}
	m.Attach(root)
	m.Attach(peer)

	// Merge root and peer into one scenario manually (as Explode would).
	sc := m.byState[root]
	sc.add(peer.Node(), peer)
	m.byState[peer] = sc

	child := &testRef{id: 3, n: node.FirstNode}
	m.Fork(root, child)

	targets := m.FindTargets(root, peer.Node())
	if len(targets) != 1 || targets[0] != peer {
		t.Fatalf("expected original scenario dest target to remain %v, got %v", peer, targets)
	}

	childTargets := m.FindTargets(child, peer.Node())
	if len(childTargets) != 1 {
		t.Fatalf("expected child's twin scenario to have exactly one dest peer, got %d", len(childTargets))
	}
	if childTargets[0] == peer {
		t.Fatalf("expected child's dest peer to be a fresh fork, not the original peer")
	}
}

func TestCoW1SplitsOnMultipleRivals(t *testing.T) {
	fork, forkCount := forkCounter()
	m := NewCoW1(fork)

	sender := &testRef{id: 1, n: node.FirstNode}
	rivalA := &testRef{id: 2, n: node.FirstNode + 1}
	rivalB := &testRef{id: 3, n: node.FirstNode + 1}
	m.Attach(sender)
	m.Attach(rivalA)
	m.Attach(rivalB)

	sc := m.byState[sender]
	sc.add(rivalA.Node(), rivalA)
	m.byState[rivalA] = sc
	sc.add(rivalB.Node(), rivalB)
	m.byState[rivalB] = sc

	if err := m.Map(sender, rivalA.Node()); err != nil {
		t.Fatal(err)
	}
	targets := m.FindTargets(sender, rivalA.Node())
	if len(targets) != 1 {
		t.Fatalf("expected a unique target after Map, got %d", len(targets))
	}
	if *forkCount == 0 {
		t.Fatalf("expected Map to have forked at least one sender clone for the second rival")
	}
}

func TestCoW2MinimalSplit(t *testing.T) {
	fork, _ := forkCounter()
	m := NewCoW2(fork)

	sender := &testRef{id: 1, n: node.FirstNode}
	rivalA := &testRef{id: 2, n: node.FirstNode + 1}
	rivalB := &testRef{id: 3, n: node.FirstNode + 1}
	m.Attach(sender)
	m.Attach(rivalA)
	m.Attach(rivalB)
	sc := m.byState[sender]
	sc.add(rivalA.Node(), rivalA)
	m.byState[rivalA] = sc
	sc.add(rivalB.Node(), rivalB)
	m.byState[rivalB] = sc

	if err := m.Map(sender, rivalA.Node()); err != nil {
		t.Fatal(err)
	}
	targets := m.FindTargets(sender, rivalA.Node())
	if len(targets) != 1 || targets[0] != rivalA {
		t.Fatalf("expected rivalA to be the chosen target, got %v", targets)
	}
}

func TestSuperMapNoForkForUncontestedReceiver(t *testing.T) {
	fork, forkCount := forkCounter()
	m := NewSuper(fork, false)

	sender := &testRef{id: 1, n: node.FirstNode}
	m.Attach(sender)

	if err := m.Explode(sender, []node.ID{node.FirstNode + 1}); err != nil {
		t.Fatal(err)
	}
	if *forkCount != 1 {
		t.Fatalf("expected exactly one fork to populate the missing slot, got %d", *forkCount)
	}

	if err := m.Map(sender, node.FirstNode+1); err != nil {
		t.Fatalf("Map should succeed once the dest slot is populated: %v", err)
	}
	if *forkCount != 1 {
		t.Fatalf("receiver has only one VState, Map should not have forked it further, got %d forks", *forkCount)
	}
	targets := m.FindTargets(sender, node.FirstNode+1)
	if len(targets) != 1 {
		t.Fatalf("expected exactly one target, got %d", len(targets))
	}
}

// TestSuperMapSplitsSuperRivalledReceiver pins spec.md §8 Scenario 2: three
// VStates of a receiver R at node 2 live in D1, D2, D3; sender S has
// VStates only in D1 and D2. map(S, 2) alone (no separate Explode call)
// must detect input(2) < multiplicity(3) and fork R into the targeted
// VStates (D1, D2, unchanged) and a bystander fork left in D3.
func TestSuperMapSplitsSuperRivalledReceiver(t *testing.T) {
	fork, forkCount := forkCounter()
	m := NewSuper(fork, false)

	r1 := &testRef{id: 10, n: node.FirstNode + 1}
	r2 := &testRef{id: 10, n: node.FirstNode + 1}
	r3 := &testRef{id: 10, n: node.FirstNode + 1}
	s1 := &testRef{id: 20, n: node.FirstNode}
	s2 := &testRef{id: 20, n: node.FirstNode}

	d1 := newSuperScenario(101)
	d1.slots[node.FirstNode] = &VState{id: 1, members: []StateRef{s1}}
	d1.slots[node.FirstNode+1] = &VState{id: 2, members: []StateRef{r1}}
	d2 := newSuperScenario(102)
	d2.slots[node.FirstNode] = &VState{id: 3, members: []StateRef{s2}}
	d2.slots[node.FirstNode+1] = &VState{id: 4, members: []StateRef{r2}}
	d3 := newSuperScenario(103)
	d3.slots[node.FirstNode+1] = &VState{id: 5, members: []StateRef{r3}}

	m.byState[s1] = d1
	m.byState[r1] = d1
	m.byState[s2] = d2
	m.byState[r2] = d2
	m.byState[r3] = d3

	if err := m.Map(s1, node.FirstNode+1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *forkCount != 1 {
		t.Fatalf("expected exactly one engine-fork for the super-rivalled receiver, got %d", *forkCount)
	}

	if targets := m.FindTargets(s1, node.FirstNode+1); len(targets) != 1 || targets[0] != r1 {
		t.Fatalf("expected D1's target to remain the original r1, got %v", targets)
	}
	if targets := m.FindTargets(s2, node.FirstNode+1); len(targets) != 1 || targets[0] != r2 {
		t.Fatalf("expected D2's target to remain the original r2, got %v", targets)
	}
	if d3.slots[node.FirstNode+1].members[0] == r3 {
		t.Fatal("expected D3's bystander VState to have been forked away from r3")
	}
}

// TestSuperMapSplitsSenderOwnRivals pins spec.md §4.E.4 step 1: sender
// shares its own slot with another VState member that has nothing to do
// with this transmission; Map must migrate sender alone into a fresh
// scenario rather than let the unrelated rival constrain the transmission.
func TestSuperMapSplitsSenderOwnRivals(t *testing.T) {
	fork, _ := forkCounter()
	m := NewSuper(fork, false)

	sender := &testRef{id: 1, n: node.FirstNode}
	rival := &testRef{id: 2, n: node.FirstNode}
	peer := &testRef{id: 3, n: node.FirstNode + 2}
	dest := &testRef{id: 4, n: node.FirstNode + 1}

	sc := newSuperScenario(201)
	sc.slots[node.FirstNode] = &VState{id: 1, members: []StateRef{sender, rival}}
	sc.slots[node.FirstNode+1] = &VState{id: 2, members: []StateRef{dest}}
	sc.slots[node.FirstNode+2] = &VState{id: 3, members: []StateRef{peer}}
	m.byState[sender] = sc
	m.byState[rival] = sc
	m.byState[dest] = sc
	m.byState[peer] = sc

	if err := m.Map(sender, node.FirstNode+1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clone := m.byState[sender]
	if clone == sc {
		t.Fatal("expected sender to migrate into a new scenario, not stay in the shared one")
	}
	if len(sc.slots[node.FirstNode].members) != 1 || sc.slots[node.FirstNode].members[0] != rival {
		t.Fatalf("expected the original scenario to keep only the rival, got %v", sc.slots[node.FirstNode].members)
	}
	if clone.slots[node.FirstNode+2] != sc.slots[node.FirstNode+2] {
		t.Fatal("expected the bystander peer slot to be duplicated by VState reference into the clone")
	}
}

func TestSuperExplodeSplitsMergedVState(t *testing.T) {
	fork, _ := forkCounter()
	m := NewSuper(fork, true)

	sender := &testRef{id: 1, n: node.FirstNode}
	m.Attach(sender)
	if err := m.Explode(sender, []node.ID{node.FirstNode + 1}); err != nil {
		t.Fatal(err)
	}
	sc := m.byState[sender]
	vs := sc.slots[node.FirstNode+1]
	extra := &testRef{id: 99, n: node.FirstNode + 1}
	vs.members = append(vs.members, extra)
	m.byState[extra] = sc

	if err := m.Explode(sender, []node.ID{node.FirstNode + 1}); err != nil {
		t.Fatal(err)
	}
	targets := m.FindTargets(sender, node.FirstNode+1)
	if len(targets) != 1 {
		t.Fatalf("expected explode to leave exactly one member behind, got %d", len(targets))
	}
	otherSc := m.byState[extra]
	if otherSc == sc {
		t.Fatalf("expected the split-off member to land in a sibling scenario")
	}
}

// TestClusterRemoveEdgeSplitsUnreachableHalf pins spec.md §8 Scenario 6:
// after removeEdge(state_A, DState_X), BFS from state_A can no longer
// reach DState_X, so the smaller half of the old cluster is split off
// under a freshly issued cluster id.
func TestClusterRemoveEdgeSplitsUnreachableHalf(t *testing.T) {
	fork, _ := forkCounter()
	m := NewSuper(fork, true)

	a := &testRef{id: 1, n: node.FirstNode}
	m.Attach(a)
	if err := m.Explode(a, []node.ID{node.FirstNode + 1}); err != nil {
		t.Fatal(err)
	}
	if err := m.Map(a, node.FirstNode+1); err != nil {
		t.Fatal(err)
	}

	sc := m.byState[a]
	senderVS := sc.slots[node.FirstNode]
	destVS := sc.slots[node.FirstNode+1]

	before := m.clusters.clusterOf[senderVS]
	destBefore := m.clusters.clusterOf[destVS]
	if before == "" || destBefore == "" {
		t.Fatal("expected both VStates to carry cluster ids")
	}
	if before != destBefore {
		t.Fatalf("expected Map to have merged sender and dest into one cluster, got %q and %q", before, destBefore)
	}

	m.RemoveEdge(a, node.FirstNode+1)

	after := m.clusters.clusterOf[senderVS]
	destAfter := m.clusters.clusterOf[destVS]
	if after == destAfter {
		t.Fatalf("expected removeEdge to split the cluster, both sides still carry %q", after)
	}
}

func TestMapRejectsLocalDelivery(t *testing.T) {
	fork, _ := forkCounter()
	m := NewCoB(fork)
	sender := &testRef{id: 1, n: node.FirstNode}
	m.Attach(sender)
	if err := m.Map(sender, node.FirstNode); err == nil {
		t.Fatalf("expected local delivery to be rejected as inadmissible")
	}
}
