package search

import (
	"testing"

	"github.com/knsymex/knsymex/node"
)

type testRunnable struct {
	id uint64
	n  node.ID
}

func (r *testRunnable) ID() uint64    { return r.id }
func (r *testRunnable) Node() node.ID { return r.n }

func TestLockStepDrainsCurrentRoundBeforeNext(t *testing.T) {
	s := NewLockStep(1)
	a := &testRunnable{id: 1, n: node.FirstNode}
	b := &testRunnable{id: 2, n: node.FirstNode + 1}
	s.Enqueue(a)
	s.Enqueue(b)

	first, ok := s.Next()
	if !ok || first != a {
		t.Fatalf("expected node-order draw to yield a first, got %v (ok=%v)", first, ok)
	}
	// Enqueue into what will become the next round.
	c := &testRunnable{id: 3, n: node.FirstNode}
	s.Enqueue(c)

	second, ok := s.Next()
	if !ok || second != b {
		t.Fatalf("expected b to still be drawn from the current round before c, got %v", second)
	}
	third, ok := s.Next()
	if !ok || third != c {
		t.Fatalf("expected c to be drawn only once the round advances, got %v", third)
	}
}

func TestDiscreteEventOrdersByVirtualTime(t *testing.T) {
	s := NewDiscreteEvent()
	late := &testRunnable{id: 1, n: node.FirstNode}
	early := &testRunnable{id: 2, n: node.FirstNode}
	s.EnqueueAt(late, 10)
	s.EnqueueAt(early, 1)

	first, ok := s.Next()
	if !ok || first != early {
		t.Fatalf("expected the earlier-ticked event first, got %v", first)
	}
	second, ok := s.Next()
	if !ok || second != late {
		t.Fatalf("expected the later-ticked event second, got %v", second)
	}
	if s.Now() != 10 {
		t.Fatalf("expected virtual time to have advanced to 10, got %d", s.Now())
	}
}

// TestDiscreteEventCalendarQueueScenario pins spec.md §8 Scenario 5: two
// states scheduled at t=10 and one at t=5. Expected order is the t=5 state
// first, then the two t=10 states in either order, with the selected
// virtual-time lower bound growing 5, 10, 10.
func TestDiscreteEventCalendarQueueScenario(t *testing.T) {
	s := NewDiscreteEvent()
	ten1 := &testRunnable{id: 1, n: node.FirstNode}
	ten2 := &testRunnable{id: 2, n: node.FirstNode}
	five := &testRunnable{id: 3, n: node.FirstNode}
	s.EnqueueAt(ten1, 10)
	s.EnqueueAt(ten2, 10)
	s.EnqueueAt(five, 5)

	first, ok := s.Next()
	if !ok || first != five {
		t.Fatalf("expected the t=5 state first, got %v", first)
	}
	if s.Now() != 5 {
		t.Fatalf("expected virtual time 5 after the first selection, got %d", s.Now())
	}

	second, ok := s.Next()
	if !ok || (second != ten1 && second != ten2) {
		t.Fatalf("expected one of the t=10 states second, got %v", second)
	}
	if s.Now() != 10 {
		t.Fatalf("expected virtual time 10 after the second selection, got %d", s.Now())
	}

	third, ok := s.Next()
	if !ok || (third != ten1 && third != ten2) || third == second {
		t.Fatalf("expected the other t=10 state third, got %v", third)
	}
	if s.Now() != 10 {
		t.Fatalf("expected virtual time to remain 10 after the third selection, got %d", s.Now())
	}
}

func clusterOf(r Runnable) string {
	tr := r.(*testRunnable)
	if tr.n == node.FirstNode {
		return "c1"
	}
	return "c2"
}

func TestClusterWrapFIFODrainsOneClusterAtATime(t *testing.T) {
	w := NewClusterWrap(clusterOf, FIFOStrategy{})
	c2a := &testRunnable{id: 1, n: node.FirstNode + 1} // cluster c2, arrives first
	c1a := &testRunnable{id: 2, n: node.FirstNode}     // cluster c1
	c1b := &testRunnable{id: 3, n: node.FirstNode}
	w.Enqueue(c2a)
	w.Enqueue(c1a)
	w.Enqueue(c1b)

	first, _ := w.Next()
	if first != c2a {
		t.Fatalf("expected FIFO to drain the first-arrived cluster (c2) first, got %v", first)
	}
	second, _ := w.Next()
	if second != c1a {
		t.Fatalf("expected c1's first item next, got %v", second)
	}
	third, _ := w.Next()
	if third != c1b {
		t.Fatalf("expected c1 fully drained before anything else, got %v", third)
	}
}

func TestClusterWrapRepeatStaysStickyWhileClusterHasWork(t *testing.T) {
	w := NewClusterWrap(clusterOf, RepeatStrategy{})
	c1a := &testRunnable{id: 1, n: node.FirstNode}
	c2a := &testRunnable{id: 2, n: node.FirstNode + 1}
	w.Enqueue(c1a)
	w.Enqueue(c2a)

	first, _ := w.Next()
	if first != c1a {
		t.Fatalf("expected c1 (first arrival) to be selected first, got %v", first)
	}
	c1b := &testRunnable{id: 3, n: node.FirstNode}
	w.Enqueue(c1b)

	second, _ := w.Next()
	if second != c1b {
		t.Fatalf("expected Repeat to stay on c1 since it still has pending work, got %v", second)
	}
}

func TestClusterWrapNullRoundRobinsAcrossClusters(t *testing.T) {
	w := NewClusterWrap(clusterOf, NullStrategy{})
	c1a := &testRunnable{id: 1, n: node.FirstNode}
	c1b := &testRunnable{id: 2, n: node.FirstNode}
	c2a := &testRunnable{id: 3, n: node.FirstNode + 1}
	w.Enqueue(c1a)
	w.Enqueue(c1b)
	w.Enqueue(c2a)

	first, _ := w.Next()
	second, _ := w.Next()
	if first == second {
		t.Fatalf("expected Null to interleave clusters rather than drain one fully: got %v then %v", first, second)
	}
}
