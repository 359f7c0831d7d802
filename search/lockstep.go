package search

import (
	"sort"
	"sync"

	"github.com/knsymex/knsymex/node"
)

// LockStep implements spec.md §4.I's lock-step scheduler: runnables are
// grouped into rounds; Next drains the current round in node order before
// admitting anything enqueued afterward into the next round, so no state
// ever runs more than one round ahead of its slowest peer. It keeps no
// virtual time.
type LockStep struct {
	mu        sync.Mutex
	increment int
	current   map[node.ID][]Runnable
	next      map[node.ID][]Runnable
	round     uint64
}

// NewLockStep builds a LockStep scheduler; increment is spec.md §6.2's
// --lockstep-increment. It is stored but never read: rounds are drained one
// at a time whatever its value, and nothing advances by it.
func NewLockStep(increment int) *LockStep {
	return &LockStep{
		increment: increment,
		current:   make(map[node.ID][]Runnable),
		next:      make(map[node.ID][]Runnable),
	}
}

func (s *LockStep) Kind() string { return "lockstep" }

func (s *LockStep) Enqueue(r Runnable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[r.Node()] = append(s.next[r.Node()], r)
}

// Next drains the current round's nodes in sorted order; once the current
// round is exhausted, the next round (everything Enqueued meanwhile)
// becomes current and the round counter advances.
func (s *LockStep) Next() (Runnable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roundEmptyLocked(s.current) {
		if s.roundEmptyLocked(s.next) {
			return nil, false
		}
		s.current, s.next = s.next, make(map[node.ID][]Runnable)
		s.round++
	}
	for _, n := range s.sortedNodesLocked(s.current) {
		q := s.current[n]
		if len(q) == 0 {
			continue
		}
		r := q[0]
		s.current[n] = q[1:]
		return r, true
	}
	return nil, false
}

func (s *LockStep) roundEmptyLocked(m map[node.ID][]Runnable) bool {
	for _, q := range m {
		if len(q) > 0 {
			return false
		}
	}
	return true
}

func (s *LockStep) sortedNodesLocked(m map[node.ID][]Runnable) []node.ID {
	out := make([]node.ID, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *LockStep) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.current {
		n += len(q)
	}
	for _, q := range s.next {
		n += len(q)
	}
	return n
}

// Round reports the current lock-step round number, for metrics.
func (s *LockStep) Round() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round
}

var _ Scheduler = (*LockStep)(nil)
