package search

import (
	"container/heap"
	"sync"

	"github.com/knsymex/knsymex/knstats"
)

// event wraps a Runnable with the virtual time it becomes eligible to run,
// plus the heap index that Swap and Push keep current on each entry.
type event struct {
	r     Runnable
	ticks int64
	index int
}

// calendar is a min-heap ordered by ticks, the same shape as
// transport/collect.go's collector: Len/Less/Swap/Push/Pop plus an index
// field each element tracks. DiscreteEvent only pushes and pops; no queued
// event is changed in place, so heap.Fix is never called.
type calendar []*event

func (c calendar) Len() int            { return len(c) }
func (c calendar) Less(i, j int) bool  { return c[i].ticks < c[j].ticks }
func (c calendar) Swap(i, j int) {
	c[i], c[j] = c[j], c[i]
	c[i].index = i
	c[j].index = j
}
func (c *calendar) Push(x interface{}) {
	e := x.(*event)
	e.index = len(*c)
	*c = append(*c, e)
}
func (c *calendar) Pop() interface{} {
	old := *c
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*c = old[:n-1]
	return e
}

// DiscreteEvent implements spec.md §4.I's calendar-queue scheduler (modeled
// on Cooja's event queue): Next always returns the runnable with the
// smallest virtual time, advancing VirtualTime as it goes.
type DiscreteEvent struct {
	mu  sync.Mutex
	cal calendar
	now int64
}

func NewDiscreteEvent() *DiscreteEvent {
	de := &DiscreteEvent{cal: make(calendar, 0, 64)}
	heap.Init(&de.cal)
	return de
}

func (s *DiscreteEvent) Kind() string { return "discrete-event" }

// Enqueue schedules r at the current virtual time (immediately eligible);
// use EnqueueAt to schedule a future wakeup (e.g. a timer special function).
func (s *DiscreteEvent) Enqueue(r Runnable) {
	s.EnqueueAt(r, s.now)
}

func (s *DiscreteEvent) EnqueueAt(r Runnable, ticks int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.cal, &event{r: r, ticks: ticks})
}

func (s *DiscreteEvent) Next() (Runnable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cal.Len() == 0 {
		return nil, false
	}
	e := heap.Pop(&s.cal).(*event)
	if e.ticks > s.now {
		s.now = e.ticks
	}
	knstats.VirtualTime.Set(float64(s.now))
	return e.r, true
}

func (s *DiscreteEvent) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cal.Len()
}

// Now reports the current virtual time.
func (s *DiscreteEvent) Now() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

var _ Scheduler = (*DiscreteEvent)(nil)
