package search

import (
	"math/rand"
	"sync"
)

// ClusterKeyFunc groups a Runnable into its cluster identity (spec.md
// §4.E.4's clustering index assigns these; the search core only consumes
// the resulting key, staying independent of dmap).
type ClusterKeyFunc func(r Runnable) string

// Strategy decides which cluster ClusterWrap draws from next (spec.md
// §4.I's Null/FIFO/Random/Mangle/Repeat).
type Strategy interface {
	Kind() string
	// SelectCluster picks a cluster key from ready (clusters with at least
	// one queued runnable); arrival is every cluster key in first-seen
	// order; prev is the previously selected key ("" before the first
	// call).
	SelectCluster(ready, arrival []string, prev string) string
	// FullDrain reports whether ClusterWrap should keep drawing from the
	// selected cluster until it empties before selecting again.
	FullDrain() bool
}

// ClusterWrap batches an inner notion of ordering around cluster identity:
// rather than picking the globally next-ready runnable, it first picks a
// cluster (per Strategy) and then draws from that cluster's own queue.
type ClusterWrap struct {
	mu         sync.Mutex
	keyOf      ClusterKeyFunc
	strategy   Strategy
	queues     map[string][]Runnable
	arrival    []string
	arrivalSet map[string]bool
	currentKey string
}

func NewClusterWrap(keyOf ClusterKeyFunc, strategy Strategy) *ClusterWrap {
	return &ClusterWrap{
		keyOf:      keyOf,
		strategy:   strategy,
		queues:     make(map[string][]Runnable),
		arrivalSet: make(map[string]bool),
	}
}

func (w *ClusterWrap) Kind() string { return "clusterwrap-" + w.strategy.Kind() }

func (w *ClusterWrap) Enqueue(r Runnable) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := w.keyOf(r)
	w.queues[key] = append(w.queues[key], r)
	if !w.arrivalSet[key] {
		w.arrivalSet[key] = true
		w.arrival = append(w.arrival, key)
	}
}

func (w *ClusterWrap) readyLocked() []string {
	out := make([]string, 0, len(w.arrival))
	for _, k := range w.arrival {
		if len(w.queues[k]) > 0 {
			out = append(out, k)
		}
	}
	return out
}

func (w *ClusterWrap) Next() (Runnable, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ready := w.readyLocked()
	if len(ready) == 0 {
		return nil, false
	}
	needsSelect := w.currentKey == "" || len(w.queues[w.currentKey]) == 0 || !w.strategy.FullDrain()
	if needsSelect {
		w.currentKey = w.strategy.SelectCluster(ready, w.arrival, w.currentKey)
	}
	q := w.queues[w.currentKey]
	if len(q) == 0 {
		return nil, false
	}
	r := q[0]
	w.queues[w.currentKey] = q[1:]
	return r, true
}

func (w *ClusterWrap) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, q := range w.queues {
		n += len(q)
	}
	return n
}

var _ Scheduler = (*ClusterWrap)(nil)

// NullStrategy applies no cluster-preferential reordering: it round-robins
// across whichever clusters currently have work, one runnable at a time,
// the way an un-wrapped scheduler would interleave individual states.
type NullStrategy struct{}

func (NullStrategy) Kind() string    { return "null" }
func (NullStrategy) FullDrain() bool { return false }
func (NullStrategy) SelectCluster(ready, arrival []string, prev string) string {
	if prev == "" {
		return ready[0]
	}
	for i, k := range ready {
		if k == prev {
			return ready[(i+1)%len(ready)]
		}
	}
	return ready[0]
}

// FIFOStrategy always drains the earliest-arrived ready cluster to
// completion before moving to the next.
type FIFOStrategy struct{}

func (FIFOStrategy) Kind() string    { return "fifo" }
func (FIFOStrategy) FullDrain() bool { return true }
func (FIFOStrategy) SelectCluster(ready, arrival []string, prev string) string {
	readySet := make(map[string]bool, len(ready))
	for _, k := range ready {
		readySet[k] = true
	}
	for _, k := range arrival {
		if readySet[k] {
			return k
		}
	}
	return ready[0]
}

// RandomStrategy picks a uniformly random ready cluster and drains it fully.
type RandomStrategy struct {
	Rand *rand.Rand // nil uses the package-level source
}

func (RandomStrategy) Kind() string    { return "random" }
func (RandomStrategy) FullDrain() bool { return true }
func (s RandomStrategy) SelectCluster(ready, arrival []string, prev string) string {
	if s.Rand == nil {
		return ready[rand.Intn(len(ready))]
	}
	return ready[s.Rand.Intn(len(ready))]
}

// MangleStrategy is FIFO inverted: it drains the most recently arrived
// ready cluster first, perturbing the natural arrival order on purpose to
// exercise interleavings FIFO would never produce.
type MangleStrategy struct{}

func (MangleStrategy) Kind() string    { return "mangle" }
func (MangleStrategy) FullDrain() bool { return true }
func (MangleStrategy) SelectCluster(ready, arrival []string, prev string) string {
	readySet := make(map[string]bool, len(ready))
	for _, k := range ready {
		readySet[k] = true
	}
	for i := len(arrival) - 1; i >= 0; i-- {
		if readySet[arrival[i]] {
			return arrival[i]
		}
	}
	return ready[0]
}

// RepeatStrategy is sticky: as long as the previously selected cluster
// still has pending work, it keeps being selected, favoring locality over
// fairness; once it empties, selection falls back to FIFO order.
type RepeatStrategy struct{}

func (RepeatStrategy) Kind() string    { return "repeat" }
func (RepeatStrategy) FullDrain() bool { return true }
func (RepeatStrategy) SelectCluster(ready, arrival []string, prev string) string {
	for _, k := range ready {
		if k == prev {
			return prev
		}
	}
	return FIFOStrategy{}.SelectCluster(ready, arrival, prev)
}
