// Package search implements the search/scheduling core (spec.md §4.I): the
// three scheduler shapes (lock-step, discrete-event/calendar-queue, and
// cluster-wrapping) that decide in which order ready states actually run.
package search

import "github.com/knsymex/knsymex/node"

// Runnable is the minimal handle a scheduler needs: identity plus node
// affiliation (enough to order and report on, without depending on
// engine.State directly).
type Runnable interface {
	ID() uint64
	Node() node.ID
}

// Scheduler is the common contract every search strategy implements.
type Scheduler interface {
	// Enqueue makes r eligible to run.
	Enqueue(r Runnable)
	// Next dequeues the next runnable to execute, or reports false when
	// nothing is ready.
	Next() (Runnable, bool)
	// Len reports how many runnables are currently queued.
	Len() int
	// Kind identifies the scheduler, for metrics/logging.
	Kind() string
}
