// Package runenv implements the run environment spec.md §5 describes under
// "Resource scoping": constructed once per top-level run, it owns the
// mapper, the transmit/termination handlers, the packet cache, the special-
// function registry and the top-level scheduler, and tears them down in a
// fixed order on scope exit — even on an error path.
package runenv

import (
	"github.com/pkg/errors"

	"github.com/knsymex/knsymex/cmn"
	"github.com/knsymex/knsymex/dmap"
	"github.com/knsymex/knsymex/dsym"
	"github.com/knsymex/knsymex/kn"
	"github.com/knsymex/knsymex/node"
	"github.com/knsymex/knsymex/pcache"
	"github.com/knsymex/knsymex/search"
	"github.com/knsymex/knsymex/term"
	"github.com/knsymex/knsymex/txn"
)

// Environment bundles one run's collaborators, built from a cmn.Config
// snapshot (itself populated by the CLI, spec.md §6.2).
type Environment struct {
	Config    *cmn.Config
	Mapper    dmap.Mapper
	Registry  *dsym.Registry
	Cache     *pcache.Cache
	Txn       *txn.Handler
	Term      *term.Handler
	Funcs     *kn.Registry
	Scheduler search.Scheduler
}

// DefaultClusterKey is the cluster key search.ClusterWrap uses when New
// selects a cluster-wrapped scheduler; overridable before calling New for
// callers that want clustering keyed on something other than raw node
// identity (e.g. dmap's own clustering index once a run wires it through).
var DefaultClusterKey search.ClusterKeyFunc = func(r search.Runnable) string {
	return nodeKey(r.Node())
}

func nodeKey(n node.ID) string {
	return string(rune('A' + int(n)))
}

// New constructs an Environment per cfg: the mapper algorithm, scheduler
// kind and cluster strategy are all selected from cfg, matching spec.md
// §6.2's flags one-to-one. fork is the engine-level fork primitive the
// chosen mapper will invoke (spec.md §1).
func New(cfg *cmn.Config, fork dmap.Forker) *Environment {
	mapper := newMapper(cfg, fork)
	registry := dsym.NewRegistry()
	cache := pcache.New()
	return &Environment{
		Config:    cfg,
		Mapper:    mapper,
		Registry:  registry,
		Cache:     cache,
		Txn:       txn.NewHandler(mapper, registry),
		Term:      term.NewHandler(mapper),
		Funcs:     kn.NewRegistry(),
		Scheduler: newScheduler(cfg),
	}
}

func newMapper(cfg *cmn.Config, fork dmap.Forker) dmap.Mapper {
	switch cfg.StateMapping {
	case cmn.MappingCoB:
		return dmap.NewCoB(fork)
	case cmn.MappingCoW:
		return dmap.NewCoW1(fork)
	case cmn.MappingCoW2:
		return dmap.NewCoW2(fork)
	case cmn.MappingSuperBC, cmn.MappingSuperSC:
		return dmap.NewSuper(fork, true)
	case cmn.MappingSuper:
		fallthrough
	default:
		return dmap.NewSuper(fork, false)
	}
}

// newScheduler picks the top-level searcher. The two cluster-wrapped kinds
// (lockstep-cluster, cooja-cluster) both resolve to the same
// search.ClusterWrap, whose strategy comes from cfg.ClusterStrategy for
// either kind: the scheduler built does not depend on which of the two was
// chosen, as recorded in DESIGN.md.
func newScheduler(cfg *cmn.Config) search.Scheduler {
	switch cfg.Scheduler {
	case cmn.SchedulerLockStep:
		return search.NewLockStep(cfg.LockstepIncrement)
	case cmn.SchedulerLockStepCluster, cmn.SchedulerCoojaCluster:
		return search.NewClusterWrap(DefaultClusterKey, strategyFor(cfg.ClusterStrategy))
	case cmn.SchedulerCooja:
		fallthrough
	default:
		return search.NewDiscreteEvent()
	}
}

func strategyFor(s cmn.ClusterStrategy) search.Strategy {
	switch s {
	case cmn.StrategyFIFO:
		return search.FIFOStrategy{}
	case cmn.StrategyRandom:
		return search.RandomStrategy{}
	case cmn.StrategyNull:
		fallthrough
	default:
		return search.NullStrategy{}
	}
}

// StepFunc runs one Runnable until it suspends or terminates (spec.md §5's
// single scheduler loop); reschedule reports whether it should be
// re-enqueued for a future turn.
type StepFunc func(r search.Runnable) (reschedule bool, err error)

// Run drives the cooperative scheduler loop: pick one runnable, run it to
// its next suspension point, repeat until the scheduler is empty or step
// returns an error.
func (e *Environment) Run(step StepFunc) error {
	for {
		r, ok := e.Scheduler.Next()
		if !ok {
			return nil
		}
		reschedule, err := step(r)
		if err != nil {
			return err
		}
		if reschedule {
			e.Scheduler.Enqueue(r)
		}
	}
}

// Close tears down the environment's owned resources in the order spec.md
// §5 mandates: cache, then handler, then mapper — so that a partially
// committed cache is never left referencing a handler or mapper that has
// already been released.
func (e *Environment) Close() error {
	var err error
	if pending := e.Cache.Pending(); pending > 0 {
		err = errors.Errorf("runenv: closing with %d uncommitted packets in cache", pending)
	}
	e.Cache = nil
	e.Txn = nil
	e.Term = nil
	e.Mapper = nil
	return err
}
