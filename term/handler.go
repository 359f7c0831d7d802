// Package term implements the termination handler (spec.md §4.H / §4.E.5):
// terminating a whole cluster of states rather than a single one, since a
// DScenario's members form one unit of exploration progress.
package term

import (
	"github.com/pkg/errors"

	"github.com/knsymex/knsymex/dmap"
	"github.com/knsymex/knsymex/node"
)

// defaultMaxDepth bounds the recursive sibling walk; a DScenario with more
// members than this either has a clustering bug or a cluster large enough
// that something upstream should have split it already.
const defaultMaxDepth = 4096

// Terminator actually ends one state (calls engine.State.Terminate and any
// bookkeeping the owning run environment needs); supplied by the caller.
type Terminator func(ref dmap.StateRef, reason string)

// Handler walks a mapper's DScenario membership to terminate every state in
// a cluster together.
type Handler struct {
	Mapper   dmap.Mapper
	MaxDepth int
}

func NewHandler(mapper dmap.Mapper) *Handler {
	return &Handler{Mapper: mapper, MaxDepth: defaultMaxDepth}
}

// TerminateCluster explodes ref's DScenario across allNodes (so every
// member is a concrete state, not a merged VState), then recursively visits
// every peer reachable from ref across allNodes, invoking terminate on each
// exactly once, before removing the whole DScenario from the mapper.
func (h *Handler) TerminateCluster(ref dmap.StateRef, allNodes []node.ID, reason string, terminate Terminator) error {
	if err := h.Mapper.Explode(ref, allNodes); err != nil {
		return err
	}

	visited := make(map[dmap.StateRef]bool)
	var walk func(r dmap.StateRef, depth int) error
	walk = func(r dmap.StateRef, depth int) error {
		if depth > h.MaxDepth {
			return errors.New("term: cluster recursion depth exceeded, possible DScenario cycle")
		}
		if visited[r] {
			return nil
		}
		visited[r] = true
		terminate(r, reason)
		for _, n := range allNodes {
			for _, peer := range h.Mapper.FindTargets(r, n) {
				if err := walk(peer, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(ref, 0); err != nil {
		return err
	}
	h.Mapper.Remove(ref)
	return nil
}
