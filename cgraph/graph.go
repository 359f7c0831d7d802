// Package cgraph implements the constraint-dependency graph (spec.md §4.C):
// a bipartite {constraint ↔ array} graph built incrementally from a state's
// constraint manager, whose BFS closure yields the minimal constraint set
// touching a given symbol set.
package cgraph

import (
	xxhash "github.com/OneOfOne/xxhash"

	"github.com/knsymex/knsymex/engine"
	"github.com/knsymex/knsymex/expr"
)

// symbolKey is the flat hashed key spec.md §9 sanctions for this structure
// ("acceptable to use a flat hashed key over (node, atom_sequence_hash,
// length) if performance demands") — here just the array name, hashed with
// xxhash so the symbol-side adjacency index is a plain map[uint64][]int
// instead of a map keyed by (and comparing) large expression values.
func symbolKey(name string) uint64 {
	return xxhash.Checksum64([]byte(name))
}

// NodeView resolves the expr.Node shape of an opaque engine.Expr, so this
// package can discover which arrays a constraint reads without depending
// on a concrete executor. A state's configuration record supplies this
// (the expr.Node it built the constraint from in the first place); the
// constraint manager itself only ever stores the opaque handle.
type NodeView func(engine.Expr) *expr.Node

// Tracker is a convenience NodeView backed by an identity-keyed map: every
// expr.Node this core builds and then adds to a constraint manager should
// be registered once via Track, after which View satisfies NodeView. This
// is the "side table" a real configuration record keeps between the
// opaque engine.Expr a constraint manager stores and the expr.Node shape
// this module reasons about.
type Tracker struct {
	byIdentity map[engine.Expr]*expr.Node
}

func NewTracker() *Tracker { return &Tracker{byIdentity: make(map[engine.Expr]*expr.Node)} }

func (t *Tracker) Track(e engine.Expr, n *expr.Node) { t.byIdentity[e] = n }

func (t *Tracker) View(e engine.Expr) *expr.Node {
	if n, ok := t.byIdentity[e]; ok {
		return n
	}
	return &expr.Node{Kind: expr.KindConst}
}

// Graph is owned by exactly one state's configuration record and mutated
// only by that state (spec.md §5's shared-resource policy).
type Graph struct {
	view NodeView

	// constraints, in the order they were added to the manager.
	constraints []engine.Expr
	// edges: array name-hash -> indices into constraints that read it.
	edges map[uint64][]int

	knownConstraints int
}

// New builds a Graph that resolves constraints' expr.Node view via view.
func New(view NodeView) *Graph {
	return &Graph{view: view, edges: make(map[uint64][]int)}
}

// Update walks every constraint added since the last call and edges it to
// every array it reads (spec.md §4.C: "edges added as constraints join the
// constraint manager (incremental, never removes)"). The invariant this
// maintains: after Update returns, every constraint whose index is below
// len(g.constraints) (== knownConstraints) is fully edged.
func (g *Graph) Update(cm engine.ConstraintManager) {
	all := cm.All()
	for i := g.knownConstraints; i < len(all); i++ {
		c := all[i]
		g.constraints = append(g.constraints, c)
		n := g.view(c)
		for _, arr := range expr.Arrays(n) {
			h := symbolKey(arr.Name())
			g.edges[h] = append(g.edges[h], i)
		}
	}
	g.knownConstraints = len(all)
}

// Eval returns the minimal constraint closure for a set of arrays: BFS over
// the bipartite graph starting from the array side (spec.md §4.C). The set
// returned is exactly the set of constraints reachable from symbols — no
// more (every edge walked corresponds to an actual read), no less (the
// walk only stops when the frontier is exhausted).
func (g *Graph) Eval(symbols []engine.Array) []engine.Expr {
	visitedConstraints := make(map[int]bool)
	visitedSymbols := make(map[uint64]bool)

	queue := make([]uint64, 0, len(symbols))
	for _, s := range symbols {
		h := symbolKey(s.Name())
		if !visitedSymbols[h] {
			visitedSymbols[h] = true
			queue = append(queue, h)
		}
	}

	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		for _, ci := range g.edges[h] {
			if visitedConstraints[ci] {
				continue
			}
			visitedConstraints[ci] = true
			for _, arr := range expr.Arrays(g.view(g.constraints[ci])) {
				ah := symbolKey(arr.Name())
				if !visitedSymbols[ah] {
					visitedSymbols[ah] = true
					queue = append(queue, ah)
				}
			}
		}
	}

	out := make([]engine.Expr, 0, len(visitedConstraints))
	for ci := range visitedConstraints {
		out = append(out, g.constraints[ci])
	}
	return out
}
