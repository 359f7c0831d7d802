// Package expr provides the byte-read, endian-aware concatenation, and
// boolean-combinator helpers spec.md §4.A asks for, plus the substitution
// visitor used to translate sender expressions into receiver expressions.
//
// This module treats engine.Expr as opaque; expr builds and walks a small
// concrete shape (Node) on top of it so every other package (txdata,
// cgraph, dmap) can share one vocabulary for "a read", "a constant", "a
// concat", etc. without depending on a real symbolic executor.
package expr

import (
	"github.com/pkg/errors"

	"github.com/knsymex/knsymex/engine"
)

// ErrSymbolicIndex is returned when a read's index is not a concrete
// integer — spec.md §4.A / §4.D / §7.
var ErrSymbolicIndex = errors.New("symbolic index")

// Kind enumerates the node shapes this package builds.
type Kind int

const (
	KindRead Kind = iota
	KindConst
	KindConcat
	KindEq
	KindNe
	KindAnd
	KindOr
	KindAssertTrue
	KindAssertFalse
)

// Node is a thin, typed wrapper over engine.Expr covering the combinators
// spec.md §4.A names. Index == nil means a constant (non-symbolic) index;
// a non-nil, non-Const Index node triggers ErrSymbolicIndex wherever this
// package needs to resolve it to a concrete position.
type Node struct {
	Kind  Kind
	Array engine.Array // valid for KindRead
	Index *Node        // valid for KindRead; nil or KindConst
	Value int64        // valid for KindConst
	Args  []*Node       // operands for Concat/Eq/Ne/And/Or
	Raw   engine.Expr   // the opaque handle this node wraps, if any
}

// Const builds a concrete integer literal.
func Const(v int64) *Node { return &Node{Kind: KindConst, Value: v} }

// Read builds a single-byte read of array at a concrete index.
func Read(arr engine.Array, index int64) *Node {
	return &Node{Kind: KindRead, Array: arr, Index: Const(index)}
}

// ReadSymbolic builds a read whose index is itself symbolic; resolving it
// anywhere in this package returns ErrSymbolicIndex.
func ReadSymbolic(arr engine.Array, index *Node) *Node {
	return &Node{Kind: KindRead, Array: arr, Index: index}
}

// constIndex returns the concrete index of a read node, or
// ErrSymbolicIndex if it is not constant.
func constIndex(n *Node) (int64, error) {
	if n.Index == nil {
		return 0, nil
	}
	if n.Index.Kind != KindConst {
		return 0, ErrSymbolicIndex
	}
	return n.Index.Value, nil
}

// Endian selects the process-wide byte order used by Concat (spec.md §4.A).
type Endian int

const (
	LittleEndian Endian = iota
	BigEndian
)

// ProcessEndian is the process-wide endianness context spec.md §4.A
// describes ("selected from a process-wide context"). It defaults to
// little-endian, the common case for the target architectures this
// executor models.
var ProcessEndian = LittleEndian

// Concat builds a multi-byte read of size bytes from arr starting at
// byteOffset, accumulating per spec.md §4.A: little-endian iterates byte
// indices 0→size-1 with the newest byte at the high-order end; big-endian
// iterates size-1→0, also accumulating with the newest byte at the
// high-order end. Both walks therefore build the same tree shape over a
// different index sequence.
func Concat(arr engine.Array, byteOffset int64, size int) *Node {
	indices := make([]int64, size)
	if ProcessEndian == LittleEndian {
		for i := 0; i < size; i++ {
			indices[i] = byteOffset + int64(i)
		}
	} else {
		for i := 0; i < size; i++ {
			indices[i] = byteOffset + int64(size-1-i)
		}
	}
	var acc *Node
	for _, idx := range indices {
		byt := Read(arr, idx)
		if acc == nil {
			acc = byt
			continue
		}
		acc = &Node{Kind: KindConcat, Args: []*Node{byt, acc}}
	}
	return acc
}

func Eq(a, b *Node) *Node  { return &Node{Kind: KindEq, Args: []*Node{a, b}} }
func Ne(a, b *Node) *Node  { return &Node{Kind: KindNe, Args: []*Node{a, b}} }
func And(a, b *Node) *Node { return &Node{Kind: KindAnd, Args: []*Node{a, b}} }
func Or(a, b *Node) *Node  { return &Node{Kind: KindOr, Args: []*Node{a, b}} }

func AssertTrue(a *Node) *Node  { return &Node{Kind: KindAssertTrue, Args: []*Node{a}} }
func AssertFalse(a *Node) *Node { return &Node{Kind: KindAssertFalse, Args: []*Node{a}} }

// AndAll folds a non-empty slice of nodes with And; it panics on an empty
// slice since spec.md forbids epsilon payloads and this combinator is only
// ever used where at least one constraint exists.
func AndAll(nodes []*Node) *Node {
	if len(nodes) == 0 {
		panic("expr.AndAll: empty fold")
	}
	acc := nodes[0]
	for _, n := range nodes[1:] {
		acc = And(acc, n)
	}
	return acc
}

// OrAll is AndAll's disjunctive counterpart, used by kn_reverse_memcpy to
// build "equal one of the candidate source values" (spec.md §4.J, scenario 4).
func OrAll(nodes []*Node) *Node {
	if len(nodes) == 0 {
		panic("expr.OrAll: empty fold")
	}
	acc := nodes[0]
	for _, n := range nodes[1:] {
		acc = Or(acc, n)
	}
	return acc
}

// FoldMap applies f to every leaf Read node reachable from n and combines
// the results with combine, left to right. It is the generic walk spec.md
// §4.A's "fold-map combinator" describes. Substitute and Arrays do their
// own walks and do not go through FoldMap.
func FoldMap[T any](n *Node, f func(read *Node) T, combine func(a, b T) T) T {
	var walk func(n *Node) T
	walk = func(n *Node) T {
		if n.Kind == KindRead {
			return f(n)
		}
		var acc T
		first := true
		for _, a := range n.Args {
			v := walk(a)
			if first {
				acc = v
				first = false
			} else {
				acc = combine(acc, v)
			}
		}
		return acc
	}
	return walk(n)
}

// Substitute walks n, replacing every Read's array identity via repl and
// preserving each read's index and (conceptually) update head, per
// spec.md §4.B's substitution visitor. It fails with ErrSymbolicIndex the
// moment it reaches a read whose index is non-constant.
func Substitute(n *Node, repl func(arr engine.Array) engine.Array) (*Node, error) {
	switch n.Kind {
	case KindConst:
		return n, nil
	case KindRead:
		if _, err := constIndex(n); err != nil {
			return nil, err
		}
		return &Node{Kind: KindRead, Array: repl(n.Array), Index: n.Index}, nil
	default:
		args := make([]*Node, len(n.Args))
		for i, a := range n.Args {
			sub, err := Substitute(a, repl)
			if err != nil {
				return nil, errors.Wrapf(err, "substituting operand %d of %v", i, n.Kind)
			}
			args[i] = sub
		}
		return &Node{Kind: n.Kind, Args: args}, nil
	}
}

// Arrays returns the set of distinct arrays reachable from n, keyed by
// name (spec.md §4.C uses this to edge a constraint to every array it
// reads).
func Arrays(n *Node) []engine.Array {
	seen := map[string]engine.Array{}
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.Kind == KindRead {
			seen[n.Array.Name()] = n.Array
			return
		}
		for _, a := range n.Args {
			walk(a)
		}
	}
	walk(n)
	out := make([]engine.Array, 0, len(seen))
	for _, a := range seen {
		out = append(out, a)
	}
	return out
}
