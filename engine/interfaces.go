// Package engine declares the interfaces this core consumes from the
// symbolic executor it extends. The executor itself is an explicit
// non-goal (spec.md §1): this package exists only so the rest of the
// module can "accept interfaces" instead of depending on a concrete
// executor implementation.
package engine

import "github.com/knsymex/knsymex/node"

// Validity is the three-valued result of a solver query (spec.md §4.G step 5).
type Validity int

const (
	Unknown Validity = iota
	True
	False
)

// Expr is the opaque symbolic-expression handle this core passes around
// without interpreting; package expr builds/walks concrete shapes wrapping
// it, package dmap/txdata/cgraph only ever move it by reference/identity.
type Expr interface {
	// Identity is used for by-identity equality (spec.md §9: "equality on
	// symbolic atoms is by identity, on concrete atoms by value").
	Identity() uintptr
}

// Array is a symbolic byte array known to the executor's term algebra.
type Array interface {
	Name() string
	Size() int
}

// ConstraintManager is the per-state constraint store (spec.md §1).
type ConstraintManager interface {
	Add(c Expr)
	Simplify(c Expr) Expr
	Evaluate(c Expr) Validity
	// All returns every constraint added so far, in insertion order; used
	// by the constraint-dependency graph's incremental Update.
	All() []Expr
}

// Solver issues validity queries independent of a specific constraint
// manager snapshot (e.g. to check a disjunction built for kn_reverse_memcpy
// before installing it).
type Solver interface {
	Validity(constraints []Expr, query Expr) Validity
}

// AddressSpace is the memory/address-space facility: given a destination
// descriptor it returns a writable byte store (spec.md §1, §4.G step 3).
type AddressSpace interface {
	Store(addr uint64) ByteStore
}

// ByteStore is a writable byte range inside one state's address space.
type ByteStore interface {
	Len() int
	WriteByte(i int, b byte)
	ReadByte(i int) byte
}

// ForkHandle is returned by State.Fork; the mapper uses it to attach new
// per-state records (dsym registry entries, mapping records) to the child.
type ForkHandle interface {
	Child() State
}

// State is the engine-level symbolic execution state this core attaches
// records to. It is otherwise opaque (spec.md §3).
type State interface {
	ID() uint64
	Node() node.ID
	SetNode(node.ID)
	Constraints() ConstraintManager
	Memory() AddressSpace
	// Fork creates an independent copy of the state; the copy shares no
	// mutable state with the parent beyond what the returned handle
	// explicitly carries forward.
	Fork() ForkHandle
	// Terminate ends this state's exploration with the given reason; real
	// executors hang a test-record generator off this, which is outside
	// this core's scope (spec.md §1).
	Terminate(reason string)
}

// SpecialFunctionHandler is the pluggable registry the executor exposes for
// C-callable symbols (spec.md §1); package kn populates one of these.
type SpecialFunctionHandler interface {
	Name() string
	Call(s State, args []int64) error
}
