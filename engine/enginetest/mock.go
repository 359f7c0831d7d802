// Package enginetest provides an in-memory reference implementation of the
// engine package's interfaces, used by every other package's tests in lieu
// of the real symbolic executor (an explicit non-goal, spec.md §1). Modeled
// on the teacher's cluster/mock convention (cluster/mock/target_mock.go):
// one mock struct per interface, an interface guard, and a constructor that
// wires sensible zero-value defaults.
package enginetest

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/knsymex/knsymex/engine"
	"github.com/knsymex/knsymex/node"
)

// interface guards
var (
	_ engine.State             = (*State)(nil)
	_ engine.ForkHandle        = (*forkHandle)(nil)
	_ engine.ConstraintManager = (*ConstraintManager)(nil)
	_ engine.Solver            = (*Solver)(nil)
	_ engine.AddressSpace      = (*AddressSpace)(nil)
	_ engine.ByteStore         = (*ByteStore)(nil)
	_ engine.Array             = (*Array)(nil)
	_ engine.Expr              = (*Expr)(nil)
)

var nextStateID uint64

// Expr is a minimal concrete, by-identity comparable expression node used
// by tests: Kind describes its shape ("read", "const", "eq", ...), Args
// holds operand exprs, and Val holds a concrete integer payload when Kind
// is "const".
type Expr struct {
	Kind string
	Args []*Expr
	Val  int64
	Arr  *Array
	// NonConstIndex marks a read whose index is symbolic, so package expr's
	// substitution visitor can exercise ErrSymbolicIndex.
	NonConstIndex bool
}

// Identity returns the expression's pointer value, stable for the life of
// the process — the identity spec.md §9 requires for trie/dedup keys on
// symbolic atoms.
func (e *Expr) Identity() uintptr { return uintptr(unsafe.Pointer(e)) }

// Array is a named symbolic byte array.
type Array struct {
	NameV string
	SizeV int
}

func (a *Array) Name() string { return a.NameV }
func (a *Array) Size() int    { return a.SizeV }

func NewArray(name string, size int) *Array { return &Array{NameV: name, SizeV: size} }

// ConstraintManager is an in-memory, append-only constraint list whose
// Evaluate answers from a caller-supplied oracle (defaulting to Unknown),
// letting tests script validity outcomes deterministically.
type ConstraintManager struct {
	mu          sync.Mutex
	constraints []engine.Expr
	Oracle      func(c engine.Expr) engine.Validity
}

func NewConstraintManager() *ConstraintManager { return &ConstraintManager{} }

func (c *ConstraintManager) Add(e engine.Expr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.constraints = append(c.constraints, e)
}

func (c *ConstraintManager) Simplify(e engine.Expr) engine.Expr { return e }

func (c *ConstraintManager) Evaluate(e engine.Expr) engine.Validity {
	if c.Oracle != nil {
		return c.Oracle(e)
	}
	return engine.Unknown
}

func (c *ConstraintManager) All() []engine.Expr {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]engine.Expr, len(c.constraints))
	copy(out, c.constraints)
	return out
}

// Solver always reports Unknown unless an Oracle is supplied.
type Solver struct {
	Oracle func(constraints []engine.Expr, query engine.Expr) engine.Validity
}

func (s *Solver) Validity(constraints []engine.Expr, query engine.Expr) engine.Validity {
	if s.Oracle != nil {
		return s.Oracle(constraints, query)
	}
	return engine.Unknown
}

// ByteStore is a plain byte slice.
type ByteStore struct{ Bytes []byte }

func (b *ByteStore) Len() int            { return len(b.Bytes) }
func (b *ByteStore) WriteByte(i int, v byte) { b.Bytes[i] = v }
func (b *ByteStore) ReadByte(i int) byte     { return b.Bytes[i] }

// AddressSpace maps an address to a fixed-size ByteStore, creating one on
// first touch.
type AddressSpace struct {
	mu     sync.Mutex
	stores map[uint64]*ByteStore
	// DefaultSize is used when Store is called for an address not yet
	// pre-registered via Register.
	DefaultSize int
}

func NewAddressSpace() *AddressSpace {
	return &AddressSpace{stores: make(map[uint64]*ByteStore), DefaultSize: 64}
}

func (a *AddressSpace) Register(addr uint64, size int) *ByteStore {
	a.mu.Lock()
	defer a.mu.Unlock()
	bs := &ByteStore{Bytes: make([]byte, size)}
	a.stores[addr] = bs
	return bs
}

func (a *AddressSpace) Store(addr uint64) engine.ByteStore {
	a.mu.Lock()
	defer a.mu.Unlock()
	bs, ok := a.stores[addr]
	if !ok {
		bs = &ByteStore{Bytes: make([]byte, a.DefaultSize)}
		a.stores[addr] = bs
	}
	return bs
}

// State is a minimal engine.State: it owns a constraint manager and address
// space and forks by copying both, the way a real symbolic executor
// would copy-on-fork before this core's dsym/dmap packages attach their own
// per-state records on top.
type State struct {
	id      uint64
	nodeID  node.ID
	cm      *ConstraintManager
	mem     *AddressSpace
	done    atomic.Bool
	reason  string
}

func NewState(n node.ID) *State {
	return &State{
		id:     atomic.AddUint64(&nextStateID, 1),
		nodeID: n,
		cm:     NewConstraintManager(),
		mem:    NewAddressSpace(),
	}
}

func (s *State) ID() uint64                        { return s.id }
func (s *State) Node() node.ID                      { return s.nodeID }
func (s *State) SetNode(n node.ID)                  { s.nodeID = n }
func (s *State) Constraints() engine.ConstraintManager { return s.cm }
func (s *State) Memory() engine.AddressSpace        { return s.mem }
func (s *State) Terminate(reason string) {
	s.done.Store(true)
	s.reason = reason
}
func (s *State) Terminated() bool { return s.done.Load() }
func (s *State) Reason() string   { return s.reason }

type forkHandle struct{ child *State }

func (f *forkHandle) Child() engine.State { return f.child }

// Fork copies the constraint list and memory contents into a brand new
// State on the same node (callers re-affiliate as needed).
func (s *State) Fork() engine.ForkHandle {
	child := NewState(s.nodeID)
	child.cm.constraints = append([]engine.Expr(nil), s.cm.All()...)
	for addr, bs := range s.mem.stores {
		nb := make([]byte, len(bs.Bytes))
		copy(nb, bs.Bytes)
		child.mem.stores[addr] = &ByteStore{Bytes: nb}
	}
	return &forkHandle{child: child}
}
