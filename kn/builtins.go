package kn

import (
	"github.com/pkg/errors"

	"github.com/knsymex/knsymex/engine"
	"github.com/knsymex/knsymex/expr"
	"github.com/knsymex/knsymex/node"
)

// Context bundles the collaborators a special function needs, supplied by
// the run environment that owns this state (spec.md §5). Every hook is
// optional; most builtins return an error if the hook they need is nil
// rather than panicking, while kn_get_virtual_time returns 0 and
// kn_yield_state/kn_barrier do nothing without their hook, so partial
// wiring (e.g. in a unit test) still works for the functions it does
// exercise.
type Context struct {
	State  engine.State
	NodeID node.ID

	// VirtualTime reports the scheduler's current tick (kn_get_virtual_time).
	VirtualTime func() int64

	// ArrayAt resolves the symbolic array backing a memory address, for
	// functions that must build expr.Node reads/constraints rather than
	// touch concrete bytes (kn_reverse_memcpy, kn_get_global_symbol).
	ArrayAt func(addr uint64) (engine.Array, error)

	// Install adds a constraint to the owning state (kn_reverse_memcpy).
	Install func(n *expr.Node) engine.Expr

	// PullCandidates gathers the rival source arrays a reverse memcpy from
	// srcNode may have pulled from, when more than one sender state could
	// be the origin (spec.md §4.J scenario 4).
	PullCandidates func(srcNode node.ID, addr uint64, n int) ([]engine.Array, error)

	// Transmit queues a transmission of payload (one expr.Node per
	// concrete byte) addressed to destAddr on whatever receiver(s) destID
	// maps to (kn_memcpy, kn_memset). Writing another node's memory can
	// never happen directly against ctx.State — it always routes through
	// the packet cache and the transmit handler, bound here by the run
	// environment.
	Transmit func(destID node.ID, destAddr uint64, payload []*expr.Node) error

	// ScheduleBootState/ScheduleState/WakeupDestStates/Yield/Barrier are
	// the scheduling hooks into package search; supplied by the run
	// environment once the scheduler is constructed.
	ScheduleBootState func(n node.ID) error
	ScheduleState     func(s engine.State) error
	WakeupDestStates  func(nodes []node.ID) error
	Yield             func() error
	Barrier           func() error
}

func registerBuiltins(r *Registry) {
	r.Register("kn_get_node_id", knGetNodeID)
	r.Register("kn_set_node_id", knSetNodeID)
	r.Register("kn_memcpy", knMemcpy)
	r.Register("kn_memset", knMemset)
	r.Register("kn_reverse_memcpy", knReverseMemcpy)
	r.Register("kn_get_global_symbol", knGetGlobalSymbol)
	r.Register("kn_early_exit", knEarlyExit)
	r.Register("kn_get_virtual_time", knGetVirtualTime)
	r.Register("kn_schedule_boot_state", knScheduleBootState)
	r.Register("kn_schedule_state", knScheduleState)
	r.Register("kn_wakeup_dest_states", knWakeupDestStates)
	r.Register("kn_yield_state", knYieldState)
	r.Register("kn_barrier", knBarrier)
}

func knGetNodeID(ctx *Context, args Args) (interface{}, error) {
	return int64(ctx.NodeID), nil
}

func knSetNodeID(ctx *Context, args Args) (interface{}, error) {
	n := node.ID(args.Int64(0))
	if !n.Valid() {
		return nil, errors.Errorf("kn_set_node_id: invalid node id %d", n)
	}
	ctx.State.SetNode(n)
	return nil, nil
}

// knMemcpy implements spec.md §4.J's kn_memcpy: it never writes dest
// itself, since dest lives on whatever state dest_id maps to, not on the
// active state. It reads n concrete bytes out of src locally, then queues
// a transmission of those bytes to dest_id through ctx.Transmit (pcache ->
// dmap -> txn, spec.md §4.G).
func knMemcpy(ctx *Context, args Args) (interface{}, error) {
	if ctx.Transmit == nil {
		return nil, errors.New("kn_memcpy: context missing Transmit hook")
	}
	dstAddr, srcAddr, n, destID := args.Uint64(0), args.Uint64(1), int(args.Int64(2)), node.ID(args.Int64(3))
	src := ctx.State.Memory().Store(srcAddr)
	payload := make([]*expr.Node, n)
	for i := 0; i < n; i++ {
		payload[i] = expr.Const(int64(src.ReadByte(i)))
	}
	return nil, ctx.Transmit(destID, dstAddr, payload)
}

// knMemset implements spec.md §4.J's kn_memset: same routing as
// knMemcpy, but the payload is n copies of one concrete byte rather than a
// read out of local memory.
func knMemset(ctx *Context, args Args) (interface{}, error) {
	if ctx.Transmit == nil {
		return nil, errors.New("kn_memset: context missing Transmit hook")
	}
	dstAddr, val, n, destID := args.Uint64(0), byte(args.Int64(1)), int(args.Int64(2)), node.ID(args.Int64(3))
	payload := make([]*expr.Node, n)
	for i := range payload {
		payload[i] = expr.Const(int64(val))
	}
	return nil, ctx.Transmit(destID, dstAddr, payload)
}

// knReverseMemcpy implements the "pull" direction (spec.md §4.J scenario
// 4): rather than copying concrete bytes, it resolves the symbolic array
// behind dstAddr and asserts it equals one of the candidate source arrays a
// rival sender at srcNode may have provided, via expr.OrAll when more than
// one candidate exists.
func knReverseMemcpy(ctx *Context, args Args) (interface{}, error) {
	if ctx.ArrayAt == nil || ctx.PullCandidates == nil || ctx.Install == nil {
		return nil, errors.New("kn_reverse_memcpy: context missing ArrayAt/PullCandidates/Install hooks")
	}
	dstAddr := args.Uint64(0)
	srcNode := node.ID(args.Int64(1))
	srcAddr := args.Uint64(2)
	n := int(args.Int64(3))

	dstArr, err := ctx.ArrayAt(dstAddr)
	if err != nil {
		return nil, err
	}
	candidates, err := ctx.PullCandidates(srcNode, srcAddr, n)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errors.New("kn_reverse_memcpy: no feasible source candidate")
	}
	// rangeEq equates bytes 0..n-1 of dstArr with the same bytes of c.
	rangeEq := func(c engine.Array) *expr.Node {
		eq := expr.Eq(expr.Read(dstArr, 0), expr.Read(c, 0))
		for i := 1; i < n; i++ {
			eq = expr.And(eq, expr.Eq(expr.Read(dstArr, int64(i)), expr.Read(c, int64(i))))
		}
		return eq
	}
	if len(candidates) == 1 {
		ctx.Install(rangeEq(candidates[0]))
		return nil, nil
	}
	eqs := make([]*expr.Node, len(candidates))
	for i, c := range candidates {
		eqs[i] = rangeEq(c)
	}
	ctx.Install(expr.OrAll(eqs))
	return nil, nil
}

// knGetGlobalSymbol resolves the array behind addr through ctx.ArrayAt and
// returns it; per the open-question resolution in DESIGN.md, an address
// ArrayAt cannot resolve panics rather than returning an error. It does not
// explode the caller's DScenario and does not copy bytes to other states.
func knGetGlobalSymbol(ctx *Context, args Args) (interface{}, error) {
	if ctx.ArrayAt == nil {
		return nil, errors.New("kn_get_global_symbol: context missing ArrayAt hook")
	}
	addr := args.Uint64(0)
	arr, err := ctx.ArrayAt(addr)
	if err != nil {
		panic(errors.Wrap(err, "kn_get_global_symbol: no symbol backs this address"))
	}
	return arr, nil
}

func knEarlyExit(ctx *Context, args Args) (interface{}, error) {
	reason := "kn_early_exit"
	if len(args) > 0 {
		reason = args.String(0)
	}
	ctx.State.Terminate(reason)
	return nil, nil
}

func knGetVirtualTime(ctx *Context, args Args) (interface{}, error) {
	if ctx.VirtualTime == nil {
		return int64(0), nil
	}
	return ctx.VirtualTime(), nil
}

func knScheduleBootState(ctx *Context, args Args) (interface{}, error) {
	if ctx.ScheduleBootState == nil {
		return nil, errors.New("kn_schedule_boot_state: context missing ScheduleBootState hook")
	}
	return nil, ctx.ScheduleBootState(node.ID(args.Int64(0)))
}

func knScheduleState(ctx *Context, args Args) (interface{}, error) {
	if ctx.ScheduleState == nil {
		return nil, errors.New("kn_schedule_state: context missing ScheduleState hook")
	}
	return nil, ctx.ScheduleState(ctx.State)
}

func knWakeupDestStates(ctx *Context, args Args) (interface{}, error) {
	if ctx.WakeupDestStates == nil {
		return nil, errors.New("kn_wakeup_dest_states: context missing WakeupDestStates hook")
	}
	nodes := make([]node.ID, len(args))
	for i := range args {
		nodes[i] = node.ID(args.Int64(i))
	}
	return nil, ctx.WakeupDestStates(nodes)
}

func knYieldState(ctx *Context, args Args) (interface{}, error) {
	if ctx.Yield == nil {
		return nil, nil
	}
	return nil, ctx.Yield()
}

func knBarrier(ctx *Context, args Args) (interface{}, error) {
	if ctx.Barrier == nil {
		return nil, nil
	}
	return nil, ctx.Barrier()
}
