package kn

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/knsymex/knsymex/engine"
	"github.com/knsymex/knsymex/engine/enginetest"
	"github.com/knsymex/knsymex/expr"
	"github.com/knsymex/knsymex/node"
)

func newTestContext(t *testing.T) (*Context, *enginetest.State) {
	t.Helper()
	s := enginetest.NewState(node.FirstNode)
	return &Context{State: s, NodeID: node.FirstNode}, s
}

func TestCallUnknownFunctionReturnsErrUnknownFunction(t *testing.T) {
	r := NewRegistry()
	ctx, _ := newTestContext(t)
	if _, err := r.Call(ctx, "kn_does_not_exist", nil); err == nil {
		t.Fatal("expected an error for an unregistered function")
	} else if errors.Cause(err) != ErrUnknownFunction {
		t.Fatalf("expected ErrUnknownFunction, got %v", err)
	}
}

func TestGetNodeIDReturnsContextNode(t *testing.T) {
	r := NewRegistry()
	ctx, _ := newTestContext(t)
	out, err := r.Call(ctx, "kn_get_node_id", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(int64) != int64(node.FirstNode) {
		t.Fatalf("expected node id %d, got %v", node.FirstNode, out)
	}
}

func TestSetNodeIDUpdatesState(t *testing.T) {
	r := NewRegistry()
	ctx, s := newTestContext(t)
	if _, err := r.Call(ctx, "kn_set_node_id", Args{int64(node.FirstNode + 1)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Node() != node.FirstNode+1 {
		t.Fatalf("expected state node to be updated, got %d", s.Node())
	}
}

func TestSetNodeIDRejectsInvalidNode(t *testing.T) {
	r := NewRegistry()
	ctx, _ := newTestContext(t)
	if _, err := r.Call(ctx, "kn_set_node_id", Args{int64(0)}); err == nil {
		t.Fatal("expected an error for an invalid node id")
	}
}

func TestMemcpyQueuesTransmissionToDestID(t *testing.T) {
	r := NewRegistry()
	ctx, s := newTestContext(t)
	s.Memory().Store(200).WriteByte(0, 0xAB)

	var gotDest node.ID
	var gotAddr uint64
	var gotPayload []*expr.Node
	ctx.Transmit = func(dest node.ID, destAddr uint64, payload []*expr.Node) error {
		gotDest, gotAddr, gotPayload = dest, destAddr, payload
		return nil
	}

	destID := node.FirstNode + 1
	if _, err := r.Call(ctx, "kn_memcpy", Args{int64(100), int64(200), int64(1), int64(destID)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotDest != destID {
		t.Fatalf("expected transmission addressed to node %d, got %d", destID, gotDest)
	}
	if gotAddr != 100 {
		t.Fatalf("expected dest address 100, got %d", gotAddr)
	}
	if len(gotPayload) != 1 || gotPayload[0].Kind != expr.KindConst || gotPayload[0].Value != 0xAB {
		t.Fatalf("expected one concrete 0xAB byte in the payload, got %v", gotPayload)
	}
	// kn_memcpy never writes dst on the active state - dest lives at destID.
	if got := s.Memory().Store(100).ReadByte(0); got != 0 {
		t.Fatalf("expected active state's own memory at dst to be untouched, got %#x", got)
	}
}

func TestMemcpyWithoutTransmitHookErrors(t *testing.T) {
	r := NewRegistry()
	ctx, _ := newTestContext(t)
	if _, err := r.Call(ctx, "kn_memcpy", Args{int64(100), int64(200), int64(1), int64(node.FirstNode + 1)}); err == nil {
		t.Fatal("expected an error when the Transmit hook is unset")
	}
}

func TestMemsetQueuesTransmissionOfRepeatedByte(t *testing.T) {
	r := NewRegistry()
	ctx, _ := newTestContext(t)

	var gotPayload []*expr.Node
	ctx.Transmit = func(dest node.ID, destAddr uint64, payload []*expr.Node) error {
		gotPayload = payload
		return nil
	}

	if _, err := r.Call(ctx, "kn_memset", Args{int64(100), int64(0x7F), int64(3), int64(node.FirstNode + 1)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gotPayload) != 3 {
		t.Fatalf("expected 3 payload atoms, got %d", len(gotPayload))
	}
	for i, n := range gotPayload {
		if n.Kind != expr.KindConst || n.Value != 0x7F {
			t.Fatalf("payload atom %d not concrete 0x7F, got %v", i, n)
		}
	}
}

func TestMemsetWithoutTransmitHookErrors(t *testing.T) {
	r := NewRegistry()
	ctx, _ := newTestContext(t)
	if _, err := r.Call(ctx, "kn_memset", Args{int64(100), int64(0x7F), int64(3), int64(node.FirstNode + 1)}); err == nil {
		t.Fatal("expected an error when the Transmit hook is unset")
	}
}

func TestEarlyExitTerminatesState(t *testing.T) {
	r := NewRegistry()
	ctx, s := newTestContext(t)
	if _, err := r.Call(ctx, "kn_early_exit", Args{"done"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Terminated() {
		t.Fatal("expected state to be terminated")
	}
}

func TestGetVirtualTimeDefaultsToZeroWithoutHook(t *testing.T) {
	r := NewRegistry()
	ctx, _ := newTestContext(t)
	out, err := r.Call(ctx, "kn_get_virtual_time", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(int64) != 0 {
		t.Fatalf("expected 0, got %v", out)
	}
}

func TestGetVirtualTimeUsesHook(t *testing.T) {
	r := NewRegistry()
	ctx, _ := newTestContext(t)
	ctx.VirtualTime = func() int64 { return 42 }
	out, err := r.Call(ctx, "kn_get_virtual_time", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(int64) != 42 {
		t.Fatalf("expected 42, got %v", out)
	}
}

func TestScheduleBootStateWithoutHookErrors(t *testing.T) {
	r := NewRegistry()
	ctx, _ := newTestContext(t)
	if _, err := r.Call(ctx, "kn_schedule_boot_state", Args{int64(node.FirstNode)}); err == nil {
		t.Fatal("expected an error when ScheduleBootState hook is unset")
	}
}

func TestScheduleBootStateInvokesHook(t *testing.T) {
	r := NewRegistry()
	ctx, _ := newTestContext(t)
	var got node.ID
	ctx.ScheduleBootState = func(n node.ID) error { got = n; return nil }
	if _, err := r.Call(ctx, "kn_schedule_boot_state", Args{int64(node.FirstNode + 2)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != node.FirstNode+2 {
		t.Fatalf("expected hook to receive node %d, got %d", node.FirstNode+2, got)
	}
}

func TestWakeupDestStatesPassesAllNodes(t *testing.T) {
	r := NewRegistry()
	ctx, _ := newTestContext(t)
	var got []node.ID
	ctx.WakeupDestStates = func(nodes []node.ID) error { got = nodes; return nil }
	if _, err := r.Call(ctx, "kn_wakeup_dest_states", Args{int64(1), int64(2), int64(3)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(got))
	}
}

func TestYieldAndBarrierAreNoOpsWithoutHooks(t *testing.T) {
	r := NewRegistry()
	ctx, _ := newTestContext(t)
	if _, err := r.Call(ctx, "kn_yield_state", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Call(ctx, "kn_barrier", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReverseMemcpyWithoutHooksErrors(t *testing.T) {
	r := NewRegistry()
	ctx, _ := newTestContext(t)
	if _, err := r.Call(ctx, "kn_reverse_memcpy", Args{int64(100), int64(2), int64(200), int64(8)}); err == nil {
		t.Fatal("expected an error when ArrayAt/PullCandidates/Install hooks are unset")
	}
}

func TestReverseMemcpySingleCandidateInstallsEquality(t *testing.T) {
	r := NewRegistry()
	ctx, _ := newTestContext(t)
	dst := enginetest.NewArray("dst", 8)
	src := enginetest.NewArray("src", 8)
	ctx.ArrayAt = func(addr uint64) (engine.Array, error) { return dst, nil }
	ctx.PullCandidates = func(srcNode node.ID, addr uint64, n int) ([]engine.Array, error) {
		return []engine.Array{src}, nil
	}
	var installedCount int
	ctx.Install = func(n *expr.Node) engine.Expr { installedCount++; return nil }
	if _, err := r.Call(ctx, "kn_reverse_memcpy", Args{int64(100), int64(2), int64(200), int64(8)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if installedCount != 1 {
		t.Fatalf("expected exactly one constraint installed, got %d", installedCount)
	}
}

func TestReverseMemcpyNoCandidatesErrors(t *testing.T) {
	r := NewRegistry()
	ctx, _ := newTestContext(t)
	dst := enginetest.NewArray("dst", 8)
	ctx.ArrayAt = func(addr uint64) (engine.Array, error) { return dst, nil }
	ctx.PullCandidates = func(srcNode node.ID, addr uint64, n int) ([]engine.Array, error) {
		return nil, nil
	}
	ctx.Install = func(n *expr.Node) engine.Expr { return nil }
	if _, err := r.Call(ctx, "kn_reverse_memcpy", Args{int64(100), int64(2), int64(200), int64(8)}); err == nil {
		t.Fatal("expected an error when there are no pull candidates")
	}
}
