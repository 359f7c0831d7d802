package dsym

import (
	"testing"

	"github.com/knsymex/knsymex/engine/enginetest"
	"github.com/knsymex/knsymex/node"
)

func TestLocateIsReferentiallyTransparent(t *testing.T) {
	r := NewRegistry()
	arr := enginetest.NewArray("a", 4)

	d1 := r.Locate(arr, node.FirstNode, 1, 100, node.FirstNode+1)
	d2 := r.Locate(arr, node.FirstNode, 1, 100, node.FirstNode+1)
	if d1 != d2 {
		t.Fatalf("expected repeated Locate to return the identical object")
	}
}

func TestGlobalNamesAreDistinctPerTriple(t *testing.T) {
	r1 := NewRegistry()
	r2 := NewRegistry()
	arr := enginetest.NewArray("a", 4)

	d1 := r1.Locate(arr, node.FirstNode, 1, 100, node.FirstNode+1)
	d2 := r2.Locate(arr, node.FirstNode, 2, 200, node.FirstNode+1)
	if d1.GlobalName() == d2.GlobalName() {
		t.Fatalf("expected distinct global names for distinct (state,tx,node) triples, got %q twice", d1.GlobalName())
	}
}

func TestForkCopiesRegistryForward(t *testing.T) {
	parent := NewRegistry()
	arr := enginetest.NewArray("a", 4)
	d := parent.Locate(arr, node.FirstNode, 1, 100, node.FirstNode+1)

	child := NewRegistry()
	parent.ForkInto(101, node.FirstNode+1, child)

	if !child.IsDistributed(&taintedArrayAdapter{d}) {
		t.Fatalf("expected child registry to carry forward the parent's distributed array")
	}
}

// taintedArrayAdapter lets the test look the forked entry up by its
// tainted name, the way IsDistributed expects a real engine.Array.
type taintedArrayAdapter struct{ d *DistributedArray }

func (a *taintedArrayAdapter) Name() string { return a.d.Name() }
func (a *taintedArrayAdapter) Size() int    { return a.d.Size() }
