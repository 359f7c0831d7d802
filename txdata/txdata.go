// Package txdata implements TxData (spec.md §3, §4.D): the pending
// transmission being assembled by a sender state. It translates sender
// payload expressions to receiver expressions lazily and memoised, and
// derives both the receiver-side constraint set and the sender/receiver
// symbol installations a transmission requires.
package txdata

import (
	"sort"

	"github.com/knsymex/knsymex/cgraph"
	"github.com/knsymex/knsymex/dsym"
	"github.com/knsymex/knsymex/engine"
	"github.com/knsymex/knsymex/expr"
	"github.com/knsymex/knsymex/node"
)

// NewSymbol is one entry of TxData.NewSymbols(): a distributed array that
// must be installed on belongsTo, paired with the original (sender-local)
// array it was mangled from.
type NewSymbol struct {
	BelongsToStateID uint64
	BelongsToNode    node.ID
	IsSender         bool
	Original         engine.Array
	Translated       *dsym.DistributedArray
}

// Mangler produces, for a given sender-local array, the translated
// distributed array that the receiver should see — spec.md §4.B's Locate,
// scoped to one transmission's (txNumber, srcNode).
type Mangler interface {
	Mangle(arr engine.Array) *dsym.DistributedArray
}

// TxData is created from (state, currentTx, payload); payload is the
// sequence of expr.Node atoms the sender is transmitting (spec.md §3).
type TxData struct {
	SenderStateID     uint64
	SenderNode        node.ID
	ReceiverStateID   uint64
	ReceiverNode      node.ID
	CurrentTxNumber   uint64

	payload  []*expr.Node
	mangler  Mangler
	graph    *cgraph.Graph
	nodeView cgraph.NodeView

	// memoised translated reads, one slot per payload index, filled lazily.
	memo []*expr.Node

	// senderSymbols: arrays touched by the payload or its dependencies,
	// discovered as At() is called.
	senderSymbols map[string]engine.Array

	allowMorePacketSymbols bool
	constraintsComputed    bool
	newReceiverConstraints []engine.Expr
	receiverSymbols        map[string]engine.Array
}

// New builds a TxData for one (sender, receiver) pair over payload. Epsilon
// payloads are forbidden per spec.md §3.
func New(senderStateID uint64, senderNode node.ID, receiverStateID uint64, receiverNode node.ID,
	txNumber uint64, payload []*expr.Node, mangler Mangler, graph *cgraph.Graph) *TxData {
	if len(payload) == 0 {
		panic("txdata.New: epsilon payload")
	}
	return &TxData{
		SenderStateID:          senderStateID,
		SenderNode:             senderNode,
		ReceiverStateID:        receiverStateID,
		ReceiverNode:           receiverNode,
		CurrentTxNumber:        txNumber,
		payload:                payload,
		mangler:                mangler,
		graph:                  graph,
		memo:                   make([]*expr.Node, len(payload)),
		senderSymbols:          make(map[string]engine.Array),
		receiverSymbols:        make(map[string]engine.Array),
		allowMorePacketSymbols: true,
	}
}

// At translates payload atom i lazily, memoised by index modulo payload
// length (spec.md §4.D's operator[]). Reading it discovers any new sender
// arrays the atom depends on and folds them into senderSymbols, so later
// ComputeNewReceiverConstraints calls see the full dependency set.
func (t *TxData) At(i int) (*expr.Node, error) {
	i = i % len(t.payload)
	if t.memo[i] != nil {
		return t.memo[i], nil
	}
	atom := t.payload[i]
	for _, arr := range expr.Arrays(atom) {
		if t.allowMorePacketSymbols {
			t.senderSymbols[arr.Name()] = arr
		}
	}
	translated, err := expr.Substitute(atom, func(a engine.Array) engine.Array {
		return t.mangler.Mangle(a)
	})
	if err != nil {
		return nil, err
	}
	t.memo[i] = translated
	return translated, nil
}

// senderArrays returns the arrays discovered so far, in a stable order.
func (t *TxData) senderArrays() []engine.Array {
	out := make([]engine.Array, 0, len(t.senderSymbols))
	for _, a := range t.senderSymbols {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ComputeNewReceiverConstraints is idempotent: the first call marks
// allowMorePacketSymbols=false, computes the dependency closure over
// senderSymbols via the constraint graph, and rewrites each constraint
// into its receiver form via the substitution visitor (spec.md §4.D).
func (t *TxData) ComputeNewReceiverConstraints() ([]engine.Expr, error) {
	if t.constraintsComputed {
		return t.newReceiverConstraints, nil
	}
	t.allowMorePacketSymbols = false
	closure := t.graph.Eval(t.senderArrays())

	// The caller supplies how to turn an opaque engine.Expr constraint back
	// into the expr.Node shape this package substitutes over, the same way
	// cgraph does (via a Tracker); TxData takes that dependency through the
	// Mangler-adjacent NodeView so this package stays free of a direct
	// cgraph.Tracker import cycle concern. See SetNodeView for that hook.
	if t.nodeView == nil {
		t.newReceiverConstraints = nil
		t.constraintsComputed = true
		return nil, nil
	}

	out := make([]engine.Expr, 0, len(closure))
	for _, c := range closure {
		n := t.nodeView(c)
		for _, arr := range expr.Arrays(n) {
			t.receiverSymbols[arr.Name()] = arr
		}
		rewritten, err := expr.Substitute(n, func(a engine.Array) engine.Array {
			return t.mangler.Mangle(a)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, &rewrittenExpr{node: rewritten})
	}
	t.newReceiverConstraints = out
	t.constraintsComputed = true
	return out, nil
}

// rewrittenExpr adapts an expr.Node back into engine.Expr for callers that
// only deal in the opaque handle (e.g. a real constraint manager's Add).
type rewrittenExpr struct{ node *expr.Node }

func (r *rewrittenExpr) Identity() uintptr { return uintptr(0) } // not installed into any registry

// Node returns the expr.Node shape behind a receiver-constraint value
// returned by ComputeNewReceiverConstraints, so a caller can actually
// install it on the receiver's constraint manager.
func (r *rewrittenExpr) Node() *expr.Node { return r.node }

// RewrittenNode is implemented by every value ComputeNewReceiverConstraints
// returns; callers type-assert engine.Expr results against it to recover
// the expr.Node to install.
type RewrittenNode interface {
	Node() *expr.Node
}

// AdditionalSenderOnlyConstraints produces (original, mangled) pairs for
// every sender symbol whose mangled image differs from the original
// (non-reflexive) — the caller installs `original == mangled` on the
// sender (spec.md §4.D).
func (t *TxData) AdditionalSenderOnlyConstraints() []NewSymbol {
	out := make([]NewSymbol, 0, len(t.senderSymbols))
	for _, arr := range t.senderArrays() {
		translated := t.mangler.Mangle(arr)
		if translated.Name() == arr.Name() {
			continue // reflexive: already the same name, nothing to pin
		}
		out = append(out, NewSymbol{
			BelongsToStateID: t.SenderStateID,
			BelongsToNode:    t.SenderNode,
			IsSender:         true,
			Original:         arr,
			Translated:       translated,
		})
	}
	return out
}

// NewSymbols combines AdditionalSenderOnlyConstraints with the receiver-side
// arrays discovered while walking the constraint closure in
// ComputeNewReceiverConstraints (call that first) into one flat enumeration
// (spec.md §4.D: "combines the two above ... each element is {belongs_to_
// state, original_array, translated_array}"). Receiver-side entries have
// IsSender=false: per spec.md §4.D's installation rule, only sender-side
// entries get an equality constraint; every entry still needs its
// translated name checked against the target state's reserved-names set.
func (t *TxData) NewSymbols() []NewSymbol {
	out := t.AdditionalSenderOnlyConstraints()
	for _, arr := range t.receiverArrays() {
		translated := t.mangler.Mangle(arr)
		if translated.Name() == arr.Name() {
			continue
		}
		out = append(out, NewSymbol{
			BelongsToStateID: t.ReceiverStateID,
			BelongsToNode:    t.ReceiverNode,
			IsSender:         false,
			Original:         arr,
			Translated:       translated,
		})
	}
	return out
}

func (t *TxData) receiverArrays() []engine.Array {
	out := make([]engine.Array, 0, len(t.receiverSymbols))
	for _, a := range t.receiverSymbols {
		out = append(out, a)
	}
	return out
}

// SetNodeView wires the cgraph NodeView hook used by
// ComputeNewReceiverConstraints to resolve opaque constraints back to their
// expr.Node shape.
func (t *TxData) SetNodeView(v cgraph.NodeView) { t.nodeView = v }
