// Package txn implements the transmit handler (spec.md §4.G): the single
// entry point a special function like kn_send calls to move a payload from
// one state to another node. It wires the state mapper (dmap), the
// distributed-symbol registry (dsym), the constraint-dependency graph
// (cgraph), pending-transmission staging (pcache) and payload translation
// (txdata) into one operation.
package txn

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/knsymex/knsymex/cgraph"
	"github.com/knsymex/knsymex/cmn"
	"github.com/knsymex/knsymex/dmap"
	"github.com/knsymex/knsymex/dsym"
	"github.com/knsymex/knsymex/engine"
	"github.com/knsymex/knsymex/expr"
	"github.com/knsymex/knsymex/knlog"
	"github.com/knsymex/knsymex/knstats"
	"github.com/knsymex/knsymex/node"
	"github.com/knsymex/knsymex/pcache"
	"github.com/knsymex/knsymex/txdata"
)

// ConstraintInstaller is how a Handler installs newly derived receiver
// constraints and sender-pinning equalities back onto the owning state's
// constraint manager — supplied by whoever builds the SenderContext, since this package
// never touches engine.State directly beyond the interfaces it declares.
type ConstraintInstaller func(stateID uint64, n *expr.Node) engine.Expr

// MemoryResolver resolves the engine-level address space backing a mapped
// receiver, so Transmit can perform spec.md §4.G step 3's concrete byte
// write. Supplied by whoever builds the SenderContext, which must be able
// to turn a pcache.ReceiverRef back into a live engine.State.
type MemoryResolver func(receiver pcache.ReceiverRef) (engine.AddressSpace, error)

// SenderContext bundles everything Transmit needs about the sending state.
type SenderContext struct {
	Ref       dmap.StateRef
	StateID   uint64
	Node      node.ID
	Graph     *cgraph.Graph
	View      cgraph.NodeView
	CM        engine.ConstraintManager
	Cache     *pcache.Cache
	Install   ConstraintInstaller
	// Memory resolves a receiver's byte store at commit time. Nil is
	// tolerated (the write is simply skipped) so callers that only care
	// about constraint propagation, not memory effects, need not wire it.
	Memory MemoryResolver
}

// Handler ties the mapper, registry and transmission counter together. One
// Handler is shared across all states in a run (spec.md §5).
type Handler struct {
	Mapper   dmap.Mapper
	Registry *dsym.Registry
	txSeq    uint64

	// reserved stands in for each state's "reserved names" set (spec.md
	// §4.D's newSymbols installation rule): per state id, the distributed
	// array that first claimed each translated name, so a later clash from
	// a *different* array can be reported as Err::NameCollision.
	reservedMu sync.Mutex
	reserved   map[uint64]map[string]*dsym.DistributedArray
}

func NewHandler(mapper dmap.Mapper, registry *dsym.Registry) *Handler {
	return &Handler{
		Mapper:   mapper,
		Registry: registry,
		reserved: make(map[uint64]map[string]*dsym.DistributedArray),
	}
}

// reserveName claims translated's name on stateID, returning
// Err::NameCollision if a distinct array already claimed that name there.
func (h *Handler) reserveName(stateID uint64, srcNode, dstNode node.ID, translated *dsym.DistributedArray) error {
	h.reservedMu.Lock()
	defer h.reservedMu.Unlock()
	names, ok := h.reserved[stateID]
	if !ok {
		names = make(map[string]*dsym.DistributedArray)
		h.reserved[stateID] = names
	}
	name := translated.Name()
	if existing, ok := names[name]; ok && existing != translated {
		return cmn.NewErrNameCollision(int(srcNode), int(dstNode), name)
	}
	names[name] = translated
	return nil
}

func (h *Handler) nextTxNumber() uint64 { return atomic.AddUint64(&h.txSeq, 1) }

// Transmit maps sc's sender to one or more receivers at dest, stages a
// translated copy of payload for each, and commits them through the
// packet cache — fanning out concurrently when the mapper supports phony
// packets. destAddr is the receiver-side byte address (packet_info's
// dest_mo) the committed payload is written to. It returns a
// cmn.NewErrInfeasible error (kind KindInfeasible) when the mapper finds no
// admissible receiver.
func (h *Handler) Transmit(ctx context.Context, sc SenderContext, dest node.ID, destAddr uint64, payload []*expr.Node) error {
	if err := h.Mapper.Map(sc.Ref, dest); err != nil {
		knlog.Warningf("transmit: map(%d -> node %d) not admissible: %v", sc.StateID, dest, err)
		return cmn.NewErrInfeasible(int(dest))
	}
	targets := h.Mapper.FindTargets(sc.Ref, dest)
	if len(targets) == 0 {
		return cmn.NewErrInfeasible(int(dest))
	}

	txNumber := h.nextTxNumber()
	phony := false
	if pc, ok := h.Mapper.(dmap.PhonyCapable); ok {
		phony = pc.SupportsPhonyPackets()
	}

	for _, target := range targets {
		mangler := &registryMangler{
			reg:           h.Registry,
			srcNode:       sc.Node,
			txNumber:      txNumber,
			dstStateID:    target.ID(),
			dstNode:       target.Node(),
		}
		td := txdata.New(sc.StateID, sc.Node, target.ID(), target.Node(), txNumber, payload, mangler, sc.Graph)
		td.SetNodeView(sc.View)

		translated := make([]*expr.Node, len(payload))
		for i := range payload {
			n, err := td.At(i)
			if err != nil {
				return err
			}
			translated[i] = n
		}

		info := pcache.PacketInfo{
			SenderStateID: sc.StateID,
			SenderNode:    sc.Node,
			ReceiverNode:  target.Node(),
			TxNumber:      txNumber,
			Receiver:      target,
			DestMO:        destAddr,
		}
		if !sc.Cache.Insert(info, translated) {
			continue
		}

		newConstraints, err := td.ComputeNewReceiverConstraints()
		if err != nil {
			return err
		}
		for _, c := range newConstraints {
			if rn, ok := c.(txdata.RewrittenNode); ok {
				sc.Install(target.ID(), rn.Node())
			}
		}

		for _, sym := range td.NewSymbols() {
			if err := h.reserveName(sym.BelongsToStateID, sc.Node, target.Node(), sym.Translated); err != nil {
				return err
			}
			if sym.IsSender {
				eq := expr.Eq(expr.ReadSymbolic(sym.Original, expr.Const(0)), expr.ReadSymbolic(sym.Translated, expr.Const(0)))
				for i := 1; i < sym.Original.Size(); i++ {
					eq = expr.And(eq, expr.Eq(expr.ReadSymbolic(sym.Original, expr.Const(int64(i))), expr.ReadSymbolic(sym.Translated, expr.Const(int64(i)))))
				}
				sc.Install(sym.BelongsToStateID, eq)
			}
		}
	}

	knstats.TransmissionsCommitted.WithLabelValues(h.Mapper.Kind()).Inc()
	return sc.Cache.Commit(ctx, phony, func(info pcache.PacketInfo, translated []*expr.Node) error {
		return writeReceiverMemory(sc, info, translated)
	})
}

// writeReceiverMemory implements spec.md §4.G step 3: resolve
// packet_info.dest_mo to a writable byte store on the receiver and write
// bytes 0..length-1 as translated[i], regardless of payload length — a
// shorter payload wraps (indices taken modulo len(translated)), a longer
// one truncates at the store's own length. Symbolic atoms carry no
// concrete byte and are left untouched; their effect already went through
// constraint installation above, not a memory write.
func writeReceiverMemory(sc SenderContext, info pcache.PacketInfo, translated []*expr.Node) error {
	if sc.Memory == nil || info.Receiver == nil || len(translated) == 0 {
		return nil
	}
	as, err := sc.Memory(info.Receiver)
	if err != nil {
		return err
	}
	store := as.Store(info.DestMO)
	for i := 0; i < store.Len(); i++ {
		atom := translated[i%len(translated)]
		b, ok := concreteByte(atom)
		if !ok {
			continue
		}
		store.WriteByte(i, b)
	}
	return nil
}

// concreteByte extracts the byte value of an expr.Node that translation
// left as a KindConst leaf (translation never rewrites Const nodes, see
// expr.Substitute); anything else carries no concrete payload to write.
func concreteByte(n *expr.Node) (byte, bool) {
	if n == nil || n.Kind != expr.KindConst {
		return 0, false
	}
	return byte(n.Value), true
}

// registryMangler adapts dsym.Registry into txdata.Mangler for one
// (srcNode, txNumber, dstState, dstNode) quadruple.
type registryMangler struct {
	reg        *dsym.Registry
	srcNode    node.ID
	txNumber   uint64
	dstStateID uint64
	dstNode    node.ID
}

func (m *registryMangler) Mangle(arr engine.Array) *dsym.DistributedArray {
	return m.reg.Locate(arr, m.srcNode, m.txNumber, m.dstStateID, m.dstNode)
}
