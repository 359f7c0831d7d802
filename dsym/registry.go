// Package dsym implements the per-state distributed-symbol registry
// (StateDistSymbols, spec.md §4.B / §3 "DistributedArray"): the map from a
// local symbolic array to the one logical distributed array that names it
// across every state that ever observed it.
package dsym

import (
	"fmt"
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/knsymex/knsymex/engine"
	"github.com/knsymex/knsymex/node"
)

// arrayMeta is the shared record behind every local image of one logical
// distributed array (spec.md §3's "meta (shared pointer to a record
// mapping each state → its local DistributedArray image)").
type arrayMeta struct {
	mu         sync.Mutex
	globalName string
	size       int
	images     map[uint64]*DistributedArray // state id -> local image
}

// DistributedArray is a symbolic byte array that names one logical
// distributed symbol across all states that ever observed it (spec.md §3).
type DistributedArray struct {
	meta *arrayMeta
	// taintedLocalName is this state's view of the array: global name plus
	// "@nodeId".
	taintedLocalName string
	size             int
}

func (d *DistributedArray) Name() string { return d.taintedLocalName }
func (d *DistributedArray) Size() int     { return d.size }
func (d *DistributedArray) GlobalName() string {
	d.meta.mu.Lock()
	defer d.meta.mu.Unlock()
	return d.meta.globalName
}

// Registry is one state's view: array identity (by name) -> its
// distributed image. Registries are forked forward on state fork (ForkInto)
// so every state copy that belongs to the same DScenario shares the same
// underlying metas transparently, per spec.md §4.B's invariant.
type Registry struct {
	mu     sync.Mutex
	byName map[string]*DistributedArray
	filter *cuckoo.Filter
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*DistributedArray),
		// A capacity of 1<<16 entries is plenty for the handful of distinct
		// arrays any one run transmits; the filter is advisory only (see
		// IsDistributed).
		filter: cuckoo.NewFilter(1 << 16),
	}
}

// IsDistributed reports whether arr already has an entry in this registry.
// The cuckoo filter gives a cheap, possibly-false-positive "maybe" before
// falling back to the authoritative map lookup; a filter miss is always
// trusted (cuckoo filters have no false negatives), so the map is consulted
// only when the filter claims a (possibly spurious) hit.
func (r *Registry) IsDistributed(arr engine.Array) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.filter.Lookup([]byte(arr.Name())) {
		return false
	}
	_, ok := r.byName[arr.Name()]
	return ok
}

// globalNameOf builds the global name spec.md §4.B specifies:
// name + "{node" + srcNode + ":tx" + txNumber + "}".
func globalNameOf(arrName string, srcNode node.ID, txNumber uint64) string {
	return fmt.Sprintf("%s{node%d:tx%d}", arrName, srcNode, txNumber)
}

// taintedName appends the per-state taint: global_name + "@" + nodeId.
func taintedName(globalName string, targetNode node.ID) string {
	return fmt.Sprintf("%s@%d", globalName, targetNode)
}

// Locate implements spec.md §4.B's operation: if arr is already distributed
// it is used directly (its own registry entry is the local image on this
// state); otherwise a fresh meta is created for the global name, holding a
// new local image for targetState. Metas are not looked up by global name:
// a second Locate of the same array name through another Registry creates
// a separate meta; other states reach an existing meta only through
// LocateExisting or ForkInto.
// Locate is referentially transparent per (arr, targetState) once fixed —
// calling it again for the same pair returns the identical object.
func (r *Registry) Locate(arr engine.Array, srcNode node.ID, txNumber uint64, targetStateID uint64, targetNode node.ID) *DistributedArray {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[arr.Name()]; ok {
		return existing
	}

	globalName := globalNameOf(arr.Name(), srcNode, txNumber)
	meta := &arrayMeta{globalName: globalName, size: arr.Size(), images: make(map[uint64]*DistributedArray)}

	img, ok := meta.images[targetStateID]
	if !ok {
		img = &DistributedArray{meta: meta, taintedLocalName: taintedName(globalName, targetNode), size: arr.Size()}
		meta.images[targetStateID] = img
	}
	r.byName[arr.Name()] = img
	r.filter.InsertUnique([]byte(arr.Name()))
	return img
}

// LocateExisting resolves a second (or later) state's view of an already-
// minted distributed array, without re-deriving its global name. Used by
// the receiver side of a transmission, which never knows the sender's
// original local array name.
func (r *Registry) LocateExisting(d *DistributedArray, targetStateID uint64, targetNode node.ID) *DistributedArray {
	d.meta.mu.Lock()
	defer d.meta.mu.Unlock()
	img, ok := d.meta.images[targetStateID]
	if !ok {
		img = &DistributedArray{meta: d.meta, taintedLocalName: taintedName(d.meta.globalName, targetNode), size: d.meta.size}
		d.meta.images[targetStateID] = img
	}
	r.mu.Lock()
	r.byName[img.taintedLocalName] = img
	r.filter.InsertUnique([]byte(img.taintedLocalName))
	r.mu.Unlock()
	return img
}

// ForkInto copies every distributed-array entry of r into child, pointing
// at the same shared metas — spec.md §4.B: "during state fork, for every
// distributed array known to the parent an equivalent entry for the child
// must appear in the child's registry, pointing at the same meta."
func (r *Registry) ForkInto(childStateID uint64, childNode node.ID, child *Registry) {
	r.mu.Lock()
	entries := make([]*DistributedArray, 0, len(r.byName))
	for _, d := range r.byName {
		entries = append(entries, d)
	}
	r.mu.Unlock()

	for _, d := range entries {
		child.LocateExisting(d, childStateID, childNode)
	}
}
