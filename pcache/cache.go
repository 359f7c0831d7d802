// Package pcache implements the packet cache (spec.md §4.F): pending
// transmissions are staged keyed by packet_info, deduplicated against each
// other via a prefix trie over their payload byte atoms (two senders
// transmitting the same leading bytes to the same place share trie nodes),
// and committed in one pass — fanned out concurrently across leaves when
// the mapper in use supports phony packets.
package pcache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/knsymex/knsymex/expr"
	"github.com/knsymex/knsymex/node"
)

// ReceiverRef identifies the specific mapped target a packet is addressed
// to. Declared here (rather than imported from dmap) to keep the cache one
// layer below the mapper; dmap.StateRef already satisfies it structurally.
type ReceiverRef interface {
	ID() uint64
	Node() node.ID
}

// PacketInfo identifies one pending transmission: who is sending, to which
// node and receiver, at which destination address, as part of which
// transmission sequence number (spec.md §3's packet_info, scoped down to
// the fields the cache needs to key on and the transmit handler needs to
// resolve a receiver's memory).
type PacketInfo struct {
	SenderStateID uint64
	SenderNode    node.ID
	ReceiverNode  node.ID
	TxNumber      uint64
	// Receiver is the specific target FindTargets resolved this packet to;
	// more than one target can share ReceiverNode, so the node alone isn't
	// enough to resolve a unique byte store at commit time.
	Receiver ReceiverRef
	// DestMO is the receiver-side byte address translated payload atoms
	// get written to (spec.md §4.G step 3's packet_info.dest_mo).
	DestMO uint64
}

// atomKey gives two structurally identical expr.Node payload atoms the same
// string key, so the prefix trie actually merges repeated work instead of
// keying on pointer identity (every At() call returns distinct *expr.Node
// values even for the same logical read).
func atomKey(n *expr.Node) string {
	if n == nil {
		return "_"
	}
	switch n.Kind {
	case expr.KindConst:
		return fmt.Sprintf("c%d", n.Value)
	case expr.KindRead:
		idx := "?"
		if n.Index != nil && n.Index.Kind == expr.KindConst {
			idx = fmt.Sprintf("%d", n.Index.Value)
		}
		name := ""
		if n.Array != nil {
			name = n.Array.Name()
		}
		return fmt.Sprintf("r:%s[%s]", name, idx)
	default:
		k := fmt.Sprintf("%d(", n.Kind)
		for _, a := range n.Args {
			k += atomKey(a) + ","
		}
		return k + ")"
	}
}

type leaf struct {
	info    PacketInfo
	payload []*expr.Node
}

type trieNode struct {
	children map[string]*trieNode
	leaves   []*leaf
}

func newTrieNode() *trieNode { return &trieNode{children: make(map[string]*trieNode)} }

// CommitFunc performs the actual transmission for one pending packet
// (installing its translated payload and constraints on the receiver); the
// transmit handler (module G) supplies this.
type CommitFunc func(info PacketInfo, payload []*expr.Node) error

// Cache is owned by exactly one sender state (spec.md §5); it is not safe
// to share across states, but its own operations are internally
// synchronized since Commit may fan work out across goroutines.
type Cache struct {
	mu   sync.Mutex
	root *trieNode
}

func New() *Cache { return &Cache{root: newTrieNode()} }

// Insert stages a pending transmission. It reports whether this exact
// (info, payload-shape) pair is new; a false return means an
// indistinguishable transmission is already pending and the caller may
// skip re-deriving its constraints.
func (c *Cache) Insert(info PacketInfo, payload []*expr.Node) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.root
	for _, atom := range payload {
		k := atomKey(atom)
		next, ok := cur.children[k]
		if !ok {
			next = newTrieNode()
			cur.children[k] = next
		}
		cur = next
	}
	for _, l := range cur.leaves {
		if l.info == info {
			return false
		}
	}
	cur.leaves = append(cur.leaves, &leaf{info: info, payload: payload})
	return true
}

// Pending reports how many distinct transmissions are currently staged.
func (c *Cache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(collectLeaves(c.root))
}

// Commit flushes every staged transmission through fn and clears the cache.
// When phonySupported is true (the mapper in use implements PhonyMap), the
// leaves are committed concurrently via an errgroup, one goroutine per
// leaf — otherwise they run in trie-discovery order, sequentially, so a
// mapper without phony-packet support never observes transmissions racing.
func (c *Cache) Commit(ctx context.Context, phonySupported bool, fn CommitFunc) error {
	c.mu.Lock()
	leaves := collectLeaves(c.root)
	c.root = newTrieNode()
	c.mu.Unlock()

	if !phonySupported {
		for _, l := range leaves {
			if err := fn(l.info, l.payload); err != nil {
				return err
			}
		}
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	for _, l := range leaves {
		l := l
		g.Go(func() error { return fn(l.info, l.payload) })
	}
	return g.Wait()
}

func collectLeaves(n *trieNode) []*leaf {
	out := append([]*leaf(nil), n.leaves...)
	for _, child := range n.children {
		out = append(out, collectLeaves(child)...)
	}
	return out
}
