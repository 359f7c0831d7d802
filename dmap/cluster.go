package dmap

import (
	"fmt"
	"sync"

	"github.com/teris-io/shortid"

	"github.com/knsymex/knsymex/knstats"
)

// clusterIndex maintains the reachability graph of spec.md §4.E.4's
// clustering variant over VStates: Super.Map records an edge between the
// sender's VState and the dest VState it reached, and a named cluster is a
// set of VStates joined through such edges. Cluster ids are opaque short strings (the
// teacher's cluster maps use a similar opaque-id convention for node-group
// identity) rather than small integers, so a cluster surviving a merge or
// split keeps a stable identity instead of renumbering.
type clusterIndex struct {
	mu        sync.Mutex
	clusterOf map[*VState]string
	edges     map[*VState]map[*VState]bool
}

func newClusterIndex() *clusterIndex {
	return &clusterIndex{
		clusterOf: make(map[*VState]string),
		edges:     make(map[*VState]map[*VState]bool),
	}
}

func (c *clusterIndex) assign(vs *VState) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.clusterOf[vs]; ok {
		return id
	}
	id := c.freshID(vs)
	c.clusterOf[vs] = id
	c.refreshMetric()
	return id
}

func (c *clusterIndex) freshID(seed *VState) string {
	id, err := shortid.Generate()
	if err != nil {
		id = fmt.Sprintf("c%p", seed)
	}
	return id
}

func (c *clusterIndex) addEdgeLocked(a, b *VState) {
	if c.edges[a] == nil {
		c.edges[a] = make(map[*VState]bool)
	}
	if c.edges[b] == nil {
		c.edges[b] = make(map[*VState]bool)
	}
	c.edges[a][b] = true
	c.edges[b][a] = true
}

// merge implements spec.md §4.E.4's addEdge(state, dstate): record the
// reachability edge between a and b and, if they sit in different
// clusters, fold the smaller cluster into the larger one.
func (c *clusterIndex) merge(a, b *VState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a == nil || b == nil {
		return
	}
	c.addEdgeLocked(a, b)

	idA, ok := c.clusterOf[a]
	if !ok {
		return
	}
	idB, ok := c.clusterOf[b]
	if !ok || idA == idB {
		return
	}

	sizeA, sizeB := 0, 0
	for _, id := range c.clusterOf {
		switch id {
		case idA:
			sizeA++
		case idB:
			sizeB++
		}
	}
	from, to := idB, idA
	if sizeA < sizeB {
		from, to = idA, idB
	}
	for vs, id := range c.clusterOf {
		if id == from {
			c.clusterOf[vs] = to
		}
	}
	c.refreshMetric()
}

// removeEdge implements spec.md §4.E.4's removeEdge: drop the reachability
// edge between a and b, then BFS from a looking for b. If b is still
// reachable some other way the cluster stays intact; otherwise the smaller
// of the two resulting halves is split off under a freshly issued cluster
// id, leaving the larger half on the original id.
func (c *clusterIndex) removeEdge(a, b *VState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a == nil || b == nil {
		return
	}
	if c.edges[a] != nil {
		delete(c.edges[a], b)
	}
	if c.edges[b] != nil {
		delete(c.edges[b], a)
	}

	id, ok := c.clusterOf[a]
	if !ok {
		return
	}
	reachable := c.bfsLocked(a)
	if reachable[b] {
		return
	}

	var compA, compB []*VState
	for vs, cid := range c.clusterOf {
		if cid != id {
			continue
		}
		if reachable[vs] {
			compA = append(compA, vs)
		} else {
			compB = append(compB, vs)
		}
	}
	if len(compB) == 0 {
		return
	}
	smaller := compB
	if len(compA) < len(compB) {
		smaller = compA
	}
	newID := c.freshID(smaller[0])
	for _, vs := range smaller {
		c.clusterOf[vs] = newID
	}
	c.refreshMetric()
}

func (c *clusterIndex) bfsLocked(start *VState) map[*VState]bool {
	seen := map[*VState]bool{start: true}
	queue := []*VState{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for n := range c.edges[cur] {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return seen
}

func (c *clusterIndex) drop(vs *VState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clusterOf, vs)
	delete(c.edges, vs)
	for _, peers := range c.edges {
		delete(peers, vs)
	}
	c.refreshMetric()
}

func (c *clusterIndex) refreshMetric() {
	distinct := make(map[string]bool)
	for _, id := range c.clusterOf {
		distinct[id] = true
	}
	knstats.ActiveClusters.Set(float64(len(distinct)))
}
