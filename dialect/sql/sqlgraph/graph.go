package sqlgraph

// Graph is a dependency graph over nodes of type K. Sort orders the nodes
// so that every node comes after the nodes it depends on; nodes without an
// ordering constraint keep their insertion order.
type Graph[K comparable] struct {
	nodes []K
	index map[K]int
	deps  [][]int // deps[i]: nodes that i depends on
}

// NewGraph returns an empty graph.
func NewGraph[K comparable]() *Graph[K] {
	return &Graph[K]{index: make(map[K]int)}
}

// Add adds n to the graph. Adding a node twice is a no-op.
func (g *Graph[K]) Add(n K) {
	if _, ok := g.index[n]; ok {
		return
	}
	g.index[n] = len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.deps = append(g.deps, nil)
}

// Has reports whether n was added.
func (g *Graph[K]) Has(n K) bool {
	_, ok := g.index[n]
	return ok
}

// Len returns the number of nodes.
func (g *Graph[K]) Len() int { return len(g.nodes) }

// Depend records that n must be ordered after on. Both nodes are added if
// missing.
func (g *Graph[K]) Depend(n, on K) {
	g.Add(n)
	g.Add(on)
	i, j := g.index[n], g.index[on]
	for _, d := range g.deps[i] {
		if d == j {
			return
		}
	}
	g.deps[i] = append(g.deps[i], j)
}

// Sort returns the nodes in dependency order. When the graph has cycles,
// the nodes that could not be ordered are returned as cyclic, in insertion
// order, and order holds the nodes sorted before the cycle was hit.
func (g *Graph[K]) Sort() (order, cyclic []K) {
	n := len(g.nodes)
	indegree := make([]int, n)
	dependents := make([][]int, n)
	for i, ds := range g.deps {
		indegree[i] = len(ds)
		for _, d := range ds {
			dependents[d] = append(dependents[d], i)
		}
	}
	var ready []int
	for i := range n {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	done := make([]bool, n)
	for len(ready) > 0 {
		// Lowest insertion index first keeps the order stable.
		m := 0
		for k := range ready {
			if ready[k] < ready[m] {
				m = k
			}
		}
		i := ready[m]
		ready = append(ready[:m], ready[m+1:]...)
		done[i] = true
		order = append(order, g.nodes[i])
		for _, d := range dependents[i] {
			if indegree[d]--; indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	for i, ok := range done {
		if !ok {
			cyclic = append(cyclic, g.nodes[i])
		}
	}
	return order, cyclic
}
