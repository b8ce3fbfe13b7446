package graph

// Edge is a directed edge between two vertices
type Edge[V comparable] struct {
	From V `json:"from"`
	To   V `json:"to"`
}

// Graph is a directed graph over comparable vertex identifiers.
//
// Vertices keep their insertion order, which is used as the tie-breaker by
// the ordering algorithms so results are reproducible for a fixed graph.
// A Graph is not safe for concurrent mutation; it is safe for concurrent
// reads once built.
type Graph[V comparable] struct {
	vertices []V
	index    map[V]int
	out      [][]int
	edges    map[[2]int]struct{}
}

// New creates an empty graph
func New[V comparable]() *Graph[V] {
	return &Graph[V]{
		index: make(map[V]int),
		edges: make(map[[2]int]struct{}),
	}
}

// AddVertex adds v if it is not already present
func (g *Graph[V]) AddVertex(v V) {
	if _, ok := g.index[v]; ok {
		return
	}
	g.index[v] = len(g.vertices)
	g.vertices = append(g.vertices, v)
	g.out = append(g.out, nil)
}

// AddEdge adds the edge from -> to, creating missing vertices.
// Duplicate edges are ignored.
func (g *Graph[V]) AddEdge(from, to V) {
	g.AddVertex(from)
	g.AddVertex(to)

	key := [2]int{g.index[from], g.index[to]}
	if _, ok := g.edges[key]; ok {
		return
	}
	g.edges[key] = struct{}{}
	g.out[key[0]] = append(g.out[key[0]], key[1])
}

// HasVertex reports whether v is part of the graph
func (g *Graph[V]) HasVertex(v V) bool {
	_, ok := g.index[v]
	return ok
}

// Vertices returns the vertices in insertion order
func (g *Graph[V]) Vertices() []V {
	out := make([]V, len(g.vertices))
	copy(out, g.vertices)
	return out
}

// Successors returns the direct successors of v in edge insertion order
func (g *Graph[V]) Successors(v V) []V {
	i, ok := g.index[v]
	if !ok {
		return nil
	}
	out := make([]V, 0, len(g.out[i]))
	for _, j := range g.out[i] {
		out = append(out, g.vertices[j])
	}
	return out
}

// Edges returns all edges grouped by source vertex in insertion order
func (g *Graph[V]) Edges() []Edge[V] {
	out := make([]Edge[V], 0, len(g.edges))
	for i, succ := range g.out {
		for _, j := range succ {
			out = append(out, Edge[V]{From: g.vertices[i], To: g.vertices[j]})
		}
	}
	return out
}

// Len returns the number of vertices
func (g *Graph[V]) Len() int {
	return len(g.vertices)
}
