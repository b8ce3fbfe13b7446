package graph

// Reachable reports whether at least one directed path leads from one
// vertex to the other. A vertex always reaches itself.
func Reachable[V comparable](g *Graph[V], from, to V) bool {
	src, ok := g.index[from]
	if !ok {
		return false
	}
	dst, ok := g.index[to]
	if !ok {
		return false
	}

	seen := g.reach(src)
	return seen[dst]
}

// OrderedSpan returns a topological ordering of the vertices reachable from
// from, beginning with from.
//
// Among the vertices ready at each step the one inserted first is taken,
// except that to is held back for as long as any other vertex is ready, so
// it comes last whenever the edges allow it. The result is empty when either
// vertex is missing or the reachable region contains a cycle.
func OrderedSpan[V comparable](g *Graph[V], from, to V) []V {
	src, ok := g.index[from]
	if !ok {
		return nil
	}
	dst, ok := g.index[to]
	if !ok {
		return nil
	}

	region := g.reach(src)

	indeg := make(map[int]int, len(region))
	for u := range region {
		if _, ok := indeg[u]; !ok {
			indeg[u] = 0
		}
		for _, v := range g.out[u] {
			if region[v] {
				indeg[v]++
			}
		}
	}

	// from is the root of the region; an incoming edge means a cycle through it
	if indeg[src] != 0 {
		return nil
	}

	ready := []int{src}
	order := make([]V, 0, len(region))

	for len(ready) > 0 {
		pick := 0
		for i := 1; i < len(ready); i++ {
			if better(ready[i], ready[pick], dst) {
				pick = i
			}
		}
		u := ready[pick]
		ready = append(ready[:pick], ready[pick+1:]...)
		order = append(order, g.vertices[u])

		for _, v := range g.out[u] {
			if !region[v] {
				continue
			}
			indeg[v]--
			if indeg[v] == 0 {
				ready = append(ready, v)
			}
		}
	}

	if len(order) != len(region) {
		return nil
	}

	return order
}

// better reports whether candidate a should be scheduled before b
func better(a, b, deferred int) bool {
	if a == deferred {
		return false
	}
	if b == deferred {
		return true
	}
	return a < b
}

// reach returns the set of vertex indices reachable from src, src included
func (g *Graph[V]) reach(src int) map[int]bool {
	seen := map[int]bool{src: true}
	queue := []int{src}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range g.out[u] {
			if !seen[v] {
				seen[v] = true
				queue = append(queue, v)
			}
		}
	}
	return seen
}
