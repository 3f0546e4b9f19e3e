package callgraph

import (
	"fmt"
	"slices"
)

// ReachableFrom returns the nodes reachable from id over resolved edges, in
// breadth-first discovery order. The start node is included only when it can
// reach itself through a cycle. Edge multiplicity is irrelevant.
func (g *Graph) ReachableFrom(id string) ([]string, error) {
	if !g.HasNode(id) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	visited := map[string]bool{}
	var out []string
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.out[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	return out, nil
}

// ShortestPath returns a minimal-edge path from a to b, both ends included.
// Ties are broken by edge insertion order. ErrNoPath is returned when b is
// unreachable from a.
func (g *Graph) ShortestPath(a, b string) ([]string, error) {
	for _, id := range []string{a, b} {
		if !g.HasNode(id) {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
	}
	if a == b {
		return []string{a}, nil
	}

	parent := map[string]string{a: ""}
	queue := []string{a}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.out[cur] {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			if next == b {
				path := []string{b}
				for p := cur; p != ""; p = parent[p] {
					path = append(path, p)
				}
				slices.Reverse(path)
				return path, nil
			}
			queue = append(queue, next)
		}
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrNoPath, a, b)
}

// TopologicalOrder returns every node such that each caller precedes its
// callees. Direct self-calls are ignored. If the graph contains a cycle of two
// or more nodes the result is nil and the error is a *CycleError naming that
// cycle's members.
func (g *Graph) TopologicalOrder() ([]string, error) {
	for _, c := range g.cycles {
		if len(c) > 1 {
			return nil, &CycleError{Nodes: slices.Clone(c)}
		}
	}

	indegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		for _, next := range g.out[id] {
			if next != id {
				indegree[next]++
			}
		}
	}

	var queue []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(g.order))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, next := range g.out[cur] {
			if next == cur {
				continue
			}
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return order, nil
}
