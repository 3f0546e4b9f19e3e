package callgraph

// VerifiedSet returns the ids of nodes that carry a verification annotation or
// are transitively called by one. Only resolved edges are followed. The set is
// computed on first use and cached for the lifetime of the graph.
func (g *Graph) VerifiedSet() map[string]bool {
	g.verifiedOnce.Do(func() {
		g.verified = g.propagate(g.opts.VerificationTags)
	})
	out := make(map[string]bool, len(g.verified))
	for id := range g.verified {
		out[id] = true
	}
	return out
}

// IsVerifiedReachable reports whether id is in the verified set.
func (g *Graph) IsVerifiedReachable(id string) bool {
	g.verifiedOnce.Do(func() {
		g.verified = g.propagate(g.opts.VerificationTags)
	})
	return g.verified[id]
}

// VerifiedSeeds returns, in node order, the nodes that carry a verification tag.
func (g *Graph) VerifiedSeeds() []string {
	tags := tagSet(g.opts.VerificationTags)
	var seeds []string
	for _, id := range g.order {
		if g.nodes[id].HasAnnotation(tags) {
			seeds = append(seeds, id)
		}
	}
	return seeds
}

// propagate runs a forward breadth-first search from every annotated node.
func (g *Graph) propagate(verificationTags []string) map[string]bool {
	tags := tagSet(verificationTags)
	reached := make(map[string]bool)
	var queue []string
	for _, id := range g.order {
		if g.nodes[id].HasAnnotation(tags) {
			reached[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range g.out[id] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}
	return reached
}

func tagSet(tags []string) map[string]bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	return set
}
