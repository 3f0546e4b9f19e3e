package callgraph

// stronglyConnected returns the strongly-connected components of the graph
// given by order and succ, using Tarjan's algorithm with an explicit stack so
// deep call chains cannot overflow the goroutine stack. Components come out in
// reverse topological order of the condensation.
func stronglyConnected(order []string, succ map[string][]string) [][]string {
	index := 0
	nodeIndex := make(map[string]int, len(order))
	lowLink := make(map[string]int, len(order))
	onStack := make(map[string]bool, len(order))
	var stack []string
	var comps [][]string

	type frame struct {
		id   string
		next int // Next successor to visit
	}

	for _, root := range order {
		if _, visited := nodeIndex[root]; visited {
			continue
		}

		calls := []frame{{id: root}}
		nodeIndex[root] = index
		lowLink[root] = index
		index++
		stack = append(stack, root)
		onStack[root] = true

		for len(calls) > 0 {
			f := &calls[len(calls)-1]
			succs := succ[f.id]

			if f.next < len(succs) {
				w := succs[f.next]
				f.next++
				if _, visited := nodeIndex[w]; !visited {
					nodeIndex[w] = index
					lowLink[w] = index
					index++
					stack = append(stack, w)
					onStack[w] = true
					calls = append(calls, frame{id: w})
				} else if onStack[w] && nodeIndex[w] < lowLink[f.id] {
					lowLink[f.id] = nodeIndex[w]
				}
				continue
			}

			// All successors done: pop the frame and close the component if root.
			v := f.id
			calls = calls[:len(calls)-1]
			if len(calls) > 0 {
				parent := calls[len(calls)-1].id
				if lowLink[v] < lowLink[parent] {
					lowLink[parent] = lowLink[v]
				}
			}
			if lowLink[v] == nodeIndex[v] {
				var comp []string
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					comp = append(comp, w)
					if w == v {
						break
					}
				}
				comps = append(comps, comp)
			}
		}
	}
	return comps
}
