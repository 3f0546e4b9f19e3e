package callgraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput is returned when there is nothing to build a graph from.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNodeNotFound is returned by queries given an id that is not in the graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoPath is returned by ShortestPath when the target is unreachable.
	ErrNoPath = errors.New("no path")

	// ErrCycleDetected matches any *CycleError.
	ErrCycleDetected = errors.New("cycle detected")
)

// CycleError is returned by TopologicalOrder on a cyclic graph.
type CycleError struct {
	Nodes []string // Members of the offending strongly-connected component
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected among %s", strings.Join(e.Nodes, ", "))
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}
