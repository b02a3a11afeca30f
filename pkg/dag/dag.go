// Package dag provides graph algorithms over workflow definitions.
package dag

import (
	"errors"
	"fmt"

	"github.com/dukex/autoflow/pkg/models"
)

var (
	ErrCycle       = errors.New("graph contains a cycle")
	ErrUnknownNode = errors.New("edge references an unknown node")
	ErrDuplicateID = errors.New("duplicate node id")
	ErrSelfLoop    = errors.New("edge connects a node to itself")
)

// TopologicalOrder returns the node ids ordered so that for every edge u->v,
// u precedes v. Ties are broken by declaration order so the result is stable.
func TopologicalOrder(nodes []*models.Node, edges []*models.Edge) ([]string, error) {
	index := make(map[string]int, len(nodes))

	for i, node := range nodes {
		if _, exists := index[node.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, node.ID)
		}

		index[node.ID] = i
	}

	inDegree := make([]int, len(nodes))
	adjacency := make([][]int, len(nodes))

	for _, edge := range edges {
		source, ok := index[edge.Source]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, edge.Source)
		}

		target, ok := index[edge.Target]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, edge.Target)
		}

		if source == target {
			return nil, fmt.Errorf("%w: %s", ErrSelfLoop, edge.Source)
		}

		adjacency[source] = append(adjacency[source], target)
		inDegree[target]++
	}

	ready := make([]int, 0, len(nodes))

	for i := range nodes {
		if inDegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]string, 0, len(nodes))

	for len(ready) > 0 {
		// pick the lowest declaration index to keep the order deterministic
		best := 0
		for i := 1; i < len(ready); i++ {
			if ready[i] < ready[best] {
				best = i
			}
		}

		current := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		order = append(order, nodes[current].ID)

		for _, next := range adjacency[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, ErrCycle
	}

	return order, nil
}

// WaitNodesInParallelRegions returns the ids of wait nodes reachable from a
// branch node before the matching join closes the region.
func WaitNodesInParallelRegions(definition *models.WorkflowDefinition) []string {
	order, err := TopologicalOrder(definition.Nodes, definition.Edges)
	if err != nil {
		return nil
	}

	// depth[n] is the maximum number of open parallel regions on any path reaching n
	depth := make(map[string]int, len(order))

	var offending []string

	for _, nodeID := range order {
		node := definition.NodeByID(nodeID)
		current := depth[nodeID]

		if node.Type == models.NodeTypeJoin && current > 0 {
			current--
		}

		if node.Type == models.NodeTypeWait && current > 0 {
			offending = append(offending, nodeID)
		}

		outgoing := current
		if node.Type == models.NodeTypeBranch {
			outgoing++
		}

		for _, edge := range definition.OutgoingEdges(nodeID) {
			if outgoing > depth[edge.Target] {
				depth[edge.Target] = outgoing
			}
		}
	}

	return offending
}
