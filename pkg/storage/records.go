package storage

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tcmartin/flowconsole/pkg/models"
)

// Errors returned by the storage providers
var (
	ErrTreeNotFound      = errors.New("tree not found")
	ErrNodeNotFound      = errors.New("node not found")
	ErrEdgeNotFound      = errors.New("edge not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrLockHeld          = errors.New("tree is locked by another session")
	ErrInvalidEdge       = errors.New("invalid edge")
	ErrInvalidLock       = errors.New("invalid lock request")
)

func prepareTree(tree models.NavigationTree, now time.Time) models.NavigationTree {
	if tree.ID == "" {
		tree.ID = uuid.New().String()
	}
	if tree.CreatedAt.IsZero() {
		tree.CreatedAt = now
	}
	tree.UpdatedAt = now
	return tree
}

func prepareNode(treeID string, node models.NavigationNode, now time.Time) models.NavigationNode {
	if node.ID == "" {
		node.ID = uuid.New().String()
	}
	if node.NodeID == "" {
		node.NodeID = node.ID
	}
	node.TreeID = treeID
	node.UpdatedAt = now
	return node
}

// prepareEdge enforces exactly one default action set. An edge with a
// single action set and no default gets that set as its default.
func prepareEdge(treeID string, edge models.NavigationEdge, now time.Time) (models.NavigationEdge, error) {
	if edge.SourceNodeID == "" || edge.TargetNodeID == "" {
		return edge, fmt.Errorf("%w: source and target nodes are required", ErrInvalidEdge)
	}
	if len(edge.ActionSets) == 0 {
		return edge, fmt.Errorf("%w: at least one action set is required", ErrInvalidEdge)
	}

	seen := make(map[string]bool, len(edge.ActionSets))
	for _, set := range edge.ActionSets {
		if set.ID == "" {
			return edge, fmt.Errorf("%w: action set without id", ErrInvalidEdge)
		}
		if seen[set.ID] {
			return edge, fmt.Errorf("%w: duplicate action set %q", ErrInvalidEdge, set.ID)
		}
		seen[set.ID] = true
	}

	if edge.DefaultActionSetID == "" {
		if len(edge.ActionSets) > 1 {
			return edge, fmt.Errorf("%w: default action set is required", ErrInvalidEdge)
		}
		edge.DefaultActionSetID = edge.ActionSets[0].ID
	}
	if !seen[edge.DefaultActionSetID] {
		return edge, fmt.Errorf("%w: default action set %q not found", ErrInvalidEdge, edge.DefaultActionSetID)
	}

	if edge.ID == "" {
		edge.ID = uuid.New().String()
	}
	if edge.EdgeID == "" {
		edge.EdgeID = edge.ID
	}
	edge.TreeID = treeID
	edge.UpdatedAt = now
	return edge, nil
}

func validateLock(lock models.TreeLock) error {
	if lock.TreeID == "" || lock.SessionID == "" {
		return fmt.Errorf("%w: tree_id and session_id are required", ErrInvalidLock)
	}
	return nil
}

func sortNodes(nodes []models.NavigationNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
}

func sortEdges(edges []models.NavigationEdge) {
	sort.Slice(edges, func(i, j int) bool { return edges[i].EdgeID < edges[j].EdgeID })
}

func sortExecutions(records []models.ExecutionRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].StartTime.After(records[j].StartTime) })
}
