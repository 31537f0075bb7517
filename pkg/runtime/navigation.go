package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tcmartin/flowconsole/pkg/models"
	"github.com/tcmartin/flowconsole/pkg/storage"
)

// PositionTracker remembers the node each device is on, per tree
type PositionTracker struct {
	mu        sync.RWMutex
	positions map[string]string
}

// NewPositionTracker creates an empty tracker
func NewPositionTracker() *PositionTracker {
	return &PositionTracker{positions: make(map[string]string)}
}

func positionKey(deviceID, treeID string) string {
	return deviceID + "|" + treeID
}

// Get returns the node the device is on in a tree
func (p *PositionTracker) Get(deviceID, treeID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	node, ok := p.positions[positionKey(deviceID, treeID)]
	return node, ok
}

// Set records the node the device is on in a tree
func (p *PositionTracker) Set(deviceID, treeID, nodeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[positionKey(deviceID, treeID)] = nodeID
}

// FindPath returns the edges of a shortest path from one node to another.
// Nodes are identified by NodeID. An empty path means from == to.
func FindPath(edges []models.NavigationEdge, from, to string) ([]models.NavigationEdge, bool) {
	if from == to {
		return nil, true
	}

	outgoing := make(map[string][]models.NavigationEdge)
	for _, e := range edges {
		outgoing[e.SourceNodeID] = append(outgoing[e.SourceNodeID], e)
	}

	via := map[string]models.NavigationEdge{}
	visited := map[string]bool{from: true}
	queue := []string{from}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		for _, e := range outgoing[node] {
			if visited[e.TargetNodeID] {
				continue
			}
			visited[e.TargetNodeID] = true
			via[e.TargetNodeID] = e

			if e.TargetNodeID == to {
				var path []models.NavigationEdge
				for n := to; n != from; n = via[n].SourceNodeID {
					path = append([]models.NavigationEdge{via[n]}, path...)
				}
				return path, true
			}
			queue = append(queue, e.TargetNodeID)
		}
	}
	return nil, false
}

// runNavigation moves the device to params.target_node_id. The start is the
// tracked position, then params.from_node_id, then the tree root.
func (r *Executor) runNavigation(ctx context.Context, job models.ExecutionJob, exec *execution) (*models.NavigationResult, error) {
	target, _ := job.Params["target_node_id"].(string)

	full, err := r.trees.GetFullTree(job.TreeID)
	if err != nil {
		if errors.Is(err, storage.ErrTreeNotFound) {
			return nil, fmt.Errorf("tree %s not found", job.TreeID)
		}
		return nil, err
	}

	start, ok := r.positions.Get(job.DeviceID, job.TreeID)
	if !ok {
		start, _ = job.Params["from_node_id"].(string)
	}
	if start == "" {
		start = full.Tree.RootNodeID
	}

	result := &models.NavigationResult{}
	if start == "" {
		result.Error = "current position of the device is unknown"
		exec.log(r.clock, "error", "navigation", result.Error)
		result.ExecutionLogs = exec.text()
		return result, nil
	}

	path, found := FindPath(full.Edges, start, target)
	if !found {
		result.Error = fmt.Sprintf("no path from %s to %s", start, target)
		result.FinalPositionNodeID = start
		exec.log(r.clock, "error", "navigation", result.Error)
		result.ExecutionLogs = exec.text()
		return result, nil
	}

	result.PathLength = len(path)
	exec.log(r.clock, "info", "navigation", fmt.Sprintf("path from %s to %s has %d transitions", start, target, len(path)))

	position := start
	for _, edge := range path {
		scope := fmt.Sprintf("%s->%s", edge.SourceNodeID, edge.TargetNodeID)

		set, ok := edge.DefaultActionSet()
		if !ok {
			result.Error = fmt.Sprintf("edge %s has no default action set", scope)
			break
		}

		steps, _, err := r.runActionSteps(ctx, job.DeviceID, scope, set.Actions, exec)
		if err != nil {
			return nil, err
		}
		if passed(steps) != len(set.Actions) {
			if len(set.RetryActions) == 0 {
				result.Error = fmt.Sprintf("transition %s failed", scope)
				break
			}
			exec.log(r.clock, "warning", scope, "running retry actions")
			retries, _, err := r.runActionSteps(ctx, job.DeviceID, scope, set.RetryActions, exec)
			if err != nil {
				return nil, err
			}
			if passed(retries) != len(set.RetryActions) {
				result.Error = fmt.Sprintf("transition %s failed after retry", scope)
				break
			}
		}

		if edge.FinalWaitTime > 0 {
			if err := r.clock.Sleep(ctx, time.Duration(edge.FinalWaitTime)*time.Millisecond); err != nil {
				return nil, err
			}
		}

		position = edge.TargetNodeID
		r.positions.Set(job.DeviceID, job.TreeID, position)
		result.TransitionsExecuted++
	}

	// The start counts as reached even when nothing had to move
	r.positions.Set(job.DeviceID, job.TreeID, position)

	result.FinalPositionNodeID = position
	result.Success = result.Error == ""
	if result.Success {
		result.Message = fmt.Sprintf("navigated to %s in %d transitions", target, result.TransitionsExecuted)
	}
	exec.log(r.clock, "info", "navigation", fmt.Sprintf("device at %s", position))
	result.ExecutionLogs = exec.text()
	return result, nil
}
