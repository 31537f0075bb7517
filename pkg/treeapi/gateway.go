// Package treeapi is the CRUD surface for navigation trees, nodes and edges.
package treeapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tcmartin/flowconsole/pkg/models"
	"github.com/tcmartin/flowconsole/pkg/utils"
)

// ErrNotFound is returned when the host does not know the resource
var ErrNotFound = errors.New("resource not found")

// TreeGateway is the normalized tree CRUD contract. Saves create when the
// entity has no ID and update otherwise; they return the host's canonical copy.
type TreeGateway interface {
	SaveTree(ctx context.Context, tree *models.NavigationTree) (*models.NavigationTree, error)
	SaveNode(ctx context.Context, treeID string, node *models.NavigationNode) (*models.NavigationNode, error)
	SaveEdge(ctx context.Context, treeID string, edge *models.NavigationEdge) (*models.NavigationEdge, error)
	DeleteNode(ctx context.Context, treeID, nodeID string) error
	DeleteEdge(ctx context.Context, treeID, edgeID string) error
	LoadFull(ctx context.Context, treeID string, flags map[string]string) (*models.FullTree, error)
	SaveBatch(ctx context.Context, treeID string, batch models.BatchSaveRequest) error
}

// Gateway implements TreeGateway over the host HTTP API
type Gateway struct {
	http *utils.HTTPClient
}

// NewGateway creates a gateway
func NewGateway(httpClient *utils.HTTPClient) *Gateway {
	return &Gateway{http: httpClient}
}

// SaveTree creates or updates tree metadata
func (g *Gateway) SaveTree(ctx context.Context, tree *models.NavigationTree) (*models.NavigationTree, error) {
	method, path := http.MethodPost, "/trees"
	if tree.ID != "" {
		method, path = http.MethodPut, treePath(tree.ID)
	}

	resp, err := g.call(ctx, method, path, nil, tree)
	if err != nil {
		return nil, fmt.Errorf("failed to save tree: %w", err)
	}
	if resp.Tree == nil {
		return nil, fmt.Errorf("failed to save tree: host returned no tree")
	}
	return resp.Tree, nil
}

// SaveNode creates or updates a node
func (g *Gateway) SaveNode(ctx context.Context, treeID string, node *models.NavigationNode) (*models.NavigationNode, error) {
	method, path := http.MethodPost, treePath(treeID)+"/nodes"
	if node.ID != "" {
		method, path = http.MethodPut, path+"/"+url.PathEscape(node.ID)
	}

	resp, err := g.call(ctx, method, path, nil, node)
	if err != nil {
		return nil, fmt.Errorf("failed to save node: %w", err)
	}
	if resp.Node == nil {
		return nil, fmt.Errorf("failed to save node: host returned no node")
	}
	return resp.Node, nil
}

// SaveEdge creates or updates an edge
func (g *Gateway) SaveEdge(ctx context.Context, treeID string, edge *models.NavigationEdge) (*models.NavigationEdge, error) {
	method, path := http.MethodPost, treePath(treeID)+"/edges"
	if edge.ID != "" {
		method, path = http.MethodPut, path+"/"+url.PathEscape(edge.ID)
	}

	resp, err := g.call(ctx, method, path, nil, edge)
	if err != nil {
		return nil, fmt.Errorf("failed to save edge: %w", err)
	}
	if resp.Edge == nil {
		return nil, fmt.Errorf("failed to save edge: host returned no edge")
	}
	return resp.Edge, nil
}

// DeleteNode removes a node and the edges touching it
func (g *Gateway) DeleteNode(ctx context.Context, treeID, nodeID string) error {
	if _, err := g.call(ctx, http.MethodDelete, treePath(treeID)+"/nodes/"+url.PathEscape(nodeID), nil, nil); err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	return nil
}

// DeleteEdge removes an edge
func (g *Gateway) DeleteEdge(ctx context.Context, treeID, edgeID string) error {
	if _, err := g.call(ctx, http.MethodDelete, treePath(treeID)+"/edges/"+url.PathEscape(edgeID), nil, nil); err != nil {
		return fmt.Errorf("failed to delete edge: %w", err)
	}
	return nil
}

// LoadFull returns the tree with all nodes and edges in one request
func (g *Gateway) LoadFull(ctx context.Context, treeID string, flags map[string]string) (*models.FullTree, error) {
	resp, err := g.call(ctx, http.MethodGet, treePath(treeID)+"/full", flags, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load tree %s: %w", treeID, err)
	}
	if resp.Tree == nil {
		return nil, fmt.Errorf("failed to load tree %s: host returned no tree", treeID)
	}

	full := &models.FullTree{Tree: *resp.Tree, Nodes: resp.Nodes, Edges: resp.Edges}
	if full.Nodes == nil {
		full.Nodes = []models.NavigationNode{}
	}
	if full.Edges == nil {
		full.Edges = []models.NavigationEdge{}
	}
	return full, nil
}

// SaveBatch writes additions, updates and deletions in one request. The
// caller computes the full delta; nothing is diffed here.
func (g *Gateway) SaveBatch(ctx context.Context, treeID string, batch models.BatchSaveRequest) error {
	if _, err := g.call(ctx, http.MethodPost, treePath(treeID)+"/batch", nil, batch); err != nil {
		return fmt.Errorf("failed to save tree %s: %w", treeID, err)
	}
	return nil
}

func (g *Gateway) call(ctx context.Context, method, path string, query map[string]string, body interface{}) (*models.TreeResponse, error) {
	var resp models.TreeResponse
	httpResp, err := g.http.Do(ctx, &utils.HTTPRequest{
		Method:      method,
		Path:        path,
		QueryParams: query,
		Body:        body,
	}, &resp)
	if httpResp != nil && httpResp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", httpResp.StatusCode)
		}
		return nil, errors.New(msg)
	}
	return &resp, nil
}

func treePath(treeID string) string {
	return "/trees/" + url.PathEscape(treeID)
}
