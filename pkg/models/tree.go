package models

import "time"

// NavigationTree is the metadata of a tree (one per user interface)
type NavigationTree struct {
	ID              string                 `json:"id" yaml:"id"`
	UserInterfaceID string                 `json:"userinterface_id" yaml:"userinterface_id"`
	Name            string                 `json:"name" yaml:"name"`
	ParentTreeID    string                 `json:"parent_tree_id,omitempty" yaml:"parent_tree_id,omitempty"`
	ParentNodeID    string                 `json:"parent_node_id,omitempty" yaml:"parent_node_id,omitempty"`
	RootNodeID      string                 `json:"root_node_id,omitempty" yaml:"root_node_id,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt       time.Time              `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// NavigationNode is a screen of the interface
type NavigationNode struct {
	ID        string                 `json:"id,omitempty" yaml:"id,omitempty"`
	TreeID    string                 `json:"tree_id" yaml:"tree_id"`
	NodeID    string                 `json:"node_id" yaml:"node_id"`
	Label     string                 `json:"label" yaml:"label"`
	NodeType  string                 `json:"node_type,omitempty" yaml:"node_type,omitempty"`
	ParentIDs []string               `json:"parent_ids,omitempty" yaml:"parent_ids,omitempty"`
	PositionX float64                `json:"position_x" yaml:"position_x"`
	PositionY float64                `json:"position_y" yaml:"position_y"`
	Data      map[string]interface{} `json:"data,omitempty" yaml:"data,omitempty"`
	UpdatedAt time.Time              `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Action is one executable step of an action set
type Action struct {
	Command string                 `json:"command" yaml:"command"`
	Params  map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
}

// ActionSet is a named ordered group of actions attached to an edge
type ActionSet struct {
	ID           string   `json:"id" yaml:"id"`
	Label        string   `json:"label,omitempty" yaml:"label,omitempty"`
	Actions      []Action `json:"actions" yaml:"actions"`
	RetryActions []Action `json:"retry_actions,omitempty" yaml:"retry_actions,omitempty"`
}

// NavigationEdge is a transition between two nodes
type NavigationEdge struct {
	ID                 string                 `json:"id,omitempty" yaml:"id,omitempty"`
	TreeID             string                 `json:"tree_id" yaml:"tree_id"`
	EdgeID             string                 `json:"edge_id" yaml:"edge_id"`
	SourceNodeID       string                 `json:"source_node_id" yaml:"source_node_id"`
	TargetNodeID       string                 `json:"target_node_id" yaml:"target_node_id"`
	ActionSets         []ActionSet            `json:"action_sets" yaml:"action_sets"`
	DefaultActionSetID string                 `json:"default_action_set_id" yaml:"default_action_set_id"`
	FinalWaitTime      int                    `json:"final_wait_time,omitempty" yaml:"final_wait_time,omitempty"`
	Data               map[string]interface{} `json:"data,omitempty" yaml:"data,omitempty"`
	UpdatedAt          time.Time              `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// DefaultActionSet returns the action set designated as default
func (e NavigationEdge) DefaultActionSet() (ActionSet, bool) {
	for _, set := range e.ActionSets {
		if set.ID == e.DefaultActionSetID {
			return set, true
		}
	}
	return ActionSet{}, false
}

// FullTree is a tree with all its nodes and edges
type FullTree struct {
	Tree  NavigationTree   `json:"tree" yaml:"tree"`
	Nodes []NavigationNode `json:"nodes" yaml:"nodes"`
	Edges []NavigationEdge `json:"edges" yaml:"edges"`
}

// BatchSaveRequest is the body of POST /trees/{id}/batch
type BatchSaveRequest struct {
	Nodes          []NavigationNode `json:"nodes"`
	Edges          []NavigationEdge `json:"edges"`
	DeletedNodeIDs []string         `json:"deleted_node_ids"`
	DeletedEdgeIDs []string         `json:"deleted_edge_ids"`
}

// TreeResponse is the envelope of every tree endpoint
type TreeResponse struct {
	Success bool             `json:"success"`
	Tree    *NavigationTree  `json:"tree,omitempty"`
	Nodes   []NavigationNode `json:"nodes,omitempty"`
	Edges   []NavigationEdge `json:"edges,omitempty"`
	Node    *NavigationNode  `json:"node,omitempty"`
	Edge    *NavigationEdge  `json:"edge,omitempty"`
	Error   string           `json:"error,omitempty"`
}
