package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tcmartin/flowconsole/pkg/logging"
	"github.com/tcmartin/flowconsole/pkg/models"
	"github.com/tcmartin/flowconsole/pkg/storage"
)

// treeError maps store errors to HTTP statuses
func (s *Server) treeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrTreeNotFound),
		errors.Is(err, storage.ErrNodeNotFound),
		errors.Is(err, storage.ErrEdgeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidEdge):
		status = http.StatusBadRequest
	default:
		s.logger.Error("Tree store failure", logging.Err(err))
	}
	writeJSON(w, status, models.TreeResponse{Error: err.Error()})
}

// handleListTrees returns the metadata of every tree
func (s *Server) handleListTrees(w http.ResponseWriter, r *http.Request) {
	trees, err := s.trees.ListTrees()
	if err != nil {
		s.treeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "trees": trees})
}

// handleCreateTree creates a tree
func (s *Server) handleCreateTree(w http.ResponseWriter, r *http.Request) {
	var tree models.NavigationTree
	if err := decodeBody(r, &tree); err != nil {
		writeJSON(w, http.StatusBadRequest, models.TreeResponse{Error: err.Error()})
		return
	}
	tree.ID = ""

	saved, err := s.trees.SaveTree(tree)
	if err != nil {
		s.treeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.TreeResponse{Success: true, Tree: &saved})
}

// handleGetTree returns the metadata of a tree
func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.trees.GetTree(mux.Vars(r)["id"])
	if err != nil {
		s.treeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.TreeResponse{Success: true, Tree: &tree})
}

// handleUpdateTree replaces the metadata of an existing tree
func (s *Server) handleUpdateTree(w http.ResponseWriter, r *http.Request) {
	treeID := mux.Vars(r)["id"]

	var tree models.NavigationTree
	if err := decodeBody(r, &tree); err != nil {
		writeJSON(w, http.StatusBadRequest, models.TreeResponse{Error: err.Error()})
		return
	}
	if _, err := s.trees.GetTree(treeID); err != nil {
		s.treeError(w, err)
		return
	}
	if !s.checkEditable(w, r, treeID) {
		return
	}
	tree.ID = treeID

	saved, err := s.trees.SaveTree(tree)
	if err != nil {
		s.treeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.TreeResponse{Success: true, Tree: &saved})
}

// handleGetFullTree returns a tree with its nodes and edges. Query flags
// only shape the client cache key and are accepted as is.
func (s *Server) handleGetFullTree(w http.ResponseWriter, r *http.Request) {
	full, err := s.trees.GetFullTree(mux.Vars(r)["id"])
	if err != nil {
		s.treeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.TreeResponse{
		Success: true,
		Tree:    &full.Tree,
		Nodes:   full.Nodes,
		Edges:   full.Edges,
	})
}

// handleSaveBatch applies a batch and returns the resulting tree
func (s *Server) handleSaveBatch(w http.ResponseWriter, r *http.Request) {
	treeID := mux.Vars(r)["id"]

	var batch models.BatchSaveRequest
	if err := decodeBody(r, &batch); err != nil {
		writeJSON(w, http.StatusBadRequest, models.TreeResponse{Error: err.Error()})
		return
	}
	if !s.checkEditable(w, r, treeID) {
		return
	}

	if err := s.trees.SaveBatch(treeID, batch); err != nil {
		s.treeError(w, err)
		return
	}

	full, err := s.trees.GetFullTree(treeID)
	if err != nil {
		s.treeError(w, err)
		return
	}
	s.logger.Info("Tree batch saved",
		logging.F("tree_id", treeID),
		logging.F("nodes", len(batch.Nodes)),
		logging.F("edges", len(batch.Edges)))
	writeJSON(w, http.StatusOK, models.TreeResponse{
		Success: true,
		Tree:    &full.Tree,
		Nodes:   full.Nodes,
		Edges:   full.Edges,
	})
}

// handleSaveNode creates a node (POST) or updates the node in the path (PUT)
func (s *Server) handleSaveNode(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	treeID := vars["id"]

	var node models.NavigationNode
	if err := decodeBody(r, &node); err != nil {
		writeJSON(w, http.StatusBadRequest, models.TreeResponse{Error: err.Error()})
		return
	}
	if !s.checkEditable(w, r, treeID) {
		return
	}
	node.ID = vars["itemId"]

	saved, err := s.trees.SaveNode(treeID, node)
	if err != nil {
		s.treeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.TreeResponse{Success: true, Node: &saved})
}

// handleDeleteNode removes a node and its edges
func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !s.checkEditable(w, r, vars["id"]) {
		return
	}
	if err := s.trees.DeleteNode(vars["id"], vars["itemId"]); err != nil {
		s.treeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.TreeResponse{Success: true})
}

// handleSaveEdge creates an edge (POST) or updates the edge in the path (PUT)
func (s *Server) handleSaveEdge(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	treeID := vars["id"]

	var edge models.NavigationEdge
	if err := decodeBody(r, &edge); err != nil {
		writeJSON(w, http.StatusBadRequest, models.TreeResponse{Error: err.Error()})
		return
	}
	if !s.checkEditable(w, r, treeID) {
		return
	}
	edge.ID = vars["itemId"]

	saved, err := s.trees.SaveEdge(treeID, edge)
	if err != nil {
		s.treeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.TreeResponse{Success: true, Edge: &saved})
}

// handleDeleteEdge removes an edge
func (s *Server) handleDeleteEdge(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !s.checkEditable(w, r, vars["id"]) {
		return
	}
	if err := s.trees.DeleteEdge(vars["id"], vars["itemId"]); err != nil {
		s.treeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.TreeResponse{Success: true})
}
