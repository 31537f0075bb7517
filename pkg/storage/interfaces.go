// Package storage provides the host-side persistence of trees, locks and executions.
package storage

import (
	"github.com/tcmartin/flowconsole/pkg/models"
)

// StorageProvider defines the interface for persistence backends
type StorageProvider interface {
	// Initialize sets up the storage backend
	Initialize() error

	// Close cleans up resources
	Close() error

	// GetTreeStore returns a store for navigation trees
	GetTreeStore() TreeStore

	// GetLockStore returns a store for tree edit locks
	GetLockStore() LockStore

	// GetExecutionStore returns a store for execution records
	GetExecutionStore() ExecutionStore
}

// TreeStore manages navigation tree persistence.
// Saves normalize server-owned fields: generated ids, tree ownership,
// updated_at and the default action set of edges.
type TreeStore interface {
	// SaveTree creates the tree when ID is empty, updates it otherwise
	SaveTree(tree models.NavigationTree) (models.NavigationTree, error)

	// GetTree retrieves the tree metadata
	GetTree(treeID string) (models.NavigationTree, error)

	// ListTrees returns the metadata of every tree
	ListTrees() ([]models.NavigationTree, error)

	// GetFullTree retrieves a tree with all its nodes and edges
	GetFullTree(treeID string) (models.FullTree, error)

	// SaveNode creates or updates a node of a tree
	SaveNode(treeID string, node models.NavigationNode) (models.NavigationNode, error)

	// DeleteNode removes a node and every edge touching it
	DeleteNode(treeID, id string) error

	// SaveEdge creates or updates an edge of a tree
	SaveEdge(treeID string, edge models.NavigationEdge) (models.NavigationEdge, error)

	// DeleteEdge removes an edge
	DeleteEdge(treeID, id string) error

	// SaveBatch applies node and edge upserts and deletions all-or-nothing
	SaveBatch(treeID string, batch models.BatchSaveRequest) error
}

// LockStore manages tree edit locks. At most one lock exists per tree.
// Locks have no expiry: a lock lives until its holder releases it.
type LockStore interface {
	// GetLock returns the current lock, or nil when the tree is unlocked
	GetLock(treeID string) (*models.TreeLock, error)

	// AcquireLock grants the lock when the tree is unlocked or already held
	// by the same session (refresh). Otherwise it returns the current holder
	// and ErrLockHeld.
	AcquireLock(lock models.TreeLock) (*models.TreeLock, error)

	// ReleaseLock removes the lock held by sessionID; a non-holder release is a no-op
	ReleaseLock(treeID, sessionID string) error
}

// ExecutionStore manages execution record persistence
type ExecutionStore interface {
	// SaveExecution persists an execution record
	SaveExecution(record models.ExecutionRecord) error

	// GetExecution retrieves an execution record
	GetExecution(id string) (models.ExecutionRecord, error)

	// ListExecutions returns all execution records, newest first
	ListExecutions() ([]models.ExecutionRecord, error)
}
