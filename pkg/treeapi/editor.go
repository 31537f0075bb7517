package treeapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/tcmartin/flowconsole/pkg/cache"
	"github.com/tcmartin/flowconsole/pkg/logging"
	"github.com/tcmartin/flowconsole/pkg/models"
)

// ErrNotLocked is returned when mutating a tree this session does not hold
var ErrNotLocked = errors.New("tree is not locked by this session")

// LockChecker reports whether this session holds the lock on a tree
type LockChecker interface {
	IsLocked(treeID string) bool
}

// CachedLoader reads full trees through the tree cache
type CachedLoader struct {
	gateway TreeGateway
	cache   *cache.TreeCache
	server  string
	logger  logging.Logger
}

// NewCachedLoader creates a read-through loader. server scopes cache keys to
// one host.
func NewCachedLoader(gateway TreeGateway, treeCache *cache.TreeCache, server string, logger logging.Logger) *CachedLoader {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &CachedLoader{gateway: gateway, cache: treeCache, server: server, logger: logger}
}

// LoadFull returns the cached tree when fresh and fetches it otherwise
func (l *CachedLoader) LoadFull(ctx context.Context, treeID string, flags map[string]string) (*models.FullTree, error) {
	key := cache.Key(l.server, treeID, flags)

	var full models.FullTree
	if l.cache.GetInto(key, &full) {
		return &full, nil
	}

	loaded, err := l.gateway.LoadFull(ctx, treeID, flags)
	if err != nil {
		return nil, err
	}
	if err := l.cache.Set(key, loaded); err != nil {
		l.logger.Warn("Failed to cache tree",
			logging.F("tree_id", treeID),
			logging.Err(err))
	}
	return loaded, nil
}

// Editor performs lock-guarded mutations and keeps the cache consistent:
// single-entity writes invalidate the tree, batch writes clear the cache.
type Editor struct {
	*CachedLoader
	locks  LockChecker
	logger logging.Logger
}

// NewEditor creates an editor
func NewEditor(loader *CachedLoader, locks LockChecker, logger logging.Logger) *Editor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Editor{CachedLoader: loader, locks: locks, logger: logger}
}

// SaveTree saves tree metadata
func (e *Editor) SaveTree(ctx context.Context, tree *models.NavigationTree) (*models.NavigationTree, error) {
	if tree.ID != "" {
		if err := e.guard(tree.ID); err != nil {
			return nil, err
		}
	}
	saved, err := e.gateway.SaveTree(ctx, tree)
	if err != nil {
		return nil, err
	}
	e.cache.Invalidate(saved.ID)
	return saved, nil
}

// SaveNode saves one node
func (e *Editor) SaveNode(ctx context.Context, treeID string, node *models.NavigationNode) (*models.NavigationNode, error) {
	if err := e.guard(treeID); err != nil {
		return nil, err
	}
	saved, err := e.gateway.SaveNode(ctx, treeID, node)
	if err != nil {
		return nil, err
	}
	e.cache.Invalidate(treeID)
	return saved, nil
}

// SaveEdge saves one edge
func (e *Editor) SaveEdge(ctx context.Context, treeID string, edge *models.NavigationEdge) (*models.NavigationEdge, error) {
	if err := e.guard(treeID); err != nil {
		return nil, err
	}
	saved, err := e.gateway.SaveEdge(ctx, treeID, edge)
	if err != nil {
		return nil, err
	}
	e.cache.Invalidate(treeID)
	return saved, nil
}

// DeleteNode deletes one node
func (e *Editor) DeleteNode(ctx context.Context, treeID, nodeID string) error {
	if err := e.guard(treeID); err != nil {
		return err
	}
	if err := e.gateway.DeleteNode(ctx, treeID, nodeID); err != nil {
		return err
	}
	e.cache.Invalidate(treeID)
	return nil
}

// DeleteEdge deletes one edge
func (e *Editor) DeleteEdge(ctx context.Context, treeID, edgeID string) error {
	if err := e.guard(treeID); err != nil {
		return err
	}
	if err := e.gateway.DeleteEdge(ctx, treeID, edgeID); err != nil {
		return err
	}
	e.cache.Invalidate(treeID)
	return nil
}

// SaveBatch writes a full delta and clears the whole cache
func (e *Editor) SaveBatch(ctx context.Context, treeID string, batch models.BatchSaveRequest) error {
	if err := e.guard(treeID); err != nil {
		return err
	}
	if err := e.gateway.SaveBatch(ctx, treeID, batch); err != nil {
		return err
	}
	e.cache.InvalidateAll()
	e.logger.Info("Tree saved",
		logging.F("tree_id", treeID),
		logging.F("nodes", len(batch.Nodes)),
		logging.F("edges", len(batch.Edges)),
		logging.F("deleted_nodes", len(batch.DeletedNodeIDs)),
		logging.F("deleted_edges", len(batch.DeletedEdgeIDs)))
	return nil
}

func (e *Editor) guard(treeID string) error {
	if e.locks == nil || !e.locks.IsLocked(treeID) {
		return fmt.Errorf("%w: %s", ErrNotLocked, treeID)
	}
	return nil
}
