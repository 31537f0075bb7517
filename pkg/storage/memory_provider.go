package storage

import (
	"sync"
	"time"

	"github.com/tcmartin/flowconsole/pkg/models"
)

// MemoryProvider implements the StorageProvider interface using in-memory storage
type MemoryProvider struct {
	treeStore      *MemoryTreeStore
	lockStore      *MemoryLockStore
	executionStore *MemoryExecutionStore
}

// NewMemoryProvider creates a new in-memory storage provider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		treeStore:      NewMemoryTreeStore(),
		lockStore:      NewMemoryLockStore(),
		executionStore: NewMemoryExecutionStore(),
	}
}

// Initialize sets up the storage backend
func (p *MemoryProvider) Initialize() error {
	// Nothing to initialize for in-memory storage
	return nil
}

// Close cleans up resources
func (p *MemoryProvider) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

// GetTreeStore returns a store for navigation trees
func (p *MemoryProvider) GetTreeStore() TreeStore {
	return p.treeStore
}

// GetLockStore returns a store for tree locks
func (p *MemoryProvider) GetLockStore() LockStore {
	return p.lockStore
}

// GetExecutionStore returns a store for execution records
func (p *MemoryProvider) GetExecutionStore() ExecutionStore {
	return p.executionStore
}

type memoryTree struct {
	tree  models.NavigationTree
	nodes map[string]models.NavigationNode
	edges map[string]models.NavigationEdge
}

func (t *memoryTree) clone() *memoryTree {
	c := &memoryTree{
		tree:  t.tree,
		nodes: make(map[string]models.NavigationNode, len(t.nodes)),
		edges: make(map[string]models.NavigationEdge, len(t.edges)),
	}
	for id, n := range t.nodes {
		c.nodes[id] = n
	}
	for id, e := range t.edges {
		c.edges[id] = e
	}
	return c
}

// deleteNode removes the node and the edges that reference its NodeID
func (t *memoryTree) deleteNode(id string) bool {
	node, ok := t.nodes[id]
	if !ok {
		return false
	}
	delete(t.nodes, id)
	for edgeID, e := range t.edges {
		if e.SourceNodeID == node.NodeID || e.TargetNodeID == node.NodeID {
			delete(t.edges, edgeID)
		}
	}
	return true
}

// MemoryTreeStore implements the TreeStore interface using in-memory storage
type MemoryTreeStore struct {
	trees map[string]*memoryTree
	mu    sync.RWMutex
}

// NewMemoryTreeStore creates a new in-memory tree store
func NewMemoryTreeStore() *MemoryTreeStore {
	return &MemoryTreeStore{
		trees: make(map[string]*memoryTree),
	}
}

// SaveTree creates or updates a tree
func (s *MemoryTreeStore) SaveTree(tree models.NavigationTree) (models.NavigationTree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.trees[tree.ID]; ok && tree.ID != "" {
		tree.CreatedAt = existing.tree.CreatedAt
		existing.tree = prepareTree(tree, time.Now())
		return existing.tree, nil
	}

	tree = prepareTree(tree, time.Now())
	s.trees[tree.ID] = &memoryTree{
		tree:  tree,
		nodes: make(map[string]models.NavigationNode),
		edges: make(map[string]models.NavigationEdge),
	}
	return tree, nil
}

// GetTree retrieves the tree metadata
func (s *MemoryTreeStore) GetTree(treeID string) (models.NavigationTree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trees[treeID]
	if !ok {
		return models.NavigationTree{}, ErrTreeNotFound
	}
	return t.tree, nil
}

// ListTrees returns the metadata of every tree
func (s *MemoryTreeStore) ListTrees() ([]models.NavigationTree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trees := make([]models.NavigationTree, 0, len(s.trees))
	for _, t := range s.trees {
		trees = append(trees, t.tree)
	}
	return trees, nil
}

// GetFullTree retrieves a tree with all its nodes and edges
func (s *MemoryTreeStore) GetFullTree(treeID string) (models.FullTree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trees[treeID]
	if !ok {
		return models.FullTree{}, ErrTreeNotFound
	}

	full := models.FullTree{
		Tree:  t.tree,
		Nodes: make([]models.NavigationNode, 0, len(t.nodes)),
		Edges: make([]models.NavigationEdge, 0, len(t.edges)),
	}
	for _, n := range t.nodes {
		full.Nodes = append(full.Nodes, n)
	}
	for _, e := range t.edges {
		full.Edges = append(full.Edges, e)
	}
	sortNodes(full.Nodes)
	sortEdges(full.Edges)
	return full, nil
}

// SaveNode creates or updates a node
func (s *MemoryTreeStore) SaveNode(treeID string, node models.NavigationNode) (models.NavigationNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trees[treeID]
	if !ok {
		return models.NavigationNode{}, ErrTreeNotFound
	}

	node = prepareNode(treeID, node, time.Now())
	t.nodes[node.ID] = node
	return node, nil
}

// DeleteNode removes a node and every edge touching it
func (s *MemoryTreeStore) DeleteNode(treeID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trees[treeID]
	if !ok {
		return ErrTreeNotFound
	}
	if !t.deleteNode(id) {
		return ErrNodeNotFound
	}
	return nil
}

// SaveEdge creates or updates an edge
func (s *MemoryTreeStore) SaveEdge(treeID string, edge models.NavigationEdge) (models.NavigationEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trees[treeID]
	if !ok {
		return models.NavigationEdge{}, ErrTreeNotFound
	}

	edge, err := prepareEdge(treeID, edge, time.Now())
	if err != nil {
		return models.NavigationEdge{}, err
	}
	t.edges[edge.ID] = edge
	return edge, nil
}

// DeleteEdge removes an edge
func (s *MemoryTreeStore) DeleteEdge(treeID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trees[treeID]
	if !ok {
		return ErrTreeNotFound
	}
	if _, ok := t.edges[id]; !ok {
		return ErrEdgeNotFound
	}
	delete(t.edges, id)
	return nil
}

// SaveBatch applies the batch to a copy of the tree and swaps it in on success
func (s *MemoryTreeStore) SaveBatch(treeID string, batch models.BatchSaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trees[treeID]
	if !ok {
		return ErrTreeNotFound
	}

	now := time.Now()
	next := t.clone()
	for _, n := range batch.Nodes {
		n = prepareNode(treeID, n, now)
		next.nodes[n.ID] = n
	}
	for _, e := range batch.Edges {
		e, err := prepareEdge(treeID, e, now)
		if err != nil {
			return err
		}
		next.edges[e.ID] = e
	}
	for _, id := range batch.DeletedEdgeIDs {
		delete(next.edges, id)
	}
	for _, id := range batch.DeletedNodeIDs {
		next.deleteNode(id)
	}
	next.tree.UpdatedAt = now

	s.trees[treeID] = next
	return nil
}

// MemoryLockStore implements the LockStore interface using in-memory storage
type MemoryLockStore struct {
	locks map[string]models.TreeLock
	mu    sync.Mutex
}

// NewMemoryLockStore creates a new in-memory lock store
func NewMemoryLockStore() *MemoryLockStore {
	return &MemoryLockStore{
		locks: make(map[string]models.TreeLock),
	}
}

// GetLock returns the current lock of a tree
func (s *MemoryLockStore) GetLock(treeID string) (*models.TreeLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[treeID]
	if !ok {
		return nil, nil
	}
	return &lock, nil
}

// AcquireLock grants or refreshes the lock
func (s *MemoryLockStore) AcquireLock(lock models.TreeLock) (*models.TreeLock, error) {
	if err := validateLock(lock); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.locks[lock.TreeID]; ok && current.SessionID != lock.SessionID {
		return &current, ErrLockHeld
	}

	if lock.AcquiredAt.IsZero() {
		lock.AcquiredAt = time.Now()
	}
	s.locks[lock.TreeID] = lock
	return &lock, nil
}

// ReleaseLock removes the lock when sessionID holds it
func (s *MemoryLockStore) ReleaseLock(treeID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.locks[treeID]; ok && current.SessionID == sessionID {
		delete(s.locks, treeID)
	}
	return nil
}

// MemoryExecutionStore implements the ExecutionStore interface using in-memory storage
type MemoryExecutionStore struct {
	records map[string]models.ExecutionRecord
	mu      sync.RWMutex
}

// NewMemoryExecutionStore creates a new in-memory execution store
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{
		records: make(map[string]models.ExecutionRecord),
	}
}

// SaveExecution persists an execution record
func (s *MemoryExecutionStore) SaveExecution(record models.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.ID] = record
	return nil
}

// GetExecution retrieves an execution record
func (s *MemoryExecutionStore) GetExecution(id string) (models.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return models.ExecutionRecord{}, ErrExecutionNotFound
	}
	return record, nil
}

// ListExecutions returns all execution records, newest first
func (s *MemoryExecutionStore) ListExecutions() ([]models.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]models.ExecutionRecord, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	sortExecutions(records)
	return records, nil
}
