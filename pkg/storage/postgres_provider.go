package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/tcmartin/flowconsole/pkg/models"
)

// PostgreSQLProvider implements the StorageProvider interface using PostgreSQL
type PostgreSQLProvider struct {
	db             *sql.DB
	treeStore      *PostgreSQLTreeStore
	lockStore      *PostgreSQLLockStore
	executionStore *PostgreSQLExecutionStore
}

// PostgreSQLProviderConfig contains configuration for the PostgreSQL provider
type PostgreSQLProviderConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewPostgreSQLProvider creates a new PostgreSQL storage provider
func NewPostgreSQLProvider(config PostgreSQLProviderConfig) (*PostgreSQLProvider, error) {
	// Set default port if not specified
	if config.Port == 0 {
		config.Port = 5432
	}

	// Set default SSL mode if not specified
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &PostgreSQLProvider{
		db:             db,
		treeStore:      NewPostgreSQLTreeStore(db),
		lockStore:      NewPostgreSQLLockStore(db),
		executionStore: NewPostgreSQLExecutionStore(db),
	}, nil
}

// Initialize creates the tables of every store
func (p *PostgreSQLProvider) Initialize() error {
	if err := p.treeStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize tree store: %w", err)
	}

	if err := p.lockStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize lock store: %w", err)
	}

	if err := p.executionStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize execution store: %w", err)
	}

	return nil
}

// Close cleans up resources
func (p *PostgreSQLProvider) Close() error {
	return p.db.Close()
}

// GetTreeStore returns a store for navigation trees
func (p *PostgreSQLProvider) GetTreeStore() TreeStore {
	return p.treeStore
}

// GetLockStore returns a store for tree locks
func (p *PostgreSQLProvider) GetLockStore() LockStore {
	return p.lockStore
}

// GetExecutionStore returns a store for execution records
func (p *PostgreSQLProvider) GetExecutionStore() ExecutionStore {
	return p.executionStore
}

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// PostgreSQLTreeStore implements the TreeStore interface using PostgreSQL.
// Entities are stored as JSONB next to the columns used for lookups.
type PostgreSQLTreeStore struct {
	db *sql.DB
}

// NewPostgreSQLTreeStore creates a new PostgreSQL tree store
func NewPostgreSQLTreeStore(db *sql.DB) *PostgreSQLTreeStore {
	return &PostgreSQLTreeStore{
		db: db,
	}
}

// Initialize creates the PostgreSQL tables if they don't exist
func (s *PostgreSQLTreeStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS nav_trees (
			id TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS nav_nodes (
			tree_id TEXT NOT NULL REFERENCES nav_trees (id) ON DELETE CASCADE,
			id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			data JSONB NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (tree_id, id)
		);
		CREATE TABLE IF NOT EXISTS nav_edges (
			tree_id TEXT NOT NULL REFERENCES nav_trees (id) ON DELETE CASCADE,
			id TEXT NOT NULL,
			source_node_id TEXT NOT NULL,
			target_node_id TEXT NOT NULL,
			data JSONB NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (tree_id, id)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create tree tables: %w", err)
	}

	return nil
}

// SaveTree creates or updates a tree
func (s *PostgreSQLTreeStore) SaveTree(tree models.NavigationTree) (models.NavigationTree, error) {
	if tree.ID != "" {
		var createdAt time.Time
		err := s.db.QueryRow("SELECT created_at FROM nav_trees WHERE id = $1", tree.ID).Scan(&createdAt)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return models.NavigationTree{}, fmt.Errorf("failed to check if tree exists: %w", err)
		}
		if err == nil {
			tree.CreatedAt = createdAt
		}
	}

	tree = prepareTree(tree, time.Now())
	data, err := json.Marshal(tree)
	if err != nil {
		return models.NavigationTree{}, fmt.Errorf("failed to marshal tree: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO nav_trees (id, data, created_at, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		tree.ID, data, tree.CreatedAt, tree.UpdatedAt,
	)
	if err != nil {
		return models.NavigationTree{}, fmt.Errorf("failed to save tree: %w", err)
	}

	return tree, nil
}

// GetTree retrieves the tree metadata
func (s *PostgreSQLTreeStore) GetTree(treeID string) (models.NavigationTree, error) {
	return getTree(s.db, treeID)
}

func getTree(q querier, treeID string) (models.NavigationTree, error) {
	var data []byte
	err := q.QueryRow("SELECT data FROM nav_trees WHERE id = $1", treeID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.NavigationTree{}, ErrTreeNotFound
		}
		return models.NavigationTree{}, fmt.Errorf("failed to get tree: %w", err)
	}

	var tree models.NavigationTree
	if err := json.Unmarshal(data, &tree); err != nil {
		return models.NavigationTree{}, fmt.Errorf("failed to unmarshal tree: %w", err)
	}
	return tree, nil
}

// ListTrees returns the metadata of every tree
func (s *PostgreSQLTreeStore) ListTrees() ([]models.NavigationTree, error) {
	rows, err := s.db.Query("SELECT data FROM nav_trees ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to list trees: %w", err)
	}
	defer rows.Close()

	trees := []models.NavigationTree{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan tree: %w", err)
		}
		var tree models.NavigationTree
		if err := json.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tree: %w", err)
		}
		trees = append(trees, tree)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tree rows: %w", err)
	}

	return trees, nil
}

// GetFullTree retrieves a tree with all its nodes and edges
func (s *PostgreSQLTreeStore) GetFullTree(treeID string) (models.FullTree, error) {
	tree, err := getTree(s.db, treeID)
	if err != nil {
		return models.FullTree{}, err
	}

	full := models.FullTree{Tree: tree, Nodes: []models.NavigationNode{}, Edges: []models.NavigationEdge{}}

	nodeRows, err := s.db.Query("SELECT data FROM nav_nodes WHERE tree_id = $1", treeID)
	if err != nil {
		return models.FullTree{}, fmt.Errorf("failed to load nodes: %w", err)
	}
	defer nodeRows.Close()
	for nodeRows.Next() {
		var data []byte
		if err := nodeRows.Scan(&data); err != nil {
			return models.FullTree{}, fmt.Errorf("failed to scan node: %w", err)
		}
		var node models.NavigationNode
		if err := json.Unmarshal(data, &node); err != nil {
			return models.FullTree{}, fmt.Errorf("failed to unmarshal node: %w", err)
		}
		full.Nodes = append(full.Nodes, node)
	}
	if err := nodeRows.Err(); err != nil {
		return models.FullTree{}, fmt.Errorf("error iterating node rows: %w", err)
	}

	edgeRows, err := s.db.Query("SELECT data FROM nav_edges WHERE tree_id = $1", treeID)
	if err != nil {
		return models.FullTree{}, fmt.Errorf("failed to load edges: %w", err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var data []byte
		if err := edgeRows.Scan(&data); err != nil {
			return models.FullTree{}, fmt.Errorf("failed to scan edge: %w", err)
		}
		var edge models.NavigationEdge
		if err := json.Unmarshal(data, &edge); err != nil {
			return models.FullTree{}, fmt.Errorf("failed to unmarshal edge: %w", err)
		}
		full.Edges = append(full.Edges, edge)
	}
	if err := edgeRows.Err(); err != nil {
		return models.FullTree{}, fmt.Errorf("error iterating edge rows: %w", err)
	}

	sortNodes(full.Nodes)
	sortEdges(full.Edges)
	return full, nil
}

// SaveNode creates or updates a node
func (s *PostgreSQLTreeStore) SaveNode(treeID string, node models.NavigationNode) (models.NavigationNode, error) {
	if _, err := getTree(s.db, treeID); err != nil {
		return models.NavigationNode{}, err
	}

	node = prepareNode(treeID, node, time.Now())
	if err := upsertNode(s.db, node); err != nil {
		return models.NavigationNode{}, err
	}
	return node, nil
}

func upsertNode(q querier, node models.NavigationNode) error {
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to marshal node: %w", err)
	}

	_, err = q.Exec(`
		INSERT INTO nav_nodes (tree_id, id, node_id, data, updated_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tree_id, id) DO UPDATE SET node_id = EXCLUDED.node_id, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		node.TreeID, node.ID, node.NodeID, data, node.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save node: %w", err)
	}
	return nil
}

// DeleteNode removes a node and every edge touching it
func (s *PostgreSQLTreeStore) DeleteNode(treeID, id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteNode(tx, treeID, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit node deletion: %w", err)
	}
	return nil
}

func deleteNode(q querier, treeID, id string) error {
	var nodeID string
	err := q.QueryRow("DELETE FROM nav_nodes WHERE tree_id = $1 AND id = $2 RETURNING node_id", treeID, id).Scan(&nodeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNodeNotFound
		}
		return fmt.Errorf("failed to delete node: %w", err)
	}

	_, err = q.Exec(
		"DELETE FROM nav_edges WHERE tree_id = $1 AND (source_node_id = $2 OR target_node_id = $2)",
		treeID, nodeID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete node edges: %w", err)
	}
	return nil
}

// SaveEdge creates or updates an edge
func (s *PostgreSQLTreeStore) SaveEdge(treeID string, edge models.NavigationEdge) (models.NavigationEdge, error) {
	if _, err := getTree(s.db, treeID); err != nil {
		return models.NavigationEdge{}, err
	}

	edge, err := prepareEdge(treeID, edge, time.Now())
	if err != nil {
		return models.NavigationEdge{}, err
	}
	if err := upsertEdge(s.db, edge); err != nil {
		return models.NavigationEdge{}, err
	}
	return edge, nil
}

func upsertEdge(q querier, edge models.NavigationEdge) error {
	data, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("failed to marshal edge: %w", err)
	}

	_, err = q.Exec(`
		INSERT INTO nav_edges (tree_id, id, source_node_id, target_node_id, data, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tree_id, id) DO UPDATE SET source_node_id = EXCLUDED.source_node_id,
			target_node_id = EXCLUDED.target_node_id, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		edge.TreeID, edge.ID, edge.SourceNodeID, edge.TargetNodeID, data, edge.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save edge: %w", err)
	}
	return nil
}

// DeleteEdge removes an edge
func (s *PostgreSQLTreeStore) DeleteEdge(treeID, id string) error {
	result, err := s.db.Exec("DELETE FROM nav_edges WHERE tree_id = $1 AND id = $2", treeID, id)
	if err != nil {
		return fmt.Errorf("failed to delete edge: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrEdgeNotFound
	}

	return nil
}

// SaveBatch applies the batch in one transaction
func (s *PostgreSQLTreeStore) SaveBatch(treeID string, batch models.BatchSaveRequest) error {
	now := time.Now()

	// Validate everything before touching the database
	edges := make([]models.NavigationEdge, 0, len(batch.Edges))
	for _, e := range batch.Edges {
		e, err := prepareEdge(treeID, e, now)
		if err != nil {
			return err
		}
		edges = append(edges, e)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := getTree(tx, treeID); err != nil {
		return err
	}

	for _, n := range batch.Nodes {
		if err := upsertNode(tx, prepareNode(treeID, n, now)); err != nil {
			return err
		}
	}
	for _, e := range edges {
		if err := upsertEdge(tx, e); err != nil {
			return err
		}
	}
	for _, id := range batch.DeletedEdgeIDs {
		if _, err := tx.Exec("DELETE FROM nav_edges WHERE tree_id = $1 AND id = $2", treeID, id); err != nil {
			return fmt.Errorf("failed to delete edge: %w", err)
		}
	}
	for _, id := range batch.DeletedNodeIDs {
		if err := deleteNode(tx, treeID, id); err != nil && !errors.Is(err, ErrNodeNotFound) {
			return err
		}
	}

	if _, err := tx.Exec("UPDATE nav_trees SET updated_at = $2 WHERE id = $1", treeID, now); err != nil {
		return fmt.Errorf("failed to touch tree: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// PostgreSQLLockStore implements the LockStore interface using PostgreSQL
type PostgreSQLLockStore struct {
	db *sql.DB
}

// NewPostgreSQLLockStore creates a new PostgreSQL lock store
func NewPostgreSQLLockStore(db *sql.DB) *PostgreSQLLockStore {
	return &PostgreSQLLockStore{
		db: db,
	}
}

// Initialize creates the PostgreSQL tables if they don't exist
func (s *PostgreSQLLockStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tree_locks (
			tree_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			acquired_at TIMESTAMP NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create tree_locks table: %w", err)
	}

	return nil
}

// GetLock returns the current lock of a tree
func (s *PostgreSQLLockStore) GetLock(treeID string) (*models.TreeLock, error) {
	lock := models.TreeLock{TreeID: treeID}
	err := s.db.QueryRow(
		"SELECT session_id, user_id, acquired_at FROM tree_locks WHERE tree_id = $1",
		treeID,
	).Scan(&lock.SessionID, &lock.UserID, &lock.AcquiredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}
	return &lock, nil
}

// AcquireLock inserts the lock, or refreshes it when the same session holds it
func (s *PostgreSQLLockStore) AcquireLock(lock models.TreeLock) (*models.TreeLock, error) {
	if err := validateLock(lock); err != nil {
		return nil, err
	}
	if lock.AcquiredAt.IsZero() {
		lock.AcquiredAt = time.Now()
	}

	result, err := s.db.Exec(`
		INSERT INTO tree_locks (tree_id, session_id, user_id, acquired_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (tree_id) DO UPDATE SET user_id = EXCLUDED.user_id, acquired_at = EXCLUDED.acquired_at
		WHERE tree_locks.session_id = EXCLUDED.session_id`,
		lock.TreeID, lock.SessionID, lock.UserID, lock.AcquiredAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		holder, err := s.GetLock(lock.TreeID)
		if err != nil {
			return nil, err
		}
		return holder, ErrLockHeld
	}

	return &lock, nil
}

// ReleaseLock removes the lock when sessionID holds it
func (s *PostgreSQLLockStore) ReleaseLock(treeID, sessionID string) error {
	_, err := s.db.Exec("DELETE FROM tree_locks WHERE tree_id = $1 AND session_id = $2", treeID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// PostgreSQLExecutionStore implements the ExecutionStore interface using PostgreSQL
type PostgreSQLExecutionStore struct {
	db *sql.DB
}

// NewPostgreSQLExecutionStore creates a new PostgreSQL execution store
func NewPostgreSQLExecutionStore(db *sql.DB) *PostgreSQLExecutionStore {
	return &PostgreSQLExecutionStore{
		db: db,
	}
}

// Initialize creates the PostgreSQL tables if they don't exist
func (s *PostgreSQLExecutionStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			data JSONB NOT NULL,
			start_time TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS executions_start_time_idx ON executions (start_time);
	`)
	if err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}

	return nil
}

// SaveExecution persists an execution record
func (s *PostgreSQLExecutionStore) SaveExecution(record models.ExecutionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO executions (id, status, data, start_time) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, data = EXCLUDED.data`,
		record.ID, string(record.Status), data, record.StartTime,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

// GetExecution retrieves an execution record
func (s *PostgreSQLExecutionStore) GetExecution(id string) (models.ExecutionRecord, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM executions WHERE id = $1", id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ExecutionRecord{}, ErrExecutionNotFound
		}
		return models.ExecutionRecord{}, fmt.Errorf("failed to get execution: %w", err)
	}

	var record models.ExecutionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return models.ExecutionRecord{}, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return record, nil
}

// ListExecutions returns all execution records, newest first
func (s *PostgreSQLExecutionStore) ListExecutions() ([]models.ExecutionRecord, error) {
	rows, err := s.db.Query("SELECT data FROM executions ORDER BY start_time DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	records := []models.ExecutionRecord{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		var record models.ExecutionRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution rows: %w", err)
	}

	return records, nil
}
