package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcmartin/flowconsole/pkg/models"
)

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func tapEdge(source, target string) models.NavigationEdge {
	return models.NavigationEdge{
		SourceNodeID: source,
		TargetNodeID: target,
		ActionSets: []models.ActionSet{
			{ID: "tap", Actions: []models.Action{{Command: "tap", Params: map[string]interface{}{"x": 10}}}},
		},
	}
}

// testTreeStore exercises the TreeStore contract shared by every provider
func testTreeStore(t *testing.T, store TreeStore) {
	tree, err := store.SaveTree(models.NavigationTree{UserInterfaceID: "ui-1", Name: "Main"})
	require.NoError(t, err)
	assert.NotEmpty(t, tree.ID)
	assert.False(t, tree.UpdatedAt.IsZero())

	home, err := store.SaveNode(tree.ID, models.NavigationNode{NodeID: "home", Label: "Home"})
	require.NoError(t, err)
	assert.NotEmpty(t, home.ID)
	assert.Equal(t, tree.ID, home.TreeID)

	settings, err := store.SaveNode(tree.ID, models.NavigationNode{NodeID: "settings", Label: "Settings"})
	require.NoError(t, err)

	edge, err := store.SaveEdge(tree.ID, tapEdge("home", "settings"))
	require.NoError(t, err)
	assert.Equal(t, "tap", edge.DefaultActionSetID)
	assert.NotEmpty(t, edge.ID)

	full, err := store.GetFullTree(tree.ID)
	require.NoError(t, err)
	assert.Equal(t, "Main", full.Tree.Name)
	assert.Len(t, full.Nodes, 2)
	assert.Len(t, full.Edges, 1)

	// Update keeps the id
	home.Label = "Home Screen"
	updated, err := store.SaveNode(tree.ID, home)
	require.NoError(t, err)
	assert.Equal(t, home.ID, updated.ID)

	// Deleting a node removes the edges touching it
	require.NoError(t, store.DeleteNode(tree.ID, settings.ID))
	full, err = store.GetFullTree(tree.ID)
	require.NoError(t, err)
	assert.Len(t, full.Nodes, 1)
	assert.Empty(t, full.Edges)
	assert.Equal(t, "Home Screen", full.Nodes[0].Label)

	assert.ErrorIs(t, store.DeleteNode(tree.ID, settings.ID), ErrNodeNotFound)
	assert.ErrorIs(t, store.DeleteEdge(tree.ID, edge.ID), ErrEdgeNotFound)

	_, err = store.GetFullTree("missing")
	assert.ErrorIs(t, err, ErrTreeNotFound)
	_, err = store.SaveNode("missing", models.NavigationNode{NodeID: "x"})
	assert.ErrorIs(t, err, ErrTreeNotFound)

	// Batch: upserts and deletions applied together
	err = store.SaveBatch(tree.ID, models.BatchSaveRequest{
		Nodes: []models.NavigationNode{
			{ID: "n-live", NodeID: "live", Label: "Live"},
			{ID: "n-guide", NodeID: "guide", Label: "Guide"},
		},
		Edges:          []models.NavigationEdge{func() models.NavigationEdge { e := tapEdge("live", "guide"); e.ID = "e-1"; return e }()},
		DeletedNodeIDs: []string{home.ID},
	})
	require.NoError(t, err)

	full, err = store.GetFullTree(tree.ID)
	require.NoError(t, err)
	require.Len(t, full.Nodes, 2)
	assert.Equal(t, "guide", full.Nodes[0].NodeID)
	assert.Equal(t, "live", full.Nodes[1].NodeID)
	require.Len(t, full.Edges, 1)
	assert.Equal(t, "e-1", full.Edges[0].ID)

	// An invalid edge rejects the whole batch
	bad := tapEdge("live", "guide")
	bad.DefaultActionSetID = "nope"
	err = store.SaveBatch(tree.ID, models.BatchSaveRequest{
		Nodes:          []models.NavigationNode{{ID: "n-extra", NodeID: "extra"}},
		Edges:          []models.NavigationEdge{bad},
		DeletedEdgeIDs: []string{"e-1"},
	})
	assert.ErrorIs(t, err, ErrInvalidEdge)

	full, err = store.GetFullTree(tree.ID)
	require.NoError(t, err)
	assert.Len(t, full.Nodes, 2)
	assert.Len(t, full.Edges, 1)

	trees, err := store.ListTrees()
	require.NoError(t, err)
	assert.NotEmpty(t, trees)
}

// testLockStore exercises the LockStore contract shared by every backend
func testLockStore(t *testing.T, store LockStore, treeID string) {
	lock, err := store.GetLock(treeID)
	require.NoError(t, err)
	assert.Nil(t, lock)

	granted, err := store.AcquireLock(models.TreeLock{TreeID: treeID, SessionID: "s1", UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "s1", granted.SessionID)

	// Same session refreshes
	_, err = store.AcquireLock(models.TreeLock{TreeID: treeID, SessionID: "s1", UserID: "alice"})
	require.NoError(t, err)

	// Another session is refused and told who holds it
	holder, err := store.AcquireLock(models.TreeLock{TreeID: treeID, SessionID: "s2", UserID: "bob"})
	assert.ErrorIs(t, err, ErrLockHeld)
	require.NotNil(t, holder)
	assert.Equal(t, "s1", holder.SessionID)
	assert.Equal(t, "alice", holder.UserID)

	// Release by a non-holder is a no-op
	require.NoError(t, store.ReleaseLock(treeID, "s2"))
	lock, err = store.GetLock(treeID)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "s1", lock.SessionID)
	assert.Equal(t, treeID, lock.TreeID)

	require.NoError(t, store.ReleaseLock(treeID, "s1"))
	lock, err = store.GetLock(treeID)
	require.NoError(t, err)
	assert.Nil(t, lock)

	// Released twice is still fine
	require.NoError(t, store.ReleaseLock(treeID, "s1"))

	// Now the other session can take it
	granted, err = store.AcquireLock(models.TreeLock{TreeID: treeID, SessionID: "s2", UserID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "s2", granted.SessionID)
	require.NoError(t, store.ReleaseLock(treeID, "s2"))

	_, err = store.AcquireLock(models.TreeLock{TreeID: treeID})
	assert.ErrorIs(t, err, ErrInvalidLock)
}

func TestMemoryTreeStore(t *testing.T) {
	testTreeStore(t, NewMemoryTreeStore())
}

func TestMemoryLockStore(t *testing.T) {
	testLockStore(t, NewMemoryLockStore(), "ui-1")
}

func TestMemoryTreeStore_SaveTreeKeepsCreatedAt(t *testing.T) {
	store := NewMemoryTreeStore()

	tree, err := store.SaveTree(models.NavigationTree{Name: "First"})
	require.NoError(t, err)

	tree.Name = "Renamed"
	renamed, err := store.SaveTree(tree)
	require.NoError(t, err)
	assert.Equal(t, tree.ID, renamed.ID)
	assert.Equal(t, tree.CreatedAt, renamed.CreatedAt)
	assert.Equal(t, "Renamed", renamed.Name)
}

func TestPrepareEdge(t *testing.T) {
	tests := []struct {
		name    string
		edge    models.NavigationEdge
		wantErr bool
		wantDef string
	}{
		{name: "single set becomes default", edge: tapEdge("a", "b"), wantDef: "tap"},
		{
			name: "explicit default",
			edge: models.NavigationEdge{
				SourceNodeID: "a", TargetNodeID: "b",
				ActionSets:         []models.ActionSet{{ID: "one"}, {ID: "two"}},
				DefaultActionSetID: "two",
			},
			wantDef: "two",
		},
		{
			name: "several sets without default",
			edge: models.NavigationEdge{
				SourceNodeID: "a", TargetNodeID: "b",
				ActionSets: []models.ActionSet{{ID: "one"}, {ID: "two"}},
			},
			wantErr: true,
		},
		{
			name: "duplicate set ids",
			edge: models.NavigationEdge{
				SourceNodeID: "a", TargetNodeID: "b",
				ActionSets:         []models.ActionSet{{ID: "one"}, {ID: "one"}},
				DefaultActionSetID: "one",
			},
			wantErr: true,
		},
		{name: "no action sets", edge: models.NavigationEdge{SourceNodeID: "a", TargetNodeID: "b"}, wantErr: true},
		{name: "missing target", edge: models.NavigationEdge{SourceNodeID: "a", ActionSets: []models.ActionSet{{ID: "x"}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edge, err := prepareEdge("tree-1", tt.edge, fixedNow)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEdge)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDef, edge.DefaultActionSetID)
			assert.Equal(t, "tree-1", edge.TreeID)
			assert.Equal(t, fixedNow, edge.UpdatedAt)
			assert.Equal(t, edge.ID, edge.EdgeID)
		})
	}
}

func TestMemoryExecutionStore(t *testing.T) {
	store := NewMemoryExecutionStore()

	_, err := store.GetExecution("missing")
	assert.ErrorIs(t, err, ErrExecutionNotFound)

	older := models.ExecutionRecord{ID: "e1", Status: models.RemoteCompleted, StartTime: fixedNow}
	newer := models.ExecutionRecord{ID: "e2", Status: models.RemoteRunning, StartTime: fixedNow.Add(1)}
	require.NoError(t, store.SaveExecution(older))
	require.NoError(t, store.SaveExecution(newer))

	got, err := store.GetExecution("e1")
	require.NoError(t, err)
	assert.Equal(t, models.RemoteCompleted, got.Status)

	list, err := store.ListExecutions()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "e2", list[0].ID)
}
