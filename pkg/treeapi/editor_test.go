package treeapi

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/flowconsole/pkg/cache"
	"github.com/tcmartin/flowconsole/pkg/clock"
	"github.com/tcmartin/flowconsole/pkg/logging"
	"github.com/tcmartin/flowconsole/pkg/models"
)

// MockGateway is a mock implementation of TreeGateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) SaveTree(ctx context.Context, tree *models.NavigationTree) (*models.NavigationTree, error) {
	args := m.Called(ctx, tree)
	saved, _ := args.Get(0).(*models.NavigationTree)
	return saved, args.Error(1)
}

func (m *MockGateway) SaveNode(ctx context.Context, treeID string, node *models.NavigationNode) (*models.NavigationNode, error) {
	args := m.Called(ctx, treeID, node)
	saved, _ := args.Get(0).(*models.NavigationNode)
	return saved, args.Error(1)
}

func (m *MockGateway) SaveEdge(ctx context.Context, treeID string, edge *models.NavigationEdge) (*models.NavigationEdge, error) {
	args := m.Called(ctx, treeID, edge)
	saved, _ := args.Get(0).(*models.NavigationEdge)
	return saved, args.Error(1)
}

func (m *MockGateway) DeleteNode(ctx context.Context, treeID, nodeID string) error {
	return m.Called(ctx, treeID, nodeID).Error(0)
}

func (m *MockGateway) DeleteEdge(ctx context.Context, treeID, edgeID string) error {
	return m.Called(ctx, treeID, edgeID).Error(0)
}

func (m *MockGateway) LoadFull(ctx context.Context, treeID string, flags map[string]string) (*models.FullTree, error) {
	args := m.Called(ctx, treeID, flags)
	full, _ := args.Get(0).(*models.FullTree)
	return full, args.Error(1)
}

func (m *MockGateway) SaveBatch(ctx context.Context, treeID string, batch models.BatchSaveRequest) error {
	return m.Called(ctx, treeID, batch).Error(0)
}

type lockSet map[string]bool

func (l lockSet) IsLocked(treeID string) bool { return l[treeID] }

const server = "http://host:5000"

func newEditor(gw TreeGateway, locks LockChecker) (*Editor, *cache.TreeCache, *clock.Fake) {
	fake := clock.NewFake(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	c := cache.New(cache.Options{Clock: fake})
	return NewEditor(NewCachedLoader(gw, c, server, nil), locks, nil), c, fake
}

func fullTree(id string) *models.FullTree {
	return &models.FullTree{Tree: models.NavigationTree{ID: id, Name: id}, Nodes: []models.NavigationNode{}, Edges: []models.NavigationEdge{}}
}

func TestCachedLoaderReadsThrough(t *testing.T) {
	gw := &MockGateway{}
	gw.On("LoadFull", mock.Anything, "T1", map[string]string(nil)).Return(fullTree("T1"), nil).Once()
	editor, _, fake := newEditor(gw, lockSet{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		full, err := editor.LoadFull(ctx, "T1", nil)
		require.NoError(t, err)
		assert.Equal(t, "T1", full.Tree.ID)
	}
	gw.AssertNumberOfCalls(t, "LoadFull", 1)

	fake.Advance(31 * time.Second)
	gw.On("LoadFull", mock.Anything, "T1", map[string]string(nil)).Return(fullTree("T1"), nil).Once()
	_, err := editor.LoadFull(ctx, "T1", nil)
	require.NoError(t, err)
	gw.AssertNumberOfCalls(t, "LoadFull", 2)
}

func TestCachedLoaderReturnsTreeWhenCachingFails(t *testing.T) {
	unencodable := fullTree("T2")
	unencodable.Tree.Metadata = map[string]interface{}{"watch": make(chan int)}

	gw := &MockGateway{}
	gw.On("LoadFull", mock.Anything, "T2", map[string]string(nil)).Return(unencodable, nil)

	var buf bytes.Buffer
	fake := clock.NewFake(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	c := cache.New(cache.Options{Clock: fake})
	loader := NewCachedLoader(gw, c, server, logging.NewWriterLogger(&buf, "warn"))

	full, err := loader.LoadFull(context.Background(), "T2", nil)
	require.NoError(t, err)
	assert.Same(t, unencodable, full)
	assert.Equal(t, 0, c.Len())
	assert.Contains(t, buf.String(), "Failed to cache tree")
	assert.Contains(t, buf.String(), `"tree_id":"T2"`)

	_, err = loader.LoadFull(context.Background(), "T2", nil)
	require.NoError(t, err)
	gw.AssertNumberOfCalls(t, "LoadFull", 2)
}

func TestSaveNodeInvalidatesTree(t *testing.T) {
	gw := &MockGateway{}
	gw.On("LoadFull", mock.Anything, mock.Anything, mock.Anything).Return(fullTree("X"), nil)
	gw.On("SaveNode", mock.Anything, "X", mock.Anything).Return(&models.NavigationNode{ID: "n-1", TreeID: "X"}, nil)
	editor, c, _ := newEditor(gw, lockSet{"X": true})
	ctx := context.Background()

	flagged := map[string]string{"include_metrics": "true"}
	_, err := editor.LoadFull(ctx, "X", nil)
	require.NoError(t, err)
	_, err = editor.LoadFull(ctx, "X", flagged)
	require.NoError(t, err)
	require.NoError(t, c.Set(cache.Key(server, "Y", nil), fullTree("Y")))

	_, ok := c.Get(cache.Key(server, "X", flagged))
	require.True(t, ok)

	_, err = editor.SaveNode(ctx, "X", &models.NavigationNode{NodeID: "home"})
	require.NoError(t, err)

	_, ok = c.Get(cache.Key(server, "X", nil))
	assert.False(t, ok)
	_, ok = c.Get(cache.Key(server, "X", flagged))
	assert.False(t, ok)
	_, ok = c.Get(cache.Key(server, "Y", nil))
	assert.True(t, ok)
}

func TestSaveBatchClearsCache(t *testing.T) {
	gw := &MockGateway{}
	gw.On("SaveBatch", mock.Anything, "X", mock.Anything).Return(nil)
	editor, c, _ := newEditor(gw, lockSet{"X": true})

	require.NoError(t, c.Set(cache.Key(server, "X", nil), fullTree("X")))
	require.NoError(t, c.Set(cache.Key(server, "Y", nil), fullTree("Y")))

	require.NoError(t, editor.SaveBatch(context.Background(), "X", models.BatchSaveRequest{DeletedNodeIDs: []string{"n-1"}}))
	assert.Equal(t, 0, c.Len())
}

func TestMutationsRequireLock(t *testing.T) {
	gw := &MockGateway{}
	editor, c, _ := newEditor(gw, lockSet{"Y": true})
	ctx := context.Background()
	require.NoError(t, c.Set(cache.Key(server, "X", nil), fullTree("X")))

	_, err := editor.SaveNode(ctx, "X", &models.NavigationNode{})
	assert.True(t, errors.Is(err, ErrNotLocked))
	_, err = editor.SaveEdge(ctx, "X", &models.NavigationEdge{})
	assert.True(t, errors.Is(err, ErrNotLocked))
	assert.ErrorIs(t, editor.DeleteNode(ctx, "X", "n"), ErrNotLocked)
	assert.ErrorIs(t, editor.DeleteEdge(ctx, "X", "e"), ErrNotLocked)
	assert.ErrorIs(t, editor.SaveBatch(ctx, "X", models.BatchSaveRequest{}), ErrNotLocked)
	_, err = editor.SaveTree(ctx, &models.NavigationTree{ID: "X"})
	assert.ErrorIs(t, err, ErrNotLocked)

	gw.AssertNotCalled(t, "SaveNode", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1, c.Len())
}

func TestFailedSaveKeepsCache(t *testing.T) {
	gw := &MockGateway{}
	gw.On("SaveEdge", mock.Anything, "X", mock.Anything).Return(nil, errors.New("boom"))
	editor, c, _ := newEditor(gw, lockSet{"X": true})
	require.NoError(t, c.Set(cache.Key(server, "X", nil), fullTree("X")))

	_, err := editor.SaveEdge(context.Background(), "X", &models.NavigationEdge{})
	assert.Error(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestCreateTreeWithoutLock(t *testing.T) {
	gw := &MockGateway{}
	gw.On("SaveTree", mock.Anything, mock.Anything).Return(&models.NavigationTree{ID: "NEW"}, nil)
	editor, _, _ := newEditor(gw, lockSet{})

	tree, err := editor.SaveTree(context.Background(), &models.NavigationTree{Name: "Fresh"})
	require.NoError(t, err)
	assert.Equal(t, "NEW", tree.ID)
}
