package treeapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/flowconsole/pkg/models"
	"github.com/tcmartin/flowconsole/pkg/utils"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]interface{}
}

func newGatewayServer(t *testing.T, respond func(r recordedRequest) (int, models.TreeResponse)) (*Gateway, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
		_ = json.NewDecoder(r.Body).Decode(&rec.Body)
		requests = append(requests, rec)

		status, body := respond(rec)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return NewGateway(utils.NewHTTPClient(srv.URL, 5*time.Second)), &requests
}

func TestSaveNodeCreateVsUpdate(t *testing.T) {
	gw, reqs := newGatewayServer(t, func(r recordedRequest) (int, models.TreeResponse) {
		return http.StatusOK, models.TreeResponse{Success: true, Node: &models.NavigationNode{ID: "n-1", TreeID: "T1", NodeID: "home", Label: "Home"}}
	})
	ctx := context.Background()

	saved, err := gw.SaveNode(ctx, "T1", &models.NavigationNode{NodeID: "home", Label: "Home"})
	require.NoError(t, err)
	assert.Equal(t, "n-1", saved.ID)

	_, err = gw.SaveNode(ctx, "T1", saved)
	require.NoError(t, err)

	require.Len(t, *reqs, 2)
	assert.Equal(t, http.MethodPost, (*reqs)[0].Method)
	assert.Equal(t, "/trees/T1/nodes", (*reqs)[0].Path)
	assert.Equal(t, http.MethodPut, (*reqs)[1].Method)
	assert.Equal(t, "/trees/T1/nodes/n-1", (*reqs)[1].Path)
}

func TestSaveEdgeAndTree(t *testing.T) {
	gw, reqs := newGatewayServer(t, func(r recordedRequest) (int, models.TreeResponse) {
		return http.StatusOK, models.TreeResponse{
			Success: true,
			Edge:    &models.NavigationEdge{ID: "e-1", EdgeID: "home_live"},
			Tree:    &models.NavigationTree{ID: "T1", Name: "Main"},
		}
	})
	ctx := context.Background()

	edge, err := gw.SaveEdge(ctx, "T1", &models.NavigationEdge{ID: "e-1"})
	require.NoError(t, err)
	assert.Equal(t, "home_live", edge.EdgeID)

	tree, err := gw.SaveTree(ctx, &models.NavigationTree{Name: "Main"})
	require.NoError(t, err)
	assert.Equal(t, "T1", tree.ID)

	assert.Equal(t, "/trees/T1/edges/e-1", (*reqs)[0].Path)
	assert.Equal(t, http.MethodPut, (*reqs)[0].Method)
	assert.Equal(t, "/trees", (*reqs)[1].Path)
	assert.Equal(t, http.MethodPost, (*reqs)[1].Method)
}

func TestLoadFullPassesFlags(t *testing.T) {
	gw, reqs := newGatewayServer(t, func(r recordedRequest) (int, models.TreeResponse) {
		return http.StatusOK, models.TreeResponse{
			Success: true,
			Tree:    &models.NavigationTree{ID: "T1"},
			Nodes:   []models.NavigationNode{{ID: "n-1", NodeID: "home"}},
		}
	})

	full, err := gw.LoadFull(context.Background(), "T1", map[string]string{"include_metrics": "true"})
	require.NoError(t, err)
	assert.Equal(t, "T1", full.Tree.ID)
	assert.Len(t, full.Nodes, 1)
	assert.NotNil(t, full.Edges)
	assert.Equal(t, "/trees/T1/full", (*reqs)[0].Path)
	assert.Equal(t, "include_metrics=true", (*reqs)[0].Query)
}

func TestSaveBatchBody(t *testing.T) {
	gw, reqs := newGatewayServer(t, func(r recordedRequest) (int, models.TreeResponse) {
		return http.StatusOK, models.TreeResponse{Success: true}
	})

	err := gw.SaveBatch(context.Background(), "T1", models.BatchSaveRequest{
		Nodes:          []models.NavigationNode{{NodeID: "home"}},
		DeletedEdgeIDs: []string{"e-9"},
	})
	require.NoError(t, err)
	body := (*reqs)[0].Body
	assert.Equal(t, "/trees/T1/batch", (*reqs)[0].Path)
	assert.Len(t, body["nodes"], 1)
	assert.Equal(t, []interface{}{"e-9"}, body["deleted_edge_ids"])
}

func TestGatewayErrors(t *testing.T) {
	gw, _ := newGatewayServer(t, func(r recordedRequest) (int, models.TreeResponse) {
		if r.Method == http.MethodDelete {
			return http.StatusNotFound, models.TreeResponse{Success: false, Error: "node not found"}
		}
		return http.StatusBadRequest, models.TreeResponse{Success: false, Error: "exactly one default action set required"}
	})
	ctx := context.Background()

	err := gw.DeleteNode(ctx, "T1", "nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = gw.SaveEdge(ctx, "T1", &models.NavigationEdge{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one default action set required")
}
