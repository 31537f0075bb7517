package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tcmartin/flowconsole/pkg/config"
	"github.com/tcmartin/flowconsole/pkg/models"
)

func TestReplaceBatch(t *testing.T) {
	current := &models.FullTree{
		Nodes: []models.NavigationNode{
			{ID: "srv-home", NodeID: "home", Label: "Home"},
			{ID: "srv-old", NodeID: "old", Label: "Old"},
		},
		Edges: []models.NavigationEdge{
			{ID: "srv-e1", EdgeID: "e1", SourceNodeID: "home", TargetNodeID: "old"},
		},
	}
	desired := &models.FullTree{
		Nodes: []models.NavigationNode{
			{NodeID: "home", Label: "Home screen"},
			{NodeID: "live", Label: "Live TV"},
		},
		Edges: []models.NavigationEdge{
			{EdgeID: "e2", SourceNodeID: "home", TargetNodeID: "live"},
		},
	}

	batch := replaceBatch(current, desired)

	assert.Len(t, batch.Nodes, 2)
	assert.Equal(t, "srv-home", batch.Nodes[0].ID)
	assert.Equal(t, "Home screen", batch.Nodes[0].Label)
	assert.Empty(t, batch.Nodes[1].ID)
	assert.Len(t, batch.Edges, 1)
	assert.Empty(t, batch.Edges[0].ID)
	assert.Equal(t, []string{"srv-old"}, batch.DeletedNodeIDs)
	assert.Equal(t, []string{"srv-e1"}, batch.DeletedEdgeIDs)

	// desired is left untouched
	assert.Empty(t, desired.Nodes[0].ID)
}

func TestWebhookConfigs(t *testing.T) {
	hooks := webhookConfigs([]config.WebhookConfig{{
		URL:          "http://ci.local/hook",
		Secret:       "s",
		Events:       []string{"run.completed"},
		MaxRetries:   3,
		RetryDelayMs: 200,
	}})

	assert.Len(t, hooks, 1)
	assert.Equal(t, "http://ci.local/hook", hooks[0].URL)
	assert.True(t, hooks[0].Wants("run.completed"))
	assert.False(t, hooks[0].Wants("block.completed"))
	assert.Equal(t, 3, hooks[0].RetryConfig.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, hooks[0].RetryConfig.InitialDelay)
}
