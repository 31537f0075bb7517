package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tcmartin/flowconsole/pkg/locking"
	"github.com/tcmartin/flowconsole/pkg/models"
	"github.com/tcmartin/flowconsole/pkg/utils"
)

func treeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Navigation tree locking and editing",
	}

	statusCmd := &cobra.Command{
		Use:   "status [tree-id]",
		Short: "Show who holds the lock of a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newConsole()
			if err != nil {
				return err
			}
			state, err := c.lockManager().CheckLockStatus(cmdContext(), args[0])
			if err != nil {
				return err
			}
			if state.LockInfo == nil {
				fmt.Printf("Tree %s is unlocked\n", args[0])
				return nil
			}
			fmt.Printf("Tree %s is locked by %s (session %s) since %s\n",
				args[0], state.LockInfo.UserID, state.LockInfo.SessionID, state.LockInfo.AcquiredAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	lockCmd := &cobra.Command{
		Use:   "lock [tree-id]",
		Short: "Take the edit lock of a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newConsole()
			if err != nil {
				return err
			}
			locks := c.lockManager()
			ok, err := locks.Acquire(cmdContext(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return heldError(args[0], locks.State(args[0]))
			}
			fmt.Printf("Locked tree %s. Release it with: flowconsole tree unlock %s --session %s\n",
				args[0], args[0], c.session.ID)
			return nil
		},
	}

	unlockCmd := &cobra.Command{
		Use:   "unlock [tree-id]",
		Short: "Release the edit lock of a tree taken with --session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session is required to release a lock")
			}
			c, err := newConsole()
			if err != nil {
				return err
			}
			if err := c.lockManager().Release(cmdContext(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Released tree %s\n", args[0])
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show [tree-id]",
		Short: "Print the nodes and edges of a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			full, err := loadTree(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s), root %s\n", full.Tree.Name, full.Tree.ID, full.Tree.RootNodeID)
			for _, n := range full.Nodes {
				fmt.Printf("  node %-20s %s\n", n.NodeID, n.Label)
			}
			for _, e := range full.Edges {
				fmt.Printf("  edge %-20s %s -> %s [%s]\n", e.EdgeID, e.SourceNodeID, e.TargetNodeID, e.DefaultActionSetID)
			}
			return nil
		},
	}

	var exportPath string
	exportCmd := &cobra.Command{
		Use:   "export [tree-id]",
		Short: "Export a tree as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			full, err := loadTree(args[0])
			if err != nil {
				return err
			}
			data, err := utils.MarshalYAML(full)
			if err != nil {
				return err
			}
			if exportPath == "" {
				fmt.Print(string(data))
				return nil
			}
			return os.WriteFile(exportPath, data, 0644)
		},
	}
	exportCmd.Flags().StringVarP(&exportPath, "output", "o", "", "Write to a file instead of stdout")

	importCmd := &cobra.Command{
		Use:   "import [tree.yaml]",
		Short: "Create or replace a tree from YAML under its edit lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var full models.FullTree
			if err := utils.ReadYAMLFile(args[0], &full); err != nil {
				return err
			}
			return importTree(full)
		},
	}

	cmd.AddCommand(statusCmd, lockCmd, unlockCmd, showCmd, exportCmd, importCmd)
	return cmd
}

func heldError(treeID string, state locking.LockState) error {
	if state.LockInfo != nil {
		return fmt.Errorf("tree %s is locked by %s", treeID, state.LockInfo.UserID)
	}
	return fmt.Errorf("tree %s is being edited by another session", treeID)
}

func loadTree(treeID string) (*models.FullTree, error) {
	c, err := newConsole()
	if err != nil {
		return nil, err
	}
	treeCache := c.treeCache()
	defer treeCache.Close()

	return c.loader(treeCache).LoadFull(cmdContext(), treeID, nil)
}

// importTree creates the tree when it has no ID, then replaces its nodes and
// edges in one batch while holding the lock
func importTree(full models.FullTree) error {
	c, err := newConsole()
	if err != nil {
		return err
	}
	ctx := cmdContext()

	treeCache := c.treeCache()
	defer treeCache.Close()

	locks := c.lockManager()
	editor := c.editor(locks, treeCache)

	if full.Tree.ID == "" {
		created, err := editor.SaveTree(ctx, &full.Tree)
		if err != nil {
			return err
		}
		full.Tree = *created
		fmt.Printf("Created tree %s\n", created.ID)
	}
	treeID := full.Tree.ID

	ok, err := locks.Acquire(ctx, treeID)
	if err != nil {
		return err
	}
	if !ok {
		return heldError(treeID, locks.State(treeID))
	}
	release := locks.SetupAutoUnlock(treeID)
	defer release()

	if _, err := editor.SaveTree(ctx, &full.Tree); err != nil {
		return err
	}

	current, err := editor.LoadFull(ctx, treeID, nil)
	if err != nil {
		return err
	}
	batch := replaceBatch(current, &full)
	if err := editor.SaveBatch(ctx, treeID, batch); err != nil {
		return err
	}

	fmt.Printf("Imported %d nodes and %d edges into tree %s (%d nodes and %d edges removed)\n",
		len(batch.Nodes), len(batch.Edges), treeID, len(batch.DeletedNodeIDs), len(batch.DeletedEdgeIDs))
	return nil
}

// replaceBatch turns the desired tree into a batch against the current one.
// Nodes and edges are matched by their user keys so existing entries keep
// their server IDs.
func replaceBatch(current, desired *models.FullTree) models.BatchSaveRequest {
	nodeIDs := make(map[string]string, len(current.Nodes))
	for _, n := range current.Nodes {
		nodeIDs[n.NodeID] = n.ID
	}
	edgeIDs := make(map[string]string, len(current.Edges))
	for _, e := range current.Edges {
		edgeIDs[e.EdgeID] = e.ID
	}

	batch := models.BatchSaveRequest{
		Nodes: make([]models.NavigationNode, 0, len(desired.Nodes)),
		Edges: make([]models.NavigationEdge, 0, len(desired.Edges)),
	}

	keepNodes := map[string]bool{}
	for _, n := range desired.Nodes {
		n.ID = nodeIDs[n.NodeID]
		keepNodes[n.NodeID] = true
		batch.Nodes = append(batch.Nodes, n)
	}
	keepEdges := map[string]bool{}
	for _, e := range desired.Edges {
		e.ID = edgeIDs[e.EdgeID]
		keepEdges[e.EdgeID] = true
		batch.Edges = append(batch.Edges, e)
	}

	for _, n := range current.Nodes {
		if !keepNodes[n.NodeID] {
			batch.DeletedNodeIDs = append(batch.DeletedNodeIDs, n.ID)
		}
	}
	for _, e := range current.Edges {
		if !keepEdges[e.EdgeID] {
			batch.DeletedEdgeIDs = append(batch.DeletedEdgeIDs, e.ID)
		}
	}
	return batch
}
