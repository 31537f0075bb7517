package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local tree cache",
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newConsole()
			if err != nil {
				return err
			}
			treeCache := c.treeCache()
			treeCache.InvalidateAll()
			if err := treeCache.Close(); err != nil {
				return fmt.Errorf("failed to persist cache: %w", err)
			}
			fmt.Println("Tree cache cleared")
			return nil
		},
	}

	cmd.AddCommand(clearCmd)
	return cmd
}
