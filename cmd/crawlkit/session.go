package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crawlkit/crawlkit/internal/kvstore"
	"github.com/crawlkit/crawlkit/internal/session"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect a persisted session pool",
	}
	cmd.AddCommand(newSessionInfoCmd())
	return cmd
}

func newSessionInfoCmd() *cobra.Command {
	var dir, storeID string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print the size of a persisted session pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			kv := kvstore.NewLocalClient(dir)
			pool := session.NewPool(session.PoolOptions{PersistStoreID: storeID}, kv, logger)
			if err := pool.Restore(); err != nil {
				return fmt.Errorf("restore session pool: %w", err)
			}
			fmt.Printf("session pool: %d sessions (%d usable)\n", pool.Size(), pool.UsableCount())
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "./apify_storage", "local storage directory")
	cmd.Flags().StringVar(&storeID, "store-id", "default", "key-value store id the session pool persists to")
	return cmd
}
