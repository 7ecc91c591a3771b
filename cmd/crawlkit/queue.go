package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crawlkit/crawlkit/internal/queue"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect a local request queue's persisted state",
	}
	cmd.AddCommand(newQueueInfoCmd())
	cmd.AddCommand(newQueueClearCmd())
	return cmd
}

func newQueueInfoCmd() *cobra.Command {
	var dir, id string
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print request counts for a local queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := queue.NewLocalClient(dir, id)
			if err := client.Load(); err != nil {
				return fmt.Errorf("load queue: %w", err)
			}
			meta, err := client.Get(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("queue %q: %d total, %d handled\n", meta.ID, meta.TotalRequestCount, meta.HandledRequestCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "./apify_storage", "local storage directory")
	cmd.Flags().StringVar(&id, "id", "default", "queue id")
	return cmd
}

func newQueueClearCmd() *cobra.Command {
	var dir, id string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete a local queue's persisted state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := queue.NewLocalClient(dir, id)
			if err := client.Load(); err != nil {
				return fmt.Errorf("load queue: %w", err)
			}
			rq := queue.NewRequestQueue(client)
			if err := rq.Drop(cmd.Context()); err != nil {
				return fmt.Errorf("drop queue: %w", err)
			}
			fmt.Printf("queue %q cleared\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "./apify_storage", "local storage directory")
	cmd.Flags().StringVar(&id, "id", "default", "queue id")
	return cmd
}
