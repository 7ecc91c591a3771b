// Package main is the crawlkit CLI: a thin Cobra wrapper around the
// RequestQueue/BasicCrawler/SessionPool core, following the teacher's
// cmd/webstalk/main.go root-command-plus-subcommand construction.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/crawlkit/crawlkit/internal/config"
)

var (
	cfgFile string
	logger  *slog.Logger
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "crawlkit",
		Short: "CrawlKit: a request-queue-driven web crawler",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if v, _ := cmd.Flags().GetBool("verbose"); v {
				level = slog.LevelDebug
			}
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().Bool("verbose", false, "enable debug logging")

	root.AddCommand(newCrawlCmd())
	root.AddCommand(newQueueCmd())
	root.AddCommand(newSessionCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the crawlkit version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(config.Version)
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
