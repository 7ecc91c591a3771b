package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/crawlkit/crawlkit/internal/crawler"
	"github.com/crawlkit/crawlkit/internal/fetcher"
	"github.com/crawlkit/crawlkit/internal/kvstore"
	"github.com/crawlkit/crawlkit/internal/parser"
	"github.com/crawlkit/crawlkit/internal/pipeline"
	"github.com/crawlkit/crawlkit/internal/queue"
	"github.com/crawlkit/crawlkit/internal/stats"
	"github.com/crawlkit/crawlkit/internal/storage"
	"github.com/crawlkit/crawlkit/internal/types"
)

func newCrawlCmd() *cobra.Command {
	var (
		seeds          []string
		minConcurrency int
		maxConcurrency int
		maxRetries     int
		maxRequests    int
		timeoutSecs    int
		politenessMs   int
		respectRobots  bool
		useSessionPool bool
		storageDir     string
		fetcherType    string
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl a set of seed URLs through the fetch/parse/store pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(seeds) == 0 {
				return fmt.Errorf("at least one --seed is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if storageDir != "" {
				cfg.Storage.OutputPath = storageDir
			}
			if fetcherType != "" {
				cfg.Fetcher.Type = fetcherType
			}

			activeFetcher, err := fetcher.NewFetcher(cfg, logger)
			if err != nil {
				return fmt.Errorf("build fetcher: %w", err)
			}
			defer activeFetcher.Close()

			compositeParser := parser.NewCompositeParser(logger)

			fileStorage, err := storage.NewFileStorage(cfg.Storage.Type, cfg.Storage.OutputPath, logger)
			if err != nil {
				return fmt.Errorf("build storage: %w", err)
			}
			defer fileStorage.Close()

			proc := pipeline.New(logger)
			proc.Use(&pipeline.TrimMiddleware{})
			proc.Use(pipeline.NewDedupMiddleware("_url"))

			kv := kvstore.NewLocalClient(cfg.Storage.OutputPath)
			reqQueue := queue.NewRequestQueue(queue.NewLocalClient(cfg.Storage.OutputPath, "default"))

			seedReqs := make([]*types.Request, 0, len(seeds))
			for _, s := range seeds {
				r, err := types.NewRequest(s)
				if err != nil {
					return fmt.Errorf("invalid seed %q: %w", s, err)
				}
				seedReqs = append(seedReqs, r)
			}
			reqList := queue.NewRequestList(seedReqs)

			var robots *crawler.RobotsChecker
			if respectRobots {
				robots = crawler.NewRobotsChecker(true)
			}

			statTracker := stats.New(logger)

			handleRequest := func(ctx context.Context, hc *crawler.HandlerContext) error {
				req := hc.Request
				resp, err := activeFetcher.Fetch(ctx, req)
				if err != nil {
					return err
				}
				if !resp.IsSuccess() {
					return &types.FetchError{
						URL:        req.URLString(),
						StatusCode: resp.StatusCode,
						Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
						Retryable:  resp.IsServerError(),
					}
				}

				items, links, err := compositeParser.Parse(resp, cfg.Parser.Rules)
				if err != nil {
					return err
				}

				kept := make([]*types.Item, 0, len(items))
				for _, item := range items {
					out, err := proc.Process(item)
					if err != nil {
						return err
					}
					if out != nil {
						kept = append(kept, out)
					}
				}
				if len(kept) > 0 {
					if err := fileStorage.Store(kept); err != nil {
						return err
					}
				}

				if req.Depth < cfg.Engine.MaxDepth {
					for _, link := range links {
						child, err := types.NewRequest(link)
						if err != nil {
							continue
						}
						child.Depth = req.Depth + 1
						child.ParentURL = req.URLString()
						if _, err := reqQueue.AddRequest(ctx, child, queue.AddRequestOptions{}); err != nil {
							logger.Warn("enqueue discovered link failed", "url", link, "error", err)
						}
					}
				}
				return nil
			}

			handleFailed := func(ctx context.Context, hc *crawler.HandlerContext, err error) {
				logger.Error("request failed permanently", "url", hc.Request.URLString(), "error", err)
			}

			c, err := crawler.New(crawler.Options{
				HandleRequestFunction:       handleRequest,
				HandleFailedRequestFunction: handleFailed,
				RequestList:                 reqList,
				RequestQueue:                reqQueue,
				MinConcurrency:              minConcurrency,
				MaxConcurrency:              maxConcurrency,
				MaxRequestRetries:           maxRetries,
				MaxRequestsPerCrawl:         maxRequests,
				HandleRequestTimeoutSecs:    timeoutSecs,
				PolitenessDelay:             time.Duration(politenessMs) * time.Millisecond,
				UseSessionPool:              useSessionPool,
				SessionStore:                kv,
				Robots:                      robots,
				Statistics:                  statTracker,
				Logger:                      logger,
			})
			if err != nil {
				return fmt.Errorf("build crawler: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			if err := c.Run(ctx); err != nil {
				return fmt.Errorf("crawl: %w", err)
			}

			logger.Info("crawl complete",
				"requests_finished", statTracker.RequestsFinished(),
				"requests_failed", statTracker.RequestsFailed(),
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "seed URL to crawl (repeatable)")
	cmd.Flags().IntVar(&minConcurrency, "min-concurrency", 1, "minimum worker concurrency")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 10, "maximum worker concurrency")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3, "maximum retries per request")
	cmd.Flags().IntVar(&maxRequests, "max-requests", 0, "stop after this many requests (0 = unlimited)")
	cmd.Flags().IntVar(&timeoutSecs, "timeout-secs", 60, "per-request handler timeout in seconds")
	cmd.Flags().IntVar(&politenessMs, "politeness-delay-ms", 0, "minimum delay between requests to the same domain")
	cmd.Flags().BoolVar(&respectRobots, "respect-robots", true, "honor robots.txt disallow rules")
	cmd.Flags().BoolVar(&useSessionPool, "use-session-pool", false, "rotate identities via the session pool")
	cmd.Flags().StringVar(&storageDir, "storage-dir", "", "override the configured local storage directory")
	cmd.Flags().StringVar(&fetcherType, "fetcher-type", "", "override the configured fetcher (http or browser)")

	return cmd
}
