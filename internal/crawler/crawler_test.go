package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crawlkit/crawlkit/internal/queue"
	"github.com/crawlkit/crawlkit/internal/types"
)

func newTestRequests(t *testing.T, n int) []*types.Request {
	t.Helper()
	reqs := make([]*types.Request, 0, n)
	for i := 0; i < n; i++ {
		r, err := types.NewRequest(fmt.Sprintf("https://example.com/page/%d", i))
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		reqs = append(reqs, r)
	}
	return reqs
}

func TestBasicCrawlerRunsRequestList(t *testing.T) {
	list := queue.NewRequestList(newTestRequests(t, 25))

	var handled atomic.Int64
	opts := Options{
		RequestList: list,
		HandleRequestFunction: func(ctx context.Context, hc *HandlerContext) error {
			handled.Add(1)
			return nil
		},
		MinConcurrency: 2,
		MaxConcurrency: 5,
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if handled.Load() != 25 {
		t.Fatalf("expected 25 handled requests, got %d", handled.Load())
	}
	if !list.IsEmpty() {
		t.Fatal("expected list to be drained")
	}
}

func TestBasicCrawlerRetriesThenFails(t *testing.T) {
	list := queue.NewRequestList(newTestRequests(t, 1))

	var attempts atomic.Int64
	var failed atomic.Bool
	opts := Options{
		RequestList: list,
		HandleRequestFunction: func(ctx context.Context, hc *HandlerContext) error {
			attempts.Add(1)
			return errors.New("boom")
		},
		HandleFailedRequestFunction: func(ctx context.Context, hc *HandlerContext, err error) {
			failed.Store(true)
		},
		MaxRequestRetries: 2,
		MinConcurrency:    1,
		MaxConcurrency:    1,
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// One original attempt plus MaxRequestRetries retries.
	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
	if !failed.Load() {
		t.Fatal("expected HandleFailedRequestFunction to run")
	}
}

func TestBasicCrawlerRespectsMaxRequestsPerCrawl(t *testing.T) {
	list := queue.NewRequestList(newTestRequests(t, 10))

	var handled atomic.Int64
	opts := Options{
		RequestList: list,
		HandleRequestFunction: func(ctx context.Context, hc *HandlerContext) error {
			handled.Add(1)
			return nil
		},
		MaxRequestsPerCrawl: 3,
		MinConcurrency:      1,
		MaxConcurrency:      1,
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if handled.Load() != 3 {
		t.Fatalf("expected exactly 3 handled requests, got %d", handled.Load())
	}
	if list.IsEmpty() {
		t.Fatal("expected 7 untouched requests to remain in the list")
	}
}

func TestBasicCrawlerBlockedResponseRetiresSession(t *testing.T) {
	list := queue.NewRequestList(newTestRequests(t, 1))

	opts := Options{
		RequestList: list,
		HandleRequestFunction: func(ctx context.Context, hc *HandlerContext) error {
			return NewBlockedError(hc.Request.URLString(), 403)
		},
		UseSessionPool:    true,
		MaxRequestRetries: 0,
		MinConcurrency:    1,
		MaxConcurrency:    1,
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if c.SessionPool().Size() != 1 {
		t.Fatalf("expected a single session to have been created, got %d", c.SessionPool().Size())
	}
	if c.SessionPool().UsableCount() != 0 {
		t.Fatal("expected the session to be retired after a blocked response")
	}
}

func TestBasicCrawlerHandlerTimeout(t *testing.T) {
	list := queue.NewRequestList(newTestRequests(t, 1))

	var gotErr error
	var mu sync.Mutex
	opts := Options{
		RequestList: list,
		HandleRequestFunction: func(ctx context.Context, hc *HandlerContext) error {
			<-ctx.Done()
			return ctx.Err()
		},
		HandleFailedRequestFunction: func(ctx context.Context, hc *HandlerContext, err error) {
			mu.Lock()
			gotErr = err
			mu.Unlock()
		},
		HandleRequestTimeoutSecs: 1,
		MaxRequestRetries:        0,
		MinConcurrency:           1,
		MaxConcurrency:           1,
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotErr == nil || gotErr.Error() != "handleRequestFunction timed out" {
		t.Fatalf("expected a timeout error, got %v", gotErr)
	}
}

func TestBasicCrawlerRequiresHandlerAndSource(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected an error when HandleRequestFunction is nil")
	}

	if _, err := New(Options{
		HandleRequestFunction: func(ctx context.Context, hc *HandlerContext) error { return nil },
	}); !errors.Is(err, types.ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
}

func TestBasicCrawlerBootstrapsListIntoQueuePreservingOrder(t *testing.T) {
	reqs := newTestRequests(t, 5)
	list := queue.NewRequestList(reqs)
	q := queue.NewRequestQueue(queue.NewLocalClient(t.TempDir(), "bootstrap-test"))

	var order []string
	var mu sync.Mutex
	opts := Options{
		RequestList:  list,
		RequestQueue: q,
		HandleRequestFunction: func(ctx context.Context, hc *HandlerContext) error {
			mu.Lock()
			order = append(order, hc.Request.URLString())
			mu.Unlock()
			return nil
		},
		MinConcurrency: 1,
		MaxConcurrency: 1,
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 5 {
		t.Fatalf("expected 5 handled requests, got %d", len(order))
	}
	for i, r := range reqs {
		if order[i] != r.URLString() {
			t.Fatalf("expected bootstrap order to be preserved, got %v", order)
		}
	}
}
