package queue

import (
	"context"
	"testing"
	"time"

	"github.com/crawlkit/crawlkit/internal/types"
)

func newTestQueue(t *testing.T) *RequestQueue {
	t.Helper()
	origConsistency, origProcessed := storageConsistencyDelay, apiProcessedRequestsDelay
	storageConsistencyDelay = 20 * time.Millisecond
	apiProcessedRequestsDelay = 20 * time.Millisecond
	t.Cleanup(func() {
		storageConsistencyDelay, apiProcessedRequestsDelay = origConsistency, origProcessed
	})

	client := NewLocalClient(t.TempDir(), "test-queue")
	return NewRequestQueue(client)
}

func TestRequestQueueAddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	r1, _ := types.NewRequest("https://example.com/page?b=2&a=1")
	info1, err := q.AddRequest(ctx, r1, AddRequestOptions{})
	if err != nil {
		t.Fatalf("AddRequest: %v", err)
	}
	if info1.WasAlreadyPresent {
		t.Fatal("expected first add to be novel")
	}

	r2, _ := types.NewRequest("https://example.com/page?a=1&b=2")
	info2, err := q.AddRequest(ctx, r2, AddRequestOptions{})
	if err != nil {
		t.Fatalf("AddRequest (dup): %v", err)
	}
	if !info2.WasAlreadyPresent {
		t.Fatal("expected equivalent URL (different query order) to be deduped")
	}
	if info2.RequestID != info1.RequestID {
		t.Fatalf("expected same request ID, got %s vs %s", info2.RequestID, info1.RequestID)
	}
}

func TestRequestQueueFetchMarksInProgress(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	r, _ := types.NewRequest("https://example.com/a")
	if _, err := q.AddRequest(ctx, r, AddRequestOptions{}); err != nil {
		t.Fatalf("AddRequest: %v", err)
	}

	fetched, err := q.FetchNextRequest(ctx)
	if err != nil {
		t.Fatalf("FetchNextRequest: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected a request, got nil")
	}

	empty, err := q.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if empty {
		t.Fatal("queue should not report empty while a request is in progress")
	}
}

func TestRequestQueueMarkHandledOnUnfetchedIsIdempotentNoOp(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	r, _ := types.NewRequest("https://example.com/a")
	if _, err := q.AddRequest(ctx, r, AddRequestOptions{}); err != nil {
		t.Fatalf("AddRequest: %v", err)
	}

	info, err := q.MarkRequestHandled(ctx, r)
	if err != nil {
		t.Fatalf("MarkRequestHandled on unfetched request should not error, got %v", err)
	}
	if !info.WasAlreadyHandled {
		t.Fatal("expected WasAlreadyHandled for a request never fetched through this queue")
	}
}

func TestRequestQueueHandledRequestNotRefetched(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	r, _ := types.NewRequest("https://example.com/a")
	if _, err := q.AddRequest(ctx, r, AddRequestOptions{}); err != nil {
		t.Fatalf("AddRequest: %v", err)
	}

	fetched, err := q.FetchNextRequest(ctx)
	if err != nil || fetched == nil {
		t.Fatalf("FetchNextRequest: %v, %v", fetched, err)
	}

	if _, err := q.MarkRequestHandled(ctx, fetched); err != nil {
		t.Fatalf("MarkRequestHandled: %v", err)
	}

	again, err := q.FetchNextRequest(ctx)
	if err != nil {
		t.Fatalf("FetchNextRequest after handled: %v", err)
	}
	if again != nil {
		t.Fatalf("expected no more requests, got %v", again.URLString())
	}
}

func TestRequestQueueReclaimRequeues(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	r, _ := types.NewRequest("https://example.com/a")
	if _, err := q.AddRequest(ctx, r, AddRequestOptions{}); err != nil {
		t.Fatalf("AddRequest: %v", err)
	}

	fetched, err := q.FetchNextRequest(ctx)
	if err != nil || fetched == nil {
		t.Fatalf("FetchNextRequest: %v, %v", fetched, err)
	}

	if _, err := q.ReclaimRequest(ctx, fetched, true); err != nil {
		t.Fatalf("ReclaimRequest: %v", err)
	}

	// ReclaimRequest holds the id checked out for storageConsistencyDelay
	// (shrunk by newTestQueue) before it reappears in the head.
	deadline := time.Now().Add(2 * time.Second)
	for {
		again, err := q.FetchNextRequest(ctx)
		if err != nil {
			t.Fatalf("FetchNextRequest after reclaim: %v", err)
		}
		if again != nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("expected the reclaimed request to become fetchable again")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRequestQueueReclaimUnknownIsNoOp(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	r, _ := types.NewRequest("https://example.com/a")
	r.ID = "never-fetched"
	info, err := q.ReclaimRequest(ctx, r, false)
	if err != nil {
		t.Fatalf("ReclaimRequest on an id never checked out should not error, got %v", err)
	}
	if info != nil {
		t.Fatalf("expected nil info for a no-op reclaim, got %v", info)
	}
}

func TestRequestQueueDropClearsStateAndRejectsFurtherUse(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	r, _ := types.NewRequest("https://example.com/a")
	if _, err := q.AddRequest(ctx, r, AddRequestOptions{}); err != nil {
		t.Fatalf("AddRequest: %v", err)
	}

	if err := q.Drop(ctx); err != nil {
		t.Fatalf("Drop: %v", err)
	}

	empty, err := q.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("IsEmpty after drop: %v", err)
	}
	if !empty {
		t.Fatal("expected a dropped queue to report empty")
	}

	if _, err := q.AddRequest(ctx, r, AddRequestOptions{}); err != types.ErrQueueDropped {
		t.Fatalf("expected ErrQueueDropped after Drop, got %v", err)
	}
}

func TestRequestQueueIsEmptyOnFreshQueue(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	empty, err := q.IsEmpty(ctx)
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Fatal("expected a fresh queue to be empty")
	}
}
