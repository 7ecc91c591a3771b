package queue

import (
	"context"
	"testing"

	"github.com/crawlkit/crawlkit/internal/types"
)

func TestLocalClientAddAndPersist(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c := NewLocalClient(dir, "q1")
	r, _ := types.NewRequest("https://example.com/a")
	info, err := c.AddRequest(ctx, r, AddRequestOptions{})
	if err != nil {
		t.Fatalf("AddRequest: %v", err)
	}
	if info.RequestID == "" {
		t.Fatal("expected an assigned ID")
	}

	reloaded := NewLocalClient(dir, "q1")
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	meta, err := reloaded.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if meta.TotalRequestCount != 1 {
		t.Fatalf("expected 1 request after reload, got %d", meta.TotalRequestCount)
	}
}

func TestLocalClientForefrontOrdering(t *testing.T) {
	ctx := context.Background()
	c := NewLocalClient(t.TempDir(), "q1")

	r1, _ := types.NewRequest("https://example.com/first")
	r2, _ := types.NewRequest("https://example.com/second")

	if _, err := c.AddRequest(ctx, r1, AddRequestOptions{}); err != nil {
		t.Fatalf("AddRequest r1: %v", err)
	}
	if _, err := c.AddRequest(ctx, r2, AddRequestOptions{Forefront: true}); err != nil {
		t.Fatalf("AddRequest r2: %v", err)
	}

	listing, err := c.ListHead(ctx, 10, "")
	if err != nil {
		t.Fatalf("ListHead: %v", err)
	}
	if len(listing.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(listing.Items))
	}
	if listing.Items[0].ID != r2.ID {
		t.Fatalf("expected forefront request first, got %s", listing.Items[0].ID)
	}
}

func TestLocalClientListHeadSkipsHandled(t *testing.T) {
	ctx := context.Background()
	c := NewLocalClient(t.TempDir(), "q1")

	r, _ := types.NewRequest("https://example.com/a")
	if _, err := c.AddRequest(ctx, r, AddRequestOptions{}); err != nil {
		t.Fatalf("AddRequest: %v", err)
	}

	fetched, err := c.GetRequest(ctx, r.ID)
	if err != nil || fetched == nil {
		t.Fatalf("GetRequest: %v, %v", fetched, err)
	}
	fetched.MarkHandled(fetched.CreatedAt)
	if _, err := c.UpdateRequest(ctx, fetched); err != nil {
		t.Fatalf("UpdateRequest: %v", err)
	}

	listing, err := c.ListHead(ctx, 10, "")
	if err != nil {
		t.Fatalf("ListHead: %v", err)
	}
	if len(listing.Items) != 0 {
		t.Fatalf("expected handled request to be excluded from head, got %d items", len(listing.Items))
	}
}

func TestLocalClientAddRequestDedupesByUniqueKey(t *testing.T) {
	ctx := context.Background()
	c := NewLocalClient(t.TempDir(), "q1")

	r1, _ := types.NewRequest("https://example.com/a")
	r2, _ := types.NewRequest("https://example.com/a")

	info1, err := c.AddRequest(ctx, r1, AddRequestOptions{})
	if err != nil {
		t.Fatalf("AddRequest r1: %v", err)
	}
	info2, err := c.AddRequest(ctx, r2, AddRequestOptions{})
	if err != nil {
		t.Fatalf("AddRequest r2: %v", err)
	}
	if !info2.WasAlreadyPresent {
		t.Fatal("expected duplicate UniqueKey to be reported as already present")
	}
	if info2.RequestID != info1.RequestID {
		t.Fatalf("expected same ID for duplicate, got %s vs %s", info2.RequestID, info1.RequestID)
	}
}
