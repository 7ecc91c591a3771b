package queue

import (
	"testing"

	"github.com/crawlkit/crawlkit/internal/types"
)

func TestRequestListDedupesOnAdd(t *testing.T) {
	r1, _ := types.NewRequest("https://example.com/a")
	r2, _ := types.NewRequest("https://example.com/a")

	l := NewRequestList([]*types.Request{r1, r2})
	if l.Length() != 1 {
		t.Fatalf("expected 1 request after dedup, got %d", l.Length())
	}
}

func TestRequestListFetchExhausts(t *testing.T) {
	r1, _ := types.NewRequest("https://example.com/a")
	r2, _ := types.NewRequest("https://example.com/b")
	l := NewRequestList([]*types.Request{r1, r2})

	if got := l.FetchNextRequest(); got == nil {
		t.Fatal("expected a request")
	}
	if got := l.FetchNextRequest(); got == nil {
		t.Fatal("expected a second request")
	}
	if got := l.FetchNextRequest(); got != nil {
		t.Fatalf("expected nil once exhausted, got %v", got.URLString())
	}
}

func TestRequestListNotEmptyWhileInProgress(t *testing.T) {
	r1, _ := types.NewRequest("https://example.com/a")
	l := NewRequestList([]*types.Request{r1})

	fetched := l.FetchNextRequest()
	if fetched == nil {
		t.Fatal("expected a request")
	}
	if l.IsEmpty() {
		t.Fatal("list should not be empty while a request is in progress")
	}

	if err := l.MarkRequestHandled(fetched); err != nil {
		t.Fatalf("MarkRequestHandled: %v", err)
	}
	if !l.IsEmpty() {
		t.Fatal("list should be empty once the only request is handled")
	}
}

func TestRequestListReclaimRefetchable(t *testing.T) {
	r1, _ := types.NewRequest("https://example.com/a")
	l := NewRequestList([]*types.Request{r1})

	fetched := l.FetchNextRequest()
	if err := l.ReclaimRequest(fetched); err != nil {
		t.Fatalf("ReclaimRequest: %v", err)
	}

	again := l.FetchNextRequest()
	if again == nil {
		t.Fatal("expected reclaimed request to be fetchable again")
	}
}
