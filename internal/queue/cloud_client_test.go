package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/crawlkit/crawlkit/internal/types"
)

// fakeCloudBackend is an in-memory HTTP handler simulating a lagging cloud
// request-queue backend: AddRequest is immediately durable, but a newly
// added request doesn't show up in ListHead until indexDelay has elapsed,
// mirroring the eventual-consistency window CloudClient and the
// RequestQueue's head-refresh protocol are built to tolerate. It also
// reports hadMultipleClients once it has seen more than one distinct
// X-Client-Key.
type fakeCloudBackend struct {
	mu         sync.Mutex
	indexDelay time.Duration
	byID       map[string]*storedRequest
	order      []string
	clientKeys map[string]bool
}

type storedRequest struct {
	wire    wireRequest
	addedAt time.Time
}

func newFakeCloudBackend(indexDelay time.Duration) *fakeCloudBackend {
	return &fakeCloudBackend{
		indexDelay: indexDelay,
		byID:       make(map[string]*storedRequest),
		clientKeys: make(map[string]bool),
	}
}

func (b *fakeCloudBackend) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/request-queues/test-cloud-queue/requests", b.handleRequests)
	mux.HandleFunc("/request-queues/test-cloud-queue/requests/", b.handleRequestByID)
	mux.HandleFunc("/request-queues/test-cloud-queue/head", b.handleHead)
	mux.HandleFunc("/request-queues/test-cloud-queue", b.handleQueue)
	return httptest.NewServer(mux)
}

func (b *fakeCloudBackend) recordClientKey(r *http.Request) bool {
	key := r.Header.Get("X-Client-Key")
	b.mu.Lock()
	defer b.mu.Unlock()
	if key == "" {
		return false
	}
	b.clientKeys[key] = true
	return len(b.clientKeys) > 1
}

func (b *fakeCloudBackend) handleRequests(w http.ResponseWriter, r *http.Request) {
	b.recordClientKey(r)
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var in wireRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	for _, sr := range b.byID {
		if sr.wire.UniqueKey == in.UniqueKey {
			sr2 := *sr
			b.mu.Unlock()
			writeJSON(w, struct {
				wireRequest
				WasAlreadyPresent bool `json:"wasAlreadyPresent"`
				WasAlreadyHandled bool `json:"wasAlreadyHandled"`
			}{sr2.wire, true, sr2.wire.HandledAt != nil})
			return
		}
	}

	id := in.UniqueKey
	in.ID = id
	b.byID[id] = &storedRequest{wire: in, addedAt: time.Now()}
	if r.URL.Query().Get("forefront") != "" {
		b.order = append([]string{id}, b.order...)
	} else {
		b.order = append(b.order, id)
	}
	b.mu.Unlock()

	writeJSON(w, struct {
		wireRequest
		WasAlreadyPresent bool `json:"wasAlreadyPresent"`
		WasAlreadyHandled bool `json:"wasAlreadyHandled"`
	}{in, false, false})
}

func (b *fakeCloudBackend) handleRequestByID(w http.ResponseWriter, r *http.Request) {
	b.recordClientKey(r)
	id := r.URL.Path[len("/request-queues/test-cloud-queue/requests/"):]

	switch r.Method {
	case http.MethodGet:
		b.mu.Lock()
		sr, ok := b.byID[id]
		b.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, sr.wire)

	case http.MethodPut:
		var in wireRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		sr, ok := b.byID[id]
		wasHandled := ok && sr.wire.HandledAt != nil
		if ok {
			sr.wire = in
		} else {
			b.byID[id] = &storedRequest{wire: in, addedAt: time.Now()}
		}
		b.mu.Unlock()
		writeJSON(w, struct {
			wireRequest
			WasAlreadyHandled bool `json:"wasAlreadyHandled"`
		}{in, wasHandled})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (b *fakeCloudBackend) handleHead(w http.ResponseWriter, r *http.Request) {
	multi := b.recordClientKey(r)
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		fmtSscan(l, &limit)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	items := make([]struct {
		ID        string `json:"id"`
		UniqueKey string `json:"uniqueKey"`
	}, 0, limit)
	now := time.Now()
	for _, id := range b.order {
		sr, ok := b.byID[id]
		if !ok || sr.wire.HandledAt != nil {
			continue
		}
		if now.Sub(sr.addedAt) < b.indexDelay {
			// Still lagging: not yet visible in the head index.
			continue
		}
		items = append(items, struct {
			ID        string `json:"id"`
			UniqueKey string `json:"uniqueKey"`
		}{sr.wire.ID, sr.wire.UniqueKey})
		if len(items) >= limit {
			break
		}
	}

	writeJSON(w, struct {
		Items []struct {
			ID        string `json:"id"`
			UniqueKey string `json:"uniqueKey"`
		} `json:"items"`
		QueueModifiedAt    time.Time `json:"queueModifiedAt"`
		HadMultipleClients bool      `json:"hadMultipleClients"`
	}{items, now, multi})
}

func (b *fakeCloudBackend) handleQueue(w http.ResponseWriter, r *http.Request) {
	b.recordClientKey(r)

	if r.Method == http.MethodDelete {
		b.mu.Lock()
		b.byID = make(map[string]*storedRequest)
		b.order = nil
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		return
	}

	b.mu.Lock()
	handled := 0
	for _, sr := range b.byID {
		if sr.wire.HandledAt != nil {
			handled++
		}
	}
	total := len(b.byID)
	b.mu.Unlock()

	writeJSON(w, struct {
		ID                  string `json:"id"`
		TotalRequestCount   int    `json:"totalRequestCount"`
		HandledRequestCount int    `json:"handledRequestCount"`
	}{"test-cloud-queue", total, handled})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func fmtSscan(s string, out *int) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return
		}
		n = n*10 + int(c-'0')
	}
	*out = n
}

func newTestCloudQueue(t *testing.T, backend *fakeCloudBackend) (*RequestQueue, string, func()) {
	t.Helper()
	origConsistency, origProcessed := storageConsistencyDelay, apiProcessedRequestsDelay
	storageConsistencyDelay = 20 * time.Millisecond
	apiProcessedRequestsDelay = 20 * time.Millisecond

	srv := backend.server()
	client := NewCloudClient(srv.URL, "test-cloud-queue", newClientKey())
	q := NewRequestQueue(client)

	cleanup := func() {
		srv.Close()
		storageConsistencyDelay, apiProcessedRequestsDelay = origConsistency, origProcessed
	}
	return q, srv.URL, cleanup
}

func TestCloudClientFetchWaitsOutIndexLag(t *testing.T) {
	ctx := context.Background()
	backend := newFakeCloudBackend(80 * time.Millisecond)
	q, _, cleanup := newTestCloudQueue(t, backend)
	defer cleanup()

	r, _ := types.NewRequest("https://example.com/lagging")
	if _, err := q.AddRequest(ctx, r, AddRequestOptions{}); err != nil {
		t.Fatalf("AddRequest: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		fetched, err := q.FetchNextRequest(ctx)
		if err != nil {
			t.Fatalf("FetchNextRequest: %v", err)
		}
		if fetched != nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("expected the request to eventually surface once the backend's index caught up")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloudClientDetectsMultipleClients(t *testing.T) {
	ctx := context.Background()
	backend := newFakeCloudBackend(0)
	q, serverURL, cleanup := newTestCloudQueue(t, backend)
	defer cleanup()

	r, _ := types.NewRequest("https://example.com/shared")
	if _, err := q.AddRequest(ctx, r, AddRequestOptions{}); err != nil {
		t.Fatalf("AddRequest: %v", err)
	}

	// Empty the in-memory head AddRequest filled, so that IsEmpty below has
	// to refresh from ListHead instead of answering from memory.
	fetched, err := q.FetchNextRequest(ctx)
	if err != nil || fetched == nil {
		t.Fatalf("FetchNextRequest: %v, %v", fetched, err)
	}
	if _, err := q.MarkRequestHandled(ctx, fetched); err != nil {
		t.Fatalf("MarkRequestHandled: %v", err)
	}

	// Simulate a second queue instance writing under a different
	// clientKey, the way two crawler processes sharing one cloud queue
	// would.
	req, err := http.NewRequest(http.MethodGet, serverURL+"/request-queues/test-cloud-queue/head?limit=10", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-Client-Key", "another-client")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("simulate other client: %v", err)
	}
	resp.Body.Close()

	if _, err := q.IsEmpty(ctx); err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !q.HadMultipleClients() {
		t.Fatal("expected RequestQueue to detect the second client key via ListHead")
	}
}

func TestCloudClientDrop(t *testing.T) {
	ctx := context.Background()
	backend := newFakeCloudBackend(0)
	q, _, cleanup := newTestCloudQueue(t, backend)
	defer cleanup()

	r, _ := types.NewRequest("https://example.com/dropped")
	if _, err := q.AddRequest(ctx, r, AddRequestOptions{}); err != nil {
		t.Fatalf("AddRequest: %v", err)
	}

	if err := q.Drop(ctx); err != nil {
		t.Fatalf("Drop: %v", err)
	}

	backend.mu.Lock()
	remaining := len(backend.byID)
	backend.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected Drop to delete backend state, %d requests remain", remaining)
	}
}
