package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/crawlkit/crawlkit/internal/types"
)

// RequestList is a static, ordered source of Requests with no deduplication
// protocol of its own beyond a simple seen-UniqueKey set — unlike
// RequestQueue it assumes a single in-process reader and never talks to a
// backend. It exists for crawls whose full request set is known up front
// (e.g. a sitemap dump) and don't need the queue's consistency machinery.
type RequestList struct {
	mu         sync.Mutex
	requests   []*types.Request
	nextIndex  int
	seen       map[string]bool
	inProgress map[string]*types.Request
}

// NewRequestList builds a RequestList from an initial slice of requests,
// deduplicating by UniqueKey in encounter order.
func NewRequestList(requests []*types.Request) *RequestList {
	l := &RequestList{
		seen:       make(map[string]bool),
		inProgress: make(map[string]*types.Request),
	}
	for _, r := range requests {
		l.addLocked(r)
	}
	return l
}

// LoadRequestListFromFile reads a JSON array of URL strings from path and
// builds a RequestList from them, skipping URLs that fail to parse.
func LoadRequestListFromFile(path string) (*RequestList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request list file: %w", err)
	}

	var urls []string
	if err := json.Unmarshal(data, &urls); err != nil {
		return nil, fmt.Errorf("decode request list file %s: %w", path, err)
	}

	requests := make([]*types.Request, 0, len(urls))
	for _, u := range urls {
		req, err := types.NewRequest(u)
		if err != nil {
			continue
		}
		requests = append(requests, req)
	}
	return NewRequestList(requests), nil
}

func (l *RequestList) addLocked(r *types.Request) {
	if r.UniqueKey == "" {
		r.UniqueKey = types.CanonicalizeURL(r.URLString())
	}
	if l.seen[r.UniqueKey] {
		return
	}
	l.seen[r.UniqueKey] = true
	if r.ID == "" {
		r.ID = fmt.Sprintf("list-%d", len(l.requests))
	}
	l.requests = append(l.requests, r)
}

// AddRequest appends req if its UniqueKey hasn't been seen before.
func (l *RequestList) AddRequest(r *types.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addLocked(r)
}

// FetchNextRequest returns the next unprocessed request, or nil if the list
// is exhausted. The request is tracked as in-progress until
// MarkRequestHandled or ReclaimRequest resolves it.
func (l *RequestList) FetchNextRequest() *types.Request {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.nextIndex >= len(l.requests) {
		return nil
	}
	req := l.requests[l.nextIndex]
	l.nextIndex++
	l.inProgress[req.ID] = req
	return req
}

// MarkRequestHandled resolves req out of the in-progress set.
func (l *RequestList) MarkRequestHandled(req *types.Request) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.inProgress[req.ID]; !ok {
		return types.ErrNotInProgress
	}
	delete(l.inProgress, req.ID)
	return nil
}

// ReclaimRequest puts req back at the front of the list to be retried.
func (l *RequestList) ReclaimRequest(req *types.Request) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.inProgress[req.ID]; !ok {
		return types.ErrNotInProgress
	}
	delete(l.inProgress, req.ID)
	l.requests = append(l.requests[:l.nextIndex:l.nextIndex], append([]*types.Request{req}, l.requests[l.nextIndex:]...)...)
	return nil
}

// IsEmpty reports whether every request has been dispatched and none are
// still in progress.
func (l *RequestList) IsEmpty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextIndex >= len(l.requests) && len(l.inProgress) == 0
}

// DrainAll returns every not-yet-fetched request in order and marks the
// list exhausted. BasicCrawler uses this at bootstrap to hand a static
// RequestList's contents over to a RequestQueue.
func (l *RequestList) DrainAll() []*types.Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	remaining := l.requests[l.nextIndex:]
	out := make([]*types.Request, len(remaining))
	copy(out, remaining)
	l.nextIndex = len(l.requests)
	return out
}

// Length returns the total number of requests ever added.
func (l *RequestList) Length() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}
