package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/projectdiscovery/gcache"

	"github.com/crawlkit/crawlkit/internal/types"
)

// Tuning constants for the head-refresh consistency protocol. Named after
// their Apify counterparts since that's the protocol being generalized here:
// a cloud-backed queue's ListHead index can lag recent writes, so the queue
// keeps re-querying until it either fills a minimum batch or gives up and
// trusts what it has.
const (
	queryHeadMinLength       = 100
	queryHeadMaxLimit        = 1000
	maxQueriesForConsistency = 6

	recentlyHandledCacheSize = 1000
	requestsCacheSize        = 1_000_000
)

// storageConsistencyDelay and apiProcessedRequestsDelay are vars rather
// than consts so tests can shrink them instead of sleeping for the real
// Apify-derived durations.
var (
	storageConsistencyDelay   = 3 * time.Second
	apiProcessedRequestsDelay = 10 * time.Second
)

// headRefreshCall tracks a single in-flight ListHead refresh so concurrent
// callers of ensureHeadIsNonEmpty collapse onto one backend round trip
// instead of issuing redundant queries.
type headRefreshCall struct {
	done chan struct{}
	err  error
}

// RequestQueue is a deduplicating, consistency-aware FIFO/priority queue of
// Requests. It dynamically dispatches storage operations to a Client
// (LocalClient or CloudClient) while keeping an in-memory head buffer,
// in-progress set, and two bounded LRU caches so that repeated reads of a
// lagging backend don't re-surface requests that were already handled or
// are already checked out. Generalized from the teacher's in-memory-only
// Frontier (internal/engine/frontier.go) into a backend-agnostic queue.
type RequestQueue struct {
	mu sync.Mutex

	client    Client
	clientKey string

	// queueHeadIDs is the in-memory FIFO of request IDs believed ready to
	// be fetched, most-recently-refreshed order.
	queueHeadIDs []string

	// inProgress holds IDs currently checked out by fetchNextRequest and
	// not yet resolved by markRequestHandled/reclaimRequest.
	inProgress map[string]bool

	// recentlyHandled remembers IDs handled recently so a lagging
	// ListHead can't resurface them. Bounded LRU, grounded on the
	// gcache usage in the pack's slicingmelon-gobypass403/client.go.
	recentlyHandled gcache.Cache[string, bool]

	// requestsCache mirrors (uniqueKey -> id) for requests this queue
	// instance has seen, so AddRequest can short-circuit an obvious
	// local duplicate without a round trip to the backend.
	requestsCache gcache.Cache[string, string]

	assumedTotalCount   int
	assumedHandledCount int

	lastActivity    time.Time
	hadMultiClients bool

	// headRefresh is the in-flight ListHead refresh call, if any. Guards
	// against concurrent FetchNextRequest/IsEmpty callers each kicking off
	// their own round of backend queries.
	headRefresh *headRefreshCall

	stopCh  chan struct{}
	stopped bool
	closed  bool
}

// NewRequestQueue creates a RequestQueue backed by client. A random
// clientKey is generated and passed to the client's ListHead; neither
// LocalClient nor CloudClient uses it (CloudClient sends the key it was
// constructed with).
func NewRequestQueue(client Client) *RequestQueue {
	return &RequestQueue{
		client:          client,
		clientKey:       newClientKey(),
		inProgress:      make(map[string]bool),
		recentlyHandled: gcache.New[string, bool](recentlyHandledCacheSize).LRU().Build(),
		requestsCache:   gcache.New[string, string](requestsCacheSize).LRU().Build(),
		lastActivity:    time.Now(),
		stopCh:          make(chan struct{}),
	}
}

func newClientKey() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// AddRequest enqueues req, deduping on UniqueKey. If an equivalent request
// is already known (locally cached or reported by the backend),
// WasAlreadyPresent is true and no new ID is assigned. A non-forefront
// addition is only mirrored into the in-memory head while the queue is
// still small (assumedTotalCount < queryHeadMinLength) — past that point
// the item will surface through the normal ListHead refresh instead, the
// same way the teacher's Frontier stops buffering once a batch fills.
func (q *RequestQueue) AddRequest(ctx context.Context, req *types.Request, opts AddRequestOptions) (*QueueOperationInfo, error) {
	if req.UniqueKey == "" {
		req.UniqueKey = types.CanonicalizeURL(req.URLString())
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, types.ErrQueueDropped
	}
	if id, ok := requestsCacheGet(q.requestsCache, req.UniqueKey); ok {
		q.mu.Unlock()
		handled := cacheHas(q.recentlyHandled, id)
		return &QueueOperationInfo{
			RequestID:         id,
			WasAlreadyPresent: true,
			WasAlreadyHandled: handled,
			Request:           req,
		}, nil
	}
	q.mu.Unlock()

	info, err := q.client.AddRequest(ctx, req, opts)
	if err != nil {
		return nil, fmt.Errorf("add request %s: %w", req.URLString(), err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.requestsCache.Set(req.UniqueKey, info.RequestID)
	if !info.WasAlreadyPresent {
		q.assumedTotalCount++
		if opts.Forefront {
			q.queueHeadIDs = append([]string{info.RequestID}, q.queueHeadIDs...)
		} else if q.assumedTotalCount < queryHeadMinLength {
			q.queueHeadIDs = append(q.queueHeadIDs, info.RequestID)
		}
	}
	if info.WasAlreadyHandled {
		q.recentlyHandled.Set(info.RequestID, true)
	}
	q.lastActivity = time.Now()

	return info, nil
}

// GetRequest hydrates a request by id from the backend.
func (q *RequestQueue) GetRequest(ctx context.Context, id string) (*types.Request, error) {
	return q.client.GetRequest(ctx, id)
}

// IsEmpty reports whether the queue currently believes it has no more
// requests to hand out — neither buffered in memory nor in progress. It may
// still refresh from the backend first if the in-memory head is empty.
func (q *RequestQueue) IsEmpty(ctx context.Context) (bool, error) {
	q.mu.Lock()
	hasHead := len(q.queueHeadIDs) > 0
	hasInProgress := len(q.inProgress) > 0
	q.mu.Unlock()

	if hasHead || hasInProgress {
		return false, nil
	}

	if err := q.ensureHeadIsNonEmpty(ctx, false); err != nil {
		return false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queueHeadIDs) == 0 && len(q.inProgress) == 0, nil
}

// IsFinished reports whether the queue is empty, nothing is in progress, and
// a *consistency-seeking* head refresh still found nothing — unlike
// IsEmpty, it asks refreshHead to keep re-querying (up to
// maxQueriesForConsistency times) until it's confident the backend's index
// has caught up, rather than accepting the first empty-looking response.
// Callers use this to decide the crawl is genuinely done rather than just
// momentarily starved by a lagging backend.
func (q *RequestQueue) IsFinished(ctx context.Context) (bool, error) {
	q.mu.Lock()
	hasHead := len(q.queueHeadIDs) > 0
	hasInProgress := len(q.inProgress) > 0
	q.mu.Unlock()
	if hasHead || hasInProgress {
		return false, nil
	}

	if err := q.ensureHeadIsNonEmpty(ctx, true); err != nil {
		return false, err
	}

	q.mu.Lock()
	empty := len(q.queueHeadIDs) == 0 && len(q.inProgress) == 0
	quiet := time.Since(q.lastActivity) >= storageConsistencyDelay
	q.mu.Unlock()
	return empty && quiet, nil
}

// FetchNextRequest pops the next request to process, refreshing the
// in-memory head from the backend if needed. Returns (nil, nil) if the
// queue has nothing ready right now. The returned request is marked
// in-progress until MarkRequestHandled or ReclaimRequest resolves it.
func (q *RequestQueue) FetchNextRequest(ctx context.Context) (*types.Request, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, types.ErrQueueDropped
	}
	if len(q.queueHeadIDs) == 0 {
		q.mu.Unlock()
		if err := q.ensureHeadIsNonEmpty(ctx, false); err != nil {
			return nil, err
		}
		q.mu.Lock()
	}

	if len(q.queueHeadIDs) == 0 {
		q.mu.Unlock()
		return nil, nil
	}

	id := q.queueHeadIDs[0]
	q.queueHeadIDs = q.queueHeadIDs[1:]
	q.inProgress[id] = true
	q.mu.Unlock()

	req, err := q.client.GetRequest(ctx, id)
	if err != nil {
		// Backend errors must remove the id from inProgress before
		// propagating — the caller can't resolve an id it never saw.
		q.mu.Lock()
		delete(q.inProgress, id)
		q.mu.Unlock()
		return nil, fmt.Errorf("hydrate request %s: %w", id, err)
	}
	if req == nil {
		// The head index is ahead of the detail table. Keep the id
		// checked out for storageConsistencyDelay before releasing it,
		// rather than immediately assuming it doesn't exist.
		q.releaseAfterDelay(id, storageConsistencyDelay)
		return q.FetchNextRequest(ctx)
	}
	if req.IsHandled() {
		// Another client already handled it; remember that so a
		// lagging head listing can't resurface it.
		q.mu.Lock()
		delete(q.inProgress, id)
		q.recentlyHandled.Set(id, true)
		q.mu.Unlock()
		return q.FetchNextRequest(ctx)
	}

	return req, nil
}

// releaseAfterDelay removes id from inProgress after delay elapses, unless
// Drop has since shut the queue down.
func (q *RequestQueue) releaseAfterDelay(id string, delay time.Duration) {
	go func() {
		select {
		case <-time.After(delay):
		case <-q.stopCh:
			return
		}
		q.mu.Lock()
		delete(q.inProgress, id)
		q.mu.Unlock()
	}()
}

// MarkRequestHandled marks req as handled both on the backend and locally,
// and releases it from the in-progress set. Calling it for a request that
// isn't checked out (already resolved, or never fetched through this
// queue instance) is a no-op that reports WasAlreadyHandled rather than an
// error — mirroring Apify's markRequestHandled, which treats a duplicate
// call as idempotent instead of a caller bug.
func (q *RequestQueue) MarkRequestHandled(ctx context.Context, req *types.Request) (*QueueOperationInfo, error) {
	q.mu.Lock()
	if !q.inProgress[req.ID] {
		q.mu.Unlock()
		return &QueueOperationInfo{
			RequestID:         req.ID,
			WasAlreadyPresent: true,
			WasAlreadyHandled: true,
			Request:           req,
		}, nil
	}
	q.mu.Unlock()

	req.MarkHandled(time.Now())
	info, err := q.client.UpdateRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mark request handled %s: %w", req.ID, err)
	}

	q.mu.Lock()
	delete(q.inProgress, req.ID)
	q.recentlyHandled.Set(req.ID, true)
	if !info.WasAlreadyHandled {
		q.assumedHandledCount++
	}
	q.lastActivity = time.Now()
	q.mu.Unlock()

	return info, nil
}

// ReclaimRequest returns an in-progress request to the head of the queue
// (or the back, if forefront is false) so it can be retried. Calling it for
// a request that isn't checked out is a silent no-op (nil, nil) — there is
// nothing to reclaim. The request stays checked out for
// storageConsistencyDelay after the backend write before it actually
// reappears in the head, giving the backend's index time to catch up so a
// concurrent ListHead doesn't race the reclaim.
func (q *RequestQueue) ReclaimRequest(ctx context.Context, req *types.Request, forefront bool) (*QueueOperationInfo, error) {
	q.mu.Lock()
	if !q.inProgress[req.ID] {
		q.mu.Unlock()
		return nil, nil
	}
	q.mu.Unlock()

	info, err := q.client.UpdateRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("reclaim request %s: %w", req.ID, err)
	}

	q.scheduleReclaim(req.ID, forefront, storageConsistencyDelay)

	return info, nil
}

// scheduleReclaim releases id from inProgress after delay, unless Drop
// shuts the queue down first, and reinserts it into the head — at the
// front if forefront was requested, otherwise at the back only while the
// queue is still small (assumedTotalCount < queryHeadMinLength), the same
// condition AddRequest applies to a non-forefront addition.
func (q *RequestQueue) scheduleReclaim(id string, forefront bool, delay time.Duration) {
	go func() {
		select {
		case <-time.After(delay):
		case <-q.stopCh:
			return
		}
		q.mu.Lock()
		delete(q.inProgress, id)
		if forefront {
			q.queueHeadIDs = append([]string{id}, q.queueHeadIDs...)
		} else if q.assumedTotalCount < queryHeadMinLength {
			q.queueHeadIDs = append(q.queueHeadIDs, id)
		}
		q.lastActivity = time.Now()
		q.mu.Unlock()
	}()
}

// Drop permanently deletes the queue from the backend and clears all local
// state: the in-memory head, the in-progress set, and both LRU caches.
// Pending reclaim/release timers are cancelled. A dropped queue must not be
// reused.
func (q *RequestQueue) Drop(ctx context.Context) error {
	if err := q.client.Delete(ctx); err != nil {
		return fmt.Errorf("drop queue: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.stopped {
		close(q.stopCh)
		q.stopped = true
	}
	q.queueHeadIDs = nil
	q.inProgress = make(map[string]bool)
	q.recentlyHandled.Purge()
	q.requestsCache.Purge()
	q.assumedTotalCount = 0
	q.assumedHandledCount = 0
	q.hadMultiClients = false
	q.closed = true
	return nil
}

// ensureHeadIsNonEmpty refreshes the in-memory head from the backend if it's
// currently empty. Concurrent callers collapse onto a single in-flight
// refresh via headRefresh rather than each issuing their own ListHead call —
// a caller that wants ensureConsistency=true while a no-consistency refresh
// is already in flight simply awaits that refresh's result, same as any
// other concurrent caller.
func (q *RequestQueue) ensureHeadIsNonEmpty(ctx context.Context, ensureConsistency bool) error {
	q.mu.Lock()
	if len(q.queueHeadIDs) > 0 {
		q.mu.Unlock()
		return nil
	}
	if call := q.headRefresh; call != nil {
		q.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &headRefreshCall{done: make(chan struct{})}
	q.headRefresh = call
	q.mu.Unlock()

	err := q.refreshHead(ctx, ensureConsistency)

	q.mu.Lock()
	q.headRefresh = nil
	q.mu.Unlock()

	call.err = err
	close(call.done)
	return err
}

// refreshHead implements the head-refresh consistency protocol
// (_ensureHeadIsNonEmpty in spec.md §4.1): query ListHead with a limit that
// grows (round(limit*1.5), capped at queryHeadMaxLimit) whenever the head is
// still empty and the backend returned a full batch, seed queueHeadIDs and
// requestsCache from whatever comes back, and — only when the caller asked
// to ensureConsistency — keep re-querying up to maxQueriesForConsistency
// times while neither isDatabaseConsistent (the backend's index is old
// enough relative to its own queueModifiedAt to be trusted) nor
// isLocallyConsistent (no other client has ever written, and this client's
// own count of total vs. handled requests already accounts for everything)
// holds. Beyond maxQueriesForConsistency the caller gets a false negative,
// never a false positive — isFinished would rather report "not done yet"
// one extra time than prematurely end a crawl with work still lagging in.
func (q *RequestQueue) refreshHead(ctx context.Context, ensureConsistency bool) error {
	limit := queryHeadMinLength

	for queries := 0; queries < maxQueriesForConsistency; queries++ {
		queryStartedAt := time.Now()
		listing, err := q.client.ListHead(ctx, limit, q.clientKey)
		if err != nil {
			return fmt.Errorf("list queue head: %w", err)
		}

		q.mu.Lock()
		if listing.HadMultipleClients {
			q.hadMultiClients = true
		}
		for _, item := range listing.Items {
			if q.inProgress[item.ID] || cacheHas(q.recentlyHandled, item.ID) || containsID(q.queueHeadIDs, item.ID) {
				continue
			}
			q.queueHeadIDs = append(q.queueHeadIDs, item.ID)
			if item.UniqueKey != "" {
				q.requestsCache.Set(item.UniqueKey, item.ID)
			}
		}

		isDatabaseConsistent := queryStartedAt.Sub(listing.QueueModifiedAt) >= apiProcessedRequestsDelay
		isLocallyConsistent := !q.hadMultiClients && q.assumedTotalCount <= q.assumedHandledCount
		headEmpty := len(q.queueHeadIDs) == 0
		limitSaturated := len(listing.Items) >= limit
		shouldRepeatWithHigherLimit := headEmpty && limitSaturated && limit < queryHeadMaxLimit
		shouldRepeatForConsistency := ensureConsistency && !isDatabaseConsistent && !isLocallyConsistent
		q.mu.Unlock()

		if !shouldRepeatWithHigherLimit && !shouldRepeatForConsistency {
			return nil
		}
		if shouldRepeatWithHigherLimit {
			limit = growHeadLimit(limit)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.stopCh:
			return nil
		case <-time.After(storageConsistencyDelay / maxQueriesForConsistency):
		}
	}
	return nil
}

func growHeadLimit(limit int) int {
	next := int(math.Round(float64(limit) * 1.5))
	if next <= limit {
		next = limit + 1
	}
	if next > queryHeadMaxLimit {
		next = queryHeadMaxLimit
	}
	return next
}

// HadMultipleClients reports whether the backend has ever indicated that a
// clientKey other than this instance's has written to the queue.
func (q *RequestQueue) HadMultipleClients() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hadMultiClients
}

func containsID(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

func cacheHas(c gcache.Cache[string, bool], key string) bool {
	v, err := c.GetIFPresent(key)
	return err == nil && v
}

func requestsCacheGet(c gcache.Cache[string, string], key string) (string, bool) {
	v, err := c.GetIFPresent(key)
	if err != nil {
		return "", false
	}
	return v, true
}
