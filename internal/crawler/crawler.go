// Package crawler implements BasicCrawler: the autoscaled worker-pool
// scheduler that drives a RequestQueue and/or RequestList through a
// user-supplied handler, with retry, timeout, session rotation, and
// migration/persist-state support. Generalized from the teacher's
// Engine+Scheduler pair (internal/engine/engine.go,
// internal/engine/scheduler.go) — same worker-pool/idle-monitor/pause-
// resume shape, driven by the queue/session packages instead of an
// in-memory Frontier and a cookiejar-keyed SessionManager.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crawlkit/crawlkit/internal/kvstore"
	"github.com/crawlkit/crawlkit/internal/queue"
	"github.com/crawlkit/crawlkit/internal/session"
	"github.com/crawlkit/crawlkit/internal/stats"
	"github.com/crawlkit/crawlkit/internal/types"
)

// State mirrors the teacher's Engine lifecycle enum.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// defaultBlockedStatusCodes is the configurable set of HTTP statuses that
// count as "blocked" rather than an ordinary handler failure.
var defaultBlockedStatusCodes = []int{401, 403, 429}

// HandlerContext is passed to HandleRequestFunction and
// HandleFailedRequestFunction. Crawler is a read-only, non-owning back
// reference: handlers may read configuration and the current request but
// are not expected to mutate scheduler state directly.
type HandlerContext struct {
	Request *types.Request
	Session *session.Session
	Crawler *BasicCrawler
}

// HandleRequestFunc processes one request. A returned *types.FetchError
// (as built by NewBlockedError) whose StatusCode is in
// Options.BlockedStatusCodes marks the response as blocked (retiring the
// bound session); any other error is an ordinary handler failure subject
// to the retry policy.
type HandleRequestFunc func(ctx context.Context, hc *HandlerContext) error

// HandleFailedRequestFunc is invoked exactly once when a request exhausts
// its retries (or has noRetry set and fails once).
type HandleFailedRequestFunc func(ctx context.Context, hc *HandlerContext, err error)

// NewBlockedError builds the *types.FetchError handlers return from
// HandleRequestFunction to report a blocked response: the target refused
// to serve the content at the given HTTP status. The scheduler recognizes
// it by StatusCode membership in Options.BlockedStatusCodes, independent
// of FetchError.Retryable, and retires the bound session.
func NewBlockedError(url string, statusCode int) error {
	return &types.FetchError{
		URL:        url,
		StatusCode: statusCode,
		Err:        fmt.Errorf("request blocked - received %d status code", statusCode),
		Retryable:  false,
	}
}

func isBlockedStatus(err error, blockedCodes []int) (int, bool) {
	var fe *types.FetchError
	if !errors.As(err, &fe) || fe.StatusCode == 0 {
		return 0, false
	}
	for _, code := range blockedCodes {
		if fe.StatusCode == code {
			return fe.StatusCode, true
		}
	}
	return 0, false
}

// Options configures a BasicCrawler.
type Options struct {
	HandleRequestFunction       HandleRequestFunc
	HandleFailedRequestFunction HandleFailedRequestFunc

	RequestList  *queue.RequestList
	RequestQueue *queue.RequestQueue

	// MaxRequestRetries is how many times a failed request is retried after
	// its first attempt; zero means a single attempt. No default is applied
	// here; the crawl command's --max-retries flag supplies 3.
	MaxRequestRetries        int
	HandleRequestTimeoutSecs int
	MaxRequestsPerCrawl      int

	MinConcurrency int
	MaxConcurrency int

	UseSessionPool     bool
	SessionPoolOptions session.PoolOptions

	// SessionStore, if set, backs the session pool's Persist/Restore calls
	// so identities survive a migration or restart. Nil means in-memory
	// only, same as the teacher's original SessionManager.
	SessionStore kvstore.Client

	// PolitenessDelay enforces a minimum gap between dispatches to the
	// same domain, across all workers. Zero disables throttling.
	PolitenessDelay time.Duration

	// Robots, if set, is consulted before every dispatch; a disallowed
	// URL is routed straight to HandleFailedRequestFunction without ever
	// reaching HandleRequestFunction.
	Robots *RobotsChecker

	BlockedStatusCodes []int

	Events     *EventBroker
	Statistics *stats.Statistics

	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.HandleRequestTimeoutSecs == 0 {
		o.HandleRequestTimeoutSecs = 60
	}
	if o.MinConcurrency == 0 {
		o.MinConcurrency = 1
	}
	if o.MaxConcurrency == 0 {
		o.MaxConcurrency = 10
	}
	if o.MinConcurrency > o.MaxConcurrency {
		o.MinConcurrency = o.MaxConcurrency
	}
	if len(o.BlockedStatusCodes) == 0 {
		o.BlockedStatusCodes = defaultBlockedStatusCodes
	}
	if o.Events == nil {
		o.Events = NewEventBroker()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// BasicCrawler is the autoscaled scheduler driving a RequestQueue and/or
// RequestList through Options.HandleRequestFunction.
type BasicCrawler struct {
	opts Options

	sessionPool *session.Pool
	stats       *stats.Statistics
	logger      *slog.Logger
	throttle    *politenessThrottle

	handledCount  atomic.Int64
	activeWorkers atomic.Int32
	desiredSlots  atomic.Int32

	state atomic.Int32

	migratingCh <-chan struct{}
	migrating   atomic.Bool

	pauseMu  sync.Mutex
	resumeCh chan struct{}
	paused   atomic.Bool

	wg   sync.WaitGroup
	done chan struct{}
}

// New validates opts and constructs a BasicCrawler. Returns
// types.ErrNoSource if neither a RequestList nor a RequestQueue is
// configured, and a *types.ConfigError if HandleRequestFunction is nil.
func New(opts Options) (*BasicCrawler, error) {
	if opts.HandleRequestFunction == nil {
		return nil, &types.ConfigError{Field: "HandleRequestFunction", Err: errors.New("must be set")}
	}
	if opts.RequestList == nil && opts.RequestQueue == nil {
		return nil, types.ErrNoSource
	}
	opts.applyDefaults()

	c := &BasicCrawler{
		opts:     opts,
		logger:   opts.Logger.With("component", "basic_crawler"),
		resumeCh: make(chan struct{}),
		done:     make(chan struct{}),
		throttle: newPolitenessThrottle(opts.PolitenessDelay),
	}
	c.desiredSlots.Store(int32(opts.MinConcurrency))

	if opts.Statistics != nil {
		c.stats = opts.Statistics
	} else {
		c.stats = stats.New(c.logger)
	}

	if opts.UseSessionPool {
		c.sessionPool = session.NewPool(opts.SessionPoolOptions, opts.SessionStore, c.logger)
	}

	c.migratingCh = opts.Events.SubscribeMigrating()

	return c, nil
}

// Statistics returns the crawler's Statistics tracker.
func (c *BasicCrawler) Statistics() *stats.Statistics { return c.stats }

// SessionPool returns the crawler's SessionPool, or nil if disabled.
func (c *BasicCrawler) SessionPool() *session.Pool { return c.sessionPool }

// State returns the crawler's current lifecycle state.
func (c *BasicCrawler) State() State { return State(c.state.Load()) }

// Run drains any configured RequestList into the RequestQueue (if both are
// present), then runs the autoscaled worker pool until every source is
// exhausted, maxRequestsPerCrawl is reached, or ctx is cancelled. It blocks
// until the crawl finishes or a migration signal arrives.
func (c *BasicCrawler) Run(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("crawler is in state %s, cannot run", State(c.state.Load()))
	}

	if err := c.bootstrap(ctx); err != nil {
		c.state.Store(int32(StateStopped))
		return fmt.Errorf("bootstrap: %w", err)
	}

	c.stats.StartCapturing()
	defer c.stats.StopCapturing()

	persistCh := c.opts.Events.SubscribePersistState()
	superviseCtx, cancelSupervise := context.WithCancel(ctx)
	defer cancelSupervise()
	go c.supervise(superviseCtx, persistCh)

	for i := 0; i < c.opts.MaxConcurrency; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}
	go c.autoscaleMonitor(ctx)

	c.wg.Wait()
	close(c.done)

	if c.migrating.Load() {
		c.logger.Info("crawler paused for migration")
		return nil
	}

	c.state.Store(int32(StateStopped))
	c.logger.Info("crawl finished",
		"requests_finished", c.stats.RequestsFinished(),
		"requests_failed", c.stats.RequestsFailed(),
	)
	return nil
}

// bootstrap drains a configured RequestList into the RequestQueue with
// forefront=true, preserving the list's original order, when both a list
// and a queue are configured.
func (c *BasicCrawler) bootstrap(ctx context.Context) error {
	if c.opts.RequestList == nil || c.opts.RequestQueue == nil {
		return nil
	}

	pending := c.opts.RequestList.DrainAll()
	for i := len(pending) - 1; i >= 0; i-- {
		if _, err := c.opts.RequestQueue.AddRequest(ctx, pending[i], queue.AddRequestOptions{Forefront: true}); err != nil {
			return err
		}
	}
	return nil
}

// supervise reacts to MIGRATING and PERSIST_STATE broadcasts.
func (c *BasicCrawler) supervise(ctx context.Context, persistCh <-chan PersistStateEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.migratingCh:
			c.migrating.Store(true)
			c.persistState(true)
			c.Pause()
			return
		case ev := <-persistCh:
			c.persistState(ev.IsMigrating)
		}
	}
}

func (c *BasicCrawler) persistState(isMigrating bool) {
	if c.sessionPool != nil {
		if err := c.sessionPool.Persist(); err != nil {
			c.logger.Error("session pool persist failed", "error", err, "is_migrating", isMigrating)
		}
	}
}

// sourceIsQueue reports whether the queue is the authoritative source: true
// if a RequestQueue is configured, false when only the list is.
func (c *BasicCrawler) sourceIsQueue() bool {
	return c.opts.RequestQueue != nil
}

func (c *BasicCrawler) isTaskReady(ctx context.Context) (bool, error) {
	if c.opts.MaxRequestsPerCrawl > 0 && c.handledCount.Load() >= int64(c.opts.MaxRequestsPerCrawl) {
		return false, nil
	}

	if c.sourceIsQueue() {
		empty, err := c.opts.RequestQueue.IsEmpty(ctx)
		if err != nil {
			return false, err
		}
		return !empty, nil
	}
	return !c.opts.RequestList.IsEmpty(), nil
}

func (c *BasicCrawler) isFinished(ctx context.Context) (bool, error) {
	if c.opts.RequestList != nil && !c.opts.RequestList.IsEmpty() {
		return false, nil
	}
	if c.sourceIsQueue() {
		finished, err := c.opts.RequestQueue.IsFinished(ctx)
		if err != nil || !finished {
			return false, err
		}
	}

	if c.opts.MaxRequestsPerCrawl > 0 && c.handledCount.Load() < int64(c.opts.MaxRequestsPerCrawl) {
		// Cap set but not yet reached: only finished if there's truly
		// nothing left to feed it, which the checks above establish.
	}
	return true, nil
}

func (c *BasicCrawler) fetchNext(ctx context.Context) (*types.Request, error) {
	if c.sourceIsQueue() {
		return c.opts.RequestQueue.FetchNextRequest(ctx)
	}
	return c.opts.RequestList.FetchNextRequest(), nil
}

func (c *BasicCrawler) markHandled(ctx context.Context, req *types.Request) error {
	if c.sourceIsQueue() {
		_, err := c.opts.RequestQueue.MarkRequestHandled(ctx, req)
		return err
	}
	return c.opts.RequestList.MarkRequestHandled(req)
}

func (c *BasicCrawler) reclaim(ctx context.Context, req *types.Request) error {
	if c.sourceIsQueue() {
		_, err := c.opts.RequestQueue.ReclaimRequest(ctx, req, false)
		return err
	}
	return c.opts.RequestList.ReclaimRequest(req)
}

// worker is one logical slot in the autoscaled pool. Slot i only runs
// while i is below the pool's current desired concurrency, letting
// autoscaleMonitor grow and shrink the effective worker count between
// MinConcurrency and MaxConcurrency without tearing goroutines down.
func (c *BasicCrawler) worker(ctx context.Context, slot int) {
	defer c.wg.Done()

	for {
		if c.migrating.Load() {
			return
		}
		if c.paused.Load() {
			select {
			case <-ctx.Done():
				return
			case <-c.resumeCh:
			}
			continue
		}
		if int32(slot) >= c.desiredSlots.Load() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		ready, err := c.isTaskReady(ctx)
		if err != nil {
			c.logger.Error("task-ready check failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		if !ready {
			finished, err := c.isFinished(ctx)
			if err != nil {
				c.logger.Error("finished check failed", "error", err)
			}
			if finished {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		req, err := c.fetchNext(ctx)
		if err != nil {
			c.logger.Error("fetch next request failed", "error", err)
			continue
		}
		if req == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		c.activeWorkers.Add(1)
		c.processRequest(ctx, req)
		c.activeWorkers.Add(-1)
	}
}

// processRequest runs the handler under a timeout, then resolves the
// request: mark handled on success, retry/reclaim or fail on error.
func (c *BasicCrawler) processRequest(ctx context.Context, req *types.Request) {
	var sess *session.Session
	if c.sessionPool != nil {
		s, err := c.sessionPool.GetSession()
		if err != nil {
			c.logger.Error("session pool exhausted", "error", err)
		} else {
			sess = s
		}
	}

	hc := &HandlerContext{Request: req, Session: sess, Crawler: c}

	if c.opts.Robots != nil && !c.opts.Robots.IsAllowed(req.URLString()) {
		req.AddError("disallowed by robots.txt")
		c.failRequest(ctx, hc, errors.New("disallowed by robots.txt"))
		return
	}

	var sessionOverride time.Duration
	if sess != nil {
		sessionOverride = sess.ThrottleOverride()
	}
	c.throttle.wait(req.Domain(), sessionOverride)

	c.stats.StartJob(req.ID)

	err := c.invokeWithTimeout(ctx, hc)
	if err == nil {
		if sess != nil {
			sess.MarkGood()
		}
		if markErr := c.markHandled(ctx, req); markErr != nil {
			c.logger.Error("mark handled failed", "error", markErr, "request_id", req.ID)
			return
		}
		c.stats.FinishJob(req.ID, req.RetryCount)
		c.handledCount.Add(1)
		return
	}

	c.handleRequestError(ctx, hc, err, sess)
}

func (c *BasicCrawler) invokeWithTimeout(ctx context.Context, hc *HandlerContext) error {
	timeout := time.Duration(c.opts.HandleRequestTimeoutSecs) * time.Second
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- c.opts.HandleRequestFunction(timeoutCtx, hc)
	}()

	select {
	case err := <-result:
		return err
	case <-timeoutCtx.Done():
		return errors.New("handleRequestFunction timed out")
	}
}

func (c *BasicCrawler) handleRequestError(ctx context.Context, hc *HandlerContext, err error, sess *session.Session) {
	req := hc.Request
	req.AddError(err.Error())

	if statusCode, blocked := isBlockedStatus(err, c.opts.BlockedStatusCodes); blocked {
		c.logger.Warn("request blocked", "request_id", req.ID, "status_code", statusCode)
		if sess != nil {
			sess.Retire()
			if c.sessionPool != nil {
				c.sessionPool.Retire(sess.ID)
			}
		}
	}
	if sess != nil {
		sess.MarkBad()
	}

	if req.NoRetry || req.RetryCount >= c.opts.MaxRequestRetries {
		c.failRequest(ctx, hc, err)
		return
	}

	req.RetryCount++
	c.stats.RetryJob(req.ID)
	if rErr := c.reclaim(ctx, req); rErr != nil {
		c.logger.Error("reclaim failed", "error", rErr, "request_id", req.ID)
	}
}

func (c *BasicCrawler) failRequest(ctx context.Context, hc *HandlerContext, err error) {
	req := hc.Request
	c.stats.FailJob(req.ID, req.RetryCount)

	if c.opts.HandleFailedRequestFunction != nil {
		c.opts.HandleFailedRequestFunction(ctx, hc, err)
	}
	if markErr := c.markHandled(ctx, req); markErr != nil {
		c.logger.Error("mark handled (failed request) failed", "error", markErr, "request_id", req.ID)
	}
	c.handledCount.Add(1)
}

// Pause stops workers from picking up new tasks; in-flight tasks finish.
func (c *BasicCrawler) Pause() {
	if c.state.CompareAndSwap(int32(StateRunning), int32(StatePaused)) {
		c.paused.Store(true)
		c.logger.Info("crawler paused")
	}
}

// Resume unblocks a paused crawler.
func (c *BasicCrawler) Resume() {
	if c.state.CompareAndSwap(int32(StatePaused), int32(StateRunning)) {
		c.paused.Store(false)
		c.pauseMu.Lock()
		close(c.resumeCh)
		c.resumeCh = make(chan struct{})
		c.pauseMu.Unlock()
		c.logger.Info("crawler resumed")
	}
}

// Stop requests the worker pool to wind down once in-flight tasks finish.
func (c *BasicCrawler) Stop() {
	c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
}

// autoscaleMonitor grows desiredSlots toward MaxConcurrency while workers
// are saturated and there is backlog, and shrinks it back toward
// MinConcurrency while workers sit idle — the autoscaling half of the
// teacher's fixed-size worker pool (internal/engine/scheduler.go).
func (c *BasicCrawler) autoscaleMonitor(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			active := c.activeWorkers.Load()
			desired := c.desiredSlots.Load()

			ready, err := c.isTaskReady(ctx)
			if err != nil {
				continue
			}

			switch {
			case ready && active >= desired && desired < int32(c.opts.MaxConcurrency):
				c.desiredSlots.Add(1)
			case active < desired/2 && desired > int32(c.opts.MinConcurrency):
				c.desiredSlots.Add(-1)
			}
		}
	}
}
