package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crawlkit/crawlkit/internal/types"
)

// LocalClient is an in-process, immediately-consistent Client backed by a
// map and an atomic JSON-file snapshot under dir. It never reports
// multiple clients and ListHead never lags a prior write — the same
// write-tmp-then-rename durability pattern as the teacher's
// internal/engine/checkpoint.go, generalized into a queue backend.
type LocalClient struct {
	mu       sync.Mutex
	dir      string
	queueID  string
	byID     map[string]*types.Request
	order    []string // insertion order, used for ListHead
	modified time.Time
	nextSeq  uint64
}

// NewLocalClient creates a LocalClient persisting snapshots under dir.
func NewLocalClient(dir, queueID string) *LocalClient {
	return &LocalClient{
		dir:     dir,
		queueID: queueID,
		byID:    make(map[string]*types.Request),
	}
}

func (c *LocalClient) AddRequest(ctx context.Context, req *types.Request, opts AddRequestOptions) (*QueueOperationInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.byID {
		if existing.UniqueKey == req.UniqueKey {
			return &QueueOperationInfo{
				RequestID:         existing.ID,
				WasAlreadyPresent: true,
				WasAlreadyHandled: existing.IsHandled(),
				Request:           existing,
			}, nil
		}
	}

	c.nextSeq++
	req.ID = fmt.Sprintf("%s-%d", c.queueID, c.nextSeq)
	c.byID[req.ID] = req
	if opts.Forefront {
		c.order = append([]string{req.ID}, c.order...)
	} else {
		c.order = append(c.order, req.ID)
	}
	c.modified = time.Now()

	if err := c.persistLocked(); err != nil {
		return nil, err
	}

	return &QueueOperationInfo{RequestID: req.ID, Request: req}, nil
}

func (c *LocalClient) GetRequest(ctx context.Context, id string) (*types.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.byID[id]
	if !ok {
		return nil, nil
	}
	return req.Clone(), nil
}

func (c *LocalClient) UpdateRequest(ctx context.Context, req *types.Request) (*QueueOperationInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.byID[req.ID]
	if !ok {
		return nil, fmt.Errorf("update unknown request %q", req.ID)
	}

	wasHandled := existing.IsHandled()
	c.byID[req.ID] = req
	c.modified = time.Now()

	if err := c.persistLocked(); err != nil {
		return nil, err
	}

	return &QueueOperationInfo{
		RequestID:         req.ID,
		WasAlreadyHandled: wasHandled,
		Request:           req,
	}, nil
}

func (c *LocalClient) ListHead(ctx context.Context, limit int, clientKey string) (*HeadListing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]HeadItem, 0, limit)
	for _, id := range c.order {
		req, ok := c.byID[id]
		if !ok || req.IsHandled() {
			continue
		}
		items = append(items, HeadItem{ID: req.ID, UniqueKey: req.UniqueKey})
		if len(items) >= limit {
			break
		}
	}

	return &HeadListing{
		Items:              items,
		QueueModifiedAt:    c.modified,
		HadMultipleClients: false,
	}, nil
}

func (c *LocalClient) Get(ctx context.Context) (*Metadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handled := 0
	for _, r := range c.byID {
		if r.IsHandled() {
			handled++
		}
	}
	return &Metadata{
		ID:                  c.queueID,
		TotalRequestCount:   len(c.byID),
		HandledRequestCount: handled,
	}, nil
}

func (c *LocalClient) Delete(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID = make(map[string]*types.Request)
	c.order = nil
	return os.Remove(c.snapshotPath())
}

func (c *LocalClient) snapshotPath() string {
	return filepath.Join(c.dir, fmt.Sprintf("queue-%s.json", c.queueID))
}

type localSnapshot struct {
	Order []string                  `json:"order"`
	ByID  map[string]*types.Request `json:"by_id"`
}

// persistLocked writes the current state to disk with a write-tmp,
// rename-over sequence so a crash mid-write never corrupts the snapshot.
// Caller must hold c.mu.
func (c *LocalClient) persistLocked() error {
	if c.dir == "" {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create local storage dir: %w", err)
	}

	snap := localSnapshot{Order: c.order, ByID: c.byID}
	tmp := c.snapshotPath() + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create queue snapshot: %w", err)
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(snap); err != nil {
		f.Close()
		return fmt.Errorf("encode queue snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, c.snapshotPath())
}

// Load restores a LocalClient's state from its last snapshot, if any.
func (c *LocalClient) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.Open(c.snapshotPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open queue snapshot: %w", err)
	}
	defer f.Close()

	var snap localSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("decode queue snapshot: %w", err)
	}

	c.order = snap.Order
	c.byID = snap.ByID
	if c.byID == nil {
		c.byID = make(map[string]*types.Request)
	}
	for _, id := range c.order {
		var seq uint64
		if _, err := fmt.Sscanf(id, c.queueID+"-%d", &seq); err == nil && seq > c.nextSeq {
			c.nextSeq = seq
		}
	}
	return nil
}
