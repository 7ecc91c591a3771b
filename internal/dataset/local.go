package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// LocalClient is a filesystem Dataset backend: one file per item under
// <dir>/<datasetID>/<seq>.json, numbered in push order. Grounded on the
// teacher's write-tmp-then-rename durability idiom
// (internal/engine/checkpoint.go), applied per item instead of to one
// aggregate snapshot.
type LocalClient struct {
	dir string
	mu  sync.Mutex
	seq map[string]*atomic.Uint64
}

// NewLocalClient creates a LocalClient rooted at dir.
func NewLocalClient(dir string) *LocalClient {
	return &LocalClient{dir: dir, seq: make(map[string]*atomic.Uint64)}
}

func (c *LocalClient) counterFor(datasetID string) *atomic.Uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctr, ok := c.seq[datasetID]
	if !ok {
		ctr = &atomic.Uint64{}
		c.seq[datasetID] = ctr
	}
	return ctr
}

func (c *LocalClient) PushItems(ctx context.Context, datasetID string, items [][]byte) error {
	dir := filepath.Join(c.dir, datasetID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dataset dir %s: %w", datasetID, err)
	}

	ctr := c.counterFor(datasetID)
	for _, item := range items {
		n := ctr.Add(1)
		path := filepath.Join(dir, fmt.Sprintf("%09d.json", n))
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, item, 0o644); err != nil {
			return fmt.Errorf("write dataset item: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return fmt.Errorf("commit dataset item: %w", err)
		}
	}
	return nil
}
