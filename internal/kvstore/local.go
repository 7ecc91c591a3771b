package kvstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// LocalClient is a filesystem-backed Client: one file per key under
// <dir>/<storeID>/<key>, plus a sibling ".contenttype" file. Durability
// follows the write-tmp-then-rename pattern used throughout this module's
// local backends (internal/queue/local_client.go), itself generalized from
// the teacher's internal/engine/checkpoint.go.
type LocalClient struct {
	mu  sync.Mutex
	dir string
}

// NewLocalClient creates a LocalClient rooted at dir.
func NewLocalClient(dir string) *LocalClient {
	return &LocalClient{dir: dir}
}

func (c *LocalClient) storeDir(storeID string) string {
	return filepath.Join(c.dir, storeID)
}

func (c *LocalClient) keyPath(storeID, key string) string {
	return filepath.Join(c.storeDir(storeID), key)
}

func (c *LocalClient) GetValue(storeID, key string) ([]byte, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.keyPath(storeID, key))
	if os.IsNotExist(err) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("read key %s/%s: %w", storeID, key, err)
	}

	contentType, _ := os.ReadFile(c.keyPath(storeID, key) + ".contenttype")
	ct := strings.TrimSpace(string(contentType))
	if ct == "" {
		ct = "application/json"
	}
	return data, ct, nil
}

func (c *LocalClient) SetValue(storeID, key string, data []byte, contentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.storeDir(storeID), 0o755); err != nil {
		return fmt.Errorf("create store dir %s: %w", storeID, err)
	}

	path := c.keyPath(storeID, key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write key %s/%s: %w", storeID, key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit key %s/%s: %w", storeID, key, err)
	}

	if contentType != "" {
		if err := os.WriteFile(path+".contenttype", []byte(contentType), 0o644); err != nil {
			return fmt.Errorf("write content type for %s/%s: %w", storeID, key, err)
		}
	}
	return nil
}

func (c *LocalClient) DeleteRecord(storeID, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.keyPath(storeID, key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete key %s/%s: %w", storeID, key, err)
	}
	_ = os.Remove(path + ".contenttype")
	return nil
}

func (c *LocalClient) ListKeys(storeID string, exclusiveStartKey string, limit int) (*ListKeysResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.storeDir(storeID))
	if err != nil {
		if os.IsNotExist(err) {
			return &ListKeysResult{}, nil
		}
		return nil, fmt.Errorf("list store %s: %w", storeID, err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".contenttype") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)

	start := 0
	if exclusiveStartKey != "" {
		for i, k := range keys {
			if k > exclusiveStartKey {
				start = i
				break
			}
			start = i + 1
		}
	}

	result := &ListKeysResult{}
	for i := start; i < len(keys) && len(result.Items) < limit; i++ {
		info, err := os.Stat(c.keyPath(storeID, keys[i]))
		size := 0
		if err == nil {
			size = int(info.Size())
		}
		result.Items = append(result.Items, KeyInfo{Key: keys[i], Size: size})
	}
	if start+len(result.Items) < len(keys) {
		result.IsTruncated = true
		result.NextExclusiveStartKey = result.Items[len(result.Items)-1].Key
	}
	return result, nil
}
