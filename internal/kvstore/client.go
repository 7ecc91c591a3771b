// Package kvstore implements the key-value store contract: getValue,
// setValue, deleteRecord, and paginated listKeys, with a local
// (filesystem) and a cloud (MongoDB-backed) implementation behind the
// same Client interface, mirroring the queue package's Local/Cloud split.
package kvstore

import "fmt"

// KeyInfo is one entry returned by ListKeys.
type KeyInfo struct {
	Key  string
	Size int
}

// ListKeysResult is a single page of a ListKeys call.
type ListKeysResult struct {
	Items                 []KeyInfo
	NextExclusiveStartKey string
	IsTruncated           bool
}

// Client is the abstract KV store backend a SessionPool, Statistics
// component, or crawler INPUT reader talks to.
type Client interface {
	// GetValue returns the stored bytes and content type for key, or
	// (nil, "", nil) if the record does not exist.
	GetValue(storeID, key string) (data []byte, contentType string, err error)

	// SetValue stores data under key with the given content type,
	// overwriting any previous value.
	SetValue(storeID, key string, data []byte, contentType string) error

	// DeleteRecord removes key from storeID. No-op if it does not exist.
	DeleteRecord(storeID, key string) error

	// ListKeys lists up to limit keys, starting after
	// exclusiveStartKey (empty to start from the beginning).
	ListKeys(storeID string, exclusiveStartKey string, limit int) (*ListKeysResult, error)
}

// ErrNotFound is never returned by Client.GetValue (it returns nil data
// instead); it is surfaced by higher layers that require a value to exist.
var ErrNotFound = fmt.Errorf("key-value record not found")
