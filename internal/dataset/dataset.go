// Package dataset implements the append-only Dataset contract: pushData
// accepting a single item or a slice, chunked so each chunk's serialized
// JSON array stays under the payload size limit. Local (filesystem,
// one file per item) and Cloud (MongoDB, one document per item) backends
// share the Client interface, mirroring the queue and kvstore packages'
// Local/Cloud split.
package dataset

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/crawlkit/crawlkit/internal/types"
)

// MaxPayloadSizeBytes is the platform's hard per-request payload ceiling
// (9 MiB). ChunkSizeLimit leaves a small safety margin below it so a
// chunk's serialized size, including JSON array brackets and separators,
// never risks tripping the backend's own limit.
const (
	MaxPayloadSizeBytes = 9 * 1024 * 1024
	chunkSafetyMargin   = 0.0001
)

// ChunkSizeLimit is the usable size budget per chunk.
var chunkSizeLimitFloat float64 = MaxPayloadSizeBytes * (1 - chunkSafetyMargin)
var ChunkSizeLimit = int(chunkSizeLimitFloat)

// Client is the abstract append-only storage backend a Dataset talks to.
type Client interface {
	PushItems(ctx context.Context, datasetID string, items [][]byte) error
}

// Dataset pushes Items to a Client, chunking greedily so each chunk's
// serialized JSON array stays within ChunkSizeLimit.
type Dataset struct {
	client    Client
	datasetID string
}

// New creates a Dataset backed by client for the given dataset id.
func New(client Client, datasetID string) *Dataset {
	return &Dataset{client: client, datasetID: datasetID}
}

// PushData serializes and pushes one or more items, in series, in
// insertion order, one chunk per backend call. There is no transactional
// guarantee across chunks: a failure partway through leaves earlier chunks
// durably stored.
func (d *Dataset) PushData(ctx context.Context, items ...*types.Item) error {
	encoded := make([][]byte, 0, len(items))
	for i, item := range items {
		data, err := item.ToJSON()
		if err != nil {
			return fmt.Errorf("encode item %d: %w", i, err)
		}
		if len(data)+2 > ChunkSizeLimit {
			return fmt.Errorf("item %d serializes to %d bytes, exceeding the %d byte single-item limit", i, len(data), ChunkSizeLimit-2)
		}
		encoded = append(encoded, data)
	}

	for _, chunk := range chunkBySize(encoded, ChunkSizeLimit) {
		if err := d.client.PushItems(ctx, d.datasetID, chunk); err != nil {
			return fmt.Errorf("push chunk of %d items: %w", len(chunk), err)
		}
	}
	return nil
}

// chunkBySize greedily groups already-serialized items into chunks whose
// combined `[item,item,...]` JSON array encoding stays within limit.
func chunkBySize(items [][]byte, limit int) [][][]byte {
	if len(items) == 0 {
		return nil
	}

	var chunks [][][]byte
	var current [][]byte
	size := 2 // "[" + "]"

	for _, item := range items {
		addition := len(item)
		if len(current) > 0 {
			addition++ // comma separator
		}
		if len(current) > 0 && size+addition > limit {
			chunks = append(chunks, current)
			current = nil
			size = 2
			addition = len(item)
		}
		current = append(current, item)
		size += addition
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// rawJSONArray is used only to validate that a set of pre-encoded item
// byte slices forms valid JSON when joined — exercised by tests, not by
// the push path itself (which never needs to re-parse what it just built).
func rawJSONArray(items [][]byte) ([]byte, error) {
	arr := make([]json.RawMessage, len(items))
	for i, it := range items {
		arr[i] = it
	}
	return json.Marshal(arr)
}
