package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/crawlkit/crawlkit/internal/types"
)

type recordingClient struct {
	mu     sync.Mutex
	chunks [][][]byte
}

func (c *recordingClient) PushItems(ctx context.Context, datasetID string, items [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, items)
	return nil
}

func TestDatasetPushDataSingleChunk(t *testing.T) {
	client := &recordingClient{}
	d := New(client, "default")

	item := types.NewItem("https://example.com")
	item.Set("title", "hello")

	if err := d.PushData(context.Background(), item); err != nil {
		t.Fatalf("PushData: %v", err)
	}
	if len(client.chunks) != 1 || len(client.chunks[0]) != 1 {
		t.Fatalf("expected a single chunk with 1 item, got %+v", client.chunks)
	}

	if _, err := rawJSONArray(client.chunks[0]); err != nil {
		t.Fatalf("pushed chunk did not form a valid JSON array: %v", err)
	}
}

func TestDatasetChunkBySizeRespectsLimit(t *testing.T) {
	items := make([][]byte, 0, 10)
	for i := 0; i < 10; i++ {
		items = append(items, []byte(fmt.Sprintf(`{"n":%d}`, i)))
	}

	chunks := chunkBySize(items, 20)
	for _, chunk := range chunks {
		data, err := rawJSONArray(chunk)
		if err != nil {
			t.Fatalf("chunk did not form valid JSON: %v", err)
		}
		if len(data) > 20 {
			t.Fatalf("chunk exceeded limit: %d bytes", len(data))
		}
	}

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total != len(items) {
		t.Fatalf("expected all %d items accounted for across chunks, got %d", len(items), total)
	}
}

func TestDatasetOversizedItemRejected(t *testing.T) {
	client := &recordingClient{}
	d := New(client, "default")

	item := types.NewItem("https://example.com")
	huge := make([]byte, ChunkSizeLimit+1)
	item.Set("blob", string(huge))

	if err := d.PushData(context.Background(), item); err == nil {
		t.Fatal("expected an error for an oversized item")
	}
}

func TestDatasetPushPreservesOrderAcrossChunks(t *testing.T) {
	client := &recordingClient{}
	d := New(client, "default")

	items := make([]*types.Item, 0, 5)
	for i := 0; i < 5; i++ {
		it := types.NewItem("https://example.com")
		it.Set("n", i)
		items = append(items, it)
	}

	if err := d.PushData(context.Background(), items...); err != nil {
		t.Fatalf("PushData: %v", err)
	}

	var seen []int
	for _, chunk := range client.chunks {
		for _, raw := range chunk {
			var decoded struct {
				Fields struct {
					N int `json:"n"`
				} `json:"fields"`
			}
			if err := json.Unmarshal(raw, &decoded); err != nil {
				t.Fatalf("decode pushed item: %v", err)
			}
			seen = append(seen, decoded.Fields.N)
		}
	}
	for i, n := range seen {
		if n != i {
			t.Fatalf("expected items in insertion order, got %v", seen)
		}
	}
}
