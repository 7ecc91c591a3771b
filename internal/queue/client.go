// Package queue implements the deduplicating, consistency-aware
// RequestQueue and its static counterpart RequestList, generalized from the
// teacher repo's in-memory Frontier (internal/engine/frontier.go) and
// Deduplicator (internal/engine/dedup.go) into the queue/backend split a
// distributed crawling SDK needs.
package queue

import (
	"context"
	"time"

	"github.com/crawlkit/crawlkit/internal/types"
)

// QueueOperationInfo is returned from every queue mutation.
type QueueOperationInfo struct {
	RequestID         string
	WasAlreadyPresent bool
	WasAlreadyHandled bool
	Request           *types.Request
}

// AddRequestOptions controls where a new request lands in the queue.
type AddRequestOptions struct {
	Forefront bool
}

// HeadItem is one entry in a ListHead response: just enough to let the
// queue decide whether it's already accounted for locally.
type HeadItem struct {
	ID        string
	UniqueKey string
}

// HeadListing is the result of a backend ListHead call.
type HeadListing struct {
	Items              []HeadItem
	QueueModifiedAt    time.Time
	HadMultipleClients bool
}

// Metadata describes queue-level bookkeeping the backend tracks.
type Metadata struct {
	ID                  string
	TotalRequestCount   int
	HandledRequestCount int
}

// Client is the abstract storage backend contract a RequestQueue talks to.
// Two implementations exist: LocalClient (immediately consistent,
// single-process) and CloudClient (HTTP, may lag writes and may be shared
// by multiple callers). The RequestQueue never branches on which one it
// has — dynamic dispatch over this interface is the only seam.
type Client interface {
	// AddRequest inserts or updates a request, keyed by UniqueKey.
	AddRequest(ctx context.Context, req *types.Request, opts AddRequestOptions) (*QueueOperationInfo, error)

	// GetRequest hydrates a request by id. Returns (nil, nil) if unknown.
	GetRequest(ctx context.Context, id string) (*types.Request, error)

	// UpdateRequest persists mutations to an already-known request (e.g.
	// marking it handled, or bumping its retry count on reclaim).
	UpdateRequest(ctx context.Context, req *types.Request) (*QueueOperationInfo, error)

	// ListHead returns up to limit requests believed to be at the front of
	// the queue, in the backend's view — which may lag recent writes.
	ListHead(ctx context.Context, limit int, clientKey string) (*HeadListing, error)

	// Get returns backend metadata for the queue.
	Get(ctx context.Context) (*Metadata, error)

	// Delete removes all backing storage for the queue.
	Delete(ctx context.Context) error
}
