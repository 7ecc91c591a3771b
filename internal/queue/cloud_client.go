package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/projectdiscovery/retryablehttp-go"

	"github.com/crawlkit/crawlkit/internal/types"
)

// CloudClient is the Client implementation for a remote, HTTP-reachable
// request queue backend. It may lag writes (its listHead index update is
// asynchronous on the server side) and may be shared by other callers —
// exactly the case the RequestQueue's head-refresh protocol is built to
// tolerate. The retry/backoff transport is grounded on the teacher pack's
// retryablehttp-go client construction (slicingmelon-gobypass403/request.go).
type CloudClient struct {
	baseURL   string
	queueID   string
	clientKey string
	http      *retryablehttp.Client
}

// NewCloudClient creates a CloudClient talking to baseURL for queue queueID.
// clientKey is a random per-instance identifier; the backend echoes back
// whether a different clientKey has written to the queue recently, which is
// how multi-client mode is detected.
func NewCloudClient(baseURL, queueID, clientKey string) *CloudClient {
	opts := retryablehttp.Options{
		RetryWaitMin: 200 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
		RetryMax:     5,
		Timeout:      30 * time.Second,
		HttpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	return &CloudClient{
		baseURL:   baseURL,
		queueID:   queueID,
		clientKey: clientKey,
		http:      retryablehttp.NewClient(opts),
	}
}

type wireRequest struct {
	ID            string         `json:"id,omitempty"`
	UniqueKey     string         `json:"uniqueKey"`
	URL           string         `json:"url"`
	Method        string         `json:"method"`
	RetryCount    int            `json:"retryCount"`
	ErrorMessages []string       `json:"errorMessages,omitempty"`
	HandledAt     *time.Time     `json:"handledAt,omitempty"`
	NoRetry       bool           `json:"noRetry"`
	UserData      map[string]any `json:"userData,omitempty"`
}

func toWire(req *types.Request) wireRequest {
	return wireRequest{
		ID:            req.ID,
		UniqueKey:     req.UniqueKey,
		URL:           req.URLString(),
		Method:        req.Method,
		RetryCount:    req.RetryCount,
		ErrorMessages: req.ErrorMessages,
		HandledAt:     req.HandledAt,
		NoRetry:       req.NoRetry,
		UserData:      req.UserData,
	}
}

func applyWire(req *types.Request, w wireRequest) {
	req.ID = w.ID
	req.RetryCount = w.RetryCount
	req.ErrorMessages = w.ErrorMessages
	req.HandledAt = w.HandledAt
	req.NoRetry = w.NoRetry
	if w.UserData != nil {
		req.UserData = w.UserData
	}
}

func (c *CloudClient) endpoint(path string) string {
	return fmt.Sprintf("%s/request-queues/%s%s", c.baseURL, c.queueID, path)
}

func (c *CloudClient) doJSON(ctx context.Context, method, url string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := retryablehttp.NewRequest(method, url, reader)
	if err != nil {
		return 0, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Key", c.clientKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("cloud queue backend returned %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *CloudClient) AddRequest(ctx context.Context, req *types.Request, opts AddRequestOptions) (*QueueOperationInfo, error) {
	var out struct {
		wireRequest
		WasAlreadyPresent bool `json:"wasAlreadyPresent"`
		WasAlreadyHandled bool `json:"wasAlreadyHandled"`
	}

	url := c.endpoint("/requests")
	if opts.Forefront {
		url += "?forefront=1"
	}

	if _, err := c.doJSON(ctx, http.MethodPost, url, toWire(req), &out); err != nil {
		return nil, err
	}

	applyWire(req, out.wireRequest)
	return &QueueOperationInfo{
		RequestID:         req.ID,
		WasAlreadyPresent: out.WasAlreadyPresent,
		WasAlreadyHandled: out.WasAlreadyHandled,
		Request:           req,
	}, nil
}

func (c *CloudClient) GetRequest(ctx context.Context, id string) (*types.Request, error) {
	var out wireRequest
	status, err := c.doJSON(ctx, http.MethodGet, c.endpoint("/requests/"+url.PathEscape(id)), nil, &out)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	req, err := types.NewRequest(out.URL)
	if err != nil {
		return nil, err
	}
	req.Method = out.Method
	req.UniqueKey = out.UniqueKey
	applyWire(req, out)
	return req, nil
}

func (c *CloudClient) UpdateRequest(ctx context.Context, req *types.Request) (*QueueOperationInfo, error) {
	var out struct {
		wireRequest
		WasAlreadyHandled bool `json:"wasAlreadyHandled"`
	}

	if _, err := c.doJSON(ctx, http.MethodPut, c.endpoint("/requests/"+url.PathEscape(req.ID)), toWire(req), &out); err != nil {
		return nil, err
	}

	applyWire(req, out.wireRequest)
	return &QueueOperationInfo{
		RequestID:         req.ID,
		WasAlreadyHandled: out.WasAlreadyHandled,
		Request:           req,
	}, nil
}

func (c *CloudClient) ListHead(ctx context.Context, limit int, clientKey string) (*HeadListing, error) {
	var out struct {
		Items []struct {
			ID        string `json:"id"`
			UniqueKey string `json:"uniqueKey"`
		} `json:"items"`
		QueueModifiedAt    time.Time `json:"queueModifiedAt"`
		HadMultipleClients bool      `json:"hadMultipleClients"`
	}

	url := fmt.Sprintf("%s?limit=%d", c.endpoint("/head"), limit)
	if _, err := c.doJSON(ctx, http.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}

	items := make([]HeadItem, len(out.Items))
	for i, it := range out.Items {
		items[i] = HeadItem{ID: it.ID, UniqueKey: it.UniqueKey}
	}

	return &HeadListing{
		Items:              items,
		QueueModifiedAt:    out.QueueModifiedAt,
		HadMultipleClients: out.HadMultipleClients,
	}, nil
}

func (c *CloudClient) Get(ctx context.Context) (*Metadata, error) {
	var out struct {
		ID                  string `json:"id"`
		TotalRequestCount   int    `json:"totalRequestCount"`
		HandledRequestCount int    `json:"handledRequestCount"`
	}
	if _, err := c.doJSON(ctx, http.MethodGet, c.endpoint(""), nil, &out); err != nil {
		return nil, err
	}
	return &Metadata{
		ID:                  out.ID,
		TotalRequestCount:   out.TotalRequestCount,
		HandledRequestCount: out.HandledRequestCount,
	}, nil
}

func (c *CloudClient) Delete(ctx context.Context) error {
	_, err := c.doJSON(ctx, http.MethodDelete, c.endpoint(""), nil, nil)
	return err
}
