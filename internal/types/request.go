package types

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Priority levels for request scheduling.
const (
	PriorityHighest = 0
	PriorityHigh    = 1
	PriorityNormal  = 2
	PriorityLow     = 3
	PriorityLowest  = 4
)

// Request represents a unit of crawl work: a URL to fetch plus the
// bookkeeping the RequestQueue and BasicCrawler scheduler need to dedupe,
// retry, and account for it.
type Request struct {
	// URL is the target URL to fetch.
	URL *url.URL

	// Method is the HTTP method (GET, POST, etc.). Defaults to GET.
	Method string

	// Headers are custom HTTP headers to send with the request.
	Headers http.Header

	// Body is the request body for POST/PUT requests.
	Body []byte

	// Depth is the crawl depth from the seed URL.
	Depth int

	// Priority controls scheduling order (lower = higher priority).
	Priority int

	// MaxRetries is a per-request retry limit (3 from NewRequest). Nothing
	// in BasicCrawler reads it; the crawler applies Options.MaxRequestRetries.
	MaxRetries int

	// RetryCount tracks the current retry attempt. Monotonic nondecreasing.
	RetryCount int

	// Timeout overrides the global request timeout for this request.
	Timeout time.Duration

	// Meta stores scratch data used by the fetcher/parser/pipeline chain.
	Meta map[string]any

	// Tag categorizes this request (e.g., "listing", "detail", "pagination").
	Tag string

	// FetcherType specifies which fetcher to use: "http" or "browser".
	FetcherType string

	// Callbacks are the names of callback functions to invoke on response.
	Callbacks []string

	// ParentURL tracks which page this request was discovered on.
	ParentURL string

	// CreatedAt is when this request was created.
	CreatedAt time.Time

	// ID is assigned by the RequestQueue on first insertion. Empty until then.
	ID string

	// UniqueKey is the deduplication key. Defaults to the canonicalized URL
	// but can be overridden (e.g. to dedupe a POST form by its payload).
	UniqueKey string

	// UserData is the opaque bag threaded through the RequestQueue and
	// SessionPool for the caller's own bookkeeping.
	UserData map[string]any

	// ErrorMessages is the ordered trail of errors this request has hit
	// across retries.
	ErrorMessages []string

	// HandledAt is set once the request has been marked handled. Never
	// reverts to nil afterward.
	HandledAt *time.Time

	// NoRetry forces a single attempt: any failure routes straight to the
	// failed-request handler instead of being retried.
	NoRetry bool
}

// NewRequest creates a new Request with sensible defaults. UniqueKey
// defaults to the canonicalized URL; ID stays empty until a RequestQueue
// assigns one.
func NewRequest(rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	return &Request{
		URL:         u,
		Method:      http.MethodGet,
		Headers:     make(http.Header),
		Priority:    PriorityNormal,
		MaxRetries:  3,
		FetcherType: "http",
		Meta:        make(map[string]any),
		UserData:    make(map[string]any),
		CreatedAt:   time.Now(),
		UniqueKey:   CanonicalizeURL(rawURL),
	}, nil
}

// URLString returns the string representation of the request URL.
func (r *Request) URLString() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.String()
}

// Domain returns the hostname of the request URL.
func (r *Request) Domain() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Hostname()
}

// IsHandled reports whether this request has been marked handled.
func (r *Request) IsHandled() bool {
	return r.HandledAt != nil
}

// MarkHandled stamps HandledAt if it hasn't been set yet. Idempotent: once
// set, HandledAt never reverts.
func (r *Request) MarkHandled(at time.Time) {
	if r.HandledAt != nil {
		return
	}
	r.HandledAt = &at
}

// AddError appends an error message to the request's trail.
func (r *Request) AddError(msg string) {
	r.ErrorMessages = append(r.ErrorMessages, msg)
}

// Clone creates a deep copy of the request.
func (r *Request) Clone() *Request {
	clone := *r
	if r.URL != nil {
		u := *r.URL
		clone.URL = &u
	}
	clone.Headers = r.Headers.Clone()
	clone.Meta = make(map[string]any, len(r.Meta))
	for k, v := range r.Meta {
		clone.Meta[k] = v
	}
	clone.UserData = make(map[string]any, len(r.UserData))
	for k, v := range r.UserData {
		clone.UserData[k] = v
	}
	clone.Body = append([]byte(nil), r.Body...)
	clone.Callbacks = append([]string(nil), r.Callbacks...)
	clone.ErrorMessages = append([]string(nil), r.ErrorMessages...)
	if r.HandledAt != nil {
		t := *r.HandledAt
		clone.HandledAt = &t
	}
	return &clone
}

// CanonicalizeURL normalizes a URL for deduplication:
//   - lowercases scheme and host
//   - removes fragment
//   - sorts query parameters
//   - removes trailing slash (except root)
//   - removes default ports (80 for http, 443 for https)
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	host := u.Hostname()
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = host
	}

	if u.RawQuery != "" {
		params := u.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var sorted []string
		for _, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for _, v := range vals {
				sorted = append(sorted, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(sorted, "&")
	}

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}
