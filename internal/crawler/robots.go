package crawler

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// RobotsChecker fetches, parses, and caches robots.txt per domain, so
// BasicCrawler can skip disallowed URLs before ever handing them to the
// handler. Ported from the teacher's engine.RobotsManager
// (internal/engine/robots.go), generalized only in name — the parsing and
// pattern-matching logic is unchanged.
type RobotsChecker struct {
	enabled bool
	cache   map[string]*robotsData
	mu      sync.RWMutex
	client  *http.Client
}

type robotsData struct {
	disallowed []string
	allowed    []string
	crawlDelay time.Duration
	sitemaps   []string
	fetchedAt  time.Time
}

// NewRobotsChecker creates a RobotsChecker. If enabled is false, IsAllowed
// always returns true without making any network calls.
func NewRobotsChecker(enabled bool) *RobotsChecker {
	return &RobotsChecker{
		enabled: enabled,
		cache:   make(map[string]*robotsData),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// IsAllowed reports whether rawURL may be fetched per its domain's
// robots.txt. A domain whose robots.txt can't be fetched is treated as
// allowing everything.
func (rc *RobotsChecker) IsAllowed(rawURL string) bool {
	if !rc.enabled {
		return true
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}

	domain := u.Scheme + "://" + u.Host
	data := rc.getRobotsData(domain)
	if data == nil {
		return true
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	for _, pattern := range data.allowed {
		if matchRobotsPattern(pattern, path) {
			return true
		}
	}
	for _, pattern := range data.disallowed {
		if matchRobotsPattern(pattern, path) {
			return false
		}
	}
	return true
}

// CrawlDelay returns the crawl-delay directive for domain, or zero if none
// was specified (or robots.txt hasn't been fetched yet).
func (rc *RobotsChecker) CrawlDelay(domain string) time.Duration {
	rc.mu.RLock()
	data, ok := rc.cache[domain]
	rc.mu.RUnlock()
	if !ok || data == nil {
		return 0
	}
	return data.crawlDelay
}

func (rc *RobotsChecker) getRobotsData(domain string) *robotsData {
	rc.mu.RLock()
	data, ok := rc.cache[domain]
	rc.mu.RUnlock()
	if ok {
		return data
	}

	data = rc.fetchRobotsTxt(domain)

	rc.mu.Lock()
	rc.cache[domain] = data
	rc.mu.Unlock()
	return data
}

func (rc *RobotsChecker) fetchRobotsTxt(domain string) *robotsData {
	resp, err := rc.client.Get(domain + "/robots.txt")
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil
	}
	return parseRobotsTxt(string(body))
}

func parseRobotsTxt(content string) *robotsData {
	data := &robotsData{fetchedAt: time.Now()}

	inOurSection := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(strings.ToLower(parts[0]))
		value := strings.TrimSpace(parts[1])

		switch key {
		case "user-agent":
			ua := strings.ToLower(value)
			inOurSection = ua == "*" || strings.Contains(ua, "crawlkit")
		case "disallow":
			if inOurSection && value != "" {
				data.disallowed = append(data.disallowed, value)
			}
		case "allow":
			if inOurSection && value != "" {
				data.allowed = append(data.allowed, value)
			}
		case "crawl-delay":
			if inOurSection {
				var delay float64
				if _, err := fmt.Sscanf(value, "%f", &delay); err == nil {
					data.crawlDelay = time.Duration(delay * float64(time.Second))
				}
			}
		case "sitemap":
			data.sitemaps = append(data.sitemaps, value)
		}
	}
	return data
}

func matchRobotsPattern(pattern, path string) bool {
	if pattern == "" {
		return false
	}

	endsWithDollar := strings.HasSuffix(pattern, "$")
	if endsWithDollar {
		pattern = pattern[:len(pattern)-1]
	}

	if strings.Contains(pattern, "*") {
		return matchWildcard(pattern, path, endsWithDollar)
	}
	if endsWithDollar {
		return path == pattern
	}
	return strings.HasPrefix(path, pattern)
}

func matchWildcard(pattern, path string, mustEnd bool) bool {
	parts := strings.Split(pattern, "*")
	pos := 0

	for i, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(path[pos:], part)
		if idx < 0 {
			return false
		}
		if i == 0 && idx != 0 {
			return false
		}
		pos += idx + len(part)
	}

	if mustEnd {
		return pos == len(path)
	}
	return true
}
