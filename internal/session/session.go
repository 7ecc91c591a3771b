package session

import (
	"net/http/cookiejar"
	"sync"
	"time"
)

// Session is a rotating identity token: cookies, an opaque fingerprint, and
// an error score workers use to decide whether it's still worth issuing.
// Grounded on the teacher's per-domain cookiejar.Jar in
// internal/fetcher/session.go, generalized into a first-class object the
// SessionPool can score, retire, and persist.
type Session struct {
	mu sync.Mutex

	ID          string
	Fingerprint string
	UserData    map[string]any

	jar *cookiejar.Jar

	errorScore    float64
	maxErrorScore float64
	usageCount    int
	maxUsageCount int
	expiresAt     time.Time
	retired       bool
}

// Config controls the bounds a freshly created Session is given.
type Config struct {
	MaxErrorScore float64
	MaxUsageCount int
	MaxAgeSecs    int
}

func defaultConfig() Config {
	return Config{
		MaxErrorScore: 3,
		MaxUsageCount: 50,
		MaxAgeSecs:    3000,
	}
}

func newSession(id, fingerprint string, cfg Config) *Session {
	jar, _ := cookiejar.New(nil)
	return &Session{
		ID:            id,
		Fingerprint:   fingerprint,
		UserData:      make(map[string]any),
		jar:           jar,
		maxErrorScore: cfg.MaxErrorScore,
		maxUsageCount: cfg.MaxUsageCount,
		expiresAt:     time.Now().Add(time.Duration(cfg.MaxAgeSecs) * time.Second),
	}
}

// Jar returns the session's per-domain cookie jar, for a fetcher to attach
// to its HTTP client when this session is bound to a request.
func (s *Session) Jar() *cookiejar.Jar {
	return s.jar
}

// MarkGood records a successful use: decays the error score and bumps the
// usage count.
func (s *Session) MarkGood() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usageCount++
	if s.errorScore > 0 {
		s.errorScore -= 0.5
		if s.errorScore < 0 {
			s.errorScore = 0
		}
	}
}

// MarkBad records a failed use: increments the error score by 1 and bumps
// the usage count.
func (s *Session) MarkBad() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usageCount++
	s.errorScore++
}

// Retire permanently marks the session unusable.
func (s *Session) Retire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retired = true
}

// IsUsable reports whether the session is still eligible to be issued:
// not retired, not expired, and below its error-score ceiling.
func (s *Session) IsUsable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return false
	}
	if time.Now().After(s.expiresAt) {
		return false
	}
	if s.errorScore >= s.maxErrorScore {
		return false
	}
	if s.usageCount >= s.maxUsageCount {
		return false
	}
	return true
}

// ThrottleOverride returns a per-session politeness delay override, read
// from UserData["throttleOverrideMs"] if the caller set one (e.g. to slow
// down a session known to be on thin ice with a target domain). Zero means
// "use the crawler's global delay".
func (s *Session) ThrottleOverride() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.UserData["throttleOverrideMs"].(int)
	if !ok {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// ErrorScore returns the current error score, for diagnostics and tests.
func (s *Session) ErrorScore() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorScore
}

// UsageCount returns the number of times this session has been marked
// good or bad.
func (s *Session) UsageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usageCount
}

// IsRetired reports whether Retire has been called on this session.
func (s *Session) IsRetired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired
}

type persistedSession struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	ErrorScore  float64   `json:"errorScore"`
	UsageCount  int       `json:"usageCount"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Retired     bool      `json:"retired"`
}

func (s *Session) snapshot() persistedSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return persistedSession{
		ID:          s.ID,
		Fingerprint: s.Fingerprint,
		ErrorScore:  s.errorScore,
		UsageCount:  s.usageCount,
		ExpiresAt:   s.expiresAt,
		Retired:     s.retired,
	}
}

func restoreSession(p persistedSession, cfg Config) *Session {
	s := newSession(p.ID, p.Fingerprint, cfg)
	s.errorScore = p.ErrorScore
	s.usageCount = p.UsageCount
	s.expiresAt = p.ExpiresAt
	s.retired = p.Retired
	return s
}
