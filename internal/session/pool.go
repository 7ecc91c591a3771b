package session

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/crawlkit/crawlkit/internal/kvstore"
	"github.com/crawlkit/crawlkit/internal/types"
)

// PoolOptions configures a Pool.
type PoolOptions struct {
	MaxPoolSize    int
	SessionConfig  Config
	PersistStoreID string
	PersistKey     string
}

func defaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxPoolSize:   1000,
		SessionConfig: defaultConfig(),
		PersistKey:    "SESSION_POOL_STATE",
	}
}

// Pool is a rotating collection of Sessions, generalized from the teacher's
// domain-keyed SessionManager (internal/fetcher/session.go) and
// round-robin/random ProxyManager (internal/fetcher/proxy.go) into a single
// identity-lifecycle object: created, issued, scored, and retired.
type Pool struct {
	mu       sync.Mutex
	opts     PoolOptions
	sessions map[string]*Session
	order    []string // insertion order, for deterministic persistence
	retired  chan string
	logger   *slog.Logger
	store    kvstore.Client
}

// NewPool creates an empty Pool. store may be nil, in which case
// Persist/Restore are no-ops. Zero-valued fields on opts fall back to
// defaultPoolOptions() individually, so a caller setting only PersistKey
// (say) doesn't lose it to an all-or-nothing default swap.
func NewPool(opts PoolOptions, store kvstore.Client, logger *slog.Logger) *Pool {
	defaults := defaultPoolOptions()
	if opts.MaxPoolSize == 0 {
		opts.MaxPoolSize = defaults.MaxPoolSize
	}
	if opts.SessionConfig == (Config{}) {
		opts.SessionConfig = defaults.SessionConfig
	}
	if opts.PersistKey == "" {
		opts.PersistKey = defaults.PersistKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		opts:     opts,
		sessions: make(map[string]*Session),
		retired:  make(chan string, 64),
		logger:   logger.With("component", "session_pool"),
		store:    store,
	}
}

// Retired returns the channel SESSION_RETIRED ids are published on. Readers
// (e.g. an HTTP transport evicting idle connections) must drain it: once its
// buffer is full, further events are dropped with a warning (retirement
// itself never blocks).
func (p *Pool) Retired() <-chan string {
	return p.retired
}

// GetSession returns a usable Session, picked uniformly at random among
// currently-usable sessions. If none are usable and the pool has room, a
// new Session is created. Returns ErrSessionPoolExhausted if the pool is at
// capacity and nothing usable remains.
func (p *Pool) GetSession() (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	usable := p.usableLocked()
	if len(usable) > 0 {
		idx, err := randIndex(len(usable))
		if err != nil {
			return nil, err
		}
		return usable[idx], nil
	}

	if len(p.sessions) >= p.opts.MaxPoolSize {
		return nil, types.ErrSessionPoolExhausted
	}

	s := newSession(newSessionID(), newSessionID(), p.opts.SessionConfig)
	p.sessions[s.ID] = s
	p.order = append(p.order, s.ID)
	return s, nil
}

func (p *Pool) usableLocked() []*Session {
	usable := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		if s.IsUsable() {
			usable = append(usable, s)
		}
	}
	return usable
}

// Retire retires the session with the given id and publishes a
// SESSION_RETIRED event. No-op if the id is unknown.
func (p *Pool) Retire(id string) {
	p.mu.Lock()
	s, ok := p.sessions[id]
	p.mu.Unlock()
	if !ok {
		return
	}
	s.Retire()

	select {
	case p.retired <- id:
	default:
		p.logger.Warn("SESSION_RETIRED event dropped, channel full", "session_id", id)
	}
}

// Size returns the number of sessions currently tracked, usable or not.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// UsableCount returns the number of currently-usable sessions.
func (p *Pool) UsableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.usableLocked())
}

type poolSnapshot struct {
	Sessions []persistedSession `json:"sessions"`
}

// Persist snapshots pool state to the configured KV store under
// PersistStoreID/PersistKey. No-op if no store was configured.
func (p *Pool) Persist() error {
	if p.store == nil {
		return nil
	}

	p.mu.Lock()
	snap := poolSnapshot{Sessions: make([]persistedSession, 0, len(p.order))}
	for _, id := range p.order {
		if s, ok := p.sessions[id]; ok {
			snap.Sessions = append(snap.Sessions, s.snapshot())
		}
	}
	p.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal session pool snapshot: %w", err)
	}
	return p.store.SetValue(p.opts.PersistStoreID, p.opts.PersistKey, data, "application/json")
}

// Restore loads pool state previously written by Persist. No-op if no
// store was configured or no snapshot exists yet.
func (p *Pool) Restore() error {
	if p.store == nil {
		return nil
	}

	data, contentType, err := p.store.GetValue(p.opts.PersistStoreID, p.opts.PersistKey)
	if err != nil {
		return fmt.Errorf("restore session pool: %w", err)
	}
	if data == nil {
		return nil
	}
	_ = contentType

	var snap poolSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode session pool snapshot: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ps := range snap.Sessions {
		p.sessions[ps.ID] = restoreSession(ps, p.opts.SessionConfig)
		p.order = append(p.order, ps.ID)
	}
	return nil
}

func newSessionID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "session"
	}
	return hex.EncodeToString(buf)
}

func randIndex(n int) (int, error) {
	if n == 1 {
		return 0, nil
	}
	bi, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("pick random session: %w", err)
	}
	return int(bi.Int64()), nil
}
