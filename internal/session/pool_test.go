package session

import (
	"testing"

	"github.com/crawlkit/crawlkit/internal/kvstore"
)

func TestPoolGetSessionCreatesUnderCapacity(t *testing.T) {
	p := NewPool(PoolOptions{MaxPoolSize: 2, SessionConfig: defaultConfig()}, nil, nil)

	s1, err := p.GetSession()
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s1 == nil {
		t.Fatal("expected a session")
	}
	if p.Size() != 1 {
		t.Fatalf("expected pool size 1, got %d", p.Size())
	}
}

func TestPoolRetiredSessionNotReissued(t *testing.T) {
	p := NewPool(PoolOptions{MaxPoolSize: 1, SessionConfig: defaultConfig()}, nil, nil)

	s1, err := p.GetSession()
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	p.Retire(s1.ID)

	if _, err := p.GetSession(); err == nil {
		t.Fatal("expected pool exhaustion once the only session is retired")
	}

	select {
	case id := <-p.Retired():
		if id != s1.ID {
			t.Fatalf("expected retired event for %s, got %s", s1.ID, id)
		}
	default:
		t.Fatal("expected a SESSION_RETIRED event")
	}
}

func TestPoolMarkBadEventuallyMakesUnusable(t *testing.T) {
	cfg := Config{MaxErrorScore: 2, MaxUsageCount: 100, MaxAgeSecs: 3000}
	p := NewPool(PoolOptions{MaxPoolSize: 1, SessionConfig: cfg}, nil, nil)

	s, err := p.GetSession()
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}

	s.MarkBad()
	s.MarkBad()

	if s.IsUsable() {
		t.Fatal("expected session to become unusable once errorScore reaches maxErrorScore")
	}
}

func TestPoolPersistAndRestore(t *testing.T) {
	store := kvstore.NewLocalClient(t.TempDir())
	opts := PoolOptions{MaxPoolSize: 5, SessionConfig: defaultConfig(), PersistStoreID: "default", PersistKey: "SESSION_POOL_STATE"}

	p1 := NewPool(opts, store, nil)
	s, err := p1.GetSession()
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	s.MarkBad()

	if err := p1.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	p2 := NewPool(opts, store, nil)
	if err := p2.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if p2.Size() != 1 {
		t.Fatalf("expected 1 restored session, got %d", p2.Size())
	}
}
