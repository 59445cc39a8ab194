package cache

import (
	"testing"
	"time"
)

func TestGetMissOnExpiry(t *testing.T) {
	c := New(Config{Lifetime: 10 * time.Millisecond, Max: 10, Unified: true}, nil)
	c.Set("/a", "A", 10*time.Millisecond, TypeNavigate, "")

	if _, ok := c.Get("/a", TypeNavigate); !ok {
		t.Fatal("expected immediate hit")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("/a", TypeNavigate); ok {
		t.Fatal("expected miss after expiry")
	}
}

func TestCapacityEvictsOldestFirst(t *testing.T) {
	c := New(Config{Lifetime: time.Hour, Max: 2, Unified: true}, nil)
	c.Set("/a", "A", time.Hour, TypeNavigate, "")
	c.Set("/b", "B", time.Hour, TypeNavigate, "")
	c.Set("/c", "C", time.Hour, TypeNavigate, "")

	if _, ok := c.Get("/a", TypeNavigate); ok {
		t.Fatal("/a should have been evicted (oldest-first)")
	}
	if _, ok := c.Get("/b", TypeNavigate); !ok {
		t.Fatal("/b should still be cached")
	}
	if _, ok := c.Get("/c", TypeNavigate); !ok {
		t.Fatal("/c should still be cached")
	}
}

func TestUnifiedFalseRequiresTypeMatch(t *testing.T) {
	c := New(Config{Lifetime: time.Hour, Max: 10, Unified: false}, nil)
	c.Set("/a", "A", time.Hour, TypePrefetch, "")

	if _, ok := c.Get("/a", TypeNavigate); ok {
		t.Fatal("type mismatch should miss when cache-unified is false")
	}
	if _, ok := c.Get("/a", TypePrefetch); !ok {
		t.Fatal("matching type should hit")
	}
}

func TestCanonicalURLAliasUnderUnified(t *testing.T) {
	c := New(Config{Lifetime: time.Hour, Max: 10, Unified: true}, nil)
	c.Set("/requested", "A", time.Hour, TypeNavigate, "/canonical")

	if _, ok := c.Get("/requested", TypeNavigate); !ok {
		t.Fatal("alias lookup via requested URL should hit")
	}
	if _, ok := c.Get("/canonical", TypeNavigate); !ok {
		t.Fatal("direct lookup via canonical URL should hit")
	}
}

type memSession struct{ m map[string]string }

func (s *memSession) Get(key string) (string, bool) { v, ok := s.m[key]; return v, ok }
func (s *memSession) Set(key, value string)         { s.m[key] = value }

func TestSessionMirrorRoundTrips(t *testing.T) {
	store := &memSession{m: map[string]string{}}
	c := New(Config{Lifetime: time.Hour, Max: 10, Unified: true, SessionMirror: true, SessionKey: "k"}, store)
	c.Set("/a", map[string]any{"title": "A"}, time.Hour, TypeNavigate, "")

	c2 := New(Config{Lifetime: time.Hour, Max: 10, Unified: true, SessionMirror: true, SessionKey: "k"}, store)
	if _, ok := c2.Get("/a", TypeNavigate); !ok {
		t.Fatal("expected entry restored from session storage")
	}
}

func TestZeroLifetimeSkipsInsert(t *testing.T) {
	c := New(Config{Lifetime: time.Hour, Max: 10, Unified: true}, nil)
	c.Set("/a", "A", 0, TypeNavigate, "")
	if _, ok := c.Get("/a", TypeNavigate); ok {
		t.Fatal("a zero lifetime must not insert an entry")
	}
}

func TestNegativeLifetimeNeverExpires(t *testing.T) {
	c := New(Config{Lifetime: time.Millisecond, Max: 10, Unified: true}, nil)
	c.Set("/a", "A", -1, TypeNavigate, "")
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("/a", TypeNavigate); !ok {
		t.Fatal("negative lifetime should never expire")
	}
}
