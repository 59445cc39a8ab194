package navigation

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/use-agent/spfgo/internal/cache"
)

// sessionCapKey is the well-known session-storage key the cap's
// counter is mirrored under, mirroring how the bounded cache mirrors
// its own map (spec.md §4.C).
const sessionCapKey = "spf-navigate-cap"

type capRecord struct {
	Count       int   `json:"count"`
	WindowStart int64 `json:"window_start_ms"`
}

// sessionCap enforces navigate-limit over a rolling navigate-lifetime
// window, per spec.md §4.H's "Session cap": once reached, subsequent
// navigations are transformed into full-page loads instead of being
// issued as SPF requests.
type sessionCap struct {
	mu       sync.Mutex
	limit    int
	lifetime time.Duration
	store    cache.SessionStore
	now      func() time.Time
	rec      capRecord
}

func newSessionCap(limit int, lifetime time.Duration, store cache.SessionStore) *sessionCap {
	return newSessionCapWithClock(limit, lifetime, store, time.Now)
}

func newSessionCapWithClock(limit int, lifetime time.Duration, store cache.SessionStore, now func() time.Time) *sessionCap {
	c := &sessionCap{limit: limit, lifetime: lifetime, store: store, now: now}
	c.rec.WindowStart = now().UnixMilli()
	if store != nil {
		if raw, ok := store.Get(sessionCapKey); ok && raw != "" {
			var rec capRecord
			if err := json.Unmarshal([]byte(raw), &rec); err == nil {
				c.rec = rec
			}
		}
	}
	return c
}

// allow reports whether another navigation may proceed as an SPF
// request, incrementing the counter if so. A non-positive limit means
// uncapped.
func (c *sessionCap) allow() bool {
	if c.limit <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nowMs := c.now().UnixMilli()
	if c.lifetime > 0 && time.Duration(nowMs-c.rec.WindowStart)*time.Millisecond >= c.lifetime {
		c.rec = capRecord{WindowStart: nowMs}
	}

	if c.rec.Count >= c.limit {
		return false
	}
	c.rec.Count++
	c.persistLocked()
	return true
}

func (c *sessionCap) persistLocked() {
	if c.store == nil {
		return
	}
	raw, err := json.Marshal(c.rec)
	if err != nil {
		return
	}
	c.store.Set(sessionCapKey, string(raw))
}
