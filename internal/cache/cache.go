// Package cache implements the bounded, lifetime-and-capacity-governed
// response cache shared across prefetch and navigate (spec.md §4.C).
package cache

import (
	"encoding/json"
	"sync"
	"time"
)

// Type distinguishes prefetch entries from navigate entries.
type Type string

const (
	TypeNavigate Type = "navigate"
	TypePrefetch Type = "prefetch"
)

// Entry is one cached response.
type Entry struct {
	Key       string
	Response  any
	Timestamp time.Time
	Lifetime  time.Duration // < 0 or NaN-equivalent sentinel InfiniteLifetime means never expires
	Type      Type
}

// InfiniteLifetime marks an entry that never expires (spec.md §3:
// "negative or NaN = infinite").
const InfiniteLifetime time.Duration = -1

func (e *Entry) expired(now time.Time) bool {
	if e.Lifetime == InfiniteLifetime || e.Lifetime < 0 {
		return false
	}
	return now.Sub(e.Timestamp) >= e.Lifetime
}

// SessionStore is the external session-storage collaborator used to
// mirror the cache across page loads, when cache-session-storage is
// enabled (spec.md §1 non-goal: "offline persistence beyond
// opportunistic session storage").
type SessionStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// Config mirrors the cache-* configuration options of spec.md §6.
type Config struct {
	Lifetime      time.Duration // default 600s
	Max           int           // default 50
	Unified       bool
	SessionMirror bool
	SessionKey    string // well-known key the full map is written under
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Lifetime:   600 * time.Second,
		Max:        50,
		Unified:    true,
		SessionKey: "spf-cache",
	}
}

// Cache is the bounded URL -> response map. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	store   map[string]*Entry
	order   []string // insertion order, oldest first, for capacity eviction
	aliases map[string]string // secondary URL -> canonical key, for cache-unified lookups
	session SessionStore
}

// New creates a Cache. If cfg.SessionMirror is true and store is
// non-nil, the cache is seeded from any previously persisted map.
func New(cfg Config, store SessionStore) *Cache {
	c := &Cache{
		cfg:     cfg,
		store:   make(map[string]*Entry),
		aliases: make(map[string]string),
		session: store,
	}
	if cfg.SessionMirror && store != nil {
		c.loadFromSession()
	}
	return c
}

// Get returns the entry for key if present and unexpired. If
// cache-unified is false, typ must match the entry's stored type.
func (c *Cache) Get(key string, typ Type) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key, typ)
}

func (c *Cache) getLocked(key string, typ Type) (*Entry, bool) {
	resolved := key
	if canon, ok := c.aliases[key]; ok {
		resolved = canon
	}
	e, ok := c.store[resolved]
	if !ok {
		return nil, false
	}
	if !c.cfg.Unified && e.Type != typ {
		return nil, false
	}
	if e.expired(time.Now()) {
		c.removeLocked(resolved)
		return nil, false
	}
	return e, true
}

// Set stores response under key with the given lifetime. Per spec.md §3
// (CacheEntry): a negative lifetime means the entry never expires; an
// explicit zero lifetime means do not insert at all (the no-op a caller
// uses to say "this response must not be cached"). Callers that want the
// configured cache-lifetime default should pass cfg.Lifetime explicitly
// rather than zero.
func (c *Cache) Set(key string, response any, lifetime time.Duration, typ Type, canonicalURL string) {
	if lifetime == 0 {
		return
	}
	if lifetime < 0 {
		lifetime = InfiniteLifetime
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	canonKey := key
	if canonicalURL != "" && canonicalURL != key {
		canonKey = canonicalURL
		c.aliases[key] = canonKey
	}

	if _, exists := c.store[canonKey]; !exists {
		c.order = append(c.order, canonKey)
	}
	c.store[canonKey] = &Entry{
		Key:       canonKey,
		Response:  response,
		Timestamp: time.Now(),
		Lifetime:  lifetime,
		Type:      typ,
	}

	c.evictLocked()
	c.persistLocked()
}

// removeLocked deletes key from the store and its insertion-order slot.
func (c *Cache) removeLocked(key string) {
	delete(c.store, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// evictLocked removes oldest-first entries until the store is at or
// under cfg.Max.
func (c *Cache) evictLocked() {
	if c.cfg.Max <= 0 {
		return
	}
	for len(c.store) > c.cfg.Max && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.store, oldest)
	}
}

// Delete removes key unconditionally.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.store)
}

// persistenceRecord is the JSON-serializable shape mirrored into session
// storage; Response is carried as a json.RawMessage so callers can
// round-trip arbitrary response payloads.
type persistenceRecord struct {
	Key       string          `json:"key"`
	Response  json.RawMessage `json:"response"`
	Timestamp int64           `json:"timestamp_ms"`
	Lifetime  int64           `json:"lifetime_ns"`
	Type      Type            `json:"type"`
}

func (c *Cache) persistLocked() {
	if !c.cfg.SessionMirror || c.session == nil {
		return
	}
	records := make([]persistenceRecord, 0, len(c.store))
	for _, key := range c.order {
		e := c.store[key]
		raw, err := json.Marshal(e.Response)
		if err != nil {
			continue
		}
		records = append(records, persistenceRecord{
			Key:       e.Key,
			Response:  raw,
			Timestamp: e.Timestamp.UnixMilli(),
			Lifetime:  int64(e.Lifetime),
			Type:      e.Type,
		})
	}
	blob, err := json.Marshal(records)
	if err != nil {
		return
	}
	c.session.Set(c.cfg.SessionKey, string(blob))
}

func (c *Cache) loadFromSession() {
	raw, ok := c.session.Get(c.cfg.SessionKey)
	if !ok || raw == "" {
		return
	}
	var records []persistenceRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return
	}
	for _, r := range records {
		var resp any
		if err := json.Unmarshal(r.Response, &resp); err != nil {
			continue
		}
		c.store[r.Key] = &Entry{
			Key:       r.Key,
			Response:  resp,
			Timestamp: time.UnixMilli(r.Timestamp),
			Lifetime:  time.Duration(r.Lifetime),
			Type:      r.Type,
		}
		c.order = append(c.order, r.Key)
	}
}
