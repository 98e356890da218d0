package validation

import (
	"container/list"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/glass-erp/deleteflow/pkg/contracts"
)

// resultCache is an LRU cache with a TTL for schema and business-rule
// results. Concurrent computations of the same key collapse into one.
//
// Safe for concurrent use.
type resultCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	lru      *list.List
	flight   singleflight.Group
	capacity int
	ttl      time.Duration
	now      func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type cacheEntry struct {
	key      string
	result   *contracts.ValidationResult
	storedAt time.Time
}

// CacheStats is a point-in-time view of cache activity.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// newResultCache returns a cache holding at most capacity entries. A zero
// capacity disables caching; a zero TTL keeps entries until evicted.
func newResultCache(capacity int, ttl time.Duration, now func() time.Time) *resultCache {
	return &resultCache{
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
		capacity: capacity,
		ttl:      ttl,
		now:      now,
	}
}

func (c *resultCache) get(key string) (*contracts.ValidationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*cacheEntry)
	if c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl {
		c.lru.Remove(el)
		delete(c.entries, key)
		return nil, false
	}
	c.lru.MoveToFront(el)
	return e.result, true
}

func (c *resultCache) put(key string, result *contracts.ValidationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*cacheEntry)
		e.result = result
		e.storedAt = c.now()
		c.lru.MoveToFront(el)
		return
	}
	c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, result: result, storedAt: c.now()})
	for c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
		c.evictions.Add(1)
	}
}

// getOrCompute returns a copy of the cached result for key, computing and
// storing it on a miss. Failed computations are not cached.
func (c *resultCache) getOrCompute(key string, compute func() (*contracts.ValidationResult, error)) (*contracts.ValidationResult, error) {
	if c.capacity <= 0 {
		return compute()
	}
	if res, ok := c.get(key); ok {
		c.hits.Add(1)
		return res.Clone(), nil
	}
	c.misses.Add(1)

	v, err, _ := c.flight.Do(key, func() (any, error) {
		if res, ok := c.get(key); ok {
			return res, nil
		}
		res, err := compute()
		if err != nil {
			return nil, err
		}
		c.put(key, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*contracts.ValidationResult).Clone(), nil
}

func (c *resultCache) stats() CacheStats {
	c.mu.Lock()
	size := c.lru.Len()
	c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
	}
}

// cacheKey hashes the canonical JSON of everything a cached result depends
// on. Security context is excluded; security checks are never cached.
func cacheKey(in Input, step contracts.Step) (string, error) {
	payload := struct {
		Form         contracts.FormData `json:"form"`
		Step         int                `json:"step"`
		EntryID      string             `json:"entryId"`
		EntryVersion int64              `json:"entryVersion"`
		UserID       string             `json:"userId"`
	}{
		Form:         in.Form,
		Step:         int(step),
		EntryID:      in.Entry.ID,
		EntryVersion: in.Entry.Version,
		UserID:       in.User.ID,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode cache key: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize cache key: %w", err)
	}
	sum := blake2b.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
