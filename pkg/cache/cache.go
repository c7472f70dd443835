// Package cache is the Multi-Level Cache (component C9): L1 (hot) and L2
// (warm) in-memory LRU tiers backed by an L3 durable key/value store, with
// cascade-on-eviction (an L1 eviction pushes into L2, an L2 eviction
// pushes into L3) and promotion-on-hit (an L2 or L3 hit copies the value
// back up, never moves the source out from under a concurrent reader).
// The tier structure and promotion/cascade semantics are ported from
// original_source/cortex's MultiLevelCache (get: L1→L2→L3 with
// auto-promote; put: L1 push cascades evictions downward). Go has no
// generic LRU in the rest of the corpus, so the per-tier LRU here is
// hand-rolled on container/list + map (see DESIGN.md's stdlib
// justification); L3 is an injected Store so callers can back it with
// pkg/store's sqlite-backed implementation.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"

	"github.com/cortexd/cortexd/pkg/errs"
	"github.com/cortexd/cortexd/pkg/eventbus"
	"github.com/cortexd/cortexd/pkg/telemetry"
)

const component = "cache"

// Store is the L3 durable backend: a flat byte-oriented key/value store.
// pkg/store's sqlite-backed document store satisfies this.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Stats tracks hit/miss counters per tier, matching the original's
// hit_rate/avg_latency_ms reporting surface.
type Stats struct {
	L1Hits, L2Hits, L3Hits, Misses, Puts, Invalidations uint64
}

func (s Stats) HitRate() float64 {
	total := s.L1Hits + s.L2Hits + s.L3Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.L1Hits+s.L2Hits+s.L3Hits) / float64(total)
}

// AvgLatencyMS estimates access latency using the original's fixed
// per-tier cost model (L1=0.5ms, L2=2.5ms, L3=10ms, miss=20ms).
func (s Stats) AvgLatencyMS() float64 {
	total := s.L1Hits + s.L2Hits + s.L3Hits + s.Misses
	if total == 0 {
		return 0
	}
	weighted := float64(s.L1Hits)*0.5 + float64(s.L2Hits)*2.5 + float64(s.L3Hits)*10 + float64(s.Misses)*20
	return weighted / float64(total)
}

type entry struct {
	key   string
	value []byte
}

// lru is a fixed-capacity LRU of raw bytes, keyed by string; values are
// pre-serialized so cascading between tiers never re-encodes.
type lru struct {
	capacity int
	items    map[string]*list.Element
	order    *list.List
}

func newLRU(capacity int) *lru {
	return &lru{capacity: capacity, items: make(map[string]*list.Element), order: list.New()}
}

func (l *lru) get(key string) ([]byte, bool) {
	el, ok := l.items[key]
	if !ok {
		return nil, false
	}
	l.order.MoveToFront(el)
	return el.Value.(*entry).value, true
}

// push inserts key/value, evicting the least-recently-used entry if the
// tier is over capacity. Returns the evicted entry, if any.
func (l *lru) push(key string, value []byte) (evictedKey string, evictedValue []byte, evicted bool) {
	if el, ok := l.items[key]; ok {
		el.Value.(*entry).value = value
		l.order.MoveToFront(el)
		return "", nil, false
	}
	el := l.order.PushFront(&entry{key: key, value: value})
	l.items[key] = el

	if l.order.Len() <= l.capacity {
		return "", nil, false
	}
	back := l.order.Back()
	l.order.Remove(back)
	ev := back.Value.(*entry)
	delete(l.items, ev.key)
	return ev.key, ev.value, true
}

func (l *lru) remove(key string) {
	if el, ok := l.items[key]; ok {
		l.order.Remove(el)
		delete(l.items, key)
	}
}

// Config mirrors original_source/cortex's MultiLevelCacheConfig.
type Config struct {
	L1Capacity  int
	L2Capacity  int
	L3Prefix    string
	AutoPromote bool
}

// Cache is the multi-level cache. Values are opaque JSON-encoded bytes;
// callers get a typed facade via Typed[T].
type Cache struct {
	cfg   Config
	l1    *lru
	l2    *lru
	l3    Store
	bus   *eventbus.Bus
	mu    sync.Mutex
	stats Stats
}

func New(cfg Config, l3 Store, bus *eventbus.Bus) *Cache {
	return &Cache{
		cfg: cfg,
		l1:  newLRU(cfg.L1Capacity),
		l2:  newLRU(cfg.L2Capacity),
		l3:  l3,
		bus: bus,
	}
}

func (c *Cache) l3Key(key string) string { return c.cfg.L3Prefix + key }

// Get checks L1, then L2, then L3, promoting on every hit below L1 when
// AutoPromote is set.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	if v, ok := c.l1.get(key); ok {
		c.stats.L1Hits++
		c.mu.Unlock()
		return v, true, nil
	}
	v, ok := c.l2.get(key)
	c.mu.Unlock()

	if ok {
		c.mu.Lock()
		c.stats.L2Hits++
		if c.cfg.AutoPromote {
			c.l1.push(key, v) // promotion copies the value up; it stays in L2
		}
		c.mu.Unlock()
		return v, true, nil
	}

	data, found, err := c.l3.Get(ctx, c.l3Key(key))
	if err != nil {
		return nil, false, errs.Transient("cache.get", err)
	}
	if !found {
		c.mu.Lock()
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false, nil
	}

	c.mu.Lock()
	c.stats.L3Hits++
	if c.cfg.AutoPromote {
		c.l2.push(key, data)
		c.l1.push(key, data)
	}
	c.mu.Unlock()
	return data, true, nil
}

// Put inserts into L1; an L1 eviction cascades into L2, and an L2
// eviction from that cascade writes through to L3.
func (c *Cache) Put(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	c.stats.Puts++
	evKey, evVal, evicted := c.l1.push(key, value)
	c.mu.Unlock()

	if !evicted {
		return nil
	}

	telemetry.DebugCF(component, "L1 evicted, cascading to L2", telemetry.Fields{"key": evKey})
	c.mu.Lock()
	l2EvKey, l2EvVal, l2Evicted := c.l2.push(evKey, evVal)
	c.mu.Unlock()

	if !l2Evicted {
		return nil
	}

	telemetry.DebugCF(component, "L2 evicted, cascading to L3", telemetry.Fields{"key": l2EvKey})
	if err := c.l3.Put(ctx, c.l3Key(l2EvKey), l2EvVal); err != nil {
		return errs.Transient("cache.put", err)
	}
	if c.bus != nil {
		_ = c.bus.Publish(eventbus.SubjectCacheEvicted, map[string]string{"key": l2EvKey})
	}
	return nil
}

// Invalidate removes key from every tier it may be present in. It does
// not attempt to remove it from L3 (the durable store is the system of
// record and is invalidated by its owner, pkg/sync, not by cache
// eviction pressure).
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.l1.remove(key)
	c.l2.remove(key)
	c.stats.Invalidations++
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Typed wraps Cache with JSON marshaling for a concrete Go type.
type Typed[T any] struct {
	cache *Cache
}

func NewTyped[T any](c *Cache) Typed[T] {
	return Typed[T]{cache: c}
}

func (t Typed[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	raw, ok, err := t.cache.Get(ctx, key)
	if err != nil || !ok {
		return zero, ok, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, errs.Permanent("cache.typed.get", err)
	}
	return v, true, nil
}

func (t Typed[T]) Put(ctx context.Context, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errs.InvalidInput("cache.typed.put", err)
	}
	return t.cache.Put(ctx, key, raw)
}
