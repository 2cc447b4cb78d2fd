// Package cache provides the shared second-level aggregate cache used by the command pipeline.
//
// The pipeline keeps a first-level cache per invoker goroutine and consults a Cache
// before rebuilding an aggregate from the event store. Cache implementations must be
// safe for concurrent use.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/getpup/pupcommand/es"
)

// EntryEventKind describes why an entry left the cache.
type EntryEventKind int

const (
	// EntryRemoved is reported when Remove deletes an entry.
	EntryRemoved EntryEventKind = iota
	// EntryEvicted is reported when an entry is dropped to make room.
	EntryEvicted
	// EntryExpired is reported when an entry outlived its time to live.
	EntryExpired
)

func (k EntryEventKind) String() string {
	switch k {
	case EntryRemoved:
		return "removed"
	case EntryEvicted:
		return "evicted"
	case EntryExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// EntryEvent is delivered to listeners when an entry leaves the cache.
type EntryEvent struct {
	Key  string
	Kind EntryEventKind
}

// Listener is notified of entries leaving the cache. It must not call back into the cache.
// Each command pipeline repository registers one to drop its local copy of removed keys.
type Listener func(event EntryEvent)

// Cache stores aggregates keyed by aggregate identifier.
type Cache interface {
	// Get returns the cached aggregate for key.
	Get(ctx context.Context, key string) (es.Aggregate, bool, error)

	// Put stores agg under key.
	Put(ctx context.Context, key string, agg es.Aggregate) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// RegisterListener adds a listener for entries leaving the cache.
	RegisterListener(l Listener)
}

// NoCache caches nothing.
type NoCache struct{}

var _ Cache = NoCache{}

// Get implements Cache.
func (NoCache) Get(context.Context, string) (es.Aggregate, bool, error) { return nil, false, nil }

// Put implements Cache.
func (NoCache) Put(context.Context, string, es.Aggregate) error { return nil }

// Remove implements Cache.
func (NoCache) Remove(context.Context, string) error { return nil }

// RegisterListener implements Cache.
func (NoCache) RegisterListener(Listener) {}

// MemoryCacheConfig configures a MemoryCache.
type MemoryCacheConfig struct {
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Capacity bounds the number of entries. 0 means unbounded.
	Capacity int

	// TTL is how long an entry stays valid after Put. 0 disables expiry.
	TTL time.Duration
}

// DefaultMemoryCacheConfig returns the default configuration.
func DefaultMemoryCacheConfig() MemoryCacheConfig {
	return MemoryCacheConfig{
		Capacity: 4096,
		TTL:      0,
		Now:      time.Now,
	}
}

// MemoryCacheOption configures a MemoryCache.
type MemoryCacheOption func(*MemoryCacheConfig)

// WithCapacity bounds the number of cached aggregates.
func WithCapacity(capacity int) MemoryCacheOption {
	return func(c *MemoryCacheConfig) { c.Capacity = capacity }
}

// WithTTL expires entries ttl after they were stored.
func WithTTL(ttl time.Duration) MemoryCacheOption {
	return func(c *MemoryCacheConfig) { c.TTL = ttl }
}

// WithClock replaces the time source, mainly for tests.
func WithClock(now func() time.Time) MemoryCacheOption {
	return func(c *MemoryCacheConfig) { c.Now = now }
}

type memoryEntry struct {
	expires time.Time
	agg     es.Aggregate
}

// MemoryCache is an in-process LRU cache with optional expiry.
type MemoryCache struct {
	entries   *LRU[string, memoryEntry]
	listeners []Listener
	pending   []EntryEvent
	config    MemoryCacheConfig
	mu        sync.Mutex
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates a MemoryCache.
func NewMemoryCache(opts ...MemoryCacheOption) *MemoryCache {
	config := DefaultMemoryCacheConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	c := &MemoryCache{config: config}
	c.entries = NewLRU(config.Capacity, func(key string, _ memoryEntry) {
		c.pending = append(c.pending, EntryEvent{Key: key, Kind: EntryEvicted})
	})
	return c
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (es.Aggregate, bool, error) {
	c.mu.Lock()
	entry, ok := c.entries.Get(key)
	if ok && c.expired(entry) {
		c.entries.Remove(key)
		c.pending = append(c.pending, EntryEvent{Key: key, Kind: EntryExpired})
		ok = false
	}
	events := c.drainLocked()
	c.mu.Unlock()

	c.notify(events)
	if !ok {
		return nil, false, nil
	}
	return entry.agg, true, nil
}

// Put implements Cache.
func (c *MemoryCache) Put(_ context.Context, key string, agg es.Aggregate) error {
	entry := memoryEntry{agg: agg}
	if c.config.TTL > 0 {
		entry.expires = c.config.Now().Add(c.config.TTL)
	}

	c.mu.Lock()
	c.entries.Put(key, entry)
	events := c.drainLocked()
	c.mu.Unlock()

	c.notify(events)
	return nil
}

// Remove implements Cache.
func (c *MemoryCache) Remove(_ context.Context, key string) error {
	c.mu.Lock()
	removed := c.entries.Remove(key)
	c.mu.Unlock()

	if removed {
		c.notify([]EntryEvent{{Key: key, Kind: EntryRemoved}})
	}
	return nil
}

// RegisterListener implements Cache.
func (c *MemoryCache) RegisterListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Len returns the number of cached entries, including expired ones not yet collected.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

func (c *MemoryCache) expired(e memoryEntry) bool {
	return !e.expires.IsZero() && !c.config.Now().Before(e.expires)
}

func (c *MemoryCache) drainLocked() []EntryEvent {
	if len(c.pending) == 0 {
		return nil
	}
	events := c.pending
	c.pending = nil
	return events
}

func (c *MemoryCache) notify(events []EntryEvent) {
	if len(events) == 0 {
		return
	}
	c.mu.Lock()
	listeners := c.listeners
	c.mu.Unlock()
	for _, e := range events {
		for _, l := range listeners {
			l(e)
		}
	}
}
