// Package rediscache provides a Redis-backed second-level aggregate cache.
//
// Aggregates are stored as snapshots: Put requires the aggregate to implement
// es.SnapshotSource and Get rebuilds a fresh instance through its factory and
// es.Snapshotter. Aggregates without snapshot support are silently not cached.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/cache"
	"github.com/getpup/pupcommand/es/serializer"
)

// Config configures a Cache.
type Config struct {
	// Prefix namespaces keys, e.g. "pupcommand:aggregate:".
	Prefix string

	// Representation is the serializer representation used for snapshot payloads.
	Representation string

	// SnapshotEventType is the event type given to cached snapshots.
	SnapshotEventType string

	// TTL is the Redis expiry of entries. 0 keeps them until removed.
	TTL time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Prefix:            "pupcommand:aggregate:",
		Representation:    serializer.JSON,
		SnapshotEventType: "CachedSnapshot",
		TTL:               10 * time.Minute,
	}
}

// Option configures a Cache.
type Option func(*Config)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(c *Config) { c.Prefix = prefix }
}

// WithTTL sets the entry expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *Config) { c.TTL = ttl }
}

// WithRepresentation sets the serializer representation.
func WithRepresentation(rep string) Option {
	return func(c *Config) { c.Representation = rep }
}

type envelope struct {
	AggregateType string                      `json:"aggregate_type"`
	AggregateID   string                      `json:"aggregate_id"`
	Payload       serializer.SerializedObject `json:"payload"`
	Version       int64                       `json:"version"`
}

// Cache implements cache.Cache on Redis.
type Cache struct {
	client     redis.UniversalClient
	serializer serializer.Serializer
	factories  map[string]es.AggregateFactory
	listeners  []cache.Listener
	config     Config
	mu         sync.RWMutex
}

var _ cache.Cache = (*Cache)(nil)

// New creates a Cache. factories rebuild aggregates on Get, one per aggregate type.
func New(client redis.UniversalClient, ser serializer.Serializer, factories []es.AggregateFactory, opts ...Option) *Cache {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	byType := make(map[string]es.AggregateFactory, len(factories))
	for _, f := range factories {
		byType[f.AggregateType()] = f
	}
	return &Cache{
		client:     client,
		serializer: ser,
		factories:  byType,
		config:     config,
	}
}

func (c *Cache) key(id string) string {
	return c.config.Prefix + id
}

// Get implements cache.Cache.
func (c *Cache) Get(ctx context.Context, key string) (es.Aggregate, bool, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached aggregate %s: %w", key, err)
	}
	factory, ok := c.factories[env.AggregateType]
	if !ok {
		return nil, false, fmt.Errorf("no factory for cached aggregate type %s", env.AggregateType)
	}
	state, err := c.serializer.Deserialize(env.Payload)
	if err != nil {
		return nil, false, err
	}

	snap := es.NewDomainEvent(env.AggregateType, env.AggregateID, env.Version, c.config.SnapshotEventType, state)
	snap.Snapshot = true
	agg := factory.NewAggregate(env.AggregateID)
	stream := es.Stream{AggregateType: env.AggregateType, AggregateID: env.AggregateID, Events: []es.DomainEvent{snap}}
	if err := es.Replay(agg, stream); err != nil {
		return nil, false, fmt.Errorf("failed to restore cached aggregate %s: %w", key, err)
	}
	return agg, true, nil
}

// Put implements cache.Cache.
func (c *Cache) Put(ctx context.Context, key string, agg es.Aggregate) error {
	snap, err := es.TakeSnapshot(agg, c.config.SnapshotEventType)
	if errors.Is(err, es.ErrSnapshotUnsupported) {
		return nil
	}
	if err != nil {
		return err
	}
	obj, err := c.serializer.Serialize(snap.Payload, c.config.Representation)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(envelope{
		AggregateType: agg.AggregateType(),
		AggregateID:   agg.AggregateID(),
		Payload:       obj,
		Version:       snap.SequenceNumber,
	})
	if err != nil {
		return fmt.Errorf("failed to encode aggregate %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.key(key), raw, c.config.TTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Remove implements cache.Cache.
func (c *Cache) Remove(ctx context.Context, key string) error {
	n, err := c.client.Del(ctx, c.key(key)).Result()
	if err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	if n > 0 {
		c.mu.RLock()
		listeners := c.listeners
		c.mu.RUnlock()
		for _, l := range listeners {
			l(cache.EntryEvent{Key: key, Kind: cache.EntryRemoved})
		}
	}
	return nil
}

// RegisterListener implements cache.Cache. Only removals are reported; Redis expiry is silent.
func (c *Cache) RegisterListener(l cache.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}
