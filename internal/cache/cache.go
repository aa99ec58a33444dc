package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/undertone/confessbot/internal/errors"
	"github.com/undertone/confessbot/internal/observability"
)

// Loader fills a missing or expired entry from the source of truth.
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

// TTL is a process-local expiring cache. It is never authoritative: every
// entry can be discarded at any time at no cost beyond a reload. Concurrent
// readers of an expired key trigger exactly one loader call.
type TTL[K comparable, V any] struct {
	name   string
	ttl    time.Duration
	loader Loader[K, V]

	mu      sync.RWMutex
	entries map[K]entry[V]
	group   singleflight.Group
	clock   func() time.Time
}

type entry[V any] struct {
	value    V
	expireAt time.Time
}

// NewTTL creates a named cache backed by loader. A nil loader makes the
// cache write-through only: Get returns ErrNotFound on miss.
func NewTTL[K comparable, V any](name string, ttl time.Duration, loader Loader[K, V]) *TTL[K, V] {
	return &TTL[K, V]{
		name:    name,
		ttl:     ttl,
		loader:  loader,
		entries: map[K]entry[V]{},
		clock:   time.Now,
	}
}

func (c *TTL[K, V]) Get(ctx context.Context, key K) (V, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.clock().Before(e.expireAt) {
		observability.RecordCacheLookup(c.name, true)
		return e.value, nil
	}

	observability.RecordCacheLookup(c.name, false)
	var zero V
	if c.loader == nil {
		return zero, apperrors.ErrNotFound
	}

	value, err, _ := c.group.Do(fmt.Sprint(key), func() (any, error) {
		// A racing refresh may already have stored a fresh value.
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && c.clock().Before(e.expireAt) {
			return e.value, nil
		}
		loaded, err := c.loader(ctx, key)
		if err != nil {
			return zero, err
		}
		c.Put(key, loaded)
		return loaded, nil
	})
	if err != nil {
		return zero, err
	}
	return value.(V), nil
}

func (c *TTL[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expireAt: c.clock().Add(c.ttl)}
}

func (c *TTL[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *TTL[K, V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[K]entry[V]{}
}

// Len reports the number of stored entries, expired or not.
func (c *TTL[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
