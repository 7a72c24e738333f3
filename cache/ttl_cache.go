// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type ttlCacheItem[V any] struct {
	value   V
	fetched time.Time
}

// TTLCache keeps fetched values for a fixed time and collapses concurrent
// fetches of the same key into one.
type TTLCache[K comparable, V any] struct {
	data    map[K]ttlCacheItem[V]
	ttl     time.Duration
	now     func() time.Time
	lock    sync.RWMutex
	sfGroup singleflight.Group
}

func NewTTLCache[K comparable, V any](ttl time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		data: make(map[K]ttlCacheItem[V]),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Get returns the cached value for [key] while it is fresh, otherwise it
// calls fetch. A caller whose context ends stops waiting; the shared fetch
// keeps running for the others. If [invalidate] is set the entry is dropped
// before fetching so no concurrent reader observes the stale value.
func (c *TTLCache[K, V]) Get(
	ctx context.Context,
	key K,
	fetch func(context.Context, K) (V, error),
	invalidate bool,
) (V, error) {
	if invalidate {
		c.Invalidate(key)
	} else if v, ok := c.Peek(key); ok {
		return v, nil
	}

	ch := c.sfGroup.DoChan(keyToString(key), func() (interface{}, error) {
		// A flight that finished between Peek and DoChan already filled the entry.
		if v, ok := c.Peek(key); ok && !invalidate {
			return v, nil
		}
		// Detached so one caller's cancellation does not fail the others.
		v, err := fetch(context.WithoutCancel(ctx), key)
		if err != nil {
			return v, err
		}
		c.lock.Lock()
		c.data[key] = ttlCacheItem[V]{value: v, fetched: c.now()}
		c.lock.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		return *new(V), ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return *new(V), res.Err
		}
		return res.Val.(V), nil
	}
}

// Peek returns a fresh cached value without fetching.
func (c *TTLCache[K, V]) Peek(key K) (V, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	item, ok := c.data[key]
	if !ok || c.now().Sub(item.fetched) >= c.ttl {
		return *new(V), false
	}
	return item.value, true
}

func (c *TTLCache[K, V]) Invalidate(key K) {
	c.lock.Lock()
	delete(c.data, key)
	c.lock.Unlock()
}

// keyToString is defined to allow for both fmt.Stringer and primitive string types.
func keyToString[K comparable](key K) string {
	if s, ok := any(key).(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", key)
}
