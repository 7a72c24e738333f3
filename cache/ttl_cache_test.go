// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTTLCache(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewTTLCache[string, int](time.Minute)
	c.now = func() time.Time { return now }

	fetchCount := 0
	fetch := func(_ context.Context, key string) (int, error) {
		fetchCount++
		return len(key) + fetchCount, nil
	}

	tests := []struct {
		name          string
		key           string
		advance       time.Duration
		invalidate    bool
		expectedValue int
		expectedCount int
	}{
		{name: "fresh cache, fetch", key: "abc", expectedValue: 4, expectedCount: 1},
		{name: "use cache, no fetch", key: "abc", advance: 30 * time.Second, expectedValue: 4, expectedCount: 1},
		{name: "different key, fetch", key: "de", expectedValue: 4, expectedCount: 2},
		{name: "expired, fetch", key: "abc", advance: 31 * time.Second, expectedValue: 6, expectedCount: 3},
		{name: "invalidated, fetch", key: "abc", invalidate: true, expectedValue: 7, expectedCount: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			now = now.Add(tt.advance)
			v, err := c.Get(context.Background(), tt.key, fetch, tt.invalidate)
			require.NoError(err)
			require.Equal(tt.expectedValue, v)
			require.Equal(tt.expectedCount, fetchCount)
		})
	}
}

func TestTTLCacheFetchErrorNotCached(t *testing.T) {
	c := NewTTLCache[string, int](time.Minute)
	calls := 0
	fetch := func(context.Context, string) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("unavailable")
		}
		return 1, nil
	}

	_, err := c.Get(context.Background(), "k", fetch, false)
	require.Error(t, err)
	v, err := c.Get(context.Background(), "k", fetch, false)
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestTTLCacheCollapsesConcurrentFetches(t *testing.T) {
	c := NewTTLCache[string, int](time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context, string) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = c.Get(context.Background(), "k", fetch, false)
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	require.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		require.Equal(t, 7, v)
	}
}

func TestTTLCacheCallerCancellation(t *testing.T) {
	c := NewTTLCache[string, int](time.Minute)
	release := make(chan struct{})
	fetch := func(context.Context, string) (int, error) {
		<-release
		return 3, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, "k", fetch, false)
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		_, ok := c.Peek("k")
		return ok
	}, time.Second, time.Millisecond)
}
