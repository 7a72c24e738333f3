// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultMemoryStoreSize = 1024

var _ StringStore = (*MemoryStore)(nil)

// MemoryStore keeps entries in a bounded LRU for the life of the process.
type MemoryStore struct {
	cache *lru.Cache[string, string]
}

func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemoryStoreSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{cache: cache}, nil
}

func (s *MemoryStore) GetItem(_ context.Context, key string) (string, bool, error) {
	v, ok := s.cache.Get(key)
	return v, ok, nil
}

func (s *MemoryStore) SetItem(_ context.Context, key string, value string) error {
	s.cache.Add(key, value)
	return nil
}

func (s *MemoryStore) RemoveItem(_ context.Context, key string) error {
	s.cache.Remove(key)
	return nil
}

func (s *MemoryStore) Close() error {
	s.cache.Purge()
	return nil
}
