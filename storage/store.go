// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

// Package storage provides the string keyed stores a session persists its
// decryption authorizations and public keys in.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown storage backend")

// StringStore is a persistent string keyed key/value store. Writers are
// not coordinated: the last write wins.
type StringStore interface {
	// GetItem returns the value for [key] and whether it was present.
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key string, value string) error
	RemoveItem(ctx context.Context, key string) error
	Close() error
}

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	// Path is the database file of the sqlite backend.
	Path string
	// URL is the redis:// URL of the redis backend.
	URL string
	// Prefix namespaces redis keys.
	Prefix string
	// Size bounds the memory backend.
	Size int
}

// Open builds the backend named by [opts].
func Open(opts Options) (StringStore, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(opts.Size)
	case BackendSQLite:
		return OpenSQLiteStore(opts.Path)
	case BackendRedis:
		return OpenRedisStore(opts.URL, opts.Prefix)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
