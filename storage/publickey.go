// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
)

const publicKeyPrefix = "fhevm.publicKey:"

// PublicKeyBundle is the network key material an instance was built with.
type PublicKeyBundle struct {
	PublicKey    hexutil.Bytes `json:"publicKey"`
	PublicParams hexutil.Bytes `json:"publicParams"`
}

// PublicKeyCache stores network key material keyed by ACL contract address.
type PublicKeyCache struct {
	store StringStore
}

func NewPublicKeyCache(store StringStore) *PublicKeyCache {
	return &PublicKeyCache{store: store}
}

func publicKeyKey(acl common.Address) string {
	return publicKeyPrefix + strings.ToLower(acl.Hex())
}

// Get returns the cached bundle for [acl]. An unreadable entry is dropped
// and reported as a miss.
func (c *PublicKeyCache) Get(ctx context.Context, acl common.Address) (*PublicKeyBundle, bool, error) {
	raw, ok, err := c.store.GetItem(ctx, publicKeyKey(acl))
	if err != nil || !ok {
		return nil, false, err
	}
	var bundle PublicKeyBundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil || len(bundle.PublicKey) == 0 {
		return nil, false, c.store.RemoveItem(ctx, publicKeyKey(acl))
	}
	return &bundle, true, nil
}

func (c *PublicKeyCache) Set(ctx context.Context, acl common.Address, bundle *PublicKeyBundle) error {
	raw, err := json.Marshal(bundle)
	if err != nil {
		return err
	}
	return c.store.SetItem(ctx, publicKeyKey(acl), string(raw))
}
