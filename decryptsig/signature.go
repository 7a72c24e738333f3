// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

// Package decryptsig produces and persists the time boxed authorization a
// user signs to decrypt handles held by a set of contracts.
package decryptsig

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/manuscript/fhe"
	"github.com/luxfi/manuscript/metrics"
	"github.com/luxfi/manuscript/storage"
	"github.com/luxfi/manuscript/wallet"
	"go.uber.org/zap"
)

const (
	// DurationDays is the validity window of a new authorization.
	DurationDays = 365

	secondsPerDay = 24 * 60 * 60
	keyPrefix     = "fhevm.decryptionSignature:"
)

var (
	// ErrDeclined is returned when the signer refuses or fails to sign.
	ErrDeclined = errors.New("decryption signature declined")

	// ErrStore is returned when the store cannot be read.
	ErrStore = errors.New("decryption signature store unavailable")
)

// Signature is a signed decryption authorization together with the
// transport key pair it authorizes.
type Signature struct {
	PublicKey         hexutil.Bytes    `json:"publicKey"`
	PrivateKey        hexutil.Bytes    `json:"privateKey"`
	Signature         hexutil.Bytes    `json:"signature"`
	ContractAddresses []common.Address `json:"contractAddresses"`
	UserAddress       common.Address   `json:"userAddress"`
	StartTimestamp    uint64           `json:"startTimestamp"`
	DurationDays      uint64           `json:"durationDays"`
}

// ExpiresAt returns the first instant the authorization is no longer valid.
func (s *Signature) ExpiresAt() time.Time {
	return time.Unix(int64(s.StartTimestamp+s.DurationDays*secondsPerDay), 0)
}

// IsValid reports whether [now] lies in the half-open window
// [start, start+duration). ExpiresAt itself is already outside the window,
// matching the coprocessor, which refuses a request once
// now >= start+days*secondsPerDay.
func (s *Signature) IsValid(now time.Time) bool {
	unix := now.Unix()
	return unix >= int64(s.StartTimestamp) && now.Before(s.ExpiresAt())
}

// Covers reports whether the authorization covers exactly [contracts].
func (s *Signature) Covers(contracts []common.Address) bool {
	return slices.Equal(s.ContractAddresses, normalize(contracts))
}

// Request builds a user decryption request for [pairs] under this
// authorization.
func (s *Signature) Request(pairs []fhe.HandleContractPair) *fhe.UserDecryptRequest {
	return &fhe.UserDecryptRequest{
		Pairs:             pairs,
		PrivateKey:        s.PrivateKey,
		PublicKey:         s.PublicKey,
		Signature:         s.Signature,
		ContractAddresses: s.ContractAddresses,
		UserAddress:       s.UserAddress,
		StartTimestamp:    s.StartTimestamp,
		DurationDays:      s.DurationDays,
	}
}

// Signature request results reported to metrics.
const (
	ResultReused   = "reused"
	ResultSigned   = "signed"
	ResultDeclined = "declined"
)

// Cache loads authorizations from a store and signs new ones on a miss.
type Cache struct {
	logger  *zap.Logger
	store   storage.StringStore
	metrics *metrics.WorkflowMetrics
	now     func() time.Time
}

// NewCache returns a cache over [store]. [workflowMetrics] may be nil.
func NewCache(logger *zap.Logger, store storage.StringStore, workflowMetrics *metrics.WorkflowMetrics) *Cache {
	return &Cache{
		logger:  logger,
		store:   store,
		metrics: workflowMetrics,
		now:     time.Now,
	}
}

func (c *Cache) observe(result string) {
	if c.metrics != nil {
		c.metrics.ObserveSignature(result)
	}
}

// LoadOrSign returns a stored authorization for (signer, contracts,
// instance public key) if one is still valid. Otherwise it generates a key
// pair through [inst], asks [signer] to sign the authorization message and
// persists the result. A refusal to sign yields ErrDeclined.
func (c *Cache) LoadOrSign(
	ctx context.Context,
	inst fhe.Instance,
	contracts []common.Address,
	signer wallet.Signer,
) (*Signature, error) {
	contracts = normalize(contracts)
	user := signer.Address()
	key := StoreKey(user, contracts, inst.PublicKey())
	logger := c.logger.With(zap.Stringer("user", user), zap.String("key", key))

	cached, err := c.load(ctx, inst, key, user, contracts)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		logger.Debug("Reusing decryption signature", zap.Time("expiresAt", cached.ExpiresAt()))
		c.observe(ResultReused)
		return cached, nil
	}

	kp, err := inst.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	start := uint64(c.now().Unix())
	td := inst.CreateEIP712(kp.PublicKey, contracts, start, DurationDays)
	sig, err := signer.SignTypedData(ctx, td)
	if err != nil {
		logger.Info("Decryption signature not granted", zap.Error(err))
		c.observe(ResultDeclined)
		return nil, fmt.Errorf("%w: %w", ErrDeclined, err)
	}

	s := &Signature{
		PublicKey:         kp.PublicKey,
		PrivateKey:        kp.PrivateKey,
		Signature:         sig,
		ContractAddresses: contracts,
		UserAddress:       user,
		StartTimestamp:    start,
		DurationDays:      DurationDays,
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	if err := c.store.SetItem(ctx, key, string(raw)); err != nil {
		logger.Warn("Failed to persist decryption signature", zap.Error(err))
	}
	c.observe(ResultSigned)
	return s, nil
}

// load returns nil without error on a miss. Entries that no longer parse or
// verify are removed.
func (c *Cache) load(
	ctx context.Context,
	inst fhe.Instance,
	key string,
	user common.Address,
	contracts []common.Address,
) (*Signature, error) {
	raw, ok, err := c.store.GetItem(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !ok {
		return nil, nil
	}

	var s Signature
	if err := json.Unmarshal([]byte(raw), &s); err != nil || !c.verify(inst, &s, user) {
		c.logger.Warn("Dropping corrupt decryption signature", zap.String("key", key), zap.Error(err))
		if err := c.store.RemoveItem(ctx, key); err != nil {
			c.logger.Warn("Failed to remove decryption signature", zap.String("key", key), zap.Error(err))
		}
		return nil, nil
	}
	if !s.IsValid(c.now()) || !s.Covers(contracts) {
		return nil, nil
	}
	return &s, nil
}

// verify checks that the stored authorization was signed by [user] for the
// key pair it carries.
func (c *Cache) verify(inst fhe.Instance, s *Signature, user common.Address) bool {
	if s.UserAddress != user || len(s.PrivateKey) == 0 || len(s.ContractAddresses) == 0 {
		return false
	}
	priv, err := crypto.ToECDSA(s.PrivateKey)
	if err != nil || !bytes.Equal(crypto.FromECDSAPub(&priv.PublicKey), s.PublicKey) {
		return false
	}
	td := inst.CreateEIP712(s.PublicKey, s.ContractAddresses, s.StartTimestamp, s.DurationDays)
	signer, err := fhe.RecoverTypedDataSigner(td, s.Signature)
	return err == nil && signer == user
}

// StoreKey is the store key of an authorization. It depends on the user, the
// sorted contract set and the instance's network key.
func StoreKey(user common.Address, contracts []common.Address, instancePublicKey []byte) string {
	var buf []byte
	for _, c := range normalize(contracts) {
		buf = append(buf, c[:]...)
	}
	return keyPrefix +
		strings.ToLower(user.Hex()) + ":" +
		crypto.Keccak256Hash(buf).Hex() + ":" +
		crypto.Keccak256Hash(instancePublicKey).Hex()
}

// normalize sorts and deduplicates a contract set.
func normalize(contracts []common.Address) []common.Address {
	out := slices.Clone(contracts)
	slices.SortFunc(out, func(a, b common.Address) int { return bytes.Compare(a[:], b[:]) })
	return slices.Compact(out)
}
