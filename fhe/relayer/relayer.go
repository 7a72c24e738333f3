// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

// Package relayer creates FHE instances for live networks, where key
// management, proof attestation and decryption are served by a remote
// relayer gateway.
package relayer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/manuscript/fhe"
	"go.uber.org/atomic"
)

var (
	// ErrSDKLoad is returned when the relayer SDK cannot be loaded.
	ErrSDKLoad = errors.New("relayer SDK failed to load")

	// ErrSDKInit is returned when the loaded SDK fails to initialize.
	ErrSDKInit = errors.New("relayer SDK failed to initialize")
)

// DefaultGatewayURL is the relayer serving the public testnet.
const DefaultGatewayURL = "https://relayer.testnet.zama.cloud"

// Config is the network configuration bundle an instance is built from.
type Config struct {
	ChainID              uint64         `json:"chain-id"`
	GatewayURL           string         `json:"gateway-url"`
	ACLAddress           common.Address `json:"acl-address"`
	InputVerifierAddress common.Address `json:"input-verifier-address"`
	KMSVerifierAddress   common.Address `json:"kms-verifier-address"`
}

// PublicTestnetConfig returns the bundle for the well-known public testnet.
func PublicTestnetConfig() Config {
	return Config{
		ChainID:              11155111,
		GatewayURL:           DefaultGatewayURL,
		ACLAddress:           common.HexToAddress("0x687820221192C5B662b25367F70076A37bc79b6c"),
		InputVerifierAddress: common.HexToAddress("0xbc91f3daD1A5F19F8390c400196e58073B6a0BC4"),
		KMSVerifierAddress:   common.HexToAddress("0x1364cBBf2cDF5032C47d8226a6f6FBD2AFCDacAC"),
	}
}

// SDK is a relayer client library. Load and Init are each called once per
// process by a Runtime.
type SDK interface {
	Load(ctx context.Context) error
	Init(ctx context.Context) error

	// FetchKeys returns the network key material protected by cfg.ACLAddress.
	FetchKeys(ctx context.Context, cfg Config) (*fhe.KeyMaterial, error)

	CreateInstance(ctx context.Context, cfg Config, keys *fhe.KeyMaterial) (fhe.Instance, error)
}

// Runtime owns the process-wide SDK. Both Ensure methods are idempotent and
// safe for concurrent use; a failed step is retried by the next caller.
type Runtime struct {
	sdk SDK

	lock        sync.Mutex
	loaded      atomic.Bool
	initialized atomic.Bool
}

func NewRuntime(sdk SDK) *Runtime {
	return &Runtime{sdk: sdk}
}

func (r *Runtime) SDK() SDK {
	return r.sdk
}

func (r *Runtime) Loaded() bool {
	return r.loaded.Load()
}

func (r *Runtime) Initialized() bool {
	return r.initialized.Load()
}

// EnsureLoaded loads the SDK unless an earlier call already did.
func (r *Runtime) EnsureLoaded(ctx context.Context) error {
	if r.loaded.Load() {
		return nil
	}
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.ensureLoaded(ctx)
}

func (r *Runtime) ensureLoaded(ctx context.Context) error {
	if r.loaded.Load() {
		return nil
	}
	if err := r.sdk.Load(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrSDKLoad, err)
	}
	r.loaded.Store(true)
	return nil
}

// EnsureInitialized initializes the SDK, loading it first if needed.
func (r *Runtime) EnsureInitialized(ctx context.Context) error {
	if r.initialized.Load() {
		return nil
	}
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.initialized.Load() {
		return nil
	}
	if err := r.ensureLoaded(ctx); err != nil {
		return err
	}
	if err := r.sdk.Init(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrSDKInit, err)
	}
	r.initialized.Store(true)
	return nil
}

var (
	defaultRuntimeOnce sync.Once
	defaultRuntime     *Runtime
)

// DefaultRuntime returns the process-wide runtime, creating it with
// [newSDK] on first use. Later calls ignore [newSDK].
func DefaultRuntime(newSDK func() SDK) *Runtime {
	defaultRuntimeOnce.Do(func() {
		defaultRuntime = NewRuntime(newSDK())
	})
	return defaultRuntime
}
