// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

// Package session creates the FHE instance for the chain a caller is
// connected to.
package session

import (
	"context"
	"errors"
	"strings"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/rpc"
	"github.com/luxfi/manuscript/fhe"
	"github.com/luxfi/manuscript/fhe/relayer"
	"github.com/luxfi/manuscript/metrics"
	"github.com/luxfi/manuscript/network"
	"github.com/luxfi/manuscript/storage"
	"github.com/luxfi/manuscript/utils"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Status is reported while an instance is being created. Within one call
// statuses only move forward.
type Status string

const (
	StatusSDKLoading      Status = "sdk-loading"
	StatusSDKLoaded       Status = "sdk-loaded"
	StatusSDKInitializing Status = "sdk-initializing"
	StatusSDKInitialized  Status = "sdk-initialized"
	StatusCreating        Status = "creating"
)

const (
	clientVersionMethod = "web3_clientVersion"
	metadataMethod      = "fhevm_relayer_metadata"
	devNodeSignature    = "hardhat"
)

// MockCreator builds an instance against a development node whose
// coprocessor metadata has been validated.
type MockCreator func(ctx context.Context, client *rpc.Client, chainID uint64, metadata fhe.Metadata) (fhe.Instance, error)

// Params describes one CreateInstance call.
type Params struct {
	Source network.Source
	// Registry overrides the built-in mock chains.
	Registry network.Registry
	OnStatus func(Status)
}

type Option func(*Factory)

// WithMock enables the mock branch. Without it mock chains are treated as
// live ones.
func WithMock(creator MockCreator) Option {
	return func(f *Factory) { f.mock = creator }
}

// WithPublicKeyCache reuses and persists network keys across processes.
func WithPublicKeyCache(keys *storage.PublicKeyCache) Option {
	return func(f *Factory) { f.keys = keys }
}

func WithMetrics(m *metrics.FactoryMetrics) Option {
	return func(f *Factory) { f.metrics = m }
}

// Factory creates FHE instances. It is safe for concurrent use.
type Factory struct {
	logger  *zap.Logger
	runtime *relayer.Runtime
	config  relayer.Config
	mock    MockCreator
	keys    *storage.PublicKeyCache
	metrics *metrics.FactoryMetrics
}

// NewFactory returns a factory whose live instances are built by [runtime]
// from the [config] bundle.
func NewFactory(logger *zap.Logger, runtime *relayer.Runtime, config relayer.Config, opts ...Option) *Factory {
	f := &Factory{
		logger:  logger,
		runtime: runtime,
		config:  config,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.metrics == nil {
		f.metrics = metrics.NewFactoryMetrics(prometheus.NewRegistry())
	}
	return f
}

// CreateInstance resolves the chain behind p.Source and builds an instance
// for it. Cancelling [ctx] aborts at the next step boundary with ErrAborted;
// no status is reported after that.
func (f *Factory) CreateInstance(ctx context.Context, p Params) (inst fhe.Instance, err error) {
	target := "unresolved"
	defer func() {
		result := "ok"
		var sErr *Error
		if errors.As(err, &sErr) {
			result = string(sErr.Code)
		}
		f.metrics.ObserveInstance(target, result)
	}()

	notify := func(s Status) {
		if p.OnStatus != nil {
			p.OnStatus(s)
		}
	}

	if err := aborted(ctx); err != nil {
		return nil, err
	}
	chain, err := network.Resolve(ctx, p.Source, p.Registry)
	if err := aborted(ctx); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, newError(CodeConnectivity, err, "failed to resolve chain")
	}
	target = chain.Target.String()
	logger := f.logger.With(
		zap.Uint64("chainID", chain.ChainID),
		zap.Stringer("target", chain.Target),
	)

	if chain.IsMock() && f.mock != nil {
		inst, ok, err := f.tryMock(ctx, logger, chain, notify)
		if err != nil || ok {
			return inst, err
		}
		logger.Info("No FHE development node found, falling back to the relayer", zap.String("rpcURL", chain.RPCURL))
	}
	if err := aborted(ctx); err != nil {
		return nil, err
	}
	return f.createLive(ctx, logger, chain, p.Source, notify)
}

func (f *Factory) tryMock(
	ctx context.Context,
	logger *zap.Logger,
	chain network.ChainContext,
	notify func(Status),
) (fhe.Instance, bool, error) {
	client, err := rpc.DialContext(ctx, chain.RPCURL)
	if err != nil {
		if err := aborted(ctx); err != nil {
			return nil, false, err
		}
		return nil, false, newError(CodeConnectivity, &network.ConnectivityError{URL: chain.RPCURL, Err: err}, "failed to dial development node")
	}

	metadata, ok, err := detectDevNode(ctx, logger, client)
	if err := aborted(ctx); err != nil {
		client.Close()
		return nil, false, err
	}
	if err != nil {
		client.Close()
		return nil, false, newError(CodeConnectivity, &network.ConnectivityError{URL: chain.RPCURL, Err: err}, "development node did not answer")
	}
	if !ok {
		client.Close()
		return nil, false, nil
	}

	notify(StatusCreating)
	inst, err := f.mock(ctx, client, chain.ChainID, metadata)
	if err := aborted(ctx); err != nil {
		client.Close()
		return nil, false, err
	}
	if err != nil {
		client.Close()
		return nil, false, newError(CodeConnectivity, &network.ConnectivityError{URL: chain.RPCURL, Err: err}, "failed to create mock instance")
	}
	logger.Info("Created mock FHE instance", zap.String("rpcURL", chain.RPCURL))
	return inst, true, nil
}

// detectDevNode reports whether [client] is a development node with a
// simulated coprocessor, and returns its contract set. An error means the
// endpoint did not answer at all; a node that answers with anything else is
// reported as not a development node.
func detectDevNode(ctx context.Context, logger *zap.Logger, client *rpc.Client) (fhe.Metadata, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, utils.DefaultRPCTimeout)
	defer cancel()

	var version string
	if err := client.CallContext(callCtx, &version, clientVersionMethod); err != nil {
		var rpcErr rpc.Error
		if !errors.As(err, &rpcErr) {
			return fhe.Metadata{}, false, err
		}
		logger.Debug("Client version request rejected", zap.Error(err))
		return fhe.Metadata{}, false, nil
	}
	if !strings.Contains(strings.ToLower(version), devNodeSignature) {
		logger.Debug("Endpoint is not a development node", zap.String("clientVersion", version))
		return fhe.Metadata{}, false, nil
	}

	var metadata fhe.Metadata
	if err := client.CallContext(callCtx, &metadata, metadataMethod); err != nil {
		logger.Debug("Relayer metadata request failed", zap.Error(err))
		return fhe.Metadata{}, false, nil
	}
	if !validMetadata(metadata) {
		logger.Debug("Relayer metadata is malformed", zap.Any("metadata", metadata))
		return fhe.Metadata{}, false, nil
	}
	return metadata, true, nil
}

func validMetadata(m fhe.Metadata) bool {
	for _, addr := range []string{m.ACLAddress, m.InputVerifierAddress, m.KMSVerifierAddress} {
		if !strings.HasPrefix(addr, "0x") || !common.IsHexAddress(addr) {
			return false
		}
	}
	return true
}

func (f *Factory) createLive(
	ctx context.Context,
	logger *zap.Logger,
	chain network.ChainContext,
	src network.Source,
	notify func(Status),
) (fhe.Instance, error) {
	if chain.Target != network.TargetPublicRelayer && chain.ChainID != network.PublicTestnetChainID {
		if _, ok := src.Provider(); !ok {
			return nil, newError(
				CodeInvalidProvider,
				nil,
				"invalid provider for chain %d: expected a wallet provider but got %q; ensure the wallet is connected",
				chain.ChainID,
				src.String(),
			)
		}
	}

	if !f.runtime.Loaded() {
		notify(StatusSDKLoading)
		err := f.runtime.EnsureLoaded(ctx)
		if err := aborted(ctx); err != nil {
			return nil, err
		}
		if err != nil {
			return nil, newError(CodeSDKLoad, err, "failed to load relayer SDK")
		}
		notify(StatusSDKLoaded)
	}
	if !f.runtime.Initialized() {
		notify(StatusSDKInitializing)
		err := f.runtime.EnsureInitialized(ctx)
		if err := aborted(ctx); err != nil {
			return nil, err
		}
		if err != nil {
			code := CodeSDKInit
			if errors.Is(err, relayer.ErrSDKLoad) {
				code = CodeSDKLoad
			}
			return nil, newError(code, err, "failed to initialize relayer SDK")
		}
		notify(StatusSDKInitialized)
	}

	acl := f.config.ACLAddress
	if acl == (common.Address{}) {
		return nil, newError(CodeSDKInit, nil, "invalid ACL address %s", acl)
	}

	var keys *fhe.KeyMaterial
	if f.keys != nil {
		bundle, ok, err := f.keys.Get(ctx, acl)
		switch {
		case err != nil:
			logger.Warn("Failed to read cached public key", zap.Error(err))
		case ok:
			keys = &fhe.KeyMaterial{PublicKey: bundle.PublicKey, PublicParams: bundle.PublicParams}
		}
	}
	if err := aborted(ctx); err != nil {
		return nil, err
	}

	notify(StatusCreating)
	sdk := f.runtime.SDK()
	if keys == nil {
		var err error
		if keys, err = sdk.FetchKeys(ctx, f.config); err != nil {
			if err := aborted(ctx); err != nil {
				return nil, err
			}
			return nil, newError(CodeConnectivity, &network.ConnectivityError{URL: f.config.GatewayURL, Err: err}, "failed to fetch network key")
		}
	}
	inst, err := sdk.CreateInstance(ctx, f.config, keys)
	if err != nil {
		if err := aborted(ctx); err != nil {
			return nil, err
		}
		return nil, newError(CodeSDKInit, err, "failed to create instance")
	}

	// Written even when the caller has just cancelled; the key stays valid.
	if f.keys != nil {
		bundle := &storage.PublicKeyBundle{PublicKey: inst.PublicKey(), PublicParams: inst.PublicParams()}
		if err := f.keys.Set(context.WithoutCancel(ctx), acl, bundle); err != nil {
			logger.Warn("Failed to persist public key", zap.Error(err))
		}
	}
	if err := aborted(ctx); err != nil {
		return nil, err
	}
	logger.Info("Created FHE instance", zap.Stringer("acl", acl))
	return inst, nil
}

func aborted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &Error{Code: CodeAborted, Message: "operation was cancelled", Err: err}
	}
	return nil
}
