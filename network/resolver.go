// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

// Package network determines which chain a provider or RPC URL points at and
// whether that chain is served by a local mock coprocessor or a live relayer.
package network

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/rpc"
	"github.com/luxfi/manuscript/wallet"
)

const (
	// LocalChainID is the chain id of a local development node.
	LocalChainID uint64 = 31337

	// LocalRPCURL is the default endpoint of a local development node.
	LocalRPCURL = "http://localhost:8545"

	// PublicTestnetChainID is the public testnet whose relayer manages its
	// own network details.
	PublicTestnetChainID uint64 = 11155111
)

// ErrConnectivity matches every ConnectivityError.
var ErrConnectivity = errors.New("endpoint unreachable")

// ConnectivityError names an endpoint that did not answer a liveness check.
type ConnectivityError struct {
	URL string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("the URL %s is not a Web3 node or is not reachable: %v", e.URL, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

func (e *ConnectivityError) Is(target error) bool {
	return target == ErrConnectivity
}

// Registry maps mock chain ids to their RPC URLs.
type Registry map[uint64]string

// DefaultRegistry returns the built-in mock chains.
func DefaultRegistry() Registry {
	return Registry{LocalChainID: LocalRPCURL}
}

// Merge returns a copy of r overlaid with [other]. Entries of [other] win.
func (r Registry) Merge(other Registry) Registry {
	out := make(Registry, len(r)+len(other))
	maps.Copy(out, r)
	maps.Copy(out, other)
	return out
}

// Target is where FHE operations for a chain are served.
type Target uint8

const (
	// TargetLiveProvider uses the remote relayer through a live wallet provider.
	TargetLiveProvider Target = iota
	// TargetLocalMock uses a simulated coprocessor on a development node.
	TargetLocalMock
	// TargetPublicRelayer uses the public relayer configuration, no provider.
	TargetPublicRelayer
)

func (t Target) String() string {
	switch t {
	case TargetLiveProvider:
		return "live-provider"
	case TargetLocalMock:
		return "local-mock"
	case TargetPublicRelayer:
		return "public-relayer"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

type sourceKind uint8

const (
	sourceURL sourceKind = iota
	sourceProvider
	sourcePublicRelayer
)

// Source is what a caller hands to Resolve.
type Source struct {
	kind     sourceKind
	url      string
	provider wallet.Provider
}

// URL is a bare RPC endpoint.
func URL(u string) Source {
	return Source{kind: sourceURL, url: u}
}

// FromProvider is a live wallet-style connection.
func FromProvider(p wallet.Provider) Source {
	return Source{kind: sourceProvider, provider: p}
}

// PublicRelayer selects the public relayer configuration without a provider.
func PublicRelayer() Source {
	return Source{kind: sourcePublicRelayer}
}

// Provider returns the provider of a FromProvider source.
func (s Source) Provider() (wallet.Provider, bool) {
	return s.provider, s.kind == sourceProvider
}

// RawURL returns the endpoint of a URL source.
func (s Source) RawURL() (string, bool) {
	return s.url, s.kind == sourceURL
}

func (s Source) String() string {
	switch s.kind {
	case sourceURL:
		return s.url
	case sourceProvider:
		return "provider"
	default:
		return "public-relayer"
	}
}

// ChainContext is the resolved identity of a connection. A network switch
// produces a new ChainContext, it never mutates an existing one.
type ChainContext struct {
	ChainID uint64
	Target  Target
	// RPCURL is set for TargetLocalMock.
	RPCURL   string
	Provider wallet.Provider
}

func (c ChainContext) IsMock() bool {
	return c.Target == TargetLocalMock
}

// Resolve determines the chain behind [src] and where its FHE operations are
// served. [registry] entries override the built-in mock chains.
func Resolve(ctx context.Context, src Source, registry Registry) (ChainContext, error) {
	if src.kind == sourcePublicRelayer {
		return ChainContext{
			ChainID: PublicTestnetChainID,
			Target:  TargetPublicRelayer,
		}, nil
	}

	chainID, err := chainIDOf(ctx, src)
	if err != nil {
		return ChainContext{}, err
	}

	chain := ChainContext{
		ChainID:  chainID,
		Target:   TargetLiveProvider,
		Provider: src.provider,
	}
	mockChains := DefaultRegistry().Merge(registry)
	if defaultURL, ok := mockChains[chainID]; ok {
		chain.Target = TargetLocalMock
		chain.RPCURL = defaultURL
		if src.kind == sourceURL {
			chain.RPCURL = src.url
		}
	}
	return chain, nil
}

func chainIDOf(ctx context.Context, src Source) (uint64, error) {
	if src.kind == sourceProvider {
		if src.provider == nil {
			return 0, &ConnectivityError{URL: src.String(), Err: errors.New("nil provider")}
		}
		id, err := src.provider.ChainID(ctx)
		if err != nil {
			return 0, &ConnectivityError{URL: src.String(), Err: err}
		}
		return id.Uint64(), nil
	}
	return FetchChainID(ctx, src.url)
}

// FetchChainID opens a throwaway connection to [url] and reads its chain id.
func FetchChainID(ctx context.Context, url string) (uint64, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return 0, &ConnectivityError{URL: url, Err: err}
	}
	defer client.Close()

	var id hexutil.Big
	if err := client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return 0, &ConnectivityError{URL: url, Err: err}
	}
	return id.ToInt().Uint64(), nil
}
