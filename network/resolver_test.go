// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package network

import (
	"context"
	"errors"
	"math/big"
	"net/http/httptest"
	"testing"

	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/rpc"
	"github.com/stretchr/testify/require"
)

type ethService struct {
	chainID uint64
}

func (s *ethService) ChainId() hexutil.Uint64 {
	return hexutil.Uint64(s.chainID)
}

func newNode(t *testing.T, chainID uint64) string {
	t.Helper()
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", &ethService{chainID: chainID}))
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
	})
	return ts.URL
}

type fakeProvider struct {
	chainID uint64
	err     error
}

func (p *fakeProvider) ChainID(context.Context) (*big.Int, error) {
	if p.err != nil {
		return nil, p.err
	}
	return new(big.Int).SetUint64(p.chainID), nil
}

func TestResolveProvider(t *testing.T) {
	tests := []struct {
		name     string
		chainID  uint64
		registry Registry
		target   Target
		rpcURL   string
	}{
		{
			name:    "default local chain",
			chainID: LocalChainID,
			target:  TargetLocalMock,
			rpcURL:  LocalRPCURL,
		},
		{
			name:     "registry overrides default url",
			chainID:  LocalChainID,
			registry: Registry{LocalChainID: "http://127.0.0.1:9545"},
			target:   TargetLocalMock,
			rpcURL:   "http://127.0.0.1:9545",
		},
		{
			name:     "extra mock chain",
			chainID:  1337,
			registry: Registry{1337: "http://devnet:8545"},
			target:   TargetLocalMock,
			rpcURL:   "http://devnet:8545",
		},
		{
			name:    "public testnet through provider",
			chainID: PublicTestnetChainID,
			target:  TargetLiveProvider,
		},
		{
			name:    "unknown chain",
			chainID: 1,
			target:  TargetLiveProvider,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)
			p := &fakeProvider{chainID: test.chainID}
			chain, err := Resolve(context.Background(), FromProvider(p), test.registry)
			require.NoError(err)
			require.Equal(test.chainID, chain.ChainID)
			require.Equal(test.target, chain.Target)
			require.Equal(test.target == TargetLocalMock, chain.IsMock())
			require.Equal(test.rpcURL, chain.RPCURL)
			require.Equal(p, chain.Provider)
		})
	}
}

func TestResolveURLOverridesDefault(t *testing.T) {
	require := require.New(t)

	url := newNode(t, LocalChainID)
	chain, err := Resolve(context.Background(), URL(url), nil)
	require.NoError(err)
	require.True(chain.IsMock())
	require.Equal(LocalChainID, chain.ChainID)
	require.Equal(url, chain.RPCURL)
	require.Nil(chain.Provider)
}

func TestResolveURLLiveChain(t *testing.T) {
	url := newNode(t, 43114)
	chain, err := Resolve(context.Background(), URL(url), nil)
	require.NoError(t, err)
	require.Equal(t, TargetLiveProvider, chain.Target)
	require.Empty(t, chain.RPCURL)
}

func TestResolvePublicRelayerSkipsProbing(t *testing.T) {
	chain, err := Resolve(context.Background(), PublicRelayer(), Registry{PublicTestnetChainID: "http://ignored"})
	require.NoError(t, err)
	require.Equal(t, TargetPublicRelayer, chain.Target)
	require.Equal(t, PublicTestnetChainID, chain.ChainID)
	require.Empty(t, chain.RPCURL)
}

func TestResolveConnectivityError(t *testing.T) {
	require := require.New(t)

	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()

	_, err := Resolve(context.Background(), URL(url), nil)
	require.ErrorIs(err, ErrConnectivity)
	var connErr *ConnectivityError
	require.True(errors.As(err, &connErr))
	require.Equal(url, connErr.URL)

	_, err = Resolve(context.Background(), FromProvider(&fakeProvider{err: errors.New("disconnected")}), nil)
	require.ErrorIs(err, ErrConnectivity)
}

func TestRegistryMerge(t *testing.T) {
	base := DefaultRegistry()
	merged := base.Merge(Registry{LocalChainID: "http://other", 5: "http://five"})
	require.Equal(t, Registry{LocalChainID: "http://other", 5: "http://five"}, merged)
	require.Equal(t, LocalRPCURL, base[LocalChainID])
}
