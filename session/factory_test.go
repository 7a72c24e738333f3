// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"context"
	"math/big"
	"net/http/httptest"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/rpc"
	"github.com/luxfi/manuscript/coprocessor"
	"github.com/luxfi/manuscript/fhe"
	"github.com/luxfi/manuscript/fhe/mock"
	"github.com/luxfi/manuscript/fhe/relayer"
	"github.com/luxfi/manuscript/metrics"
	"github.com/luxfi/manuscript/network"
	"github.com/luxfi/manuscript/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const liveChainID = 8009

var liveStatuses = []Status{
	StatusSDKLoading,
	StatusSDKLoaded,
	StatusSDKInitializing,
	StatusSDKInitialized,
	StatusCreating,
}

type fakeProvider struct {
	chainID uint64
}

func (p fakeProvider) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(p.chainID), nil
}

type statusRecorder struct {
	statuses []Status
}

func (r *statusRecorder) record(s Status) {
	r.statuses = append(r.statuses, s)
}

func newDevNode(t *testing.T) string {
	t.Helper()
	engine, err := coprocessor.NewEngine(zap.NewNop(), coprocessor.Config{ChainID: network.LocalChainID})
	require.NoError(t, err)
	srv := rpc.NewServer()
	require.NoError(t, coprocessor.RegisterAPIs(srv, engine))
	httpSrv := httptest.NewServer(srv)
	t.Cleanup(func() {
		httpSrv.Close()
		srv.Stop()
	})
	return httpSrv.URL
}

type plainEth struct{}

func (plainEth) ChainId() hexutil.Uint64 { return hexutil.Uint64(network.LocalChainID) }

type plainWeb3 struct{}

func (plainWeb3) ClientVersion() string { return "Geth/v1.14.12-stable/linux-amd64/go1.23" }

// newPlainNode serves a local chain id without a simulated coprocessor.
func newPlainNode(t *testing.T) string {
	t.Helper()
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", plainEth{}))
	require.NoError(t, srv.RegisterName("web3", plainWeb3{}))
	httpSrv := httptest.NewServer(srv)
	t.Cleanup(func() {
		httpSrv.Close()
		srv.Stop()
	})
	return httpSrv.URL
}

func newLiveConfig(t *testing.T) relayer.Config {
	t.Helper()
	engine, err := coprocessor.NewEngine(zap.NewNop(), coprocessor.Config{ChainID: liveChainID})
	require.NoError(t, err)
	srv := httptest.NewServer(coprocessor.NewGatewayHandler(
		zap.NewNop(),
		metrics.NewGatewayMetrics(prometheus.NewRegistry()),
		engine,
	))
	t.Cleanup(srv.Close)
	md := engine.Metadata()
	return relayer.Config{
		ChainID:              liveChainID,
		GatewayURL:           srv.URL,
		ACLAddress:           common.HexToAddress(md.ACLAddress),
		InputVerifierAddress: common.HexToAddress(md.InputVerifierAddress),
		KMSVerifierAddress:   common.HexToAddress(md.KMSVerifierAddress),
	}
}

func newKeyCache(t *testing.T) *storage.PublicKeyCache {
	t.Helper()
	store, err := storage.NewMemoryStore(16)
	require.NoError(t, err)
	return storage.NewPublicKeyCache(store)
}

func newFactory(t *testing.T, cfg relayer.Config, opts ...Option) *Factory {
	t.Helper()
	rt := relayer.NewRuntime(relayer.NewHTTPSDK(zap.NewNop(), cfg.GatewayURL, 0))
	return NewFactory(zap.NewNop(), rt, cfg, opts...)
}

func TestCreateInstanceMock(t *testing.T) {
	url := newDevNode(t)
	f := newFactory(t, relayer.Config{}, WithMock(mock.NewInstance))

	rec := &statusRecorder{}
	inst, err := f.CreateInstance(context.Background(), Params{
		Source:   network.URL(url),
		OnStatus: rec.record,
	})
	require.NoError(t, err)
	require.Equal(t, network.LocalChainID, inst.ChainID())
	require.Equal(t, []Status{StatusCreating}, rec.statuses)
}

func TestCreateInstanceMockFallsThrough(t *testing.T) {
	testCases := []struct {
		name string
		url  func(t *testing.T) string
		opts []Option
	}{
		{
			name: "not a development node",
			url:  newPlainNode,
			opts: []Option{WithMock(mock.NewInstance)},
		},
		{
			name: "mock capability omitted",
			url:  newDevNode,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFactory(t, newLiveConfig(t), tc.opts...)
			rec := &statusRecorder{}
			_, err := f.CreateInstance(context.Background(), Params{
				Source:   network.URL(tc.url(t)),
				OnStatus: rec.record,
			})
			// A bare URL cannot back a live instance.
			require.ErrorIs(t, err, ErrInvalidProvider)
			require.Empty(t, rec.statuses)
		})
	}
}

func TestCreateInstanceLive(t *testing.T) {
	cfg := newLiveConfig(t)
	keys := newKeyCache(t)
	f := newFactory(t, cfg, WithMock(mock.NewInstance), WithPublicKeyCache(keys))

	rec := &statusRecorder{}
	inst, err := f.CreateInstance(context.Background(), Params{
		Source:   network.FromProvider(fakeProvider{chainID: liveChainID}),
		OnStatus: rec.record,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(liveChainID), inst.ChainID())
	require.Equal(t, liveStatuses, rec.statuses)

	bundle, ok, err := keys.Get(context.Background(), cfg.ACLAddress)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, inst.PublicKey(), []byte(bundle.PublicKey))

	// The runtime is already initialized on the second call.
	rec = &statusRecorder{}
	_, err = f.CreateInstance(context.Background(), Params{
		Source:   network.PublicRelayer(),
		OnStatus: rec.record,
	})
	require.NoError(t, err)
	require.Equal(t, []Status{StatusCreating}, rec.statuses)
}

func TestCreateInstanceErrors(t *testing.T) {
	closed := httptest.NewServer(nil)
	closedURL := closed.URL
	closed.Close()

	testCases := []struct {
		name     string
		cfg      func(t *testing.T) relayer.Config
		src      func(t *testing.T) network.Source
		registry network.Registry
		opts     []Option
		expected error
		// url is the endpoint a connectivity failure must name.
		url      string
		statuses []Status
	}{
		{
			name:     "unreachable url",
			cfg:      newLiveConfig,
			src:      func(*testing.T) network.Source { return network.URL(closedURL) },
			expected: ErrConnectivity,
			url:      closedURL,
		},
		{
			name: "unreachable development node behind a provider",
			cfg:  newLiveConfig,
			src: func(*testing.T) network.Source {
				return network.FromProvider(fakeProvider{chainID: network.LocalChainID})
			},
			registry: network.Registry{network.LocalChainID: closedURL},
			opts:     []Option{WithMock(mock.NewInstance)},
			expected: ErrConnectivity,
			url:      closedURL,
		},
		{
			name: "url for a live chain",
			cfg:  newLiveConfig,
			src: func(t *testing.T) network.Source {
				return network.URL(newPlainNode(t))
			},
			expected: ErrInvalidProvider,
		},
		{
			name: "unreachable gateway",
			cfg: func(*testing.T) relayer.Config {
				cfg := relayer.PublicTestnetConfig()
				cfg.GatewayURL = closedURL
				return cfg
			},
			src:      func(*testing.T) network.Source { return network.PublicRelayer() },
			expected: ErrSDKLoad,
			statuses: []Status{StatusSDKLoading},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFactory(t, tc.cfg(t), tc.opts...)
			rec := &statusRecorder{}
			inst, err := f.CreateInstance(context.Background(), Params{
				Source:   tc.src(t),
				Registry: tc.registry,
				OnStatus: rec.record,
			})
			require.ErrorIs(t, err, tc.expected)
			require.Nil(t, inst)
			require.Equal(t, tc.statuses, rec.statuses)
			if tc.url != "" {
				var connErr *network.ConnectivityError
				require.ErrorAs(t, err, &connErr)
				require.Equal(t, tc.url, connErr.URL)
			}
		})
	}
}

// cancellingSDK cancels the caller's context from inside one of its steps.
type cancellingSDK struct {
	cancel      context.CancelFunc
	cancelIn    string
	created     int
	instanceKey []byte
}

func (s *cancellingSDK) step(name string) {
	if s.cancelIn == name {
		s.cancel()
	}
}

func (s *cancellingSDK) Load(context.Context) error {
	s.step("load")
	return nil
}

func (s *cancellingSDK) Init(context.Context) error {
	s.step("init")
	return nil
}

func (s *cancellingSDK) FetchKeys(context.Context, relayer.Config) (*fhe.KeyMaterial, error) {
	return &fhe.KeyMaterial{PublicKey: s.instanceKey, PublicParams: []byte{0x01}}, nil
}

func (s *cancellingSDK) CreateInstance(_ context.Context, cfg relayer.Config, keys *fhe.KeyMaterial) (fhe.Instance, error) {
	s.created++
	s.step("create")
	return fhe.NewInstance(cfg.ChainID, cfg.KMSVerifierAddress, *keys, nil), nil
}

func TestCreateInstanceAbort(t *testing.T) {
	testCases := []struct {
		name      string
		cancelIn  string
		statuses  []Status
		persisted bool
	}{
		{
			name:     "before start",
			cancelIn: "",
		},
		{
			name:     "during load",
			cancelIn: "load",
			statuses: []Status{StatusSDKLoading},
		},
		{
			name:     "during init",
			cancelIn: "init",
			statuses: []Status{StatusSDKLoading, StatusSDKLoaded, StatusSDKInitializing},
		},
		{
			name:      "after create",
			cancelIn:  "create",
			statuses:  liveStatuses,
			persisted: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tc.cancelIn == "" {
				cancel()
			}
			sdk := &cancellingSDK{cancel: cancel, cancelIn: tc.cancelIn, instanceKey: []byte{0x04, 0x02}}
			keys := newKeyCache(t)
			cfg := relayer.PublicTestnetConfig()
			f := NewFactory(zap.NewNop(), relayer.NewRuntime(sdk), cfg, WithPublicKeyCache(keys))

			rec := &statusRecorder{}
			_, err := f.CreateInstance(ctx, Params{Source: network.PublicRelayer(), OnStatus: rec.record})
			require.ErrorIs(t, err, ErrAborted)
			require.ErrorIs(t, err, context.Canceled)
			require.Equal(t, tc.statuses, rec.statuses)

			_, ok, err := keys.Get(context.Background(), cfg.ACLAddress)
			require.NoError(t, err)
			require.Equal(t, tc.persisted, ok)
		})
	}
}

func TestValidMetadata(t *testing.T) {
	valid := fhe.Metadata{
		ACLAddress:           "0x50157CFfD6bBFA2DECe204a89ec419c23ef5755D",
		InputVerifierAddress: "0x901F8942346f7AB3a01F6D7613119Bca447Bb030",
		KMSVerifierAddress:   "0x1364cBBf2cDF5032C47d8226a6f6FBD2AFCDacAC",
	}
	require.True(t, validMetadata(valid))

	missing := valid
	missing.KMSVerifierAddress = ""
	require.False(t, validMetadata(missing))

	unprefixed := valid
	unprefixed.ACLAddress = "50157CFfD6bBFA2DECe204a89ec419c23ef5755D"
	require.False(t, validMetadata(unprefixed))
}
