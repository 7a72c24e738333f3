// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package relayer

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/manuscript/coprocessor"
	"github.com/luxfi/manuscript/fhe"
	"github.com/luxfi/manuscript/metrics"
	"github.com/luxfi/manuscript/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingSDK struct {
	lock    sync.Mutex
	loads   int
	inits   int
	loadErr error
	initErr error
}

func (s *countingSDK) Load(context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.loads++
	return s.loadErr
}

func (s *countingSDK) Init(context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.inits++
	return s.initErr
}

func (*countingSDK) FetchKeys(context.Context, Config) (*fhe.KeyMaterial, error) {
	return nil, nil
}

func (*countingSDK) CreateInstance(context.Context, Config, *fhe.KeyMaterial) (fhe.Instance, error) {
	return nil, nil
}

func TestRuntimeOnce(t *testing.T) {
	sdk := &countingSDK{}
	rt := NewRuntime(sdk)
	require.False(t, rt.Loaded())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = rt.EnsureInitialized(context.Background())
		}()
	}
	wg.Wait()

	require.NoError(t, rt.EnsureLoaded(context.Background()))
	require.True(t, rt.Loaded())
	require.True(t, rt.Initialized())
	require.Equal(t, 1, sdk.loads)
	require.Equal(t, 1, sdk.inits)
}

func TestRuntimeErrors(t *testing.T) {
	boom := errors.New("boom")

	sdk := &countingSDK{loadErr: boom}
	rt := NewRuntime(sdk)
	err := rt.EnsureInitialized(context.Background())
	require.ErrorIs(t, err, ErrSDKLoad)
	require.ErrorIs(t, err, boom)
	require.False(t, rt.Loaded())

	// A failed load is retried by the next caller.
	sdk.loadErr = nil
	require.NoError(t, rt.EnsureLoaded(context.Background()))
	require.Equal(t, 2, sdk.loads)

	sdk.initErr = boom
	require.ErrorIs(t, rt.EnsureInitialized(context.Background()), ErrSDKInit)
	require.False(t, rt.Initialized())
}

func newGateway(t *testing.T) (*coprocessor.Engine, Config) {
	t.Helper()
	engine, err := coprocessor.NewEngine(zap.NewNop(), coprocessor.Config{ChainID: 11155111})
	require.NoError(t, err)
	srv := httptest.NewServer(coprocessor.NewGatewayHandler(
		zap.NewNop(),
		metrics.NewGatewayMetrics(prometheus.NewRegistry()),
		engine,
	))
	t.Cleanup(srv.Close)

	md := engine.Metadata()
	return engine, Config{
		ChainID:              engine.ChainID(),
		GatewayURL:           srv.URL,
		ACLAddress:           common.HexToAddress(md.ACLAddress),
		InputVerifierAddress: common.HexToAddress(md.InputVerifierAddress),
		KMSVerifierAddress:   common.HexToAddress(md.KMSVerifierAddress),
	}
}

func TestHTTPSDKRoundTrip(t *testing.T) {
	ctx := context.Background()
	engine, cfg := newGateway(t)
	sdk := NewHTTPSDK(zap.NewNop(), cfg.GatewayURL, time.Minute)

	_, err := sdk.CreateInstance(ctx, cfg, nil)
	require.ErrorIs(t, err, errNotLoaded)

	rt := NewRuntime(sdk)
	require.NoError(t, rt.EnsureInitialized(ctx))

	keys, err := sdk.FetchKeys(ctx, cfg)
	require.NoError(t, err)
	require.Equal(t, engine.KeyMaterial(), keys)

	inst, err := sdk.CreateInstance(ctx, cfg, keys)
	require.NoError(t, err)
	require.Equal(t, cfg.ChainID, inst.ChainID())

	signer, err := wallet.NewKeySigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	contract := common.HexToAddress("0x31D4375a1F9fbD116fb40F132eeB80ED329B8641")

	res, err := inst.CreateEncryptedInput(contract, signer.Address()).Add8(9).Encrypt(ctx)
	require.NoError(t, err)
	engine.Allow(res.Handles[0], contract, signer.Address())

	kp, err := inst.GenerateKeypair()
	require.NoError(t, err)
	start := uint64(time.Now().Unix())
	contracts := []common.Address{contract}
	sig, err := signer.SignTypedData(ctx, inst.CreateEIP712(kp.PublicKey, contracts, start, 1))
	require.NoError(t, err)

	req := &fhe.UserDecryptRequest{
		Pairs:             []fhe.HandleContractPair{{Handle: res.Handles[0], ContractAddress: contract}},
		PrivateKey:        kp.PrivateKey,
		PublicKey:         kp.PublicKey,
		Signature:         sig,
		ContractAddresses: contracts,
		UserAddress:       signer.Address(),
		StartTimestamp:    start,
		DurationDays:      1,
	}
	values, err := inst.UserDecrypt(ctx, req)
	require.NoError(t, err)
	require.Equal(t, uint64(9), values[res.Handles[0]].Uint64())

	// Someone else's signature is refused by the gateway.
	req.UserAddress = common.HexToAddress("0x01")
	_, err = inst.UserDecrypt(ctx, req)
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, 403, gwErr.StatusCode)
}

func TestHTTPSDKFetchKeysACLMismatch(t *testing.T) {
	_, cfg := newGateway(t)
	sdk := NewHTTPSDK(zap.NewNop(), cfg.GatewayURL, time.Minute)
	cfg.ACLAddress = common.HexToAddress("0x02")

	_, err := sdk.FetchKeys(context.Background(), cfg)
	require.ErrorIs(t, err, errACLMismatch)
}

func TestHTTPSDKLoadUnreachable(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	rt := NewRuntime(NewHTTPSDK(zap.NewNop(), url, 0))
	require.ErrorIs(t, rt.EnsureLoaded(context.Background()), ErrSDKLoad)
}
