// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/luxfi/geth/ethclient"
	"github.com/luxfi/geth/rpc"
	"github.com/luxfi/manuscript"
	"github.com/luxfi/manuscript/decryptsig"
	"github.com/luxfi/manuscript/fhe/relayer"
	"github.com/luxfi/manuscript/ledger"
	"github.com/luxfi/manuscript/network"
	"github.com/luxfi/manuscript/session"
	"github.com/luxfi/manuscript/storage"
	"github.com/luxfi/manuscript/wallet"
	"go.uber.org/zap"
)

var errNoSigner = errors.New("no signer configured, set --private-key or PRIVATE_KEY")

// client is one connected session of a client command.
type client struct {
	out      io.Writer
	source   network.Source
	registry network.Registry
	chain    network.ChainContext
	store    storage.StringStore
	signer   wallet.Signer
	ledger   ledger.Ledger
	manager  *manuscript.Manager
	closers  []func()
}

// newClient resolves the configured chain, binds its ledger and settles the
// manager on it. No FHE instance is created yet.
func newClient(ctx context.Context, out io.Writer) (*client, error) {
	c := &client{out: out}
	if err := c.connect(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *client) connect(ctx context.Context) error {
	store, err := storage.Open(cfg.StorageOptions())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	c.store = store
	c.closers = append(c.closers, func() { _ = store.Close() })

	if cfg.PrivateKey != "" {
		key, err := wallet.NewKeySigner(cfg.PrivateKey)
		if err != nil {
			return fmt.Errorf("invalid private key: %w", err)
		}
		c.signer = key
	}

	if cfg.PublicRelayer {
		c.source = network.PublicRelayer()
	} else {
		eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return &network.ConnectivityError{URL: cfg.RPCURL, Err: err}
		}
		c.closers = append(c.closers, eth.Close)
		c.source = network.FromProvider(eth)
		c.registry = network.Registry{network.LocalChainID: cfg.RPCURL}
	}
	if c.chain, err = network.Resolve(ctx, c.source, c.registry); err != nil {
		return err
	}
	logger.Info(
		"Resolved chain",
		zap.Uint64("chainID", c.chain.ChainID),
		zap.Stringer("target", c.chain.Target),
	)

	c.manager = manuscript.NewManager(logger, manuscript.Config{
		Signatures: decryptsig.NewCache(logger, store, nil),
		Ledgers:    c.bindLedger,
		OnStatus:   printStatus(c.out),
	})
	return c.manager.OnContextChanged(ctx, c.chain.ChainID, c.signer)
}

// bindLedger attaches to the development node's ledger on mock chains and to
// the deployed contract elsewhere.
func (c *client) bindLedger(ctx context.Context, chainID uint64) (ledger.Ledger, error) {
	address, ok := cfg.GetContractAddress()
	if !ok {
		address, ok = ledger.AddressFor(chainID)
	}
	if !ok {
		return nil, nil
	}

	if c.chain.IsMock() {
		rpcClient, err := rpc.DialContext(ctx, c.chain.RPCURL)
		if err != nil {
			return nil, &network.ConnectivityError{URL: c.chain.RPCURL, Err: err}
		}
		l, err := ledger.NewRPCLedger(ctx, logger, rpcClient, cfg.TxInclusionTimeout())
		if err != nil {
			rpcClient.Close()
			return nil, err
		}
		c.closers = append(c.closers, rpcClient.Close)
		c.ledger = l
		return l, nil
	}

	l, err := ledger.DialContractLedger(ctx, logger, cfg.RPCURL, address, cfg.TxInclusionTimeout())
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, l.Close)
	c.ledger = l
	return l, nil
}

// requireLedger returns the bound ledger or explains why there is none.
func (c *client) requireLedger() (ledger.Ledger, error) {
	if c.ledger == nil {
		return nil, fmt.Errorf("%w: chain %d", manuscript.ErrNoContract, c.chain.ChainID)
	}
	return c.ledger, nil
}

// createInstance builds the FHE instance for the resolved chain and hands it
// to the manager.
func (c *client) createInstance(ctx context.Context) error {
	if c.signer == nil {
		return errNoSigner
	}
	opts := append(
		mockOptions(),
		session.WithPublicKeyCache(storage.NewPublicKeyCache(c.store)),
	)
	factory := session.NewFactory(logger, defaultRuntime(), cfg.RelayerConfig(), opts...)
	inst, err := factory.CreateInstance(ctx, session.Params{
		Source:   c.source,
		Registry: c.registry,
		OnStatus: printSessionStatus(c.out),
	})
	if err != nil {
		return err
	}
	c.manager.SetInstance(inst)
	return nil
}

func defaultRuntime() *relayer.Runtime {
	return relayer.DefaultRuntime(func() relayer.SDK {
		return relayer.NewHTTPSDK(logger, cfg.RelayerURL, cfg.KeyTTL())
	})
}

func (c *client) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
