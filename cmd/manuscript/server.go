// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/luxfi/geth/rpc"
	"github.com/luxfi/manuscript/config"
	"github.com/luxfi/manuscript/coprocessor"
	"github.com/luxfi/manuscript/healthcheck"
	"github.com/luxfi/manuscript/ledger"
	"github.com/luxfi/manuscript/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	gatewayMetricsPrefix = "gateway"
	shutdownTimeout      = 5 * time.Second
)

var devnodeCmd = &cobra.Command{
	Use:   "devnode",
	Short: "Run a development node with a simulated FHE coprocessor",
	Long: `devnode serves JSON-RPC on --api-port: the coprocessor methods a mock FHE
instance uses and an in-memory manuscript ledger. The relayer gateway API is
served on the same port under /v1/. Metrics and /health are served on
--metrics-port.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		engine, err := coprocessor.NewEngine(logger, coprocessor.Config{ChainID: cfg.ChainID})
		if err != nil {
			return err
		}
		address, ok := cfg.GetContractAddress()
		if !ok {
			address, ok = ledger.AddressFor(cfg.ChainID)
		}
		if !ok {
			return fmt.Errorf("no contract address for chain %d, set --%s", cfg.ChainID, config.ContractAddressKey)
		}
		store := ledger.NewMemoryLedger(logger, address, engine)

		rpcServer := rpc.NewServer()
		defer rpcServer.Stop()
		if err := coprocessor.RegisterAPIs(rpcServer, engine); err != nil {
			return err
		}
		if err := rpcServer.RegisterName(ledger.Namespace, ledger.NewService(store)); err != nil {
			return err
		}

		registry, registerers := metrics.NewRegistries(gatewayMetricsPrefix)
		gatewayMetrics := metrics.NewGatewayMetrics(registerers[gatewayMetricsPrefix])

		api := http.NewServeMux()
		api.Handle("/v1/", coprocessor.NewGatewayHandler(logger, gatewayMetrics, engine))
		api.Handle("/", rpcServer)

		logger.Info(
			"Starting devnode",
			zap.Uint64("chainID", cfg.ChainID),
			zap.Stringer("contract", address),
			zap.Uint16("apiPort", cfg.APIPort),
		)
		return serve(cmd.Context(), api, opsMux(registry, "devnode", func(ctx context.Context) error {
			_, err := store.GetTotalManuscripts(ctx)
			return err
		}))
	},
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run a relayer gateway for the public network configuration",
	Long: `gateway serves the relayer HTTP API (/v1/keyurl, /v1/input-proof,
/v1/user-decrypt) on --api-port, backed by a simulated coprocessor using the
public network's contract addresses. Point --relayer-url of a client at it.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rc := cfg.RelayerConfig()
		engine, err := coprocessor.NewEngine(logger, coprocessor.Config{
			ChainID:              rc.ChainID,
			ACLAddress:           rc.ACLAddress,
			InputVerifierAddress: rc.InputVerifierAddress,
			KMSVerifierAddress:   rc.KMSVerifierAddress,
		})
		if err != nil {
			return err
		}

		registry, registerers := metrics.NewRegistries(gatewayMetricsPrefix)
		gatewayMetrics := metrics.NewGatewayMetrics(registerers[gatewayMetricsPrefix])

		logger.Info(
			"Starting gateway",
			zap.Uint64("chainID", rc.ChainID),
			zap.Uint16("apiPort", cfg.APIPort),
		)
		return serve(
			cmd.Context(),
			coprocessor.NewGatewayHandler(logger, gatewayMetrics, engine),
			opsMux(registry, "gateway", func(context.Context) error {
				if len(engine.KeyMaterial().PublicKey) == 0 {
					return errors.New("no network key")
				}
				return nil
			}),
		)
	},
}

// opsMux serves metrics and health.
func opsMux(registry prometheus.Gatherer, name string, check func(context.Context) error) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	healthcheck.HandleHealthCheckRequest(mux, name, check)
	return mux
}

// serve runs the api and ops servers until [ctx] ends or one of them fails.
func serve(ctx context.Context, api http.Handler, ops http.Handler) error {
	errGroup, ctx := errgroup.WithContext(ctx)
	for _, s := range []struct {
		name    string
		port    uint16
		handler http.Handler
	}{
		{name: "api", port: cfg.APIPort, handler: api},
		{name: "ops", port: cfg.MetricsPort, handler: ops},
	} {
		httpServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", s.port),
			Handler:           s.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		errGroup.Go(func() error {
			// Handle graceful shutdown
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = httpServer.Shutdown(shutdownCtx)
			}()

			logger.Info("Listening", zap.String("server", s.name), zap.String("addr", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to start %s server: %w", s.name, err)
			}
			return nil
		})
	}
	return errGroup.Wait()
}
