// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/manuscript/fhe/relayer"
	"github.com/luxfi/manuscript/network"
	"github.com/luxfi/manuscript/storage"
	"go.uber.org/zap/zapcore"
)

const (
	defaultLogLevel                  = "info"
	defaultStorageBackend            = storage.BackendSQLite
	defaultStoragePath               = "manuscript.db"
	defaultRedisPrefix               = storage.DefaultRedisPrefix
	defaultStoreCacheSize            = 1024
	defaultTxInclusionTimeoutSeconds = 120
	defaultKeyTTLSeconds             = 3600
	defaultChainID                   = network.LocalChainID
	defaultAPIPort                   = 8545
	defaultMetricsPort               = 9090
)

var (
	errInvalidRPCURL     = errors.New("invalid rpc-url")
	errInvalidRelayerURL = errors.New("invalid relayer-url")
	errInvalidContract   = errors.New("invalid contract-address")
	errPortCollision     = errors.New("api-port and metrics-port must differ")
)

// Config is shared by every manuscript command. Client commands use the
// connection and storage settings; devnode and gateway use the server ones.
type Config struct {
	LogLevel                  string `mapstructure:"log-level" json:"log-level"`
	RPCURL                    string `mapstructure:"rpc-url" json:"rpc-url"`
	PublicRelayer             bool   `mapstructure:"public-relayer" json:"public-relayer"`
	RelayerURL                string `mapstructure:"relayer-url" json:"relayer-url"`
	PrivateKey                string `mapstructure:"private-key" json:"-"`
	ContractAddress           string `mapstructure:"contract-address" json:"contract-address"`
	TxInclusionTimeoutSeconds uint64 `mapstructure:"tx-inclusion-timeout-seconds" json:"tx-inclusion-timeout-seconds"`
	KeyTTLSeconds             uint64 `mapstructure:"key-ttl-seconds" json:"key-ttl-seconds"`

	StorageBackend string `mapstructure:"storage-backend" json:"storage-backend"`
	StoragePath    string `mapstructure:"storage-path" json:"storage-path"`
	RedisURL       string `mapstructure:"redis-url" json:"redis-url"`
	RedisPrefix    string `mapstructure:"redis-prefix" json:"redis-prefix"`
	StoreCacheSize int    `mapstructure:"store-cache-size" json:"store-cache-size"`

	ChainID     uint64 `mapstructure:"chain-id" json:"chain-id"`
	APIPort     uint16 `mapstructure:"api-port" json:"api-port"`
	MetricsPort uint16 `mapstructure:"metrics-port" json:"metrics-port"`
}

func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log-level %q: %w", c.LogLevel, err)
	}
	if !c.PublicRelayer {
		if err := validateURL(c.RPCURL); err != nil {
			return fmt.Errorf("%w: %w", errInvalidRPCURL, err)
		}
	}
	if err := validateURL(c.RelayerURL); err != nil {
		return fmt.Errorf("%w: %w", errInvalidRelayerURL, err)
	}
	if c.ContractAddress != "" && !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("%w: %q", errInvalidContract, c.ContractAddress)
	}
	switch c.StorageBackend {
	case storage.BackendMemory:
	case storage.BackendSQLite:
		if c.StoragePath == "" {
			return fmt.Errorf("%s requires %s", StorageBackendKey, StoragePathKey)
		}
	case storage.BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%s requires %s", StorageBackendKey, RedisURLKey)
		}
	default:
		return fmt.Errorf("%w: %q", storage.ErrUnknownBackend, c.StorageBackend)
	}
	if c.StoreCacheSize <= 0 {
		return fmt.Errorf("%s must be positive", StoreCacheSizeKey)
	}
	if c.APIPort == c.MetricsPort {
		return errPortCollision
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute url", raw)
	}
	return nil
}

// GetContractAddress returns the configured ledger address override.
func (c *Config) GetContractAddress() (common.Address, bool) {
	if c.ContractAddress == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(c.ContractAddress), true
}

func (c *Config) TxInclusionTimeout() time.Duration {
	return time.Duration(c.TxInclusionTimeoutSeconds) * time.Second
}

func (c *Config) KeyTTL() time.Duration {
	return time.Duration(c.KeyTTLSeconds) * time.Second
}

func (c *Config) StorageOptions() storage.Options {
	return storage.Options{
		Backend: c.StorageBackend,
		Path:    c.StoragePath,
		URL:     c.RedisURL,
		Prefix:  c.RedisPrefix,
		Size:    c.StoreCacheSize,
	}
}

// RelayerConfig is the public network bundle served by the configured
// gateway.
func (c *Config) RelayerConfig() relayer.Config {
	cfg := relayer.PublicTestnetConfig()
	cfg.GatewayURL = c.RelayerURL
	return cfg
}
