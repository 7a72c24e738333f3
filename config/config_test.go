// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/manuscript/fhe/relayer"
	"github.com/luxfi/manuscript/network"
	"github.com/luxfi/manuscript/storage"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	fs := BuildFlagSet()
	require.NoError(t, fs.Parse(args))
	v, err := BuildViper(fs)
	require.NoError(t, err)
	return NewConfig(v)
}

func TestDefaults(t *testing.T) {
	cfg, err := build(t)
	require.NoError(t, err)

	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, network.LocalRPCURL, cfg.RPCURL)
	require.Equal(t, relayer.DefaultGatewayURL, cfg.RelayerURL)
	require.Equal(t, storage.BackendSQLite, cfg.StorageBackend)
	require.EqualValues(t, network.LocalChainID, cfg.ChainID)
	require.Equal(t, 120*time.Second, cfg.TxInclusionTimeout())
	require.Equal(t, time.Hour, cfg.KeyTTL())
	_, ok := cfg.GetContractAddress()
	require.False(t, ok)
}

func TestPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(file, []byte(`{
		"log-level": "warn",
		"rpc-url": "http://file:8545",
		"contract-address": "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		"storage-backend": "memory"
	}`), 0o600))

	t.Setenv("RPC_URL", "http://env:8545")
	t.Setenv("PRIVATE_KEY", "0xabc")

	cfg, err := build(t, "--config-file", file, "--log-level", "debug")
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "http://env:8545", cfg.RPCURL)
	require.Equal(t, "0xabc", cfg.PrivateKey)
	require.Equal(t, storage.BackendMemory, cfg.StorageBackend)
	addr, ok := cfg.GetContractAddress()
	require.True(t, ok)
	require.Equal(t, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), addr)
}

func TestConfigFileFromEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"api-port": 8600}`), 0o600))
	t.Setenv(ConfigFileEnvKey, file)

	cfg, err := build(t)
	require.NoError(t, err)
	require.EqualValues(t, 8600, cfg.APIPort)
}

func TestMissingConfigFile(t *testing.T) {
	fs := BuildFlagSet()
	require.NoError(t, fs.Parse([]string{"--config-file", filepath.Join(t.TempDir(), "absent.json")}))
	_, err := BuildViper(fs)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			LogLevel:       "info",
			RPCURL:         network.LocalRPCURL,
			RelayerURL:     relayer.DefaultGatewayURL,
			StorageBackend: storage.BackendMemory,
			StoreCacheSize: 16,
			APIPort:        8545,
			MetricsPort:    9090,
		}
	}
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{name: "valid", modify: func(*Config) {}, ok: true},
		{name: "bad log level", modify: func(c *Config) { c.LogLevel = "loud" }},
		{name: "relative rpc url", modify: func(c *Config) { c.RPCURL = "localhost" }},
		{
			name: "public relayer ignores rpc url",
			modify: func(c *Config) {
				c.RPCURL = ""
				c.PublicRelayer = true
			},
			ok: true,
		},
		{name: "bad relayer url", modify: func(c *Config) { c.RelayerURL = "::" }},
		{name: "bad contract", modify: func(c *Config) { c.ContractAddress = "0x1234" }},
		{name: "unknown backend", modify: func(c *Config) { c.StorageBackend = "etcd" }},
		{
			name: "sqlite without path",
			modify: func(c *Config) {
				c.StorageBackend = storage.BackendSQLite
			},
		},
		{
			name: "redis without url",
			modify: func(c *Config) {
				c.StorageBackend = storage.BackendRedis
			},
		},
		{name: "zero cache size", modify: func(c *Config) { c.StoreCacheSize = 0 }},
		{name: "port collision", modify: func(c *Config) { c.MetricsPort = c.APIPort }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestRelayerConfig(t *testing.T) {
	cfg := Config{RelayerURL: "http://localhost:8600"}
	rc := cfg.RelayerConfig()
	require.Equal(t, "http://localhost:8600", rc.GatewayURL)
	require.EqualValues(t, network.PublicTestnetChainID, rc.ChainID)
}
