// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package config

const (
	// Command line option keys
	ConfigFileKey = "config-file"

	// Environment variable keys
	ConfigFileEnvKey = "CONFIG_FILE"

	// Top-level configuration keys
	LogLevelKey                  = "log-level"
	RPCURLKey                    = "rpc-url"
	PublicRelayerKey             = "public-relayer"
	RelayerURLKey                = "relayer-url"
	PrivateKeyKey                = "private-key"
	ContractAddressKey           = "contract-address"
	TxInclusionTimeoutSecondsKey = "tx-inclusion-timeout-seconds"
	KeyTTLSecondsKey             = "key-ttl-seconds"

	// Storage keys
	StorageBackendKey = "storage-backend"
	StoragePathKey    = "storage-path"
	RedisURLKey       = "redis-url"
	RedisPrefixKey    = "redis-prefix"
	StoreCacheSizeKey = "store-cache-size"

	// Server keys, used by devnode and gateway
	ChainIDKey     = "chain-id"
	APIPortKey     = "api-port"
	MetricsPortKey = "metrics-port"
)
