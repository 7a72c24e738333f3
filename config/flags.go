// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"github.com/spf13/pflag"
)

// BuildFlagSet returns the flags shared by every command. Defaults live in
// SetDefaultConfigValues so that the config file and the environment can
// override them.
func BuildFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("manuscript", pflag.ContinueOnError)
	fs.String(ConfigFileKey, "", "Specifies the JSON config file")
	fs.String(LogLevelKey, "", "Log level: debug, info, warn or error")
	fs.String(RPCURLKey, "", "JSON-RPC endpoint of the chain")
	fs.Bool(PublicRelayerKey, false, "Use the public relayer network without a node connection")
	fs.String(RelayerURLKey, "", "Base URL of the relayer gateway")
	fs.String(PrivateKeyKey, "", "Hex private key of the signing account")
	fs.String(ContractAddressKey, "", "Overrides the manuscript contract address of the chain")
	fs.Uint64(TxInclusionTimeoutSecondsKey, 0, "Seconds to wait for a submission to be included")
	fs.Uint64(KeyTTLSecondsKey, 0, "Seconds relayer key material is cached for")
	fs.String(StorageBackendKey, "", "Store for decryption signatures and public keys: memory, sqlite or redis")
	fs.String(StoragePathKey, "", "Database file of the sqlite store")
	fs.String(RedisURLKey, "", "redis:// URL of the redis store")
	fs.String(RedisPrefixKey, "", "Key prefix of the redis store")
	fs.Int(StoreCacheSizeKey, 0, "Entries held by the memory store")
	fs.Uint64(ChainIDKey, 0, "Chain id served by devnode and gateway")
	fs.Uint16(APIPortKey, 0, "Port devnode and gateway listen on")
	fs.Uint16(MetricsPortKey, 0, "Port metrics and health are served on")
	return fs
}
