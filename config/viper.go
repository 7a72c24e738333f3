// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"fmt"
	"strings"

	"github.com/luxfi/manuscript/fhe/relayer"
	"github.com/luxfi/manuscript/network"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func NewConfig(v *viper.Viper) (Config, error) {
	cfg, err := BuildConfig(v)
	if err != nil {
		return cfg, err
	}
	if err = cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("failed to validate configuration: %w", err)
	}
	return cfg, nil
}

// BuildViper binds [fs] and the environment. A JSON config file is read when
// one is named by flag or by the CONFIG_FILE environment variable.
func BuildViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()
	// Flags are capitalized and hyphens become underscores in env var names.
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	if err := v.BindEnv(ConfigFileKey, ConfigFileEnvKey); err != nil {
		return nil, err
	}

	if filename := v.GetString(ConfigFileKey); filename != "" {
		v.SetConfigFile(filename)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
		}
	}
	return v, nil
}

func SetDefaultConfigValues(v *viper.Viper) {
	v.SetDefault(LogLevelKey, defaultLogLevel)
	v.SetDefault(RPCURLKey, network.LocalRPCURL)
	v.SetDefault(RelayerURLKey, relayer.DefaultGatewayURL)
	v.SetDefault(TxInclusionTimeoutSecondsKey, defaultTxInclusionTimeoutSeconds)
	v.SetDefault(KeyTTLSecondsKey, defaultKeyTTLSeconds)
	v.SetDefault(StorageBackendKey, defaultStorageBackend)
	v.SetDefault(StoragePathKey, defaultStoragePath)
	v.SetDefault(RedisPrefixKey, defaultRedisPrefix)
	v.SetDefault(StoreCacheSizeKey, defaultStoreCacheSize)
	v.SetDefault(ChainIDKey, defaultChainID)
	v.SetDefault(APIPortKey, defaultAPIPort)
	v.SetDefault(MetricsPortKey, defaultMetricsPort)
}

// BuildConfig constructs the config using Viper.
// The following precedence order is used. Each item takes precedence over the item below it:
//  1. Flags
//  2. Environment
//  3. Config file
//  4. Defaults
func BuildConfig(v *viper.Viper) (Config, error) {
	SetDefaultConfigValues(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal viper config: %w", err)
	}
	return cfg, nil
}
