// Copyright (C) 2019-2025, Lux Industries Inc All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/luxfi/manuscript/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

var (
	cfg    config.Config
	logger = zap.NewNop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "manuscript",
	Short: "Encrypted manuscript ledger client",
	Long: `manuscript stores text on a ledger contract as one FHE ciphertext handle per
byte and decrypts it again for its author.

It also runs a development node with a simulated FHE coprocessor and a
standalone relayer gateway.

` + config.UsageText(),
	Version:      fmt.Sprintf("%s (built %s)", version, buildDate),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		v, err := config.BuildViper(cmd.Flags())
		if err != nil {
			return fmt.Errorf("couldn't configure flags: %w", err)
		}
		if cfg, err = config.NewConfig(v); err != nil {
			return fmt.Errorf("couldn't build config: %w", err)
		}
		if logger, err = newLogger(cfg.LogLevel); err != nil {
			return fmt.Errorf("couldn't build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().AddFlagSet(config.BuildFlagSet())

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(totalCmd)
	rootCmd.AddCommand(devnodeCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(versionCmd)
}

// newLogger writes JSON logs to stderr so command output stays on stdout.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	zc.Sampling = nil
	return zc.Build(zap.Fields(zap.String("app", "manuscript")))
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "manuscript %s (built %s)\n", version, buildDate)
	},
}
