// Command driversynth synthesizes fuzz drivers from an API catalog and its
// access contracts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"driversynth/internal/config"
	"driversynth/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	timeout    time.Duration
	inputs     struct{ catalog, contracts, layout string }

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "driversynth",
	Short: "Type-directed fuzz driver synthesis",
	Long: `driversynth builds fuzz drivers for a C library from three inputs:
  - a catalog of API signatures
  - per-API access contracts (what each call reads, writes, creates, deletes)
  - a data layout table (type sizes and struct names)

Calls are chained so that every pointer argument receives a value some
earlier call produced in a compatible state.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		applyInputFlags(cfg)

		if err := logging.Initialize(cfg.Logging.Dir, cfg.LoggingSettings()); err != nil {
			logger.Warn("category logging disabled", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// applyInputFlags lets --catalog, --contracts and --layout win over the file.
func applyInputFlags(c *config.Config) {
	if inputs.catalog != "" {
		c.Inputs.Catalog = inputs.catalog
	}
	if inputs.contracts != "" {
		c.Inputs.Contracts = inputs.contracts
	}
	if inputs.layout != "" {
		c.Inputs.Layout = inputs.layout
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(base context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(base, syscall.SIGINT, syscall.SIGTERM)
}

// commandContext returns a context bounded by --timeout and cancelled on
// SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	ctx, stop := signalContext(base)
	if timeout <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	return tctx, func() {
		cancel()
		stop()
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Operation timeout (0 for none)")
	rootCmd.PersistentFlags().StringVar(&inputs.catalog, "catalog", "", "API catalog (JSON or JSONL)")
	rootCmd.PersistentFlags().StringVar(&inputs.contracts, "contracts", "", "Access contracts (JSON)")
	rootCmd.PersistentFlags().StringVar(&inputs.layout, "layout", "", "Data layout table (YAML)")

	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(grammarCmd)
	rootCmd.AddCommand(synthCmd)
	rootCmd.AddCommand(kbCmd)
	rootCmd.AddCommand(corpusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
