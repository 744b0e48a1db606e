package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/plates/internal/config"
	"github.com/Brownie44l1/plates/internal/logging"
)

var (
	configPath string
	dataDir    string
	workers    int
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "plates",
	Short: "Prepare license plate images and classify them by state",
	Long: `plates turns a manifest of labeled license plate images into normalized
arrays for training, and classifies new images with an exported ONNX model
using the same preprocessing.

The data directory holds the manifest (plates/plates.csv), the images and
every artifact written by prepare.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("data") {
			cfg.DataDir = dataDir
		}
		if cmd.Flags().Changed("workers") {
			cfg.Workers = workers
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err = logging.New(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "plates.yaml", "Config file (defaults apply when missing)")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data", "d", "data", "Data directory")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "j", 0, "Parallel workers (default: GOMAXPROCS)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(prepareCmd, inferenceCmd, evaluateCmd, serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		reportError(err)
		stop()
		os.Exit(1)
	}
}

// reportError logs err once the logger exists; errors from flag parsing or
// config loading happen before that and go to stderr.
func reportError(err error) {
	if logger == nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return
	}
	logger.Error("command failed", zap.Error(err))
	_ = logger.Sync()
}
