// Command qbench retrieves simulated measurement outcomes from a local
// benchmark dataset and manages the datasets themselves.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"qbenchsim/services/config"
	"qbenchsim/services/dataset"
	"qbenchsim/services/engine"
)

// app holds what every subcommand shares once flags are parsed.
type app struct {
	datasetsPath string
	dataset      string
	logLevel     string

	cfg    *config.Config
	logger *zap.Logger
	engine *engine.Engine
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("datasets-path") {
		cfg.Engine.DatasetsPath = a.datasetsPath
	}
	if cmd.Flags().Changed("dataset") {
		cfg.Engine.Dataset = a.dataset
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	a.engine = engine.New(cfg.EngineConfig(), engine.WithLogger(logger))
	return nil
}

func (a *app) catalog() *dataset.Catalog {
	return dataset.NewCatalog(a.cfg.Engine.DatasetsPath,
		dataset.NewIndexCache(a.cfg.Dataset.IndexCapacity, a.cfg.Dataset.IndexTTL), a.logger)
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "qbench",
		Short:         "Replay recorded quantum benchmark outcomes",
		Long:          "qbench serves measurement outcomes from recorded execution histories, as if a circuit had been run on the recorded backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.datasetsPath, "datasets-path", "", "root directory of installed datasets (default $DATASETS_PATH or ./datasets)")
	root.PersistentFlags().StringVar(&a.dataset, "dataset", "", "dataset name (default $DATASET_NAME or \"dataset\")")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (default $QBENCH_LOG_LEVEL or info)")

	root.AddCommand(newFetchCmd(a))
	root.AddCommand(newIndexCmd(a))
	root.AddCommand(newDownloadCmd(a))
	root.AddCommand(newBackendCmd(a))
	root.AddCommand(newCircuitCmd(a))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "qbench:", err)
		stop()
		os.Exit(1)
	}
}
