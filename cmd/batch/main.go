package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/civic-sage/backend/internal/bootstrap"
	"github.com/civic-sage/backend/internal/metrics"
	"github.com/civic-sage/backend/pkg/config"
	"github.com/civic-sage/backend/pkg/logger"
)

var (
	configPath string

	cfg    *config.Config
	closer = &bootstrap.Closer{}
)

var rootCmd = &cobra.Command{
	Use:   "civic-sage-batch",
	Short: "Offline jobs for the Civic Sage backend",
	Long: `Offline jobs for the Civic Sage backend.

  civic-sage-batch aggregate                 # build this month's tables for every official
  civic-sage-batch ingest docs.yaml          # add documents to the knowledge base
  civic-sage-batch evaluate key_facts.yaml   # run the key-facts evaluation
  civic-sage-batch seed-geography            # load officials and wards into neo4j`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		metrics.Init()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closer.Close()
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: ./config/config.yaml)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		closer.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
