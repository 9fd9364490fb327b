package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/bootstrap"
	cacheredis "github.com/civic-sage/backend/internal/cache/redis"
	"github.com/civic-sage/backend/internal/storage/sqlite"
	"github.com/civic-sage/backend/pkg/logger"
)

var (
	aggregateOfficial string
	aggregateMonth    string
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Build the monthly dashboard tables",
	Long: `Build the monthly dashboard tables from stored session records and
message reports. Without --month the current month is used; --month takes
YYYY-MM and rebuilds that month.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		now := time.Now()
		if aggregateMonth != "" {
			loc, err := bootstrap.Location(cfg)
			if err != nil {
				return err
			}
			m, err := time.ParseInLocation("2006-01", aggregateMonth, loc)
			if err != nil {
				return fmt.Errorf("invalid --month %q: %w", aggregateMonth, err)
			}
			now = m
		}

		var rdb *cacheredis.Client
		if cfg.Storage.Backend == "redis" || cfg.Aggregation.Sink == "redis" {
			var err error
			if rdb, err = bootstrap.Redis(cfg, closer); err != nil {
				return err
			}
		}
		var db *sqlite.Client
		if cfg.Storage.Backend == "sqlite" {
			var err error
			if db, err = bootstrap.SQLite(cfg, closer); err != nil {
				return err
			}
		}

		records, err := bootstrap.RecordStore(cfg, rdb, db)
		if err != nil {
			return err
		}
		geography, err := bootstrap.Geography(ctx, cfg, closer)
		if err != nil {
			return err
		}
		sink, err := bootstrap.Charts(cfg, rdb)
		if err != nil {
			return err
		}
		runner, err := bootstrap.Aggregator(cfg, records, geography, sink, rdb)
		if err != nil {
			return err
		}

		if aggregateOfficial != "" {
			return runner.Run(ctx, aggregateOfficial, now)
		}

		logger.Info("Aggregating all officials", zap.Time("reference", now))
		return runner.RunAll(ctx, now)
	},
}

func init() {
	aggregateCmd.Flags().StringVar(&aggregateOfficial, "official", "", "only aggregate this official")
	aggregateCmd.Flags().StringVar(&aggregateMonth, "month", "", "month to aggregate, YYYY-MM")
	rootCmd.AddCommand(aggregateCmd)
}
