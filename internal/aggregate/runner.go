package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/cache/redis"
	"github.com/civic-sage/backend/internal/charts"
	"github.com/civic-sage/backend/internal/geo"
	"github.com/civic-sage/backend/internal/metrics"
	"github.com/civic-sage/backend/internal/storage/models"
	"github.com/civic-sage/backend/pkg/logger"
)

type RecordSource interface {
	SessionsByOfficial(ctx context.Context, official string, from, to time.Time) ([]models.SessionRecord, error)
	ReportsByOfficial(ctx context.Context, official string, from, to time.Time) ([]models.MessageReport, error)
}

type Lease interface {
	AcquireLease(ctx context.Context, name string, ttl time.Duration) (string, error)
	ReleaseLease(ctx context.Context, name, token string) error
}

// Runner loads an official's month, builds the tables and hands them to the
// sink.
type Runner struct {
	agg      *Aggregator
	records  RecordSource
	geo      geo.Store
	sink     charts.Sink
	lease    Lease
	leaseTTL time.Duration
}

func NewRunner(agg *Aggregator, records RecordSource, geography geo.Store, sink charts.Sink) *Runner {
	return &Runner{agg: agg, records: records, geo: geography, sink: sink}
}

// WithLease makes runs for the same official mutually exclusive across
// workers.
func (r *Runner) WithLease(l Lease, ttl time.Duration) *Runner {
	r.lease = l
	r.leaseTTL = ttl
	return r
}

// RunAll aggregates every known official. One official failing does not stop
// the others.
func (r *Runner) RunAll(ctx context.Context, now time.Time) error {
	officials, err := r.geo.Officials(ctx)
	if err != nil {
		return fmt.Errorf("failed to list officials: %w", err)
	}

	var errs []error
	for _, o := range officials {
		if err := r.Run(ctx, o.Name, now); err != nil {
			logger.Error("Aggregation failed", zap.String("official", o.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", o.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) Run(ctx context.Context, officialName string, now time.Time) error {
	official, err := r.geo.Official(ctx, officialName)
	if err != nil {
		return err
	}

	if r.lease != nil {
		token, err := r.lease.AcquireLease(ctx, "aggregate:"+official.Name, r.leaseTTL)
		if errors.Is(err, redis.ErrLeaseHeld) {
			logger.Info("Aggregation already running elsewhere, skipping", zap.String("official", official.Name))
			return nil
		}
		if err != nil {
			return err
		}
		defer func() {
			if err := r.lease.ReleaseLease(context.WithoutCancel(ctx), "aggregate:"+official.Name, token); err != nil {
				logger.Warn("Failed to release aggregation lease", zap.Error(err))
			}
		}()
	}

	month := MonthOf(now.In(r.agg.location))
	in := &Input{Official: official, Month: month}

	in.Wards, err = r.geo.Wards(ctx, official.Constituency)
	if err != nil {
		logger.Warn("No ward list, ward tables will only hold the outside row",
			zap.String("constituency", official.Constituency),
			zap.Error(err),
		)
	}

	// Pad the range by a day either side so that records whose local date
	// differs from their UTC timestamp are not lost; Build filters by month.
	from, to := month.Start.AddDate(0, 0, -1), month.End().AddDate(0, 0, 1)
	if in.Sessions, err = r.records.SessionsByOfficial(ctx, official.Name, from, to); err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}
	if in.Reports, err = r.records.ReportsByOfficial(ctx, official.Name, from, to); err != nil {
		return fmt.Errorf("failed to load reports: %w", err)
	}

	tables, err := r.agg.Build(ctx, in)
	if err != nil {
		return err
	}

	var errs []error
	for _, t := range tables {
		if err := r.sink.Write(ctx, official.Name, t); err != nil {
			metrics.AggregationTables.WithLabelValues(t.Name, "error").Inc()
			errs = append(errs, fmt.Errorf("table %s: %w", t.Name, err))
			continue
		}
		metrics.AggregationTables.WithLabelValues(t.Name, "ok").Inc()
	}

	logger.Info("Monthly aggregation complete",
		zap.String("official", official.Name),
		zap.String("month", month.Start.Format("2006-01")),
		zap.Int("sessions", len(in.Sessions)),
		zap.Int("reports", len(in.Reports)),
		zap.Int("tables", len(tables)-len(errs)),
	)
	return errors.Join(errs...)
}
