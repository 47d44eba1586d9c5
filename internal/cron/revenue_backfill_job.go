package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/lumina-photos/lumina-backend/internal/revenue"
	"github.com/lumina-photos/lumina-backend/pkg/db/models"
	"github.com/lumina-photos/lumina-backend/pkg/logger"
	"github.com/lumina-photos/lumina-backend/pkg/metrics"
)

const revenueBackfillJobName = "revenue-share-backfill"

type shareGapLister interface {
	ListCompletedWithoutShare(ctx context.Context, limit int) ([]models.Purchase, error)
}

type RevenueBackfillJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Shares     shareGapLister
	Recorder   revenue.Recorder
	Metrics    *metrics.CronJobMetrics
	BatchLimit int
}

type revenueBackfillJob struct {
	logg     *logger.Logger
	db       txRunner
	shares   shareGapLister
	recorder revenue.Recorder
	metrics  *metrics.CronJobMetrics
	limit    int
}

// NewRevenueBackfillJob records shares for completed purchases whose share
// write was skipped, e.g. when the organization lookup failed at settle time.
func NewRevenueBackfillJob(params RevenueBackfillJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Shares == nil {
		return nil, fmt.Errorf("revenue share repository required")
	}
	if params.Recorder == nil {
		return nil, fmt.Errorf("revenue share recorder required")
	}
	return &revenueBackfillJob{
		logg:     params.Logger,
		db:       params.DB,
		shares:   params.Shares,
		recorder: params.Recorder,
		metrics:  params.Metrics,
		limit:    params.BatchLimit,
	}, nil
}

func (j *revenueBackfillJob) Name() string { return revenueBackfillJobName }

func (j *revenueBackfillJob) Run(ctx context.Context) error {
	rows, err := j.shares.ListCompletedWithoutShare(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("list purchases without share: %w", err)
	}

	var (
		errs    error
		created int
	)
	for _, row := range rows {
		row := row
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			res, err := j.recorder.RecordIfAbsent(ctx, tx, row)
			if err != nil {
				return err
			}
			if res.Created {
				created++
			}
			return nil
		})
		if err != nil {
			// one bad row must not block the rest of the batch
			errs = multierr.Append(errs, fmt.Errorf("purchase %s: %w", row.ID, err))
		}
	}

	failed := len(multierr.Errors(errs))
	j.metrics.AddItems(j.Name(), "created", created)
	j.metrics.AddItems(j.Name(), "failed", failed)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(rows),
		"created":    created,
		"failed":     failed,
	}), "cron.revenue_backfill_summary")
	return errs
}
