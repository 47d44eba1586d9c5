package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lumina-photos/lumina-backend/pkg/logger"
	"github.com/lumina-photos/lumina-backend/pkg/metrics"
)

const defaultOutboxRetention = 30 * 24 * time.Hour

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxRetentionRepo
	Metrics    *metrics.CronJobMetrics
	Retention  time.Duration
	// MaxAttempts matches the publisher's limit; rows at it are reported as parked.
	MaxAttempts int
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
	CountParked(ctx context.Context, tx *gorm.DB, maxAttempts int) (int64, error)
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	repo        outboxRetentionRepo
	metrics     *metrics.CronJobMetrics
	retention   time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		metrics:     params.Metrics,
		retention:   params.Retention,
		maxAttempts: params.MaxAttempts,
		now:         time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	return job, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run purges delivered events past the retention window and reports how many
// rows the publisher parked. Undelivered rows are never deleted.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var deleted, parked int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if deleted, err = j.repo.DeletePublishedBefore(ctx, tx, cutoff); err != nil {
			return fmt.Errorf("delete published: %w", err)
		}
		if j.maxAttempts > 0 {
			if parked, err = j.repo.CountParked(ctx, tx, j.maxAttempts); err != nil {
				return fmt.Errorf("count parked: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}

	j.metrics.AddItems(j.Name(), "deleted", int(deleted))
	ctx = j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
		"rows_parked":  parked,
	})
	if parked > 0 {
		j.logg.Warn(ctx, "cron.outbox_parked_rows")
	}
	j.logg.Info(ctx, "cron.outbox_retention_summary")
	return nil
}
