package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumina-photos/lumina-backend/pkg/config"
	"github.com/lumina-photos/lumina-backend/pkg/db/models"
	"github.com/lumina-photos/lumina-backend/pkg/logger"
	"github.com/lumina-photos/lumina-backend/pkg/metrics"
	"github.com/lumina-photos/lumina-backend/pkg/outbox"
	"github.com/lumina-photos/lumina-backend/pkg/pubsub"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultMaxAttempts    = 10
	defaultPublishTimeout = 15 * time.Second
	maxIdleBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type database interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type eventStore interface {
	Claim(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(tx *gorm.DB, id uuid.UUID, at time.Time) error
	RecordFailure(tx *gorm.DB, id uuid.UUID, cause error, park bool, maxAttempts int) error
}

type sink interface {
	Ping(context.Context) error
	Publish(context.Context, pubsub.Message) (string, error)
	Topic() string
}

type RelayParams struct {
	Config         config.OutboxConfig
	Logger         *logger.Logger
	DB             database
	Store          eventStore
	Sink           sink
	Metrics        *metrics.OutboxMetrics
	PublishTimeout time.Duration
}

// Relay moves outbox rows to Pub/Sub. Rows are claimed in a transaction,
// published one by one and marked in the same transaction, so a crash
// mid-batch republishes at most that batch.
type Relay struct {
	logg           *logger.Logger
	db             database
	store          eventStore
	sink           sink
	metrics        *metrics.OutboxMetrics
	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	publishTimeout time.Duration
	now            func() time.Time
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Store == nil:
		return nil, errors.New("outbox repository is required")
	case params.Sink == nil:
		return nil, errors.New("pubsub sink is required")
	}
	r := &Relay{
		logg:           params.Logger,
		db:             params.DB,
		store:          params.Store,
		sink:           params.Sink,
		metrics:        params.Metrics,
		batchSize:      orDefault(params.Config.BatchSize, defaultBatchSize),
		maxAttempts:    orDefault(params.Config.MaxAttempts, defaultMaxAttempts),
		pollInterval:   time.Duration(params.Config.PollIntervalMS) * time.Millisecond,
		publishTimeout: params.PublishTimeout,
		now:            time.Now,
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	if r.publishTimeout <= 0 {
		r.publishTimeout = defaultPublishTimeout
	}
	return r, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Run polls until ctx is canceled. A full batch is followed immediately by
// the next one; empty polls and errors back off up to maxIdleBackoff.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	if err := r.sink.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping: %w", err)
	}

	wait := r.pollInterval
	for {
		n, err := r.drain(ctx)
		switch {
		case err != nil:
			r.metrics.IncPoll("error")
			r.logg.Error(ctx, "outbox.batch_failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case n >= r.batchSize:
			r.metrics.IncPoll("events")
			wait = r.pollInterval
			continue
		case n > 0:
			r.metrics.IncPoll("events")
			wait = r.pollInterval
		default:
			r.metrics.IncPoll("empty")
		}

		timer := time.NewTimer(wait + rand.N(jitterWindow))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// drain handles one claimed batch and returns how many rows it saw.
func (r *Relay) drain(ctx context.Context) (int, error) {
	var claimed int
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.store.Claim(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim: %w", err)
		}
		claimed = len(rows)
		for _, row := range rows {
			if err := r.relay(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

// relay publishes one row and records the outcome. Only bookkeeping errors
// are returned; publish failures are stored on the row.
func (r *Relay) relay(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) error {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    row.EventType,
		"aggregate_id":  row.AggregateID.String(),
		"attempt_count": row.AttemptCount,
	})

	serverID, cause := r.publish(ctx, row)
	if cause == nil {
		if err := r.store.MarkPublished(tx, row.ID, r.now()); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.metrics.ObserveEvent(string(row.EventType), metrics.OutboxPublished, row.CreatedAt)
		r.logg.Info(r.logg.WithField(ctx, "message_id", serverID), "outbox.event_published")
		return nil
	}

	var perm permanentError
	permanent := errors.As(cause, &perm)
	attempted := row
	attempted.AttemptCount++
	park := permanent || attempted.Parked(r.maxAttempts)
	if err := r.store.RecordFailure(tx, row.ID, cause, park, r.maxAttempts); err != nil {
		return fmt.Errorf("record failure %s: %w", row.ID, err)
	}
	ctx = r.logg.WithField(ctx, "error", cause.Error())
	if park {
		r.metrics.ObserveEvent(string(row.EventType), metrics.OutboxParked, row.CreatedAt)
		r.logg.Warn(r.logg.WithField(ctx, "permanent", permanent), "outbox.event_parked")
		return nil
	}
	r.metrics.ObserveEvent(string(row.EventType), metrics.OutboxRetried, row.CreatedAt)
	r.logg.Warn(ctx, "outbox.publish_failed")
	return nil
}

// permanentError marks failures another attempt cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func (r *Relay) publish(ctx context.Context, row models.OutboxEvent) (string, error) {
	env, err := outbox.Decode(row.Payload)
	if err != nil {
		return "", permanentError{err}
	}
	publishCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()
	id, err := r.sink.Publish(publishCtx, pubsub.Message{
		Data:       row.Payload,
		Attributes: outbox.Attributes(row, env),
	})
	if err != nil {
		err = fmt.Errorf("publish to %s: %w", r.sink.Topic(), err)
		if pubsub.IsPermanent(err) {
			return "", permanentError{err}
		}
		return "", err
	}
	return id, nil
}
