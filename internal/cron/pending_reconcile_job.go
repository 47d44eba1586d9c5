package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/multierr"

	"github.com/lumina-photos/lumina-backend/internal/checkout"
	"github.com/lumina-photos/lumina-backend/pkg/logger"
	"github.com/lumina-photos/lumina-backend/pkg/metrics"
)

const (
	pendingReconcileJobName = "pending-purchase-reconcile"
	defaultConcurrency      = 4
)

type pendingLister interface {
	ListPendingPaymentIDs(ctx context.Context, createdBefore, createdAfter time.Time, limit int) ([]string, error)
	ListUntaggedPendingReferences(ctx context.Context, createdBefore, createdAfter time.Time, limit int) ([]string, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, input checkout.ReconcileInput) (*checkout.ReconcileResult, error)
	ReconcileUntagged(ctx context.Context, storedReference string, abandonBefore time.Time) (*checkout.ReconcileResult, error)
}

type PendingReconcileJobParams struct {
	Logger     *logger.Logger
	Ledger     pendingLister
	Reconciler reconciler
	Metrics    *metrics.CronJobMetrics
	// MinAge leaves fresh rows to the buyer's poll and the webhook.
	MinAge       time.Duration
	Lookback     time.Duration
	AbandonAfter time.Duration
	BatchLimit   int
	// Concurrency caps gateway lookups in flight; the gateway client's own
	// rate limiter still applies.
	Concurrency int
}

type pendingReconcileJob struct {
	logg         *logger.Logger
	ledger       pendingLister
	reconciler   reconciler
	metrics      *metrics.CronJobMetrics
	minAge       time.Duration
	lookback     time.Duration
	abandonAfter time.Duration
	limit        int
	concurrency  int
	now          func() time.Time
}

func NewPendingReconcileJob(params PendingReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("purchase ledger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	job := &pendingReconcileJob{
		logg:         params.Logger,
		ledger:       params.Ledger,
		reconciler:   params.Reconciler,
		metrics:      params.Metrics,
		minAge:       params.MinAge,
		lookback:     params.Lookback,
		abandonAfter: params.AbandonAfter,
		limit:        params.BatchLimit,
		concurrency:  params.Concurrency,
		now:          func() time.Time { return time.Now().UTC() },
	}
	if job.concurrency <= 0 {
		job.concurrency = defaultConcurrency
	}
	return job, nil
}

func (j *pendingReconcileJob) Name() string { return pendingReconcileJobName }

// Run asks the gateway about every charge that still has pending rows, then
// handles rows whose charge id was never stored.
func (j *pendingReconcileJob) Run(ctx context.Context) error {
	now := j.now()
	createdBefore := now.Add(-j.minAge)
	var createdAfter time.Time
	if j.lookback > 0 {
		createdAfter = now.Add(-j.lookback)
	}

	paymentIDs, err := j.ledger.ListPendingPaymentIDs(ctx, createdBefore, createdAfter, j.limit)
	if err != nil {
		return fmt.Errorf("list pending payments: %w", err)
	}

	var (
		mu                  sync.Mutex
		errs                error
		settled, stillOpen  int
		abandoned, deferred int
	)
	err = j.fanOut(len(paymentIDs), func(i int) {
		paymentID := paymentIDs[i]
		res, err := j.reconciler.Reconcile(ctx, checkout.ReconcileInput{
			PaymentID: paymentID,
			Source:    checkout.SourceSweeper,
		})
		mu.Lock()
		defer mu.Unlock()
		if res != nil {
			settled += len(res.Transitioned)
			deferred += len(res.Deferred)
			if len(res.Transitioned) == 0 && len(res.Deferred) == 0 {
				stillOpen++
			}
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", paymentID, err))
		}
	})
	if err != nil {
		return err
	}

	refs, err := j.ledger.ListUntaggedPendingReferences(ctx, createdBefore, createdAfter, j.limit)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("list untagged references: %w", err))
	}
	var abandonBefore time.Time
	if j.abandonAfter > 0 {
		abandonBefore = now.Add(-j.abandonAfter)
	}
	for _, ref := range refs {
		res, err := j.reconciler.ReconcileUntagged(ctx, ref, abandonBefore)
		if res != nil {
			if res.PaymentID != "" {
				settled += len(res.Transitioned)
			} else {
				abandoned += len(res.Transitioned)
			}
			deferred += len(res.Deferred)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reference %s: %w", ref, err))
		}
	}

	j.metrics.AddItems(j.Name(), "settled", settled)
	j.metrics.AddItems(j.Name(), "abandoned", abandoned)
	j.metrics.AddItems(j.Name(), "deferred", deferred)

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"payments":        len(paymentIDs),
		"untagged":        len(refs),
		"settled":         settled,
		"still_pending":   stillOpen,
		"abandoned":       abandoned,
		"deferred":        deferred,
		"failed_payments": len(multierr.Errors(errs)),
	}), "cron.pending_reconcile_summary")
	return errs
}

// fanOut calls fn for every index on a bounded pool and waits for all of them.
func (j *pendingReconcileJob) fanOut(n int, fn func(i int)) error {
	if n == 0 {
		return nil
	}
	pool, err := ants.NewPool(min(j.concurrency, n))
	if err != nil {
		return fmt.Errorf("reconcile pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			fn(i)
		}); err != nil {
			wg.Done()
			wg.Wait()
			return fmt.Errorf("submit reconcile task: %w", err)
		}
	}
	wg.Wait()
	return nil
}
