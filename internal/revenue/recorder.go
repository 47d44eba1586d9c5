package revenue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lumina-photos/lumina-backend/internal/catalog"
	"github.com/lumina-photos/lumina-backend/pkg/db/models"
	"github.com/lumina-photos/lumina-backend/pkg/enums"
	pkgerrors "github.com/lumina-photos/lumina-backend/pkg/errors"
	"github.com/lumina-photos/lumina-backend/pkg/logger"
	"github.com/lumina-photos/lumina-backend/pkg/metrics"
)

const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// SplitLookup resolves the organization percentage for a campaign.
type SplitLookup interface {
	OrganizationSplit(ctx context.Context, campaignID string) (*catalog.OrganizationSplit, error)
}

// txScopedLookup is implemented by lookups that can read inside the caller's transaction.
type txScopedLookup interface {
	WithTx(tx *gorm.DB) catalog.Repository
}

// Result describes what RecordIfAbsent did for one purchase.
type Result struct {
	PurchaseID uuid.UUID
	Created    bool
	Share      *models.RevenueShare
}

// Recorder writes at most one revenue share per completed purchase.
type Recorder interface {
	RecordIfAbsent(ctx context.Context, tx *gorm.DB, purchase models.Purchase) (Result, error)
}

// RecorderParams wires a Recorder.
type RecorderParams struct {
	Repo       Repository
	Lookup     SplitLookup
	Calculator Calculator
	Logger     *logger.Logger
	Metrics    *metrics.CheckoutMetrics
}

type recorder struct {
	repo    Repository
	lookup  SplitLookup
	calc    Calculator
	logg    *logger.Logger
	metrics *metrics.CheckoutMetrics
}

func NewRecorder(params RecorderParams) (Recorder, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("revenue share repository required")
	}
	if params.Lookup == nil {
		return nil, fmt.Errorf("split lookup required")
	}
	return &recorder{
		repo:    params.Repo,
		lookup:  params.Lookup,
		calc:    params.Calculator,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

// RecordIfAbsent splits the purchase's net amount. An existing share for the
// purchase is a successful no-op. tx may be nil outside a transaction.
func (r *recorder) RecordIfAbsent(ctx context.Context, tx *gorm.DB, purchase models.Purchase) (Result, error) {
	result := Result{PurchaseID: purchase.ID}
	if purchase.ID == uuid.Nil {
		return result, pkgerrors.New(pkgerrors.CodeValidation, "purchase id is required")
	}
	if purchase.Status != enums.PurchaseStatusCompleted {
		return result, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("purchase %s is %s, not completed", purchase.ID, purchase.Status))
	}

	repo := r.repo.WithTx(tx)
	exists, err := repo.ExistsForPurchase(ctx, purchase.ID)
	if err != nil {
		r.metrics.IncShare(OutcomeFailed)
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check revenue share")
	}
	if exists {
		r.metrics.IncShare(OutcomeDuplicate)
		return result, nil
	}

	lookup := r.lookup
	if scoped, ok := lookup.(txScopedLookup); ok && tx != nil {
		lookup = scoped.WithTx(tx)
	}

	var org *catalog.OrganizationSplit
	if purchase.CampaignID != nil {
		org, err = lookup.OrganizationSplit(ctx, *purchase.CampaignID)
		if err != nil {
			r.metrics.IncShare(OutcomeFailed)
			return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load organization split")
		}
	}

	split := r.calc.Compute(purchase.NetAmount(), organizationPercentage(org))

	share := &models.RevenueShare{
		PurchaseID:             purchase.ID,
		SaleAmount:             split.SaleAmount,
		PlatformPercentage:     split.PlatformPercentage,
		OrganizationPercentage: split.OrganizationPercentage,
		PlatformAmount:         split.PlatformAmount,
		OrganizationAmount:     split.OrganizationAmount,
		PhotographerAmount:     split.PhotographerAmount,
		SplitInconsistent:      split.Inconsistent,
	}
	if org != nil {
		share.OrganizationID = &org.OrganizationID
	}

	if split.Inconsistent && r.logg != nil {
		logCtx := r.logg.WithFields(ctx, map[string]any{
			"purchase_id":             purchase.ID.String(),
			"organization_id":         share.OrganizationID,
			"organization_percentage": split.OrganizationPercentage.String(),
			"platform_percentage":     split.PlatformPercentage.String(),
		})
		r.logg.Error(logCtx, "revenue_share.split_inconsistent", fmt.Errorf("organization and platform percentages exceed 100"))
	}

	created, err := repo.Insert(ctx, share)
	if err != nil {
		r.metrics.IncShare(OutcomeFailed)
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert revenue share")
	}
	if !created {
		r.metrics.IncShare(OutcomeDuplicate)
		return result, nil
	}

	r.metrics.IncShare(OutcomeCreated)
	result.Created = true
	result.Share = share
	return result, nil
}

func organizationPercentage(org *catalog.OrganizationSplit) decimal.Decimal {
	if org == nil {
		return decimal.Zero
	}
	return org.AdminPercentage
}
