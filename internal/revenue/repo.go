package revenue

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumina-photos/lumina-backend/pkg/db"
	"github.com/lumina-photos/lumina-backend/pkg/db/models"
	"github.com/lumina-photos/lumina-backend/pkg/enums"
)

const uniquePurchaseConstraint = "ux_revenue_shares_purchase"

// Repository manages persistence for revenue shares.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ExistsForPurchase(ctx context.Context, purchaseID uuid.UUID) (bool, error)
	// Insert writes share unless one already exists for the purchase and
	// reports whether a row was created.
	Insert(ctx context.Context, share *models.RevenueShare) (bool, error)
	FindByPurchaseID(ctx context.Context, purchaseID uuid.UUID) (*models.RevenueShare, error)
	ListCompletedWithoutShare(ctx context.Context, limit int) ([]models.Purchase, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a revenue share repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ExistsForPurchase(ctx context.Context, purchaseID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.RevenueShare{}).
		Where("purchase_id = ?", purchaseID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) Insert(ctx context.Context, share *models.RevenueShare) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "purchase_id"}},
			DoNothing: true,
		}).
		Create(share)
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error, uniquePurchaseConstraint) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindByPurchaseID(ctx context.Context, purchaseID uuid.UUID) (*models.RevenueShare, error) {
	var share models.RevenueShare
	if err := r.db.WithContext(ctx).
		Where("purchase_id = ?", purchaseID).
		First(&share).Error; err != nil {
		return nil, err
	}
	return &share, nil
}

// ListCompletedWithoutShare returns completed purchases that have no revenue
// share yet, oldest first.
func (r *repository) ListCompletedWithoutShare(ctx context.Context, limit int) ([]models.Purchase, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Purchase
	if err := r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("status = ?", enums.PurchaseStatusCompleted).
		Where("NOT EXISTS (SELECT 1 FROM revenue_shares rs WHERE rs.purchase_id = purchases.id)").
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
