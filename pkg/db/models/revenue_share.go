package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RevenueShare is the recorded three-way split of a completed purchase.
type RevenueShare struct {
	ID                     uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	PurchaseID             uuid.UUID       `gorm:"column:purchase_id;type:uuid;not null;uniqueIndex:ux_revenue_shares_purchase"`
	OrganizationID         *string         `gorm:"column:organization_id"`
	SaleAmount             decimal.Decimal `gorm:"column:sale_amount;type:numeric(12,2);not null"`
	PlatformPercentage     decimal.Decimal `gorm:"column:platform_percentage;type:numeric(5,2);not null"`
	OrganizationPercentage decimal.Decimal `gorm:"column:organization_percentage;type:numeric(5,2);not null;default:0"`
	PlatformAmount         decimal.Decimal `gorm:"column:platform_amount;type:numeric(12,2);not null"`
	OrganizationAmount     decimal.Decimal `gorm:"column:organization_amount;type:numeric(12,2);not null;default:0"`
	PhotographerAmount     decimal.Decimal `gorm:"column:photographer_amount;type:numeric(12,2);not null"`
	SplitInconsistent      bool            `gorm:"column:split_inconsistent;not null;default:false"`
	CreatedAt              time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (RevenueShare) TableName() string { return "revenue_shares" }

func (r *RevenueShare) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
