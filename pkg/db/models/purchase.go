package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lumina-photos/lumina-backend/pkg/enums"
)

// Purchase is one buyer/photo pairing inside a checkout batch.
type Purchase struct {
	ID               uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	ItemID           string               `gorm:"column:item_id;not null"`
	BuyerID          string               `gorm:"column:buyer_id;not null"`
	SellerID         string               `gorm:"column:seller_id;not null"`
	CampaignID       *string              `gorm:"column:campaign_id"`
	Method           enums.PaymentMethod  `gorm:"column:payment_method;type:payment_method;not null"`
	Amount           decimal.Decimal      `gorm:"column:amount;type:numeric(12,2);not null"`
	DiscountAmount   decimal.Decimal      `gorm:"column:discount_amount;type:numeric(12,2);not null;default:0"`
	Status           enums.PurchaseStatus `gorm:"column:status;type:purchase_status;not null;default:'pending'"`
	GatewayReference *string              `gorm:"column:gateway_reference"`
	ReferenceKind    *enums.ReferenceKind `gorm:"column:reference_kind"`
	BatchTag         *string              `gorm:"column:batch_tag"`
	BatchSize        int                  `gorm:"column:batch_size;not null;default:0"`
	GatewayPaymentID *string              `gorm:"column:gateway_payment_id"`
	CompletedAt      *time.Time           `gorm:"column:completed_at"`
	CreatedAt        time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (Purchase) TableName() string { return "purchases" }

// BeforeCreate assigns the id when the caller did not pre-allocate one.
func (p *Purchase) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// NetAmount is what the buyer actually paid for this row after the cart discount.
func (p Purchase) NetAmount() decimal.Decimal {
	return p.Amount.Sub(p.DiscountAmount)
}
