package payloads

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumina-photos/lumina-backend/pkg/enums"
)

// PurchaseSettledEvent is emitted when a purchase leaves pending, as
// purchase_completed or purchase_failed.
type PurchaseSettledEvent struct {
	PurchaseID       uuid.UUID            `json:"purchase_id"`
	ItemID           string               `json:"item_id"`
	BuyerID          string               `json:"buyer_id"`
	SellerID         string               `json:"seller_id"`
	Method           enums.PaymentMethod  `json:"payment_method"`
	Status           enums.PurchaseStatus `json:"status"`
	GatewayPaymentID string               `json:"gateway_payment_id,omitempty"`
	Amount           decimal.Decimal      `json:"amount"`
	DiscountAmount   decimal.Decimal      `json:"discount_amount"`
	Share            *RevenueShareSummary `json:"revenue_share,omitempty"`
}

// RevenueShareSummary is the split recorded alongside a completed purchase.
type RevenueShareSummary struct {
	OrganizationID     *string         `json:"organization_id,omitempty"`
	PlatformAmount     decimal.Decimal `json:"platform_amount"`
	OrganizationAmount decimal.Decimal `json:"organization_amount"`
	PhotographerAmount decimal.Decimal `json:"photographer_amount"`
}
