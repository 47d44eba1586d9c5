package checkout

import (
	"github.com/lumina-photos/lumina-backend/pkg/db/models"
	"github.com/lumina-photos/lumina-backend/pkg/enums"
	"github.com/lumina-photos/lumina-backend/pkg/outbox"
	"github.com/lumina-photos/lumina-backend/pkg/outbox/payloads"
)

func settledEvent(row models.Purchase, paymentID, source string, share *models.RevenueShare) outbox.DomainEvent {
	eventType := enums.EventPurchaseFailed
	if row.Status == enums.PurchaseStatusCompleted {
		eventType = enums.EventPurchaseCompleted
	}

	data := payloads.PurchaseSettledEvent{
		PurchaseID:       row.ID,
		ItemID:           row.ItemID,
		BuyerID:          row.BuyerID,
		SellerID:         row.SellerID,
		Method:           row.Method,
		Status:           row.Status,
		GatewayPaymentID: paymentID,
		Amount:           row.Amount,
		DiscountAmount:   row.DiscountAmount,
	}
	if share != nil {
		data.Share = &payloads.RevenueShareSummary{
			OrganizationID:     share.OrganizationID,
			PlatformAmount:     share.PlatformAmount,
			OrganizationAmount: share.OrganizationAmount,
			PhotographerAmount: share.PhotographerAmount,
		}
	}

	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   row.ID,
		Actor:         &outbox.Actor{BuyerID: row.BuyerID, Source: source},
		Data:          data,
	}
}
