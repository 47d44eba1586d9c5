package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumina-photos/lumina-backend/api/middleware"
	"github.com/lumina-photos/lumina-backend/api/responses"
	"github.com/lumina-photos/lumina-backend/api/validators"
	checkoutsvc "github.com/lumina-photos/lumina-backend/internal/checkout"
	pkgcheckout "github.com/lumina-photos/lumina-backend/pkg/checkout"
	pkgerrors "github.com/lumina-photos/lumina-backend/pkg/errors"
	"github.com/lumina-photos/lumina-backend/pkg/enums"
	"github.com/lumina-photos/lumina-backend/pkg/logger"
)

const (
	actionBeginPix    = "begin-pix"
	actionBeginCard   = "begin-card"
	actionCheckStatus = "check-status"

	deviceIDHeader    = "X-Device-Id"
	maxDeviceIDLength = 128
)

type checkoutRequest struct {
	Action   string                `json:"action"`
	Items    []checkoutItemRequest `json:"items" validate:"omitempty,max=200,dive"`
	Buyer    *checkoutBuyerRequest `json:"buyer,omitempty"`
	Discount *checkoutDiscount     `json:"discount,omitempty"`

	CardToken    string `json:"cardToken,omitempty" validate:"max=256"`
	CardBrandID  string `json:"cardBrandId,omitempty" validate:"max=64"`
	IssuerID     string `json:"issuerId,omitempty" validate:"max=64"`
	Installments int    `json:"installments,omitempty" validate:"min=0,max=12"`

	PaymentID string `json:"paymentId,omitempty" validate:"max=64"`
}

type checkoutItemRequest struct {
	ID    string          `json:"id" validate:"required,max=64"`
	Price decimal.Decimal `json:"price"`
}

type checkoutBuyerRequest struct {
	Name    string `json:"name" validate:"max=120"`
	Surname string `json:"surname" validate:"max=120"`
	Email   string `json:"email" validate:"omitempty,email,max=254"`
	TaxID   string `json:"taxId" validate:"omitempty,taxid"`
}

type checkoutDiscount struct {
	Enabled    bool            `json:"enabled"`
	Percentage decimal.Decimal `json:"percentage"`
	Amount     decimal.Decimal `json:"amount"`
}

type checkoutQuoteResponse struct {
	Quantity           int             `json:"quantity"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
	DiscountAmount     decimal.Decimal `json:"discountAmount"`
	Total              decimal.Decimal `json:"total"`
}

type beginResponse struct {
	Success       bool                    `json:"success"`
	Status        string                  `json:"status"`
	GatewayStatus string                  `json:"gatewayStatus,omitempty"`
	PaymentID     string                  `json:"paymentId"`
	PurchaseIDs   []uuid.UUID             `json:"purchaseIds"`
	Quote         checkoutQuoteResponse   `json:"quote"`
	Pix           *checkoutsvc.PixPayload `json:"pix,omitempty"`
}

type checkStatusResponse struct {
	Success       bool        `json:"success"`
	Status        string      `json:"status"`
	GatewayStatus string      `json:"gatewayStatus,omitempty"`
	PaymentID     string      `json:"paymentId"`
	PurchaseIDs   []uuid.UUID `json:"purchaseIds"`
}

type rejectedResponse struct {
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	PaymentID string `json:"paymentId,omitempty"`
	Error     string `json:"error"`
	Code      string `json:"code"`
}

// Checkout serves the three checkout actions on one endpoint.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		buyerID := middleware.BuyerIDFromContext(ctx)
		if buyerID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer identity required"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		action := strings.ToLower(strings.TrimSpace(payload.Action))
		if logg != nil {
			ctx = logg.WithField(ctx, "checkout_action", action)
		}

		switch action {
		case actionBeginPix, actionBeginCard:
			input := payload.beginInput(buyerID, validators.SanitizeString(r.Header.Get(deviceIDHeader), maxDeviceIDLength))
			var (
				result *checkoutsvc.BeginResult
				err    error
			)
			if action == actionBeginPix {
				result, err = svc.BeginPix(ctx, input)
			} else {
				result, err = svc.BeginCard(ctx, input)
			}
			if err != nil {
				writeCheckoutError(ctx, logg, w, err)
				return
			}
			responses.WriteJSON(w, http.StatusOK, newBeginResponse(result))

		case actionCheckStatus:
			paymentID := strings.TrimSpace(payload.PaymentID)
			if paymentID == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "paymentId is required"))
				return
			}
			result, err := svc.CheckStatus(ctx, buyerID, paymentID)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if !result.Found {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found"))
				return
			}
			responses.WriteJSON(w, http.StatusOK, checkStatusResponse{
				Success:       true,
				Status:        statusLabel(result.Status),
				GatewayStatus: result.GatewayStatus,
				PaymentID:     result.PaymentID,
				PurchaseIDs:   nonNilIDs(result.PurchaseIDs),
			})

		default:
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown action").WithDetails(map[string]any{
				"action":  payload.Action,
				"allowed": []string{actionBeginPix, actionBeginCard, actionCheckStatus},
			}))
		}
	}
}

func (p checkoutRequest) beginInput(buyerID, deviceID string) checkoutsvc.BeginInput {
	input := checkoutsvc.BeginInput{
		BuyerID:  buyerID,
		Items:    make([]checkoutsvc.CartItem, len(p.Items)),
		DeviceID: deviceID,
	}
	for i, item := range p.Items {
		input.Items[i] = checkoutsvc.CartItem{ID: strings.TrimSpace(item.ID), Price: item.Price}
	}
	if p.Buyer != nil {
		input.Buyer = pkgcheckout.Buyer{
			Name:    p.Buyer.Name,
			Surname: p.Buyer.Surname,
			Email:   p.Buyer.Email,
			TaxID:   p.Buyer.TaxID,
		}
	}
	if p.Discount != nil {
		input.Discount = &checkoutsvc.DiscountClaim{
			Enabled:    p.Discount.Enabled,
			Percentage: p.Discount.Percentage,
			Amount:     p.Discount.Amount,
		}
	}
	if p.Action == actionBeginCard {
		input.Card = &checkoutsvc.CardInput{
			Token:        p.CardToken,
			BrandID:      p.CardBrandID,
			IssuerID:     p.IssuerID,
			Installments: p.Installments,
		}
	}
	return input
}

func newBeginResponse(result *checkoutsvc.BeginResult) beginResponse {
	if result == nil {
		return beginResponse{Success: true}
	}
	return beginResponse{
		Success:       true,
		Status:        statusLabel(result.Status),
		GatewayStatus: result.GatewayStatus,
		PaymentID:     result.PaymentID,
		PurchaseIDs:   nonNilIDs(result.PurchaseIDs),
		Quote: checkoutQuoteResponse{
			Quantity:           result.Quote.Quantity,
			Subtotal:           result.Quote.Subtotal,
			DiscountPercentage: result.Quote.DiscountPercentage,
			DiscountAmount:     result.Quote.DiscountAmount,
			Total:              result.Quote.Total,
		},
		Pix: result.Pix,
	}
}

// statusLabel renders the ledger status in the gateway vocabulary clients poll for.
func statusLabel(status enums.PurchaseStatus) string {
	switch status {
	case enums.PurchaseStatusCompleted:
		return "approved"
	case enums.PurchaseStatusFailed:
		return "rejected"
	default:
		return "pending"
	}
}

// writeCheckoutError flattens gateway rejections into the body clients already
// parse ({success:false, status:"rejected", paymentId, error}).
func writeCheckoutError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeRejected {
		responses.WriteError(ctx, logg, w, err)
		return
	}
	status, _ := responses.ErrorPayload(err)
	body := rejectedResponse{
		Success: false,
		Status:  "rejected",
		Error:   typed.Message(),
		Code:    string(typed.Code()),
	}
	if details, ok := typed.Details().(map[string]any); ok {
		if id, ok := details["paymentId"].(string); ok {
			body.PaymentID = id
		}
	}
	if logg != nil {
		logg.Warn(logg.WithField(ctx, "payment_id", body.PaymentID), "checkout.rejected")
	}
	responses.WriteJSON(w, status, body)
}

func nonNilIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
