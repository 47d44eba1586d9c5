package mercadopago

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumina-photos/lumina-backend/pkg/enums"
	pkgerrors "github.com/lumina-photos/lumina-backend/pkg/errors"
)

// Gateway payment statuses.
const (
	StatusPending      = "pending"
	StatusApproved     = "approved"
	StatusAuthorized   = "authorized"
	StatusInProcess    = "in_process"
	StatusInMediation  = "in_mediation"
	StatusRejected     = "rejected"
	StatusCancelled    = "cancelled"
	StatusRefunded     = "refunded"
	StatusChargedBack  = "charged_back"
	paymentMethodPix   = "pix"
	identificationCPF  = "CPF"
	expirationLayout   = "2006-01-02T15:04:05.000-07:00"
	maxDescriptionSize = 255
)

// PurchaseStatus maps a gateway payment status onto the purchase lifecycle.
func PurchaseStatus(status string) enums.PurchaseStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusApproved:
		return enums.PurchaseStatusCompleted
	case StatusRejected, StatusCancelled, StatusRefunded, StatusChargedBack:
		return enums.PurchaseStatusFailed
	default:
		return enums.PurchaseStatusPending
	}
}

// Payer identifies the buyer to the gateway.
type Payer struct {
	Email     string
	FirstName string
	LastName  string
	TaxID     string
}

// ChargeRequest opens one charge covering a whole cart.
type ChargeRequest struct {
	Method              enums.PaymentMethod
	Amount              decimal.Decimal
	Description         string
	ExternalReference   string
	IdempotencyKey      string
	DeviceID            string
	NotificationURL     string
	StatementDescriptor string
	Payer               Payer
	Metadata            map[string]string

	// PIX only.
	ExpiresAt time.Time

	// Card only.
	CardToken    string
	CardBrandID  string
	IssuerID     string
	Installments int
}

// Payment is the normalized gateway payment.
type Payment struct {
	ID                string
	Status            string
	StatusDetail      string
	ExternalReference string
	Amount            decimal.Decimal
	ExpiresAt         *time.Time
	QRCode            string
	QRCodeBase64      string
	TicketURL         string
	Metadata          map[string]any
}

// PurchaseStatus is the purchase status this payment settles to.
func (p Payment) PurchaseStatus() enums.PurchaseStatus {
	return PurchaseStatus(p.Status)
}

type identification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type payerBody struct {
	Email          string          `json:"email"`
	FirstName      string          `json:"first_name,omitempty"`
	LastName       string          `json:"last_name,omitempty"`
	Identification *identification `json:"identification,omitempty"`
}

type paymentBody struct {
	TransactionAmount   json.Number       `json:"transaction_amount"`
	Description         string            `json:"description,omitempty"`
	PaymentMethodID     string            `json:"payment_method_id"`
	ExternalReference   string            `json:"external_reference"`
	NotificationURL     string            `json:"notification_url,omitempty"`
	StatementDescriptor string            `json:"statement_descriptor,omitempty"`
	DateOfExpiration    string            `json:"date_of_expiration,omitempty"`
	Token               string            `json:"token,omitempty"`
	Installments        int               `json:"installments,omitempty"`
	IssuerID            string            `json:"issuer_id,omitempty"`
	Payer               payerBody         `json:"payer"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

type paymentResponse struct {
	ID                 json.Number     `json:"id"`
	Status             string          `json:"status"`
	StatusDetail       string          `json:"status_detail"`
	ExternalReference  string          `json:"external_reference"`
	TransactionAmount  decimal.Decimal `json:"transaction_amount"`
	DateOfExpiration   *string         `json:"date_of_expiration"`
	Metadata           map[string]any  `json:"metadata"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

func (r paymentResponse) normalize() Payment {
	p := Payment{
		ID:                r.ID.String(),
		Status:            r.Status,
		StatusDetail:      r.StatusDetail,
		ExternalReference: r.ExternalReference,
		Amount:            r.TransactionAmount,
		QRCode:            r.PointOfInteraction.TransactionData.QRCode,
		QRCodeBase64:      r.PointOfInteraction.TransactionData.QRCodeBase64,
		TicketURL:         r.PointOfInteraction.TransactionData.TicketURL,
		Metadata:          r.Metadata,
	}
	if r.DateOfExpiration != nil && *r.DateOfExpiration != "" {
		if ts, err := time.Parse(time.RFC3339Nano, *r.DateOfExpiration); err == nil {
			p.ExpiresAt = &ts
		} else if ts, err := time.Parse(expirationLayout, *r.DateOfExpiration); err == nil {
			p.ExpiresAt = &ts
		}
	}
	return p
}

// CreatePayment opens a charge. A synchronous card decline comes back as a
// Payment with status rejected, not as an error.
func (c *Client) CreatePayment(ctx context.Context, req ChargeRequest) (*Payment, error) {
	body, err := buildPaymentBody(req)
	if err != nil {
		return nil, err
	}

	var resp paymentResponse
	if err := c.do(ctx, http.MethodPost, "v1/payments", body, requestOptions{
		idempotencyKey: req.IdempotencyKey,
		deviceID:       strings.TrimSpace(req.DeviceID),
	}, &resp); err != nil {
		return nil, err
	}
	payment := resp.normalize()
	if payment.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway returned a payment without id")
	}
	return &payment, nil
}

// GetPayment looks a payment up by the gateway id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	var resp paymentResponse
	if err := c.do(ctx, http.MethodGet, "v1/payments/"+url.PathEscape(paymentID), nil, requestOptions{}, &resp); err != nil {
		if gwErr, ok := AsGatewayError(err); ok && gwErr.HTTPStatus == http.StatusNotFound {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "payment not found")
		}
		return nil, err
	}
	payment := resp.normalize()
	return &payment, nil
}

// SearchByExternalReference lists payments opened with the given external reference.
func (c *Client) SearchByExternalReference(ctx context.Context, externalReference string) ([]Payment, error) {
	externalReference = strings.TrimSpace(externalReference)
	if externalReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}

	query := url.Values{}
	query.Set("external_reference", externalReference)
	query.Set("sort", "date_created")
	query.Set("criteria", "desc")

	var resp struct {
		Results []paymentResponse `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "v1/payments/search?"+query.Encode(), nil, requestOptions{}, &resp); err != nil {
		return nil, err
	}
	payments := make([]Payment, 0, len(resp.Results))
	for _, r := range resp.Results {
		payments = append(payments, r.normalize())
	}
	return payments, nil
}

func buildPaymentBody(req ChargeRequest) (*paymentBody, error) {
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge amount must be positive")
	}
	if strings.TrimSpace(req.ExternalReference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}

	description := req.Description
	if len(description) > maxDescriptionSize {
		description = description[:maxDescriptionSize]
	}

	body := &paymentBody{
		TransactionAmount:   json.Number(req.Amount.StringFixed(2)),
		Description:         description,
		ExternalReference:   req.ExternalReference,
		NotificationURL:     req.NotificationURL,
		StatementDescriptor: req.StatementDescriptor,
		Payer: payerBody{
			Email:     req.Payer.Email,
			FirstName: req.Payer.FirstName,
			LastName:  req.Payer.LastName,
		},
		Metadata: req.Metadata,
	}
	if req.Payer.TaxID != "" {
		body.Payer.Identification = &identification{Type: identificationCPF, Number: req.Payer.TaxID}
	}

	switch req.Method {
	case enums.PaymentMethodPix:
		body.PaymentMethodID = paymentMethodPix
		if !req.ExpiresAt.IsZero() {
			body.DateOfExpiration = req.ExpiresAt.Format(expirationLayout)
		}
	case enums.PaymentMethodCard:
		if strings.TrimSpace(req.CardToken) == "" || strings.TrimSpace(req.CardBrandID) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "card token and brand are required")
		}
		body.PaymentMethodID = req.CardBrandID
		body.Token = req.CardToken
		body.IssuerID = req.IssuerID
		body.Installments = req.Installments
		if body.Installments <= 0 {
			body.Installments = 1
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method")
	}
	return body, nil
}
