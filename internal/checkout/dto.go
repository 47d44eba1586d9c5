package checkout

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumina-photos/lumina-backend/internal/pricing"
	pkgcheckout "github.com/lumina-photos/lumina-backend/pkg/checkout"
	"github.com/lumina-photos/lumina-backend/pkg/enums"
)

// reconciliation sources, carried on outbox events and logs
const (
	SourceCheckout = "checkout"
	SourcePoll     = "poll"
	SourceWebhook  = "webhook"
	SourceSweeper  = "sweeper"
)

// CartItem is one photo the buyer wants, with the price the client displayed.
type CartItem struct {
	ID    string
	Price decimal.Decimal
}

// DiscountClaim is what the client believes the discount to be. Only Enabled
// is honored; the percentage and amount are recomputed server-side.
type DiscountClaim struct {
	Enabled    bool
	Percentage decimal.Decimal
	Amount     decimal.Decimal
}

// CardInput carries the tokenized card for begin-card.
type CardInput struct {
	Token        string
	BrandID      string
	IssuerID     string
	Installments int
}

// BeginInput is the shared request for begin-pix and begin-card.
type BeginInput struct {
	BuyerID  string
	Items    []CartItem
	Buyer    pkgcheckout.Buyer
	Discount *DiscountClaim
	// DeviceID is forwarded to the gateway anti-fraud checks when present.
	DeviceID string
	Card     *CardInput
}

// PixPayload is what the buyer needs to pay a PIX charge.
type PixPayload struct {
	QRCode       string     `json:"qrCode"`
	QRCodeBase64 string     `json:"qrCodeBase64"`
	TicketURL    string     `json:"ticketUrl,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// BeginResult describes an opened charge.
type BeginResult struct {
	PaymentID     string
	GatewayStatus string
	Status        enums.PurchaseStatus
	PurchaseIDs   []uuid.UUID
	Reference     string
	Quote         pricing.Quote
	Pix           *PixPayload
}

// ReconcileInput names the charge to reconcile. PaymentID is preferred; a bare
// Reference is looked up at the gateway by external reference.
type ReconcileInput struct {
	PaymentID string
	Reference string
	// BuyerID restricts the lookup to the caller's own purchases when set.
	BuyerID string
	Source  string
}

// ReconcileResult is the ledger view after applying a gateway observation.
type ReconcileResult struct {
	PaymentID     string
	GatewayStatus string
	// Status is the gateway status mapped to the ledger, or pending while any
	// resolved row is still waiting for a retry.
	Status        enums.PurchaseStatus
	Found         bool
	PurchaseIDs   []uuid.UUID
	Transitioned  []uuid.UUID
	// Deferred rows stay pending after a ledger or outbox failure.
	Deferred      []uuid.UUID
	SharesCreated int
	// SharesSkipped rows settled without a share; the backfill job records it.
	SharesSkipped []uuid.UUID
}
