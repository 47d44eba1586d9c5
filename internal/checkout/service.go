// Package checkout is the orchestrator behind begin-pix, begin-card and
// check-status. It is stateless: every decision is gated on the ledger rows,
// so the buyer's polling and the gateway webhook may race on the same charge.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/lumina-photos/lumina-backend/internal/pricing"
	"github.com/lumina-photos/lumina-backend/internal/purchases"
	"github.com/lumina-photos/lumina-backend/internal/reference"
	"github.com/lumina-photos/lumina-backend/internal/revenue"
	pkgcheckout "github.com/lumina-photos/lumina-backend/pkg/checkout"
	"github.com/lumina-photos/lumina-backend/pkg/config"
	"github.com/lumina-photos/lumina-backend/pkg/db/models"
	"github.com/lumina-photos/lumina-backend/pkg/enums"
	pkgerrors "github.com/lumina-photos/lumina-backend/pkg/errors"
	"github.com/lumina-photos/lumina-backend/pkg/logger"
	"github.com/lumina-photos/lumina-backend/pkg/mercadopago"
	"github.com/lumina-photos/lumina-backend/pkg/metrics"
	"github.com/lumina-photos/lumina-backend/pkg/outbox"
)

const (
	chargeAttempts          = 3
	defaultChargeRetryDelay = 250 * time.Millisecond
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Gateway is the payment provider surface used by the orchestrator.
type Gateway interface {
	CreatePayment(ctx context.Context, req mercadopago.ChargeRequest) (*mercadopago.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*mercadopago.Payment, error)
	SearchByExternalReference(ctx context.Context, externalReference string) ([]mercadopago.Payment, error)
}

type photoLookup interface {
	LookupPhotos(ctx context.Context, ids []string) (map[string]models.Photo, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service executes checkout orchestration.
type Service interface {
	BeginPix(ctx context.Context, input BeginInput) (*BeginResult, error)
	BeginCard(ctx context.Context, input BeginInput) (*BeginResult, error)
	// CheckStatus reconciles a charge for the buyer polling it.
	CheckStatus(ctx context.Context, buyerID, paymentID string) (*ReconcileResult, error)
	// Reconcile applies the gateway's current status to the purchases of a charge.
	// Rows that could not be settled are listed in Deferred and reported in the error.
	Reconcile(ctx context.Context, input ReconcileInput) (*ReconcileResult, error)
	// ReconcileUntagged converges rows whose gateway payment id was never stored.
	// Rows created before abandonBefore with no charge at the gateway are failed.
	ReconcileUntagged(ctx context.Context, storedReference string, abandonBefore time.Time) (*ReconcileResult, error)
}

// ServiceParams wires the orchestrator. Gateway is nil when the payment
// provider is not configured; every operation then fails with INTERNAL_ERROR.
type ServiceParams struct {
	Tx       txRunner
	Ledger   purchases.Repository
	Catalog  photoLookup
	Pricing  *pricing.Engine
	Recorder revenue.Recorder
	Outbox   outboxEmitter
	Gateway  Gateway
	Logger   *logger.Logger
	Metrics  *metrics.CheckoutMetrics
	Config   config.CheckoutConfig
	Clock    func() time.Time
	// ChargeRetryDelay is the base backoff between charge attempts.
	ChargeRetryDelay time.Duration
}

type service struct {
	tx         txRunner
	ledger     purchases.Repository
	catalog    photoLookup
	pricing    *pricing.Engine
	recorder   revenue.Recorder
	outbox     outboxEmitter
	gateway    Gateway
	logg       *logger.Logger
	metrics    *metrics.CheckoutMetrics
	cfg        config.CheckoutConfig
	now        func() time.Time
	retryDelay time.Duration
}

// NewService builds the checkout orchestrator.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("purchase ledger required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog lookup required")
	}
	if params.Pricing == nil {
		return nil, fmt.Errorf("pricing engine required")
	}
	if params.Recorder == nil {
		return nil, fmt.Errorf("revenue share recorder required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	delay := params.ChargeRetryDelay
	if delay < 0 {
		delay = 0
	} else if delay == 0 {
		delay = defaultChargeRetryDelay
	}
	return &service{
		tx:         params.Tx,
		ledger:     params.Ledger,
		catalog:    params.Catalog,
		pricing:    params.Pricing,
		recorder:   params.Recorder,
		outbox:     params.Outbox,
		gateway:    params.Gateway,
		logg:       params.Logger,
		metrics:    params.Metrics,
		cfg:        params.Config,
		now:        clock,
		retryDelay: delay,
	}, nil
}

func (s *service) BeginPix(ctx context.Context, input BeginInput) (*BeginResult, error) {
	return s.begin(ctx, enums.PaymentMethodPix, input)
}

func (s *service) BeginCard(ctx context.Context, input BeginInput) (*BeginResult, error) {
	return s.begin(ctx, enums.PaymentMethodCard, input)
}

func (s *service) begin(ctx context.Context, method enums.PaymentMethod, input BeginInput) (*BeginResult, error) {
	if s.gateway == nil {
		return nil, errGatewayNotConfigured()
	}
	buyerID := strings.TrimSpace(input.BuyerID)
	if buyerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer identity required")
	}
	buyer, err := pkgcheckout.ValidateBuyer(input.Buyer)
	if err != nil {
		return nil, err
	}
	var card CardInput
	if method == enums.PaymentMethodCard {
		if card, err = validateCard(input.Card); err != nil {
			return nil, err
		}
	}

	items, photos, err := s.loadCart(ctx, input.Items)
	if err != nil {
		return nil, err
	}

	eligible := input.Discount == nil || input.Discount.Enabled
	priced := make([]pricing.Item, len(items))
	for i, item := range items {
		photo := photos[item.ID]
		if photo.DiscountOptOut {
			eligible = false
		}
		priced[i] = pricing.Item{ID: item.ID, Price: photo.Price}
	}
	quote, err := s.pricing.Quote(priced, eligible)
	if err != nil {
		return nil, err
	}
	s.warnDiscountMismatch(ctx, input.Discount, quote)

	rows := make([]models.Purchase, len(quote.Allocations))
	for i, alloc := range quote.Allocations {
		photo := photos[alloc.ItemID]
		rows[i] = models.Purchase{
			ItemID:         alloc.ItemID,
			BuyerID:        buyerID,
			SellerID:       photo.PhotographerID,
			CampaignID:     photo.CampaignID,
			Method:         method,
			Amount:         alloc.Price,
			DiscountAmount: alloc.Discount,
		}
	}

	var (
		ids []uuid.UUID
		ref reference.Reference
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ledger := s.ledger.WithTx(tx)
		created, err := ledger.CreatePending(ctx, rows)
		if err != nil {
			return err
		}
		ref, err = reference.Encode(idStrings(created), s.now())
		if err != nil {
			return err
		}
		ids = created
		return ledger.TagWithReference(ctx, created, ref)
	})
	if err != nil {
		return nil, internalUnlessTyped(err, "create pending purchases")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"reference":      ref.String(),
		"payment_method": method,
		"purchase_count": len(ids),
		"total":          quote.Total.StringFixed(2),
	})

	req := mercadopago.ChargeRequest{
		Method:              method,
		Amount:              quote.Total,
		Description:         chargeDescription(len(ids)),
		ExternalReference:   ref.External(),
		IdempotencyKey:      method.IdempotencyPrefix() + ref.External(),
		DeviceID:            strings.TrimSpace(input.DeviceID),
		NotificationURL:     s.cfg.NotificationURL,
		StatementDescriptor: s.cfg.StatementDescriptor,
		Payer: mercadopago.Payer{
			Email:     buyer.Email,
			FirstName: buyer.Name,
			LastName:  buyer.Surname,
			TaxID:     buyer.TaxID,
		},
		Metadata: chargeMetadata(quote, ref),
	}
	switch method {
	case enums.PaymentMethodPix:
		if s.cfg.PixExpiration > 0 {
			req.ExpiresAt = s.now().Add(s.cfg.PixExpiration)
		}
	case enums.PaymentMethodCard:
		req.CardToken = card.Token
		req.CardBrandID = card.BrandID
		req.IssuerID = card.IssuerID
		req.Installments = card.Installments
	}

	payment, err := s.createCharge(ctx, req)
	if err != nil {
		return nil, s.handleChargeError(ctx, method, ids, err)
	}

	ctx = s.logg.WithPaymentID(ctx, payment.ID)
	ref = ref.WithGatewayPayment(payment.ID)
	if err := s.ledger.TagWithReference(ctx, ids, ref); err != nil {
		// the sweeper finds the charge again through the external reference
		s.logg.Error(ctx, "checkout.tag_payment_failed", err)
	}

	result := &BeginResult{
		PaymentID:     payment.ID,
		GatewayStatus: payment.Status,
		Status:        enums.PurchaseStatusPending,
		PurchaseIDs:   ids,
		Reference:     ref.String(),
		Quote:         quote,
	}

	switch payment.PurchaseStatus() {
	case enums.PurchaseStatusFailed:
		if err := s.ledger.DeleteBatch(ctx, ids); err != nil {
			s.logg.Error(ctx, "checkout.rollback_failed", err)
		}
		s.metrics.IncCharge(string(method), "rejected")
		s.logg.Warn(s.logg.WithField(ctx, "status_detail", payment.StatusDetail), "checkout.charge_rejected")
		return nil, pkgerrors.New(pkgerrors.CodeRejected, RejectionMessage(payment.StatusDetail)).WithDetails(map[string]any{
			"status":    mercadopago.StatusRejected,
			"paymentId": payment.ID,
			"reason":    payment.StatusDetail,
		})
	case enums.PurchaseStatusCompleted:
		s.metrics.IncCharge(string(method), "approved")
		settled, err := s.reconcilePayment(ctx, *payment, ref, ReconcileInput{Source: SourceCheckout})
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "checkout.inline_reconcile_incomplete")
		}
		if settled != nil {
			result.Status = settled.Status
		}
	default:
		s.metrics.IncCharge(string(method), "opened")
	}

	if method == enums.PaymentMethodPix {
		result.Pix = &PixPayload{
			QRCode:       payment.QRCode,
			QRCodeBase64: payment.QRCodeBase64,
			TicketURL:    payment.TicketURL,
			ExpiresAt:    payment.ExpiresAt,
		}
	}

	s.logg.Info(ctx, "checkout.charge_created")
	return result, nil
}

// createCharge retries ambiguous failures with the same idempotency key, so the
// gateway collapses the attempts into a single charge.
func (s *service) createCharge(ctx context.Context, req mercadopago.ChargeRequest) (*mercadopago.Payment, error) {
	var lastErr error
	for attempt := 1; attempt <= chargeAttempts; attempt++ {
		started := time.Now()
		payment, err := s.gateway.CreatePayment(ctx, req)
		s.metrics.ObserveGateway("create_payment", time.Since(started))
		if err == nil {
			return payment, nil
		}
		lastErr = err
		if !chargeOutcomeUnknown(err) || attempt == chargeAttempts {
			break
		}
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"attempt": attempt, "error": err.Error()}), "checkout.charge_retry")
		timer := time.NewTimer(s.retryDelay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, lastErr
		case <-timer.C:
		}
	}
	return nil, lastErr
}

// chargeOutcomeUnknown reports whether the gateway may have opened the charge.
func chargeOutcomeUnknown(err error) bool {
	if gwErr, ok := mercadopago.AsGatewayError(err); ok {
		return !gwErr.NotOpened()
	}
	return !pkgerrors.IsCode(err, pkgerrors.CodeValidation)
}

// handleChargeError rolls the batch back only when the gateway said no charge
// exists. Anything ambiguous keeps the rows pending for the sweeper.
func (s *service) handleChargeError(ctx context.Context, method enums.PaymentMethod, ids []uuid.UUID, err error) error {
	if chargeOutcomeUnknown(err) {
		s.metrics.IncCharge(string(method), "unknown")
		s.logg.Error(ctx, "checkout.charge_outcome_unknown", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "Não foi possível confirmar o pagamento agora. Tente novamente em instantes.")
	}

	if delErr := s.ledger.DeleteBatch(ctx, ids); delErr != nil {
		s.logg.Error(ctx, "checkout.rollback_failed", delErr)
	}

	gwErr, isGateway := mercadopago.AsGatewayError(err)
	switch {
	case isGateway && gwErr.Rejected():
		s.metrics.IncCharge(string(method), "rejected")
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"reason": gwErr.Code, "gateway_status": gwErr.HTTPStatus}), "checkout.charge_rejected")
		return pkgerrors.Wrap(pkgerrors.CodeRejected, err, RejectionMessage(gwErr.Code)).WithDetails(map[string]any{
			"reason": gwErr.Code,
		})
	case isGateway && gwErr.HTTPStatus == 429:
		s.metrics.IncCharge(string(method), "throttled")
		s.logg.Warn(ctx, "checkout.charge_throttled")
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "O provedor de pagamento está ocupado. Tente novamente em instantes.")
	case isGateway:
		s.metrics.IncCharge(string(method), "error")
		s.logg.Error(ctx, "checkout.gateway_credentials_rejected", err)
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "payment provider misconfigured")
	default:
		s.metrics.IncCharge(string(method), "invalid")
		return err
	}
}

func (s *service) CheckStatus(ctx context.Context, buyerID, paymentID string) (*ReconcileResult, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paymentId is required")
	}
	result, err := s.Reconcile(ctx, ReconcileInput{
		PaymentID: paymentID,
		BuyerID:   strings.TrimSpace(buyerID),
		Source:    SourcePoll,
	})
	if err != nil && result != nil {
		// deferred rows stay pending and the next poll retries them
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"payment_id": paymentID, "error": err.Error()}), "reconcile.partial_failure")
		return result, nil
	}
	return result, err
}

func (s *service) Reconcile(ctx context.Context, input ReconcileInput) (*ReconcileResult, error) {
	if s.gateway == nil {
		return nil, errGatewayNotConfigured()
	}

	paymentID := strings.TrimSpace(input.PaymentID)
	var ref reference.Reference
	if raw := strings.TrimSpace(input.Reference); raw != "" {
		parsed, err := reference.Parse(raw)
		if err != nil {
			return nil, err
		}
		ref = parsed
		if paymentID == "" {
			paymentID = ref.GatewayPaymentID
		}
	}

	if paymentID == "" {
		if ref.Kind == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id or reference is required")
		}
		payment, err := s.findByExternalReference(ctx, ref)
		if err != nil {
			return nil, err
		}
		if payment == nil {
			return &ReconcileResult{Status: enums.PurchaseStatusPending}, nil
		}
		return s.reconcilePayment(ctx, *payment, ref, input)
	}

	payment, err := s.fetchPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if ref.Kind == "" && payment.ExternalReference != "" {
		if parsed, err := reference.Parse(payment.ExternalReference); err == nil {
			ref = parsed
		}
	}
	return s.reconcilePayment(ctx, *payment, ref, input)
}

func (s *service) ReconcileUntagged(ctx context.Context, storedReference string, abandonBefore time.Time) (*ReconcileResult, error) {
	if s.gateway == nil {
		return nil, errGatewayNotConfigured()
	}
	ref, err := reference.Parse(storedReference)
	if err != nil {
		return nil, err
	}

	payment, err := s.findByExternalReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	if payment != nil {
		return s.reconcilePayment(ctx, *payment, ref, ReconcileInput{Source: SourceSweeper})
	}

	rows, err := s.ledger.ResolveByReference(ctx, ref, "")
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve purchases")
	}
	result := &ReconcileResult{
		Status:      enums.PurchaseStatusPending,
		Found:       len(rows) > 0,
		PurchaseIDs: purchaseIDs(rows),
	}
	if abandonBefore.IsZero() {
		return result, nil
	}

	ctx = s.logg.WithField(ctx, "reference", ref.String())
	var errs error
	for _, row := range rows {
		if row.Status != enums.PurchaseStatusPending || row.GatewayPaymentID != nil || !row.CreatedAt.Before(abandonBefore) {
			continue
		}
		settled, err := s.settleRow(ctx, row, enums.PurchaseStatusFailed, "", SourceSweeper)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("purchase %s: %w", row.ID, err))
			result.Deferred = append(result.Deferred, row.ID)
			continue
		}
		if settled.moved {
			result.Transitioned = append(result.Transitioned, row.ID)
		}
	}
	if len(result.Transitioned) > 0 {
		s.metrics.AddTransitions(string(enums.PurchaseStatusFailed), len(result.Transitioned))
		s.logg.Warn(s.logg.WithField(ctx, "abandoned", len(result.Transitioned)), "reconcile.abandoned_without_charge")
		if len(result.Deferred) == 0 && len(result.Transitioned) == len(rows) {
			result.Status = enums.PurchaseStatusFailed
		}
	}
	if errs != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, errs, "abandon purchases")
	}
	return result, nil
}

func (s *service) reconcilePayment(ctx context.Context, payment mercadopago.Payment, ref reference.Reference, input ReconcileInput) (*ReconcileResult, error) {
	ctx = s.logg.WithPaymentID(ctx, payment.ID)
	source := input.Source
	if source == "" {
		source = SourcePoll
	}
	status := payment.PurchaseStatus()
	result := &ReconcileResult{
		PaymentID:     payment.ID,
		GatewayStatus: payment.Status,
		Status:        status,
	}

	rows, err := s.ledger.ResolveByReference(ctx, ref, payment.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve purchases")
	}
	if len(rows) == 0 {
		s.metrics.IncUnresolved()
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"reference":          ref.String(),
			"external_reference": payment.ExternalReference,
			"source":             source,
		}), "reconcile.reference_unresolved")
		return result, nil
	}
	if input.BuyerID != "" {
		for _, row := range rows {
			if row.BuyerID != input.BuyerID {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
			}
		}
	}
	result.Found = true
	result.PurchaseIDs = purchaseIDs(rows)

	s.tagUntagged(ctx, rows, payment.ID)

	var errs error
	if status.IsTerminal() {
		for i := range rows {
			row := rows[i]
			if row.Status != enums.PurchaseStatusPending {
				continue
			}
			settled, err := s.settleRow(ctx, row, status, payment.ID, source)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("purchase %s: %w", row.ID, err))
				result.Deferred = append(result.Deferred, row.ID)
				s.logg.Error(s.logg.WithField(ctx, "purchase_id", row.ID.String()), "reconcile.row_failed", err)
				continue
			}
			// not moved means a concurrent caller settled the row first
			rows[i].Status = status
			if settled.moved {
				result.Transitioned = append(result.Transitioned, row.ID)
			}
			if settled.shareCreated {
				result.SharesCreated++
			}
			if settled.shareSkipped {
				result.SharesSkipped = append(result.SharesSkipped, row.ID)
			}
		}
		if len(result.Transitioned) > 0 {
			s.metrics.AddTransitions(string(status), len(result.Transitioned))
			s.logg.Info(s.logg.WithFields(ctx, map[string]any{
				"status":         status,
				"transitioned":   len(result.Transitioned),
				"shares_created": result.SharesCreated,
				"shares_skipped": len(result.SharesSkipped),
				"source":         source,
			}), "reconcile.transitioned")
		}
	}

	result.Status = ledgerStatus(rows)
	if errs != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, errs, "settle purchases")
	}
	return result, nil
}

// settleRow moves one row out of pending and emits its outbox event in one
// transaction. A completed row also gets its revenue share, written under a
// savepoint: a share failure leaves the transition committed and the share to
// the backfill job. Only the caller whose conditional update wins writes.
func (s *service) settleRow(ctx context.Context, row models.Purchase, status enums.PurchaseStatus, paymentID, source string) (settled rowSettlement, err error) {
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		movedIDs, err := s.ledger.WithTx(tx).UpdateStatus(ctx, []uuid.UUID{row.ID}, status)
		if err != nil {
			return err
		}
		if len(movedIDs) == 0 {
			return nil
		}
		row.Status = status

		var share *models.RevenueShare
		if status == enums.PurchaseStatusCompleted {
			res, err := s.recordShare(ctx, tx, row)
			if err != nil {
				s.logg.Error(s.logg.WithField(ctx, "purchase_id", row.ID.String()), "revenue_share.record_failed", err)
				settled.shareSkipped = true
			} else {
				settled.shareCreated = res.Created
				share = res.Share
			}
		}
		if err := s.outbox.Emit(ctx, tx, settledEvent(row, paymentID, source, share)); err != nil {
			return err
		}
		settled.moved = true
		return nil
	})
	if err != nil {
		return rowSettlement{}, err
	}
	return settled, nil
}

type rowSettlement struct {
	moved        bool
	shareCreated bool
	shareSkipped bool
}

// recordShare runs the recorder inside a savepoint so a failed statement does
// not abort the enclosing transaction.
func (s *service) recordShare(ctx context.Context, tx *gorm.DB, row models.Purchase) (revenue.Result, error) {
	if tx == nil {
		return s.recorder.RecordIfAbsent(ctx, nil, row)
	}
	var res revenue.Result
	err := tx.Transaction(func(sp *gorm.DB) error {
		var err error
		res, err = s.recorder.RecordIfAbsent(ctx, sp, row)
		return err
	})
	return res, err
}

// tagUntagged stores the payment id on rows that lost it, e.g. when the process
// died between the gateway call and the tagging update.
func (s *service) tagUntagged(ctx context.Context, rows []models.Purchase, paymentID string) {
	if paymentID == "" {
		return
	}
	var (
		untagged []uuid.UUID
		stored   string
	)
	for _, row := range rows {
		if row.GatewayPaymentID != nil && *row.GatewayPaymentID != "" {
			continue
		}
		untagged = append(untagged, row.ID)
		if row.GatewayReference != nil && stored == "" {
			stored = *row.GatewayReference
		}
	}
	if len(untagged) == 0 || stored == "" {
		return
	}
	ref, err := reference.Parse(stored)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "stored_reference", stored), "reconcile.stored_reference_unparseable")
		return
	}
	if err := s.ledger.TagWithReference(ctx, untagged, ref.WithGatewayPayment(paymentID)); err != nil {
		s.logg.Error(ctx, "reconcile.tag_payment_failed", err)
	}
}

func (s *service) fetchPayment(ctx context.Context, paymentID string) (*mercadopago.Payment, error) {
	started := time.Now()
	payment, err := s.gateway.GetPayment(ctx, paymentID)
	s.metrics.ObserveGateway("get_payment", time.Since(started))
	if err != nil {
		if gwErr, ok := mercadopago.AsGatewayError(err); ok && gwErr.NotOpened() && pkgerrors.As(err) == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "payment not found")
		}
		return nil, internalUnlessTyped(err, "fetch payment")
	}
	return payment, nil
}

// findByExternalReference returns the charge opened for ref, preferring an
// approved one when the buyer retried and several exist.
func (s *service) findByExternalReference(ctx context.Context, ref reference.Reference) (*mercadopago.Payment, error) {
	started := time.Now()
	payments, err := s.gateway.SearchByExternalReference(ctx, ref.External())
	s.metrics.ObserveGateway("search_payments", time.Since(started))
	if err != nil {
		return nil, internalUnlessTyped(err, "search payments")
	}
	if len(payments) == 0 {
		return nil, nil
	}
	for i := range payments {
		if payments[i].PurchaseStatus() == enums.PurchaseStatusCompleted {
			return &payments[i], nil
		}
	}
	return &payments[0], nil
}

func (s *service) loadCart(ctx context.Context, input []CartItem) ([]CartItem, map[string]models.Photo, error) {
	if len(input) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	items := make([]CartItem, 0, len(input))
	ids := make([]string, 0, len(input))
	seen := make(map[string]struct{}, len(input))
	for _, item := range input {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "cart item id is required")
		}
		if _, dup := seen[id]; dup {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %s appears more than once", id))
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
		items = append(items, CartItem{ID: id, Price: item.Price})
	}

	photos, err := s.catalog.LookupPhotos(ctx, ids)
	if err != nil {
		return nil, nil, internalUnlessTyped(err, "load photos")
	}

	var missing, changed []string
	for _, item := range items {
		photo, ok := photos[item.ID]
		if !ok {
			missing = append(missing, item.ID)
			continue
		}
		if !item.Price.Equal(photo.Price) {
			changed = append(changed, item.ID)
		}
	}
	if len(missing) > 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown photos in cart").WithDetails(map[string]any{"items": missing})
	}
	if len(changed) > 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "price changed").WithDetails(map[string]any{"items": changed})
	}
	return items, photos, nil
}

func (s *service) warnDiscountMismatch(ctx context.Context, claim *DiscountClaim, quote pricing.Quote) {
	if claim == nil || !claim.Enabled {
		return
	}
	if claim.Percentage.Equal(quote.DiscountPercentage) && claim.Amount.Equal(quote.DiscountAmount) {
		return
	}
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"claimed_percentage": claim.Percentage.String(),
		"claimed_amount":     claim.Amount.StringFixed(2),
		"percentage":         quote.DiscountPercentage.String(),
		"amount":             quote.DiscountAmount.StringFixed(2),
	}), "checkout.discount_claim_ignored")
}

func validateCard(card *CardInput) (CardInput, error) {
	if card == nil {
		return CardInput{}, pkgerrors.New(pkgerrors.CodeValidation, "card data is required")
	}
	out := CardInput{
		Token:        strings.TrimSpace(card.Token),
		BrandID:      strings.TrimSpace(card.BrandID),
		IssuerID:     strings.TrimSpace(card.IssuerID),
		Installments: card.Installments,
	}
	if out.Token == "" {
		return out, pkgerrors.New(pkgerrors.CodeValidation, "cardToken is required")
	}
	if out.BrandID == "" {
		return out, pkgerrors.New(pkgerrors.CodeValidation, "cardBrandId is required")
	}
	if out.Installments < 0 {
		return out, pkgerrors.New(pkgerrors.CodeValidation, "installments must be positive")
	}
	if out.Installments == 0 {
		out.Installments = 1
	}
	return out, nil
}

func errGatewayNotConfigured() error {
	return pkgerrors.New(pkgerrors.CodeInternal, "payment provider not configured")
}

func internalUnlessTyped(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, message)
}

func chargeDescription(count int) string {
	if count == 1 {
		return "Lumina - 1 foto"
	}
	return fmt.Sprintf("Lumina - %d fotos", count)
}

func chargeMetadata(quote pricing.Quote, ref reference.Reference) map[string]string {
	meta := quote.Metadata()
	meta["reference"] = ref.External()
	return meta
}

// ledgerStatus is pending while any row still waits, else the rows' status.
func ledgerStatus(rows []models.Purchase) enums.PurchaseStatus {
	status := enums.PurchaseStatusPending
	for i, row := range rows {
		if row.Status == enums.PurchaseStatusPending {
			return enums.PurchaseStatusPending
		}
		if i == 0 {
			status = row.Status
		}
	}
	return status
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func purchaseIDs(rows []models.Purchase) []uuid.UUID {
	out := make([]uuid.UUID, len(rows))
	for i, row := range rows {
		out[i] = row.ID
	}
	return out
}
