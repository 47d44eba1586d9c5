// Package mpwebhook turns gateway payment notifications into reconciliations.
package mpwebhook

import (
	"context"
	"errors"
	"time"

	"github.com/lumina-photos/lumina-backend/internal/checkout"
	pkgerrors "github.com/lumina-photos/lumina-backend/pkg/errors"
	"github.com/lumina-photos/lumina-backend/pkg/logger"
	"github.com/lumina-photos/lumina-backend/pkg/mercadopago"
)

// Outcome is what happened to an accepted notification.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

type reconciler interface {
	Reconcile(ctx context.Context, input checkout.ReconcileInput) (*checkout.ReconcileResult, error)
}

type guard interface {
	CheckAndMark(ctx context.Context, deliveryID string) (bool, error)
	Release(ctx context.Context, deliveryID string) error
}

type ServiceParams struct {
	Reconciler reconciler
	Guard      guard
	Secret     string
	// Tolerance bounds the signature timestamp age; zero disables the check.
	Tolerance time.Duration
	Logger    *logger.Logger
	Clock     func() time.Time
}

type Service struct {
	reconciler reconciler
	guard      guard
	secret     string
	tolerance  time.Duration
	logg       *logger.Logger
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		reconciler: params.Reconciler,
		guard:      params.Guard,
		secret:     params.Secret,
		tolerance:  params.Tolerance,
		logg:       params.Logger,
		now:        clock,
	}, nil
}

// Handle verifies and applies one notification. A returned error means the
// provider should redeliver.
func (s *Service) Handle(ctx context.Context, n Notification) (Outcome, error) {
	if s.secret == "" {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "webhook secret not configured")
	}
	if err := mercadopago.VerifySignature(s.secret, n.Signature, n.RequestID, n.DataID, s.tolerance, s.now()); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid webhook signature")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"topic":      n.Topic,
		"action":     n.Action,
		"payment_id": n.DataID,
	})
	if !n.IsPayment() {
		s.logg.Debug(ctx, "webhook.topic_ignored")
		return OutcomeIgnored, nil
	}
	if n.DataID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "data.id is required")
	}

	deliveryID := n.DeliveryID()
	seen, err := s.guard.CheckAndMark(ctx, deliveryID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check webhook idempotency")
	}
	if seen {
		s.logg.Info(ctx, "webhook.duplicate_delivery")
		return OutcomeDuplicate, nil
	}

	// Reconcile rather than CheckStatus: rows deferred by a partial failure
	// come back as an error, and the released guard lets the provider redeliver.
	result, err := s.reconciler.Reconcile(ctx, checkout.ReconcileInput{
		PaymentID: n.DataID,
		Source:    checkout.SourceWebhook,
	})
	if err != nil {
		if result != nil && len(result.Deferred) > 0 {
			s.logg.Warn(s.logg.WithField(ctx, "deferred", len(result.Deferred)), "webhook.partial_settlement")
		}
		// the gateway sends test notifications for payments that do not exist
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(ctx, "webhook.payment_not_found")
			return OutcomeIgnored, nil
		}
		if relErr := s.guard.Release(ctx, deliveryID); relErr != nil {
			s.logg.Error(ctx, "webhook.guard_release_failed", relErr)
		}
		return "", err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"status":       result.Status,
		"found":        result.Found,
		"transitioned": len(result.Transitioned),
	}), "webhook.processed")
	return OutcomeProcessed, nil
}

// IsSignatureError reports whether err came from signature verification.
func IsSignatureError(err error) bool {
	return errors.Is(err, mercadopago.ErrSignatureInvalid) ||
		errors.Is(err, mercadopago.ErrSignatureMissing) ||
		errors.Is(err, mercadopago.ErrSignatureExpired)
}
