package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/lumina-photos/lumina-backend/api/responses"
	mpwebhook "github.com/lumina-photos/lumina-backend/internal/webhooks/mercadopago"
	pkgerrors "github.com/lumina-photos/lumina-backend/pkg/errors"
	"github.com/lumina-photos/lumina-backend/pkg/logger"
)

const maxWebhookBody = 64 << 10

type MercadoPagoWebhookService interface {
	Handle(ctx context.Context, n mpwebhook.Notification) (mpwebhook.Outcome, error)
}

// MercadoPagoWebhook handles payment notifications from the gateway.
func MercadoPagoWebhook(svc MercadoPagoWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		notification, err := mpwebhook.ParseNotification(r.URL.Query(), payload, r.Header.Get("x-request-id"), r.Header.Get("x-signature"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notification payload"))
			return
		}

		outcome, err := svc.Handle(ctx, notification)
		if err != nil {
			if mpwebhook.IsSignatureError(err) && logg != nil {
				logg.Warn(logg.WithField(ctx, "request_id_header", notification.RequestID), "webhook.signature_rejected")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"received": true,
			"outcome":  outcome,
		})
	}
}
