package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mpwebhook "github.com/lumina-photos/lumina-backend/internal/webhooks/mercadopago"
	pkgerrors "github.com/lumina-photos/lumina-backend/pkg/errors"
	"github.com/lumina-photos/lumina-backend/pkg/mercadopago"
)

type stubWebhookService struct {
	outcome mpwebhook.Outcome
	err     error
	got     []mpwebhook.Notification
}

func (s *stubWebhookService) Handle(_ context.Context, n mpwebhook.Notification) (mpwebhook.Outcome, error) {
	s.got = append(s.got, n)
	return s.outcome, s.err
}

func TestMercadoPagoWebhookProcessesNotification(t *testing.T) {
	svc := &stubWebhookService{outcome: mpwebhook.OutcomeProcessed}
	handler := MercadoPagoWebhook(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mercadopago?type=payment&data.id=123", strings.NewReader(`{"action":"payment.updated","data":{"id":"123"}}`))
	req.Header.Set("x-request-id", "req-1")
	req.Header.Set("x-signature", "ts=1,v1=abc")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if len(svc.got) != 1 {
		t.Fatalf("expected one notification, got %d", len(svc.got))
	}
	n := svc.got[0]
	if n.DataID != "123" || n.RequestID != "req-1" || n.Signature != "ts=1,v1=abc" || n.Action != "payment.updated" {
		t.Fatalf("unexpected notification %+v", n)
	}

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Received bool   `json:"received"`
			Outcome  string `json:"outcome"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Success || !body.Data.Received || body.Data.Outcome != string(mpwebhook.OutcomeProcessed) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestMercadoPagoWebhookRejectsBadSignature(t *testing.T) {
	svc := &stubWebhookService{err: pkgerrors.Wrap(pkgerrors.CodeUnauthorized, mercadopago.ErrSignatureInvalid, "invalid webhook signature")}
	handler := MercadoPagoWebhook(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mercadopago?type=payment&data.id=123", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestMercadoPagoWebhookRejectsMalformedBody(t *testing.T) {
	svc := &stubWebhookService{outcome: mpwebhook.OutcomeProcessed}
	handler := MercadoPagoWebhook(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mercadopago", strings.NewReader(`{not json`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if len(svc.got) != 0 {
		t.Fatalf("service should not run on a malformed body")
	}
}

func TestMercadoPagoWebhookSurfacesRetryableFailure(t *testing.T) {
	svc := &stubWebhookService{err: pkgerrors.New(pkgerrors.CodeDependency, "gateway unavailable")}
	handler := MercadoPagoWebhook(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mercadopago?type=payment&data.id=9", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestMercadoPagoWebhookRequiresService(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mercadopago", nil)
	resp := httptest.NewRecorder()
	MercadoPagoWebhook(nil, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
}
