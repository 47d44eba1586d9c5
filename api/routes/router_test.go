package routes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumina-photos/lumina-backend/internal/checkout"
	mpwebhook "github.com/lumina-photos/lumina-backend/internal/webhooks/mercadopago"
	pkgAuth "github.com/lumina-photos/lumina-backend/pkg/auth"
	"github.com/lumina-photos/lumina-backend/pkg/config"
	"github.com/lumina-photos/lumina-backend/pkg/enums"
	"github.com/lumina-photos/lumina-backend/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type memoryCache struct {
	mu     sync.Mutex
	data   map[string]string
	counts map[string]int64
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string]string{}, counts: map[string]int64{}}
}

func (m *memoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryCache) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryCache) SetXX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryCache) IdempotencyKey(scope, id string) string {
	return "lumina:idempotency:" + scope + ":" + id
}

func (m *memoryCache) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryCache) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[scope]++
	return m.counts[scope] <= limit, m.counts[scope], nil
}

func (m *memoryCache) Ping(context.Context) error {
	return nil
}

type stubCheckoutService struct {
	mu    sync.Mutex
	polls int
}

func (s *stubCheckoutService) BeginPix(context.Context, checkout.BeginInput) (*checkout.BeginResult, error) {
	return &checkout.BeginResult{PaymentID: "pix-1", Status: enums.PurchaseStatusPending}, nil
}

func (s *stubCheckoutService) BeginCard(context.Context, checkout.BeginInput) (*checkout.BeginResult, error) {
	return &checkout.BeginResult{PaymentID: "card-1", Status: enums.PurchaseStatusPending}, nil
}

func (s *stubCheckoutService) CheckStatus(_ context.Context, _, paymentID string) (*checkout.ReconcileResult, error) {
	s.mu.Lock()
	s.polls++
	s.mu.Unlock()
	return &checkout.ReconcileResult{PaymentID: paymentID, Status: enums.PurchaseStatusPending, Found: true}, nil
}

func (s *stubCheckoutService) Reconcile(context.Context, checkout.ReconcileInput) (*checkout.ReconcileResult, error) {
	return nil, nil
}

func (s *stubCheckoutService) ReconcileUntagged(context.Context, string, time.Time) (*checkout.ReconcileResult, error) {
	return nil, nil
}

type stubWebhookService struct{}

func (stubWebhookService) Handle(context.Context, mpwebhook.Notification) (mpwebhook.Outcome, error) {
	return mpwebhook.OutcomeIgnored, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "lumina-identity"},
		RateLimit: config.RateLimitConfig{
			CheckoutWindow: time.Minute,
			CheckoutBuyer:  3,
			CheckoutIP:     100,
		},
	}
}

func newTestRouter(t *testing.T, svc checkout.Service, cache CacheStore) (http.Handler, string) {
	t.Helper()
	cfg := testConfig()
	logg := logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard})
	token, err := pkgAuth.SignBuyerToken(cfg.JWT, "buyer-1", time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return NewRouter(cfg, logg, stubPinger{}, cache, svc, stubWebhookService{}, nil, nil), token
}

func checkoutRequest(token, body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	req.RemoteAddr = "10.0.0.1:4000"
	return req
}

func TestRouterHealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t, &stubCheckoutService{}, newMemoryCache())

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
}

func TestRouterCheckoutRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t, &stubCheckoutService{}, newMemoryCache())

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, checkoutRequest("", `{"action":"check-status","paymentId":"1"}`, ""))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if resp.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestRouterCheckoutReplaysIdempotentRequests(t *testing.T) {
	svc := &stubCheckoutService{}
	router, token := newTestRouter(t, svc, newMemoryCache())

	body := `{"action":"check-status","paymentId":"123"}`
	for i := 0; i < 2; i++ {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, checkoutRequest(token, body, "poll-1"))
		if resp.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200 got %d: %s", i, resp.Code, resp.Body.String())
		}
	}
	if svc.polls != 1 {
		t.Fatalf("expected replay to skip the handler, polls=%d", svc.polls)
	}
}

func TestRouterCheckoutRateLimitsBuyer(t *testing.T) {
	router, token := newTestRouter(t, &stubCheckoutService{}, newMemoryCache())

	var last int
	for i := 0; i < 4; i++ {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, checkoutRequest(token, `{"action":"check-status","paymentId":"123"}`, ""))
		last = resp.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the buyer limit, got %d", last)
	}
}

func TestRouterCheckoutWithoutCache(t *testing.T) {
	router, token := newTestRouter(t, &stubCheckoutService{}, nil)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, checkoutRequest(token, `{"action":"begin-pix"}`, "k"))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestRouterWebhookIsPublic(t *testing.T) {
	router, _ := newTestRouter(t, &stubCheckoutService{}, newMemoryCache())

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mercadopago?type=merchant_order&data.id=1", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t, &stubCheckoutService{}, newMemoryCache())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/checkout", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Idempotency-Key")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected allowed origin, got %q", got)
	}
}

func TestRouterCORSRejectsUnknownOrigin(t *testing.T) {
	router, _ := newTestRouter(t, &stubCheckoutService{}, newMemoryCache())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/checkout", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allowed origin, got %q", got)
	}
}
