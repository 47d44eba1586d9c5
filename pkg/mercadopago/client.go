// Package mercadopago is a thin client for the Mercado Pago payments API:
// charge creation (PIX and card), status lookup and search by external reference.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	pkgerrors "github.com/lumina-photos/lumina-backend/pkg/errors"
)

const (
	DefaultBaseURL = "https://api.mercadopago.com"

	defaultTimeout        = 15 * time.Second
	errorBodyReadLimit    = 4096
	headerIdempotencyKey  = "X-Idempotency-Key"
	headerDeviceSessionID = "X-meli-session-id"
)

var errAccessTokenRequired = errors.New("mercado pago access token is required")

// Client calls the gateway with a bearer access token.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	timeout     time.Duration
	limiter     *rate.Limiter
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout bounds every gateway call.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRateLimit throttles outbound calls to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient builds the gateway client.
func NewClient(accessToken string, opts ...Option) (*Client, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}

	client := &Client{
		accessToken: token,
		baseURL:     DefaultBaseURL,
		timeout:     defaultTimeout,
		httpClient:  &http.Client{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type requestOptions struct {
	idempotencyKey string
	deviceID       string
}

func (c *Client) do(ctx context.Context, method, path string, body any, opts requestOptions, out any) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "payment gateway not configured")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway rate limiter")
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal gateway request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if opts.idempotencyKey != "" {
		req.Header.Set(headerIdempotencyKey, opts.idempotencyKey)
	}
	if opts.deviceID != "" {
		req.Header.Set(headerDeviceSessionID, opts.deviceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute gateway request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		gwErr := parseGatewayError(resp.StatusCode, raw)
		if gwErr.Rejected() {
			return gwErr
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, gwErr, "gateway request failed")
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode gateway response")
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(c.baseURL, "/"), strings.TrimLeft(path, "/"))
}
