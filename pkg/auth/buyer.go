// Package auth verifies the buyer bearer tokens minted by the identity
// provider. The payment engine never issues tokens outside of tests and
// local tooling.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lumina-photos/lumina-backend/pkg/config"
)

var signingMethod = jwt.SigningMethodHS256

var (
	// ErrMissingSubject is returned when a valid token carries no buyer id.
	ErrMissingSubject = errors.New("token subject is required")
	errNoSecret       = errors.New("jwt secret is required")
	errNoIssuer       = errors.New("jwt issuer is required")
)

// BuyerClaims are the claims checkout relies on. The subject is the opaque
// buyer id; nothing else about the buyer is read from the token.
type BuyerClaims struct {
	jwt.RegisteredClaims
}

func (c *BuyerClaims) BuyerID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}

// Verifier checks signature, issuer, expiry and optionally audience.
type Verifier struct {
	key    []byte
	parser *jwt.Parser
}

func NewVerifier(cfg config.JWTConfig) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, errNoSecret
	}
	if cfg.Issuer == "" {
		return nil, errNoIssuer
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Verifier{key: []byte(cfg.Secret), parser: jwt.NewParser(opts...)}, nil
}

// Verify parses raw and returns its claims.
func (v *Verifier) Verify(raw string) (*BuyerClaims, error) {
	claims := &BuyerClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// SignBuyerToken mints a token the Verifier for cfg accepts. Used by tests
// and the local smoke-test tooling.
func SignBuyerToken(cfg config.JWTConfig, buyerID string, issuedAt time.Time, ttl time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", errNoSecret
	}
	if strings.TrimSpace(buyerID) == "" {
		return "", ErrMissingSubject
	}
	if ttl <= 0 {
		return "", fmt.Errorf("jwt ttl must be positive, got %s", ttl)
	}
	claims := BuyerClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    cfg.Issuer,
		Subject:   strings.TrimSpace(buyerID),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
	}}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}
