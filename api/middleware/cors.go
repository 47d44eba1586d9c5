package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/cors"

	"github.com/lumina-photos/lumina-backend/pkg/logger"
)

var storefrontOrigins = []string{
	"http://localhost:3000",
	"https://lumina.photos",
	"https://www.lumina.photos",
}

// CORS allows browser checkout calls from the storefront. Idempotency-Key
// must be listed so retries from the browser keep their key.
func CORS(origins []string, logg *logger.Logger) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			allowed = append(allowed, strings.TrimSuffix(o, "/"))
		}
	}
	if len(allowed) == 0 {
		allowed = storefrontOrigins
	}
	logg.Debug(logg.WithField(context.Background(), "origins", allowed), "cors.configured")

	return cors.New(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Device-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After", "Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           600,
	}).Handler
}
