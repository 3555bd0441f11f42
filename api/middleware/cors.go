package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows the mobile and admin clients listed in ESCROW_CORS_ORIGINS.
// Idempotency-Key must be allowed for browsers to send it on order POSTs.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyHeader, RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, ReplayedHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
