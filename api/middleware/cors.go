package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS lets the storefront and back-office origins call the API from a
// browser. Only the verbs the router serves are allowed, and the replay and
// rate-limit headers are exposed so clients can react to them.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyHeader, requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, "Idempotent-Replayed", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
