package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sungwon/psp-relay/internal/metrics"
)

type contextKey string

const producerKey contextKey = "producer"

// ProducerFromContext retrieves the authenticated producer from the request
// context. Returns an empty string if the request was not authenticated.
func ProducerFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(producerKey).(string); ok {
		return p
	}
	return ""
}

// ProducerAuth returns an HTTP middleware that accepts EITHER a producer JWT
// OR a static producer API key as a Bearer token. Either argument may be nil to
// disable that method. The producer name is stored in the request context.
func ProducerAuth(jwtService *JWTService, keys *APIKeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, `{"error":"authorization header required"}`)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				unauthorized(w, `{"error":"invalid authorization format, expected Bearer <token>"}`)
				return
			}

			token := parts[1]
			if token == "" {
				unauthorized(w, `{"error":"empty token"}`)
				return
			}

			// Try JWT first if token contains dots (JWT format: header.payload.signature)
			if jwtService != nil && strings.Contains(token, ".") {
				if claims, err := jwtService.ValidateProducerToken(token); err == nil {
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), producerKey, claims.Producer)))
					return
				}
			}

			if keys != nil {
				if producer, err := keys.Lookup(token); err == nil {
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), producerKey, producer)))
					return
				}
			}

			unauthorized(w, `{"error":"invalid or expired credentials"}`)
		})
	}
}

func unauthorized(w http.ResponseWriter, body string) {
	metrics.APIAuthFailuresTotal.Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(body))
}
