package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/scanlog/server/internal/models"
)

// APIKeyAuth requires headerName to carry apiKey on /api routes. An empty
// apiKey disables the check, which is the default for a loopback listener.
// The key may also be passed as the api_key query parameter so browser
// WebSocket clients, which cannot set headers, can authenticate.
func APIKeyAuth(apiKey, headerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if path == "/health" || path == "/api/health" {
				next.ServeHTTP(w, r)
				return
			}
			if !strings.HasPrefix(path, "/api") && path != "/ws" {
				next.ServeHTTP(w, r)
				return
			}

			providedKey := r.Header.Get(headerName)
			if providedKey == "" {
				providedKey = r.URL.Query().Get("api_key")
			}
			if providedKey == "" {
				unauthorized(w, "API key is required.")
				return
			}

			if !constantTimeEquals(apiKey, providedKey) {
				unauthorized(w, "Invalid API key.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: message})
}

func constantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
