package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/leadmap/campaign-engine/internal/pkg/httputil"
)

// RequireCronSecret authenticates scheduler trigger calls. The secret may
// arrive as X-Cron-Secret, X-Service-Key, or an Authorization bearer token;
// different cron providers support different header shapes. An empty
// configured secret rejects everything rather than failing open.
func RequireCronSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" || !presentedSecretMatches(r, secret) {
				httputil.Unauthorized(w, "invalid or missing scheduler secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presentedSecretMatches(r *http.Request, secret string) bool {
	candidates := []string{
		r.Header.Get("X-Cron-Secret"),
		r.Header.Get("X-Service-Key"),
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		candidates = append(candidates, strings.TrimPrefix(auth, "Bearer "))
	}
	for _, c := range candidates {
		if c != "" && subtle.ConstantTimeCompare([]byte(c), []byte(secret)) == 1 {
			return true
		}
	}
	return false
}
