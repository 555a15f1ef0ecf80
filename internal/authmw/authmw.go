// Package authmw guards the triage API with a static bearer token.
// Operator tooling and the WeCom ingestion bridge share one token; there
// is no per-client identity.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const challenge = `Bearer realm="wecom-triage"`

// BearerToken returns middleware requiring `Authorization: Bearer <token>`
// on every request. Token comparison is constant-time.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				reject(w, "missing or malformed authorization header")
				return
			}
			got := []byte(strings.TrimPrefix(auth, "Bearer "))
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				reject(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}` + "\n"))
}
