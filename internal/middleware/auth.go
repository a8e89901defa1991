// Package middleware provides HTTP middleware for the subscription server.
package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/openhls/s2-downloader/internal/pkg/response"
)

// BasicAuth returns a middleware enforcing HTTP Basic auth against one
// configured credential pair. Comparison runs in constant time over SHA-256
// digests so neither match length nor prefix leaks.
func BasicAuth(username, password string) func(next http.Handler) http.Handler {
	wantUser := sha256.Sum256([]byte(username))
	wantPass := sha256.Sum256([]byte(password))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUser, gotPass, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="restricted"`)
				response.Unauthorized(w)
				return
			}

			userHash := sha256.Sum256([]byte(gotUser))
			passHash := sha256.Sum256([]byte(gotPass))
			userMatch := subtle.ConstantTimeCompare(userHash[:], wantUser[:]) == 1
			passMatch := subtle.ConstantTimeCompare(passHash[:], wantPass[:]) == 1
			if !userMatch || !passMatch {
				w.Header().Set("WWW-Authenticate", `Basic realm="restricted"`)
				response.Unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
