// Package middleware provides HTTP middlewares for webhook authentication and logging.
package middleware

import (
	"crypto/subtle"
	"net/http"
)

// SecretTokenHeader carries the secret Telegram was given in setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// SecretToken returns a middleware that rejects requests whose
// SecretTokenHeader does not equal secret. With an empty secret every
// request passes.
func SecretToken(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(SecretTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				http.Error(w, "invalid secret token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
