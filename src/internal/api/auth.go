package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/api/apiErrors"

	"github.com/golang-jwt/jwt/v5"
)

// RequireToken admits requests carrying an HS256 bearer token signed with
// secret. The token subject is the chat user id the caller acts as. An empty
// secret turns every request away.
func RequireToken(secret string) func(next http.Handler) http.Handler {
	keyFunc := func(*jwt.Token) (any, error) { return []byte(secret), nil }
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeError(w, http.StatusUnauthorized, apiErrors.Unauthorized, "api is disabled")
				return
			}
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeError(w, http.StatusUnauthorized, apiErrors.Unauthorized, "bearer token required")
				return
			}
			var claims jwt.RegisteredClaims
			_, err := jwt.ParseWithClaims(raw, &claims, keyFunc,
				jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
				jwt.WithExpirationRequired())
			if err != nil {
				writeError(w, http.StatusUnauthorized, apiErrors.Unauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, claims.Subject)))
		})
	}
}

// Caller is the subject of the token that authorized the request.
func Caller(ctx context.Context) string {
	sub, _ := ctx.Value(callerKey).(string)
	return sub
}
