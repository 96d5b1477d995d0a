// Package web exposes the non-realtime collaborator surface: auth, room
// CRUD, history (the read-receipt trigger), reactions, search, and stats.
package web

import (
	"context"
	"net/http"
	"strings"

	"chat-rooms/auth"
)

type contextKey string

const claimsKey contextKey = "claims"

// Authenticated validates the bearer token and injects the claims into the
// request context for downstream handlers.
func Authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, "authorization token is missing")
			return
		}

		claims, err := auth.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func claimsFrom(r *http.Request) *auth.CustomClaims {
	claims, _ := r.Context().Value(claimsKey).(*auth.CustomClaims)
	return claims
}

func hasRole(claims *auth.CustomClaims, role string) bool {
	for _, r := range claims.Roles {
		if r == role {
			return true
		}
	}
	return false
}
