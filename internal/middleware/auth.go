// Package middleware provides HTTP middleware for caller identity, CORS
// handling, rate limiting, and request context management.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/queueup/backend/internal/logging"
	"github.com/queueup/backend/internal/services"
	"github.com/queueup/backend/internal/session"
)

type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
)

// AuthMiddleware validates identity tokens and adds claims to the request context.
// The token comes from the Authorization header, or from the access_token
// query parameter for push endpoints where browsers cannot set headers.
// Returns 401 for missing/invalid tokens.
func AuthMiddleware(authService *services.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(w, r)
			if !ok {
				return
			}

			claims, err := authService.ValidateToken(token)
			if err != nil {
				logging.LogSecurityEvent(r.Context(), logging.SecurityEventInvalidJWT, "invalid or expired token")
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			ctx = logging.UpdateRequestAttrs(ctx, "", claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, true
		}
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventMissingAuth, "missing authorization header")
		http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
		return "", false
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventInvalidAuthFmt, "invalid authorization header format")
		http.Error(w, `{"error":"invalid authorization header format"}`, http.StatusUnauthorized)
		return "", false
	}
	return parts[1], true
}

// GetClaims retrieves the JWT claims from the request context.
// Returns nil if no claims are present (e.g., unauthenticated request).
func GetClaims(ctx context.Context) *services.Claims {
	claims, _ := ctx.Value(ClaimsKey).(*services.Claims)
	return claims
}

// GetIdentity returns the caller identity established by AuthMiddleware.
func GetIdentity(ctx context.Context) (session.Identity, bool) {
	claims := GetClaims(ctx)
	if claims == nil {
		return session.Identity{}, false
	}
	return claims.Identity(), true
}
