package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/securetrack/server/internal/observability"
	"github.com/securetrack/server/internal/services"
)

type contextKey string

const callablePrefix = "/api/callable/"

const (
	UserIDContextKey contextKey = "user_id"
	ClaimsContextKey contextKey = "claims"
)

// TokenVerifier checks a bearer token and returns its claims
type TokenVerifier interface {
	Verify(token string) (*services.SessionClaims, error)
}

// GetUserIDFromContext retrieves the authenticated user id from request context
func GetUserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDContextKey).(string); ok {
		return id
	}
	return ""
}

// GetClaimsFromContext retrieves the verified session claims from request context
func GetClaimsFromContext(ctx context.Context) *services.SessionClaims {
	if claims, ok := ctx.Value(ClaimsContextKey).(*services.SessionClaims); ok {
		return claims
	}
	return nil
}

// WithUserID returns a context carrying userID as the authenticated user
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDContextKey, userID)
}

// BearerAuth creates middleware that verifies session tokens on /api routes.
// Browsers cannot set headers on websocket upgrades, so the token may also
// arrive as the access_token query parameter.
func BearerAuth(verifier TokenVerifier, skipPaths []string) func(http.Handler) http.Handler {
	skipSet := make(map[string]bool)
	for _, p := range skipPaths {
		skipSet[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path

			if skipSet[path] || !strings.HasPrefix(path, "/api") {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				writeAuthError(w, r, "Session token is required.")
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				observability.WithContext(r.Context()).WithField("path", path).Debugf("Rejected session token: %v", err)
				writeAuthError(w, r, "Session token is invalid or expired.")
				return
			}

			ctx := WithUserID(r.Context(), claims.Subject)
			ctx = context.WithValue(ctx, ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
			return strings.TrimSpace(auth[7:])
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// writeAuthError answers 401; callables get the callable error shape
func writeAuthError(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if strings.HasPrefix(r.URL.Path, callablePrefix) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": &services.CallableError{Status: services.StatusUnauthenticated, Message: msg},
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
