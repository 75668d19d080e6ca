// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"

	"github.com/capitalize-ai/ai-pipeline/internal/auth"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// IdentityIDKey is the context key for the authenticated identity.
	IdentityIDKey ContextKey = "identity_id"
)

// Auth creates bearer token authentication middleware.
func Auth(verifier auth.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			token, ok := auth.BearerToken(authHeader)
			if !ok {
				http.Error(w, `{"error":"invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}

			identityID, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			noteIdentity(r.Context(), identityID)
			next.ServeHTTP(w, r.WithContext(WithIdentityID(r.Context(), identityID)))
		})
	}
}

// WithIdentityID returns ctx carrying identityID.
func WithIdentityID(ctx context.Context, identityID string) context.Context {
	return context.WithValue(ctx, IdentityIDKey, identityID)
}

// GetIdentityID gets the identity ID from context.
func GetIdentityID(ctx context.Context) string {
	if v, ok := ctx.Value(IdentityIDKey).(string); ok {
		return v
	}
	return ""
}
