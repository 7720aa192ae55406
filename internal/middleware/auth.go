package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wallet-relay/wallet-relay/internal/auth"
	apperrors "github.com/wallet-relay/wallet-relay/pkg/errors"
)

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for the authenticated user's subject.
	UserIDKey ContextKey = "user_id"
	// ConnectionIDKey is the context key for the token's connection binding,
	// when present.
	ConnectionIDKey ContextKey = "connection_id"
)

// AuthMiddleware validates Bearer tokens minted by the service's own
// token issuer.
type AuthMiddleware struct {
	tokens *auth.TokenIssuer
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(tokens *auth.TokenIssuer) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Authenticate requires a valid Bearer token and stores the subject (and
// connection binding, if any) in the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.writeError(w, apperrors.ErrUnauthorized)
			return
		}

		claims, err := m.tokens.Verify(parts[1])
		if err != nil {
			m.writeError(w, apperrors.ErrUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, claims.Subject)
		if claims.ConnectionID != "" {
			ctx = context.WithValue(ctx, ConnectionIDKey, claims.ConnectionID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) writeError(w http.ResponseWriter, err *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	json.NewEncoder(w).Encode(err)
}

// GetUserID extracts the authenticated user from the request context.
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)
	return id, ok
}
