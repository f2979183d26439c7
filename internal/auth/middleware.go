package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "user_id"
	// RoleKey is the context key for user role
	RoleKey ContextKey = "role"
	// ClaimsKey is the context key for JWT claims
	ClaimsKey ContextKey = "claims"
)

var errInvalidHeader = errors.New("invalid authorization header format")

// AnonymousUserID is the user ID given to requests when auth is optional.
const AnonymousUserID int64 = 0

// Middleware authenticates requests with bearer tokens.
type Middleware struct {
	jwtService *JWTService
	required   bool
}

// NewMiddleware creates auth middleware. When required is false requests
// without a token proceed as the anonymous user; a token that is present
// must still be valid.
func NewMiddleware(jwtService *JWTService, required bool) *Middleware {
	return &Middleware{jwtService: jwtService, required: required}
}

// Required reports whether requests must carry a token.
func (m *Middleware) Required() bool {
	return m.required
}

// Authenticate validates the token and adds user info to the request
// context. The token comes from the Authorization header, or from the
// token query parameter for WebSocket upgrades where browsers cannot set
// headers.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := extractToken(r)
		if err != nil {
			sendError(w, http.StatusUnauthorized, "InvalidToken", err.Error())
			return
		}

		if tokenString == "" {
			if m.required {
				sendError(w, http.StatusUnauthorized, "MissingToken", "Authorization header required")
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, AnonymousUserID)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		claims, err := m.jwtService.ValidateAccessToken(tokenString)
		if err != nil {
			sendError(w, http.StatusUnauthorized, "InvalidToken", "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
		ctx = context.WithValue(ctx, RoleKey, claims.Role)
		ctx = context.WithValue(ctx, ClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole ensures the user has the required role. It is a no-op when
// auth is optional.
func (m *Middleware) RequireRole(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !m.required {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := GetRole(r)
			if !ok || role != requiredRole {
				sendError(w, http.StatusForbidden, "InsufficientPermissions", "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", errInvalidHeader
		}
		return parts[1], nil
	}
	return r.URL.Query().Get("token"), nil
}

// GetUserID extracts user ID from request context
func GetUserID(r *http.Request) (int64, bool) {
	userID, ok := r.Context().Value(UserIDKey).(int64)
	return userID, ok
}

// GetRole extracts role from request context
func GetRole(r *http.Request) (string, bool) {
	role, ok := r.Context().Value(RoleKey).(string)
	return role, ok
}

// GetClaims extracts JWT claims from request context
func GetClaims(r *http.Request) (*Claims, bool) {
	claims, ok := r.Context().Value(ClaimsKey).(*Claims)
	return claims, ok
}

func sendError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   code,
		"message": message,
		"code":    status,
	})
}
