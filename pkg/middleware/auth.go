package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/accesscore/pkg/auth"
	"github.com/platinummonkey/accesscore/pkg/contextkeys"
	"github.com/platinummonkey/accesscore/pkg/httputil"
	"github.com/platinummonkey/accesscore/pkg/observability"
	"github.com/platinummonkey/accesscore/pkg/oauth"
	"github.com/sirupsen/logrus"
)

// TokenResolver resolves a bearer token to its stored record
type TokenResolver interface {
	GetAccessToken(ctx context.Context, token string) (*auth.TokenRecord, error)
}

// ModeratorLookup reports whether a user is a moderator
type ModeratorLookup interface {
	IsModerator(ctx context.Context, userID int64) (bool, error)
}

// AuthMiddleware resolves bearer tokens into an auth.AuthContext
type AuthMiddleware struct {
	tokens   TokenResolver
	users    ModeratorLookup
	optional bool // If true, allow requests without auth
	log      *logrus.Logger
}

// NewAuthMiddleware creates a bearer authentication middleware. With optional
// set, requests without an Authorization header pass through anonymously.
func NewAuthMiddleware(tokens TokenResolver, users ModeratorLookup, optional bool, log *logrus.Logger) *AuthMiddleware {
	if log == nil {
		log = logrus.New()
	}
	return &AuthMiddleware{
		tokens:   tokens,
		users:    users,
		optional: optional,
		log:      log,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		rec, err := m.tokens.GetAccessToken(r.Context(), strings.TrimSpace(token))
		if errors.Is(err, oauth.ErrTokenNotFound) {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("bearer token lookup failed")
			httputil.WriteServiceUnavailable(w, "authentication backend unavailable")
			return
		}

		isModerator := false
		if m.users != nil {
			isModerator, err = m.users.IsModerator(r.Context(), rec.UserID)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).WithField("user_id", rec.UserID).Error("moderator lookup failed")
				httputil.WriteServiceUnavailable(w, "authentication backend unavailable")
				return
			}
		}

		authCtx := &auth.AuthContext{
			UserID:      rec.UserID,
			ClientID:    rec.ClientID,
			Scopes:      rec.Scope,
			IsModerator: isModerator,
			ExpiresAt:   rec.ExpiresAt,
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		if entry, ok := ctx.Value(contextkeys.LoggerKey).(*logrus.Entry); ok {
			ctx = observability.WithLogger(ctx, entry.WithFields(logrus.Fields{
				"user_id":   rec.UserID,
				"client_id": rec.ClientID,
			}))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	return auth.FromContext(r.Context())
}

// RequireAuth rejects requests that carry no auth context
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetAuthContext(r) == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireScope creates middleware that checks for a specific scope
func RequireScope(scope auth.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			if !authCtx.HasScope(scope) {
				httputil.WriteForbidden(w, "insufficient scope")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
