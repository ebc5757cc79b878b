package auth

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/platinummonkey/accesscore/pkg/contextkeys"
)

// GrantType names a delegated-authorization grant
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
)

// TokenType distinguishes stored bearer credentials
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Scope represents a single delegated permission
type Scope string

// ScopeAll grants every scope
const ScopeAll Scope = "*"

// Scopes is a normalized (sorted, de-duplicated) scope set
type Scopes []Scope

// ParseScopes parses a space-delimited scope string
func ParseScopes(raw string) Scopes {
	fields := strings.Fields(raw)
	scopes := make(Scopes, 0, len(fields))
	for _, f := range fields {
		scopes = append(scopes, Scope(f))
	}
	return scopes.Normalize()
}

// Normalize returns a sorted copy without duplicates
func (s Scopes) Normalize() Scopes {
	if len(s) == 0 {
		return Scopes{}
	}
	seen := make(map[Scope]struct{}, len(s))
	out := make(Scopes, 0, len(s))
	for _, scope := range s {
		if scope == "" {
			continue
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		out = append(out, scope)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether the set grants scope
func (s Scopes) Has(scope Scope) bool {
	for _, candidate := range s {
		if candidate == ScopeAll || candidate == scope {
			return true
		}
	}
	return false
}

// String renders the set in wire format
func (s Scopes) String() string {
	parts := make([]string, len(s))
	for i, scope := range s {
		parts[i] = string(scope)
	}
	return strings.Join(parts, " ")
}

// Client is a registered third-party application
type Client struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	SecretHash   string      `json:"-"`
	RedirectURIs []string    `json:"redirect_uris"`
	Grants       []GrantType `json:"grants"`
	CreatedAt    time.Time   `json:"created_at"`
}

// AllowsGrant reports whether the client may use the grant
func (c *Client) AllowsGrant(grant GrantType) bool {
	for _, g := range c.Grants {
		if g == grant {
			return true
		}
	}
	return false
}

// AllowsRedirectURI reports whether uri is registered. Clients without
// registered URIs accept any redirect.
func (c *Client) AllowsRedirectURI(uri string) bool {
	if len(c.RedirectURIs) == 0 {
		return true
	}
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// AuthorizationCode binds a user, client, redirect URI and scope until redeemed
type AuthorizationCode struct {
	CodeHash    string    `json:"code_hash"`
	RedirectURI string    `json:"redirect_uri"`
	Scope       Scopes    `json:"scope"`
	ClientID    string    `json:"client_id"`
	UserID      int64     `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the code is past its expiry at now
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// TokenRecord is a persisted bearer credential. The secret itself is never stored.
type TokenRecord struct {
	SecretHash string    `json:"secret_hash"`
	Type       TokenType `json:"type"`
	Scope      Scopes    `json:"scope"`
	ClientID   string    `json:"client_id"`
	UserID     int64     `json:"user_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`

	// AccessHash links a refresh token to the access token most recently issued from it
	AccessHash string `json:"access_hash,omitempty"`
	// RefreshHash links an access token to the refresh token it was issued with
	RefreshHash string `json:"refresh_hash,omitempty"`
}

// Expired reports whether the token is past its expiry at now
func (t *TokenRecord) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// AuthContext holds the identity resolved from a bearer token
type AuthContext struct {
	UserID      int64
	ClientID    string
	Scopes      Scopes
	IsModerator bool
	ExpiresAt   time.Time
}

// HasScope checks if the context has a specific scope
func (ac *AuthContext) HasScope(scope Scope) bool {
	return ac.Scopes.Has(scope)
}

// FromContext returns the AuthContext stored by the bearer middleware, or nil
func FromContext(ctx context.Context) *AuthContext {
	authCtx, _ := ctx.Value(contextkeys.AuthKey).(*AuthContext)
	return authCtx
}
