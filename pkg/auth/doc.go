// Package auth provides the credential primitives shared by the OAuth engine
// and the bearer authentication middleware.
//
// # Secrets
//
// Every credential handed to a client is an opaque secret with a fixed prefix
// followed by base64url(32 random bytes):
//
//	oat_  access token
//	ort_  refresh token
//	oac_  authorization code
//	ocs_  client secret
//
// Only the SHA-256 hash of a secret is ever persisted. The cleartext is
// returned to the caller once, at issuance:
//
//	generator := auth.NewTokenGenerator()
//	secret, hash, err := generator.Generate(auth.AccessTokenPrefix)
//	// secret: give to the client
//	// hash: store
//
// # Scopes
//
// Scopes travel on the wire as a space-delimited string and are kept as a
// sorted, de-duplicated set:
//
//	scopes := auth.ParseScopes("read write read")
//	scopes.String() // "read write"
//	scopes.Has("write")
//
// ScopeAll ("*") satisfies every scope check.
//
// # Records
//
// Client, AuthorizationCode and TokenRecord are the stored shapes. AuthContext
// is the identity the middleware attaches to a request after resolving a
// bearer token.
package auth
