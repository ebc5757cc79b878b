// Package oauth implements the authorization-code and refresh-token grants.
//
// Server sits on a ClientRegistry (postgres), a TokenStore and a CodeStore
// (redis). Codes are single use: redemption takes the record with GETDEL, so
// of two concurrent redeemers exactly one wins and the other gets
// ErrInvalidGrant. Unknown, expired, revoked and replayed codes or tokens all
// report ErrInvalidGrant.
//
// A refresh record remembers the hash of the last access token issued from
// it, so RevokeToken removes both. Refreshing issues a new access token and
// drops the previous one. The refresh token itself is not rotated.
//
// Handlers serves POST /oauth/token and POST /oauth/revoke with RFC 6749
// error bodies. Clients authenticate with HTTP Basic or form fields.
package oauth
