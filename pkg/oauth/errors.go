package oauth

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/accesscore/pkg/storage"
)

// Protocol errors. Their messages are the RFC 6749 error codes.
var (
	ErrInvalidRequest       = errors.New("invalid_request")
	ErrInvalidClient        = errors.New("invalid_client")
	ErrInvalidGrant         = errors.New("invalid_grant")
	ErrUnauthorizedClient   = errors.New("unauthorized_client")
	ErrUnsupportedGrantType = errors.New("unsupported_grant_type")
	ErrInvalidRedirectURI   = errors.New("invalid redirect_uri")

	// ErrTokenNotFound is returned by GetAccessToken for unknown, expired or
	// revoked bearer tokens
	ErrTokenNotFound = errors.New("token not found")
)

// ErrorCode maps err to its wire error code and HTTP status
func ErrorCode(err error) (code string, status int) {
	switch {
	case errors.Is(err, ErrInvalidClient):
		return "invalid_client", http.StatusUnauthorized
	case errors.Is(err, ErrInvalidGrant):
		return "invalid_grant", http.StatusBadRequest
	case errors.Is(err, ErrUnauthorizedClient):
		return "unauthorized_client", http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedGrantType):
		return "unsupported_grant_type", http.StatusBadRequest
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidRedirectURI):
		return "invalid_request", http.StatusBadRequest
	case errors.Is(err, storage.ErrUnavailable):
		return "server_error", http.StatusServiceUnavailable
	default:
		return "server_error", http.StatusInternalServerError
	}
}
