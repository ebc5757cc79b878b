package oauth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/accesscore/pkg/auth"
	"github.com/platinummonkey/accesscore/pkg/httputil"
	"github.com/platinummonkey/accesscore/pkg/observability"
)

// Handlers exposes the token and revocation endpoints
type Handlers struct {
	server *Server
}

// NewHandlers creates HTTP handlers for server
func NewHandlers(server *Server) *Handlers {
	return &Handlers{server: server}
}

// RegisterRoutes registers the OAuth routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/oauth/token", h.token).Methods(http.MethodPost)
	router.HandleFunc("/oauth/revoke", h.revoke).Methods(http.MethodPost)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

func (h *Handlers) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteOAuthError(w, http.StatusBadRequest, "invalid_request", "unable to parse request body")
		return
	}

	grantType := strings.TrimSpace(r.PostForm.Get("grant_type"))
	if grantType == "" {
		httputil.WriteOAuthError(w, http.StatusBadRequest, "invalid_request", "grant_type is required")
		return
	}

	client, ok := h.authenticateClient(w, r)
	if !ok {
		return
	}

	resp, err := h.server.IssueToken(r.Context(), TokenRequest{
		GrantType:    auth.GrantType(grantType),
		Code:         strings.TrimSpace(r.PostForm.Get("code")),
		RedirectURI:  strings.TrimSpace(r.PostForm.Get("redirect_uri")),
		RefreshToken: strings.TrimSpace(r.PostForm.Get("refresh_token")),
	}, client)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	expiresIn := int64(time.Until(resp.ExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}

	httputil.WriteNoStoreJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  resp.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: resp.RefreshToken,
		Scope:        resp.Scope.String(),
	})
}

// revoke follows RFC 7009: unknown tokens are not an error
func (h *Handlers) revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteOAuthError(w, http.StatusBadRequest, "invalid_request", "unable to parse request body")
		return
	}

	token := strings.TrimSpace(r.PostForm.Get("token"))
	if token == "" {
		httputil.WriteOAuthError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}

	client, ok := h.authenticateClient(w, r)
	if !ok {
		return
	}

	if err := h.server.RevokeForClient(r.Context(), client, token); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}

// authenticateClient reads client credentials from HTTP Basic auth or the
// form body
func (h *Handlers) authenticateClient(w http.ResponseWriter, r *http.Request) (*auth.Client, bool) {
	clientID, clientSecret, hasBasic := r.BasicAuth()
	if !hasBasic {
		clientID = r.PostForm.Get("client_id")
		clientSecret = r.PostForm.Get("client_secret")
	}

	client, err := h.server.GetClient(r.Context(), strings.TrimSpace(clientID), strings.TrimSpace(clientSecret))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return client, true
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, status := ErrorCode(err)
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("token endpoint failure")
		httputil.WriteOAuthError(w, status, code, "")
		return
	}

	description := ""
	if !errors.Is(err, ErrInvalidGrant) && !errors.Is(err, ErrInvalidClient) {
		description = err.Error()
	}
	httputil.WriteOAuthError(w, status, code, description)
}
