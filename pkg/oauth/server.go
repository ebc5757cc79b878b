package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/accesscore/pkg/auth"
	"github.com/platinummonkey/accesscore/pkg/observability"
	"github.com/platinummonkey/accesscore/pkg/storage"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/platinummonkey/accesscore/pkg/oauth"

// TokenStore persists token records by secret hash. SwapAccessHash and
// DeleteRefreshToken must be atomic with respect to each other so a refresh
// racing a revocation can never leave a live refresh token or an unlinked
// access token behind.
type TokenStore interface {
	PutToken(ctx context.Context, rec *auth.TokenRecord, ttl time.Duration) error
	GetToken(ctx context.Context, secretHash string) (*auth.TokenRecord, error)
	DeleteTokens(ctx context.Context, secretHashes ...string) error
	SwapAccessHash(ctx context.Context, refreshHash, previous, next string) error
	DeleteRefreshToken(ctx context.Context, refreshHash string) (*auth.TokenRecord, error)
}

// CodeStore holds authorization codes by code hash. TakeCode must be atomic:
// concurrent callers for the same hash get the record at most once.
type CodeStore interface {
	PutCode(ctx context.Context, code *auth.AuthorizationCode) error
	TakeCode(ctx context.Context, codeHash string) (*auth.AuthorizationCode, error)
	DeleteCode(ctx context.Context, codeHash string) error
}

// ClientRegistry loads and registers clients
type ClientRegistry interface {
	GetClient(ctx context.Context, id string) (*auth.Client, error)
	CreateClient(ctx context.Context, client *auth.Client) error
}

// Config holds token lifetimes
type Config struct {
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	CodeTTL            time.Duration
	IssueRefreshTokens bool
}

// DefaultConfig returns the default lifetimes
func DefaultConfig() Config {
	return Config{
		AccessTokenTTL:     7 * 24 * time.Hour,
		RefreshTokenTTL:    30 * 24 * time.Hour,
		CodeTTL:            10 * time.Minute,
		IssueRefreshTokens: true,
	}
}

// Server implements the authorization-code and refresh-token grants
type Server struct {
	clients ClientRegistry
	tokens  TokenStore
	codes   CodeStore
	config  Config
	gen     *auth.TokenGenerator
	log     *logrus.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(log *logrus.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates an OAuth engine on top of the given stores
func NewServer(clients ClientRegistry, tokens TokenStore, codes CodeStore, config Config, opts ...Option) *Server {
	s := &Server{
		clients: clients,
		tokens:  tokens,
		codes:   codes,
		config:  config,
		gen:     auth.NewTokenGenerator(),
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.New()
	}
	return s
}

// TokenRequest carries the grant-specific parameters of a token request
type TokenRequest struct {
	GrantType    auth.GrantType
	Code         string
	RedirectURI  string
	RefreshToken string
}

// TokenResponse holds freshly issued secrets. It is the only place the
// cleartext ever appears.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        auth.Scopes
	UserID       int64
}

// IssuedCode is a stored authorization code together with its cleartext
type IssuedCode struct {
	Code   string
	Record *auth.AuthorizationCode
}

// GetClient authenticates a client by id and secret. Unknown ids and bad
// secrets both return ErrInvalidClient.
func (s *Server) GetClient(ctx context.Context, clientID, clientSecret string) (*auth.Client, error) {
	if clientID == "" || clientSecret == "" {
		return nil, ErrInvalidClient
	}

	client, err := s.clients.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidClient
	}
	if err != nil {
		s.storageError(err)
		return nil, fmt.Errorf("load client: %w", err)
	}

	if !s.gen.MatchesHash(clientSecret, client.SecretHash) {
		return nil, ErrInvalidClient
	}
	return client, nil
}

// RegisterClient creates a client and returns its secret. The secret is not
// recoverable afterwards.
func (s *Server) RegisterClient(ctx context.Context, name string, redirectURIs []string, grants []auth.GrantType) (*auth.Client, string, error) {
	if name == "" {
		return nil, "", fmt.Errorf("%w: client name is required", ErrInvalidRequest)
	}
	for _, g := range grants {
		if g != auth.GrantAuthorizationCode && g != auth.GrantRefreshToken {
			return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedGrantType, g)
		}
	}

	secret, hash, err := s.gen.Generate(auth.ClientSecretPrefix)
	if err != nil {
		return nil, "", err
	}

	client := &auth.Client{
		ID:           uuid.NewString(),
		Name:         name,
		SecretHash:   hash,
		RedirectURIs: redirectURIs,
		Grants:       grants,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.clients.CreateClient(ctx, client); err != nil {
		s.storageError(err)
		return nil, "", fmt.Errorf("create client: %w", err)
	}

	s.log.WithFields(logrus.Fields{"client_id": client.ID, "name": name}).Info("client registered")
	return client, secret, nil
}

// IssueAuthorizationCode stores a code bound to client, user, redirect URI and
// scope. A non-positive ttl uses the configured code lifetime.
func (s *Server) IssueAuthorizationCode(ctx context.Context, client *auth.Client, userID int64, redirectURI string, scope auth.Scopes, ttl time.Duration) (*IssuedCode, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidRequest)
	}
	if !client.AllowsGrant(auth.GrantAuthorizationCode) {
		return nil, ErrUnauthorizedClient
	}
	if !client.AllowsRedirectURI(redirectURI) {
		return nil, ErrInvalidRedirectURI
	}
	if ttl <= 0 {
		ttl = s.config.CodeTTL
	}

	code, hash, err := s.gen.Generate(auth.AuthorizationCodePrefix)
	if err != nil {
		return nil, err
	}

	record := &auth.AuthorizationCode{
		CodeHash:    hash,
		RedirectURI: redirectURI,
		Scope:       scope.Normalize(),
		ClientID:    client.ID,
		UserID:      userID,
		ExpiresAt:   s.now().Add(ttl).UTC(),
	}
	if err := s.codes.PutCode(ctx, record); err != nil {
		s.storageError(err)
		return nil, fmt.Errorf("store authorization code: %w", err)
	}

	return &IssuedCode{Code: code, Record: record}, nil
}

// RedeemAuthorizationCode consumes a code. Unknown, expired and already
// redeemed codes all return ErrInvalidGrant.
func (s *Server) RedeemAuthorizationCode(ctx context.Context, code string) (*auth.AuthorizationCode, error) {
	if s.gen.ValidateFormat(code, auth.AuthorizationCodePrefix) != nil {
		return nil, ErrInvalidGrant
	}

	record, err := s.codes.TakeCode(ctx, s.gen.Hash(code))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidGrant
	}
	if err != nil {
		s.storageError(err)
		return nil, fmt.Errorf("redeem authorization code: %w", err)
	}
	if record.Expired(s.now()) {
		return nil, ErrInvalidGrant
	}
	return record, nil
}

// RevokeAuthorizationCode deletes a code. Revoking an unknown code succeeds.
func (s *Server) RevokeAuthorizationCode(ctx context.Context, code string) error {
	if s.gen.ValidateFormat(code, auth.AuthorizationCodePrefix) != nil {
		return nil
	}
	if err := s.codes.DeleteCode(ctx, s.gen.Hash(code)); err != nil {
		s.storageError(err)
		return fmt.Errorf("revoke authorization code: %w", err)
	}
	return nil
}

// IssueToken runs a token grant for an authenticated client
func (s *Server) IssueToken(ctx context.Context, req TokenRequest, client *auth.Client) (resp *TokenResponse, err error) {
	if client == nil {
		return nil, ErrInvalidClient
	}

	ctx, span := s.tracer.Start(ctx, "oauth.IssueToken", trace.WithAttributes(
		attribute.String("oauth.grant_type", string(req.GrantType)),
		attribute.String("oauth.client_id", client.ID),
	))
	defer func() {
		status := "success"
		if err != nil {
			status, _ = ErrorCode(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
		}
		s.metrics.RecordGrant(string(req.GrantType), status)
		span.End()
	}()

	switch req.GrantType {
	case auth.GrantAuthorizationCode, auth.GrantRefreshToken:
	default:
		return nil, ErrUnsupportedGrantType
	}
	if !client.AllowsGrant(req.GrantType) {
		return nil, ErrUnauthorizedClient
	}

	if req.GrantType == auth.GrantAuthorizationCode {
		return s.exchangeCode(ctx, req, client)
	}
	return s.refresh(ctx, req, client)
}

func (s *Server) exchangeCode(ctx context.Context, req TokenRequest, client *auth.Client) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}

	// The code is consumed before the binding checks, so a mismatched attempt burns it
	code, err := s.RedeemAuthorizationCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	if code.ClientID != client.ID {
		s.log.WithField("client_id", client.ID).Warn("authorization code presented by another client")
		return nil, ErrInvalidGrant
	}
	if code.RedirectURI != "" && code.RedirectURI != req.RedirectURI {
		return nil, ErrInvalidGrant
	}

	now := s.now().UTC()
	accessSecret, accessHash, err := s.gen.Generate(auth.AccessTokenPrefix)
	if err != nil {
		return nil, err
	}
	access := &auth.TokenRecord{
		SecretHash: accessHash,
		Type:       auth.TokenTypeAccess,
		Scope:      code.Scope,
		ClientID:   client.ID,
		UserID:     code.UserID,
		ExpiresAt:  now.Add(s.config.AccessTokenTTL),
		CreatedAt:  now,
	}
	resp := &TokenResponse{
		AccessToken: accessSecret,
		ExpiresAt:   access.ExpiresAt,
		Scope:       code.Scope,
		UserID:      code.UserID,
	}

	var refresh *auth.TokenRecord
	if s.config.IssueRefreshTokens && client.AllowsGrant(auth.GrantRefreshToken) {
		refreshSecret, refreshHash, err := s.gen.Generate(auth.RefreshTokenPrefix)
		if err != nil {
			return nil, err
		}
		refresh = &auth.TokenRecord{
			SecretHash: refreshHash,
			Type:       auth.TokenTypeRefresh,
			Scope:      code.Scope,
			ClientID:   client.ID,
			UserID:     code.UserID,
			ExpiresAt:  now.Add(s.config.RefreshTokenTTL),
			CreatedAt:  now,
			AccessHash: accessHash,
		}
		access.RefreshHash = refreshHash
		resp.RefreshToken = refreshSecret
	}

	if err := s.tokens.PutToken(ctx, access, s.config.AccessTokenTTL); err != nil {
		s.storageError(err)
		return nil, fmt.Errorf("store access token: %w", err)
	}
	if refresh != nil {
		if err := s.tokens.PutToken(ctx, refresh, s.config.RefreshTokenTTL); err != nil {
			s.storageError(err)
			s.discard(ctx, accessHash)
			return nil, fmt.Errorf("store refresh token: %w", err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"client_id":  client.ID,
		"user_id":    code.UserID,
		"grant_type": auth.GrantAuthorizationCode,
	}).Info("token issued")
	return resp, nil
}

func (s *Server) refresh(ctx context.Context, req TokenRequest, client *auth.Client) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, fmt.Errorf("%w: refresh_token is required", ErrInvalidRequest)
	}
	if s.gen.ValidateFormat(req.RefreshToken, auth.RefreshTokenPrefix) != nil {
		return nil, ErrInvalidGrant
	}

	rec, err := s.tokens.GetToken(ctx, s.gen.Hash(req.RefreshToken))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidGrant
	}
	if err != nil {
		s.storageError(err)
		return nil, fmt.Errorf("load refresh token: %w", err)
	}

	now := s.now().UTC()
	if rec.Type != auth.TokenTypeRefresh || rec.Expired(now) || rec.ClientID != client.ID {
		return nil, ErrInvalidGrant
	}

	accessSecret, accessHash, err := s.gen.Generate(auth.AccessTokenPrefix)
	if err != nil {
		return nil, err
	}
	access := &auth.TokenRecord{
		SecretHash:  accessHash,
		Type:        auth.TokenTypeAccess,
		Scope:       rec.Scope,
		ClientID:    rec.ClientID,
		UserID:      rec.UserID,
		ExpiresAt:   now.Add(s.config.AccessTokenTTL),
		CreatedAt:   now,
		RefreshHash: rec.SecretHash,
	}
	if err := s.tokens.PutToken(ctx, access, s.config.AccessTokenTTL); err != nil {
		s.storageError(err)
		return nil, fmt.Errorf("store access token: %w", err)
	}

	// A revocation or another refresh since the read above fails the swap
	if err := s.tokens.SwapAccessHash(ctx, rec.SecretHash, rec.AccessHash, accessHash); err != nil {
		s.discard(ctx, accessHash)
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrConflict) {
			return nil, ErrInvalidGrant
		}
		s.storageError(err)
		return nil, fmt.Errorf("update refresh token: %w", err)
	}
	if rec.AccessHash != "" {
		s.discard(ctx, rec.AccessHash)
	}

	s.log.WithFields(logrus.Fields{
		"client_id":  client.ID,
		"user_id":    rec.UserID,
		"grant_type": auth.GrantRefreshToken,
	}).Info("token refreshed")

	return &TokenResponse{
		AccessToken: accessSecret,
		ExpiresAt:   access.ExpiresAt,
		Scope:       rec.Scope,
		UserID:      rec.UserID,
	}, nil
}

// GetAccessToken resolves a bearer token. Anything other than a live access
// token returns ErrTokenNotFound.
func (s *Server) GetAccessToken(ctx context.Context, token string) (*auth.TokenRecord, error) {
	if s.gen.ValidateFormat(token, auth.AccessTokenPrefix) != nil {
		return nil, ErrTokenNotFound
	}

	rec, err := s.tokens.GetToken(ctx, s.gen.Hash(token))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		s.storageError(err)
		return nil, fmt.Errorf("load access token: %w", err)
	}
	if rec.Type != auth.TokenTypeAccess || rec.Expired(s.now()) {
		return nil, ErrTokenNotFound
	}
	return rec, nil
}

// RevokeToken deletes a refresh token and the access token last issued from
// it. Revoking an unknown token succeeds.
func (s *Server) RevokeToken(ctx context.Context, refreshToken string) error {
	if s.gen.ValidateFormat(refreshToken, auth.RefreshTokenPrefix) != nil {
		return nil
	}
	return s.revokeRefresh(ctx, s.gen.Hash(refreshToken))
}

// RevokeAccessToken deletes a single access token. Revoking an unknown token succeeds.
func (s *Server) RevokeAccessToken(ctx context.Context, accessToken string) error {
	if s.gen.ValidateFormat(accessToken, auth.AccessTokenPrefix) != nil {
		return nil
	}
	return s.deleteTokens(ctx, s.gen.Hash(accessToken))
}

// RevokeForClient revokes an access or refresh token on behalf of the client
// it was issued to. Tokens of other clients return ErrUnauthorizedClient.
func (s *Server) RevokeForClient(ctx context.Context, client *auth.Client, token string) error {
	if s.gen.ValidateFormat(token, auth.RefreshTokenPrefix) != nil &&
		s.gen.ValidateFormat(token, auth.AccessTokenPrefix) != nil {
		return nil
	}
	rec, err := s.lookup(ctx, token)
	if err != nil || rec == nil {
		return err
	}
	if rec.ClientID != client.ID {
		return ErrUnauthorizedClient
	}
	if rec.Type == auth.TokenTypeRefresh {
		return s.revokeRefresh(ctx, rec.SecretHash)
	}
	if err := s.deleteTokens(ctx, rec.SecretHash); err != nil {
		return err
	}
	s.logRevoked(rec)
	return nil
}

// lookup returns nil without error for unknown tokens
func (s *Server) lookup(ctx context.Context, token string) (*auth.TokenRecord, error) {
	rec, err := s.tokens.GetToken(ctx, s.gen.Hash(token))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		s.storageError(err)
		return nil, fmt.Errorf("load token: %w", err)
	}
	return rec, nil
}

// revokeRefresh deletes a refresh record and its linked access token in one step
func (s *Server) revokeRefresh(ctx context.Context, refreshHash string) error {
	rec, err := s.tokens.DeleteRefreshToken(ctx, refreshHash)
	if err != nil {
		s.storageError(err)
		return fmt.Errorf("revoke token: %w", err)
	}
	if rec != nil {
		s.logRevoked(rec)
	}
	return nil
}

func (s *Server) logRevoked(rec *auth.TokenRecord) {
	s.log.WithFields(logrus.Fields{
		"client_id":  rec.ClientID,
		"user_id":    rec.UserID,
		"token_type": rec.Type,
	}).Info("token revoked")
}

func (s *Server) deleteTokens(ctx context.Context, hashes ...string) error {
	if err := s.tokens.DeleteTokens(ctx, hashes...); err != nil {
		s.storageError(err)
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// discard removes records written by a grant that did not complete
func (s *Server) discard(ctx context.Context, hashes ...string) {
	if err := s.tokens.DeleteTokens(ctx, hashes...); err != nil {
		s.storageError(err)
		s.log.WithError(err).Error("failed to discard token records")
	}
}

func (s *Server) storageError(err error) {
	var opErr *storage.OpError
	if errors.As(err, &opErr) {
		s.metrics.RecordStorageError(opErr.Op, opErr.Backend)
	}
}
