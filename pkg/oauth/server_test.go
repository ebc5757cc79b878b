package oauth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/accesscore/pkg/auth"
	"github.com/platinummonkey/accesscore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 7*24*time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.CodeTTL)
	assert.True(t, cfg.IssueRefreshTokens)
}

func TestServer_GetClient(t *testing.T) {
	env := setupServer(t, DefaultConfig())
	ctx := context.Background()
	client, secret := env.registerClient(t)

	got, err := env.server.GetClient(ctx, client.ID, secret)
	require.NoError(t, err)
	assert.Equal(t, client.ID, got.ID)

	tests := []struct {
		name   string
		id     string
		secret string
	}{
		{"wrong secret", client.ID, secret + "x"},
		{"unknown client", "nope", secret},
		{"empty id", "", secret},
		{"empty secret", client.ID, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.server.GetClient(ctx, tt.id, tt.secret)
			assert.ErrorIs(t, err, ErrInvalidClient)
		})
	}

	t.Run("storage failure is not invalid_client", func(t *testing.T) {
		env.clients.err = storage.Wrap("postgres", "get_client", errors.New("timeout"))
		defer func() { env.clients.err = nil }()

		_, err := env.server.GetClient(ctx, client.ID, secret)
		assert.ErrorIs(t, err, storage.ErrUnavailable)
		assert.NotErrorIs(t, err, ErrInvalidClient)
	})
}

func TestServer_RegisterClient(t *testing.T) {
	env := setupServer(t, DefaultConfig())
	ctx := context.Background()

	client, secret := env.registerClient(t, "https://app.example/cb")
	assert.Regexp(t, `^ocs_`, secret)
	assert.NotEqual(t, secret, client.SecretHash)
	assert.Len(t, client.ID, 36)

	_, _, err := env.server.RegisterClient(ctx, "", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, _, err = env.server.RegisterClient(ctx, "x", nil, []auth.GrantType{"password"})
	assert.ErrorIs(t, err, ErrUnsupportedGrantType)
}

func TestServer_IssueAuthorizationCode(t *testing.T) {
	env := setupServer(t, DefaultConfig())
	ctx := context.Background()
	client, _ := env.registerClient(t, "https://app.example/cb")

	issued, err := env.server.IssueAuthorizationCode(ctx, client, 7, "https://app.example/cb", auth.ParseScopes("write read"), 0)
	require.NoError(t, err)
	assert.Regexp(t, `^oac_`, issued.Code)
	assert.Equal(t, auth.Scopes{"read", "write"}, issued.Record.Scope)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), issued.Record.ExpiresAt, 5*time.Second)

	_, err = env.server.IssueAuthorizationCode(ctx, client, 7, "https://evil.example/cb", nil, 0)
	assert.ErrorIs(t, err, ErrInvalidRedirectURI)

	_, err = env.server.IssueAuthorizationCode(ctx, client, 0, "https://app.example/cb", nil, 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	refreshOnly := &auth.Client{ID: "r", Grants: []auth.GrantType{auth.GrantRefreshToken}}
	_, err = env.server.IssueAuthorizationCode(ctx, refreshOnly, 7, "", nil, 0)
	assert.ErrorIs(t, err, ErrUnauthorizedClient)
}

func TestServer_RedeemAuthorizationCode_SingleUse(t *testing.T) {
	env := setupServer(t, DefaultConfig())
	ctx := context.Background()
	client, _ := env.registerClient(t)

	issued, err := env.server.IssueAuthorizationCode(ctx, client, 7, "https://app.example/cb", nil, time.Minute)
	require.NoError(t, err)

	code, err := env.server.RedeemAuthorizationCode(ctx, issued.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(7), code.UserID)
	assert.Equal(t, client.ID, code.ClientID)

	_, err = env.server.RedeemAuthorizationCode(ctx, issued.Code)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestServer_RedeemAuthorizationCode_Concurrent(t *testing.T) {
	env := setupServer(t, DefaultConfig())
	ctx := context.Background()
	client, _ := env.registerClient(t)

	issued, err := env.server.IssueAuthorizationCode(ctx, client, 7, "", nil, time.Minute)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		wins    int32
		invalid int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.server.RedeemAuthorizationCode(ctx, issued.Code)
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.Is(err, ErrInvalidGrant):
				atomic.AddInt32(&invalid, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(9), invalid)
}

func TestServer_RedeemAuthorizationCode_Invalid(t *testing.T) {
	env := setupServer(t, DefaultConfig())
	ctx := context.Background()
	client, _ := env.registerClient(t)

	t.Run("expired", func(t *testing.T) {
		issued, err := env.server.IssueAuthorizationCode(ctx, client, 7, "", nil, time.Minute)
		require.NoError(t, err)

		env.clock.Advance(2 * time.Minute)
		defer env.clock.Advance(-2 * time.Minute)

		_, err = env.server.RedeemAuthorizationCode(ctx, issued.Code)
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := env.server.RedeemAuthorizationCode(ctx, "not-a-code")
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("unknown", func(t *testing.T) {
		unknown, _, err := auth.NewTokenGenerator().Generate(auth.AuthorizationCodePrefix)
		require.NoError(t, err)
		_, err = env.server.RedeemAuthorizationCode(ctx, unknown)
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("revoked", func(t *testing.T) {
		issued, err := env.server.IssueAuthorizationCode(ctx, client, 7, "", nil, time.Minute)
		require.NoError(t, err)

		require.NoError(t, env.server.RevokeAuthorizationCode(ctx, issued.Code))
		require.NoError(t, env.server.RevokeAuthorizationCode(ctx, issued.Code))
		require.NoError(t, env.server.RevokeAuthorizationCode(ctx, "garbage"))

		_, err = env.server.RedeemAuthorizationCode(ctx, issued.Code)
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})
}

func TestServer_IssueToken_AuthorizationCode(t *testing.T) {
	env := setupServer(t, DefaultConfig())
	ctx := context.Background()
	client, _ := env.registerClient(t, "https://app.example/cb")

	issued, err := env.server.IssueAuthorizationCode(ctx, client, 7, "https://app.example/cb", auth.ParseScopes("read"), 0)
	require.NoError(t, err)

	resp, err := env.server.IssueToken(ctx, TokenRequest{
		GrantType:   auth.GrantAuthorizationCode,
		Code:        issued.Code,
		RedirectURI: "https://app.example/cb",
	}, client)
	require.NoError(t, err)
	assert.Regexp(t, `^oat_`, resp.AccessToken)
	assert.Regexp(t, `^ort_`, resp.RefreshToken)
	assert.Equal(t, int64(7), resp.UserID)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), resp.ExpiresAt, 5*time.Second)

	rec, err := env.server.GetAccessToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.UserID)
	assert.Equal(t, client.ID, rec.ClientID)
	assert.True(t, rec.Scope.Has("read"))

	// Refresh tokens are not bearer credentials
	_, err = env.server.GetAccessToken(ctx, resp.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	// The code is spent
	_, err = env.server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantAuthorizationCode, Code: issued.Code, RedirectURI: "https://app.example/cb"}, client)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestServer_IssueToken_BindingChecks(t *testing.T) {
	env := setupServer(t, DefaultConfig())
	ctx := context.Background()
	client, _ := env.registerClient(t, "https://app.example/cb")
	other, _ := env.registerClient(t)

	t.Run("other client burns the code", func(t *testing.T) {
		issued, err := env.server.IssueAuthorizationCode(ctx, client, 7, "https://app.example/cb", nil, 0)
		require.NoError(t, err)

		_, err = env.server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantAuthorizationCode, Code: issued.Code, RedirectURI: "https://app.example/cb"}, other)
		assert.ErrorIs(t, err, ErrInvalidGrant)

		_, err = env.server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantAuthorizationCode, Code: issued.Code, RedirectURI: "https://app.example/cb"}, client)
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("redirect mismatch", func(t *testing.T) {
		issued, err := env.server.IssueAuthorizationCode(ctx, client, 7, "https://app.example/cb", nil, 0)
		require.NoError(t, err)

		_, err = env.server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantAuthorizationCode, Code: issued.Code, RedirectURI: "https://app.example/other"}, client)
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("missing code", func(t *testing.T) {
		_, err := env.server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantAuthorizationCode}, client)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("unsupported grant", func(t *testing.T) {
		_, err := env.server.IssueToken(ctx, TokenRequest{GrantType: "password"}, client)
		assert.ErrorIs(t, err, ErrUnsupportedGrantType)
	})

	t.Run("grant not allowed", func(t *testing.T) {
		codeOnly := &auth.Client{ID: "c", Grants: []auth.GrantType{auth.GrantAuthorizationCode}}
		_, err := env.server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantRefreshToken, RefreshToken: "ort_x"}, codeOnly)
		assert.ErrorIs(t, err, ErrUnauthorizedClient)
	})
}

func TestServer_IssueToken_NoRefreshForCodeOnlyClient(t *testing.T) {
	env := setupServer(t, DefaultConfig())
	ctx := context.Background()

	client, _, err := env.server.RegisterClient(ctx, "code only", nil, []auth.GrantType{auth.GrantAuthorizationCode})
	require.NoError(t, err)

	issued, err := env.server.IssueAuthorizationCode(ctx, client, 3, "", nil, 0)
	require.NoError(t, err)

	resp, err := env.server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantAuthorizationCode, Code: issued.Code}, client)
	require.NoError(t, err)
	assert.Empty(t, resp.RefreshToken)
	assert.Len(t, env.tokenKeys(), 1)
}

func issueTokens(t *testing.T, env *testEnv, client *auth.Client, userID int64) *TokenResponse {
	t.Helper()
	ctx := context.Background()
	issued, err := env.server.IssueAuthorizationCode(ctx, client, userID, "", auth.ParseScopes("read"), 0)
	require.NoError(t, err)
	resp, err := env.server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantAuthorizationCode, Code: issued.Code}, client)
	require.NoError(t, err)
	return resp
}

func TestServer_IssueToken_Refresh(t *testing.T) {
	env := setupServer(t, DefaultConfig())
	ctx := context.Background()
	client, _ := env.registerClient(t)
	first := issueTokens(t, env, client, 11)

	resp, err := env.server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantRefreshToken, RefreshToken: first.RefreshToken}, client)
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, resp.AccessToken)
	assert.Empty(t, resp.RefreshToken)
	assert.Equal(t, int64(11), resp.UserID)
	assert.Equal(t, auth.Scopes{"read"}, resp.Scope)

	// The previous access token is replaced
	_, err = env.server.GetAccessToken(ctx, first.AccessToken)
	assert.ErrorIs(t, err, ErrTokenNotFound)
	_, err = env.server.GetAccessToken(ctx, resp.AccessToken)
	assert.NoError(t, err)

	// The refresh token remains usable
	_, err = env.server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantRefreshToken, RefreshToken: first.RefreshToken}, client)
	assert.NoError(t, err)
	assert.Len(t, env.tokenKeys(), 2)
}

func TestServer_IssueToken_RefreshRejected(t *testing.T) {
	env := setupServer(t, DefaultConfig())
	ctx := context.Background()
	client, _ := env.registerClient(t)
	other, _ := env.registerClient(t)
	tokens := issueTokens(t, env, client, 11)

	t.Run("other client", func(t *testing.T) {
		_, err := env.server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantRefreshToken, RefreshToken: tokens.RefreshToken}, other)
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("access token presented as refresh token", func(t *testing.T) {
		_, err := env.server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantRefreshToken, RefreshToken: tokens.AccessToken}, client)
		assert.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := env.server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantRefreshToken}, client)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("revoked creates no access token", func(t *testing.T) {
		require.NoError(t, env.server.RevokeToken(ctx, tokens.RefreshToken))
		assert.Empty(t, env.tokenKeys())

		_, err := env.server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantRefreshToken, RefreshToken: tokens.RefreshToken}, client)
		assert.ErrorIs(t, err, ErrInvalidGrant)
		assert.Empty(t, env.tokenKeys())
	})
}

func TestServer_IssueToken_RefreshRacingRevoke(t *testing.T) {
	env := setupServer(t, DefaultConfig())
	ctx := context.Background()
	client, _ := env.registerClient(t)
	tokens := issueTokens(t, env, client, 11)

	racing := &interleavingTokens{TokenStore: env.tokens, afterGet: func() {
		require.NoError(t, env.server.RevokeToken(ctx, tokens.RefreshToken))
	}}
	server := NewServer(env.clients, racing, env.codes, DefaultConfig())

	resp, err := server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantRefreshToken, RefreshToken: tokens.RefreshToken}, client)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrInvalidGrant)
	assert.Empty(t, env.tokenKeys())

	_, err = env.server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantRefreshToken, RefreshToken: tokens.RefreshToken}, client)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestServer_IssueToken_ConcurrentRefreshLeavesNoOrphan(t *testing.T) {
	env := setupServer(t, DefaultConfig())
	ctx := context.Background()
	client, _ := env.registerClient(t)
	tokens := issueTokens(t, env, client, 11)

	var winner *TokenResponse
	racing := &interleavingTokens{TokenStore: env.tokens, afterGet: func() {
		var err error
		winner, err = env.server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantRefreshToken, RefreshToken: tokens.RefreshToken}, client)
		require.NoError(t, err)
	}}
	server := NewServer(env.clients, racing, env.codes, DefaultConfig())

	_, err := server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantRefreshToken, RefreshToken: tokens.RefreshToken}, client)
	assert.ErrorIs(t, err, ErrInvalidGrant)

	// Only the refresh record and the winner's access token remain
	require.NotNil(t, winner)
	assert.Len(t, env.tokenKeys(), 2)
	_, err = env.server.GetAccessToken(ctx, winner.AccessToken)
	require.NoError(t, err)

	require.NoError(t, env.server.RevokeToken(ctx, tokens.RefreshToken))
	assert.Empty(t, env.tokenKeys())
}

func TestServer_IssueToken_NilClient(t *testing.T) {
	env := setupServer(t, DefaultConfig())

	resp, err := env.server.IssueToken(context.Background(), TokenRequest{GrantType: auth.GrantRefreshToken, RefreshToken: "ort_x"}, nil)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrInvalidClient)
}

func TestServer_IssueToken_PartialWriteDiscarded(t *testing.T) {
	env := setupServer(t, DefaultConfig())
	ctx := context.Background()
	client, _ := env.registerClient(t)

	failing := &failingTokens{TokenStore: env.tokens, failType: auth.TokenTypeRefresh}
	server := NewServer(env.clients, failing, env.codes, DefaultConfig())

	issued, err := server.IssueAuthorizationCode(ctx, client, 4, "", nil, 0)
	require.NoError(t, err)

	resp, err := server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantAuthorizationCode, Code: issued.Code}, client)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Len(t, failing.deleted, 1)
	assert.Empty(t, env.tokenKeys())
}

func TestServer_GetAccessToken_Expired(t *testing.T) {
	env := setupServer(t, Config{AccessTokenTTL: time.Hour, RefreshTokenTTL: 2 * time.Hour, CodeTTL: time.Minute})
	ctx := context.Background()
	client, _ := env.registerClient(t)
	tokens := issueTokens(t, env, client, 1)

	env.clock.Advance(2 * time.Hour)
	_, err := env.server.GetAccessToken(ctx, tokens.AccessToken)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = env.server.GetAccessToken(ctx, "oat_short")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestServer_Revocation(t *testing.T) {
	env := setupServer(t, DefaultConfig())
	ctx := context.Background()
	client, _ := env.registerClient(t)
	other, _ := env.registerClient(t)

	t.Run("access token only", func(t *testing.T) {
		tokens := issueTokens(t, env, client, 2)
		require.NoError(t, env.server.RevokeAccessToken(ctx, tokens.AccessToken))
		require.NoError(t, env.server.RevokeAccessToken(ctx, tokens.AccessToken))

		_, err := env.server.GetAccessToken(ctx, tokens.AccessToken)
		assert.ErrorIs(t, err, ErrTokenNotFound)

		_, err = env.server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantRefreshToken, RefreshToken: tokens.RefreshToken}, client)
		assert.NoError(t, err)
	})

	t.Run("refresh token is idempotent", func(t *testing.T) {
		tokens := issueTokens(t, env, client, 2)
		require.NoError(t, env.server.RevokeToken(ctx, tokens.RefreshToken))
		require.NoError(t, env.server.RevokeToken(ctx, tokens.RefreshToken))
		require.NoError(t, env.server.RevokeToken(ctx, "junk"))

		_, err := env.server.GetAccessToken(ctx, tokens.AccessToken)
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("for client", func(t *testing.T) {
		tokens := issueTokens(t, env, client, 2)

		assert.ErrorIs(t, env.server.RevokeForClient(ctx, other, tokens.RefreshToken), ErrUnauthorizedClient)
		_, err := env.server.GetAccessToken(ctx, tokens.AccessToken)
		require.NoError(t, err)

		require.NoError(t, env.server.RevokeForClient(ctx, client, tokens.AccessToken))
		_, err = env.server.GetAccessToken(ctx, tokens.AccessToken)
		assert.ErrorIs(t, err, ErrTokenNotFound)

		require.NoError(t, env.server.RevokeForClient(ctx, client, tokens.RefreshToken))
		require.NoError(t, env.server.RevokeForClient(ctx, client, "whatever"))
	})
}

func TestServer_SecretsNeverPersisted(t *testing.T) {
	env := setupServer(t, DefaultConfig())
	ctx := context.Background()
	client, clientSecret := env.registerClient(t)

	issued, err := env.server.IssueAuthorizationCode(ctx, client, 9, "", nil, 0)
	require.NoError(t, err)
	code := issued.Code

	stored := env.mr.Keys()
	require.NotEmpty(t, stored)
	for _, key := range stored {
		value, err := env.mr.Get(key)
		require.NoError(t, err)
		assert.NotContains(t, value, code)
		assert.NotContains(t, key, code)
	}

	resp, err := env.server.IssueToken(ctx, TokenRequest{GrantType: auth.GrantAuthorizationCode, Code: code}, client)
	require.NoError(t, err)

	for _, key := range env.mr.Keys() {
		value, err := env.mr.Get(key)
		require.NoError(t, err)
		for _, secret := range []string{resp.AccessToken, resp.RefreshToken, clientSecret} {
			assert.NotContains(t, key, secret)
			assert.NotContains(t, value, secret)
		}
	}

	for _, entry := range env.logs.AllEntries() {
		line, err := entry.String()
		require.NoError(t, err)
		assert.NotContains(t, line, resp.AccessToken)
		assert.NotContains(t, line, resp.RefreshToken)
	}
}
