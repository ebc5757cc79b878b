package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/accesscore/pkg/auth"
	"github.com/platinummonkey/accesscore/pkg/storage"
)

// CodeCache holds short-lived authorization codes, one key per code so each
// entry carries its own expiry
type CodeCache struct {
	c   *Client
	now func() time.Time
}

// NewCodeCache creates a code cache on top of c
func NewCodeCache(c *Client) *CodeCache {
	return &CodeCache{c: c, now: time.Now}
}

func (s *CodeCache) codeKey(codeHash string) string {
	return s.c.key("oauth", "code", codeHash)
}

// PutCode stores code until its ExpiresAt
func (s *CodeCache) PutCode(ctx context.Context, code *auth.AuthorizationCode) error {
	ttl := code.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}
	return s.c.setJSON(ctx, "put_code", s.codeKey(code.CodeHash), code, ttl)
}

// GetCode looks up a code without consuming it
func (s *CodeCache) GetCode(ctx context.Context, codeHash string) (*auth.AuthorizationCode, error) {
	var code auth.AuthorizationCode
	if err := s.c.getJSON(ctx, "get_code", s.codeKey(codeHash), &code); err != nil {
		return nil, err
	}
	if code.Expired(s.now()) {
		return nil, storage.ErrNotFound
	}
	return &code, nil
}

// TakeCode atomically fetches and deletes a code. Of two concurrent callers
// exactly one receives the record; the other gets storage.ErrNotFound.
func (s *CodeCache) TakeCode(ctx context.Context, codeHash string) (*auth.AuthorizationCode, error) {
	var code auth.AuthorizationCode
	if err := s.c.takeJSON(ctx, "take_code", s.codeKey(codeHash), &code); err != nil {
		return nil, err
	}
	if code.Expired(s.now()) {
		return nil, storage.ErrNotFound
	}
	return &code, nil
}

// DeleteCode removes a code. Deleting a missing code succeeds.
func (s *CodeCache) DeleteCode(ctx context.Context, codeHash string) error {
	return s.c.del(ctx, "delete_code", s.codeKey(codeHash))
}
