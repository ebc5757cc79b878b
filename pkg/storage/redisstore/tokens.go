package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/accesscore/pkg/auth"
	"github.com/platinummonkey/accesscore/pkg/storage"
)

// TokenStore persists access and refresh token records keyed by secret hash
type TokenStore struct {
	c   *Client
	now func() time.Time
}

// NewTokenStore creates a token store on top of c
func NewTokenStore(c *Client) *TokenStore {
	return &TokenStore{c: c, now: time.Now}
}

func (s *TokenStore) tokenKey(secretHash string) string {
	return s.c.key("oauth", "token", secretHash)
}

// PutToken stores rec under its hash for ttl
func (s *TokenStore) PutToken(ctx context.Context, rec *auth.TokenRecord, ttl time.Duration) error {
	return s.c.setJSON(ctx, "put_token", s.tokenKey(rec.SecretHash), rec, ttl)
}

// GetToken loads a record by hash. Expired records are reported as absent
// even if the key has not been evicted yet.
func (s *TokenStore) GetToken(ctx context.Context, secretHash string) (*auth.TokenRecord, error) {
	var rec auth.TokenRecord
	if err := s.c.getJSON(ctx, "get_token", s.tokenKey(secretHash), &rec); err != nil {
		return nil, err
	}
	if rec.Expired(s.now()) {
		return nil, storage.ErrNotFound
	}
	return &rec, nil
}

// DeleteTokens removes all given records in a single command
func (s *TokenStore) DeleteTokens(ctx context.Context, secretHashes ...string) error {
	keys := make([]string, 0, len(secretHashes))
	for _, h := range secretHashes {
		if h != "" {
			keys = append(keys, s.tokenKey(h))
		}
	}
	return s.c.del(ctx, "delete_tokens", keys...)
}

// SwapAccessHash relinks a refresh token from the access token previous to
// next, keeping the record's TTL. It returns storage.ErrNotFound when the
// refresh record is gone and storage.ErrConflict when it no longer links to
// previous.
func (s *TokenStore) SwapAccessHash(ctx context.Context, refreshHash, previous, next string) error {
	key := s.tokenKey(refreshHash)
	return s.c.watch(ctx, "swap_access_hash", func(tx *redis.Tx) error {
		rec, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if rec.AccessHash != previous {
			return storage.ErrConflict
		}

		rec.AccessHash = next
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("swap_access_hash: failed to marshal: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		return err
	}, key)
}

// DeleteRefreshToken removes a refresh record together with the access token
// it currently links to. A relink racing the delete either lands first and
// has its access token deleted, or finds the record gone. It returns the
// deleted record, or nil when there was none.
func (s *TokenStore) DeleteRefreshToken(ctx context.Context, refreshHash string) (*auth.TokenRecord, error) {
	key := s.tokenKey(refreshHash)
	var deleted *auth.TokenRecord
	err := s.c.watch(ctx, "delete_refresh_token", func(tx *redis.Tx) error {
		deleted = nil
		rec, err := s.load(ctx, tx, key)
		if errors.Is(err, storage.ErrNotFound) {
			return tx.Del(ctx, key).Err()
		}
		if err != nil {
			return err
		}

		keys := []string{key}
		if rec.AccessHash != "" {
			keys = append(keys, s.tokenKey(rec.AccessHash))
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, keys...)
			return nil
		})
		if err == nil {
			deleted = rec
		}
		return err
	}, key)
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// load reads a record inside a transaction. Missing, expired and undecodable
// records are storage.ErrNotFound.
func (s *TokenStore) load(ctx context.Context, tx *redis.Tx, key string) (*auth.TokenRecord, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	var rec auth.TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, storage.ErrNotFound
	}
	if rec.Expired(s.now()) {
		return nil, storage.ErrNotFound
	}
	return &rec, nil
}
