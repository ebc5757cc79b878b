package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/accesscore/pkg/auth"
	"github.com/platinummonkey/accesscore/pkg/storage"
)

// ClientStore reads and registers OAuth clients. Clients are read-only to the
// token path, so lookups are served from an expiring LRU in front of a replica.
type ClientStore struct {
	cm    *ConnectionManager
	cache *lru.LRU[string, *auth.Client]
}

// NewClientStore creates a client store. A cacheSize of zero disables caching.
func NewClientStore(cm *ConnectionManager, cacheSize int, cacheTTL time.Duration) *ClientStore {
	s := &ClientStore{cm: cm}
	if cacheSize > 0 {
		s.cache = lru.NewLRU[string, *auth.Client](cacheSize, nil, cacheTTL)
	}
	return s
}

// GetClient loads a client by id. Unknown ids return storage.ErrNotFound.
func (s *ClientStore) GetClient(ctx context.Context, id string) (*auth.Client, error) {
	if s.cache != nil {
		if client, ok := s.cache.Get(id); ok {
			return client, nil
		}
	}

	var (
		client       auth.Client
		redirectURIs string
		grants       string
	)
	err := s.cm.Replica().QueryRowContext(ctx, `
		SELECT id, name, secret_hash, redirect_uris, grants, created_at
		FROM oauth_clients
		WHERE id = $1
	`, id).Scan(&client.ID, &client.Name, &client.SecretHash, &redirectURIs, &grants, &client.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Wrap(backend, "get_client", err)
	}

	client.RedirectURIs = strings.Fields(redirectURIs)
	for _, g := range strings.Fields(grants) {
		client.Grants = append(client.Grants, auth.GrantType(g))
	}

	if s.cache != nil {
		s.cache.Add(id, &client)
	}
	return &client, nil
}

// CreateClient inserts a client on the primary. SecretHash must already be set.
func (s *ClientStore) CreateClient(ctx context.Context, client *auth.Client) error {
	grants := make([]string, len(client.Grants))
	for i, g := range client.Grants {
		grants[i] = string(g)
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}

	_, err := s.cm.Primary().ExecContext(ctx, `
		INSERT INTO oauth_clients (id, name, secret_hash, redirect_uris, grants, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, client.ID, client.Name, client.SecretHash,
		strings.Join(client.RedirectURIs, " "), strings.Join(grants, " "), client.CreatedAt)
	if err != nil {
		return storage.Wrap(backend, "create_client", err)
	}

	if s.cache != nil {
		s.cache.Remove(client.ID)
	}
	return nil
}
