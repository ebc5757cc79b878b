package oauth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/accesscore/pkg/auth"
	"github.com/platinummonkey/accesscore/pkg/storage"
	"github.com/platinummonkey/accesscore/pkg/storage/redisstore"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// memClients is an in-memory ClientRegistry
type memClients struct {
	mu      sync.Mutex
	clients map[string]*auth.Client
	err     error
}

func newMemClients() *memClients {
	return &memClients{clients: make(map[string]*auth.Client)}
}

func (m *memClients) GetClient(ctx context.Context, id string) (*auth.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	client, ok := m.clients[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return client, nil
}

func (m *memClients) CreateClient(ctx context.Context, client *auth.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.clients[client.ID] = client
	return nil
}

// failingTokens fails PutToken for records of one type
type failingTokens struct {
	TokenStore
	failType auth.TokenType
	deleted  []string
}

func (f *failingTokens) PutToken(ctx context.Context, rec *auth.TokenRecord, ttl time.Duration) error {
	if rec.Type == f.failType {
		return storage.Wrap("redis", "put_token", context.DeadlineExceeded)
	}
	return f.TokenStore.PutToken(ctx, rec, ttl)
}

func (f *failingTokens) DeleteTokens(ctx context.Context, hashes ...string) error {
	f.deleted = append(f.deleted, hashes...)
	return f.TokenStore.DeleteTokens(ctx, hashes...)
}

type testEnv struct {
	server  *Server
	clients *memClients
	tokens  *redisstore.TokenStore
	codes   *redisstore.CodeCache
	mr      *miniredis.Miniredis
	logs    *test.Hook
	clock   *testClock
}

type testClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

func setupServer(t *testing.T, config Config) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	client := redisstore.NewFromRedis(rdb, "test", logger)
	env := &testEnv{
		clients: newMemClients(),
		tokens:  redisstore.NewTokenStore(client),
		codes:   redisstore.NewCodeCache(client),
		mr:      mr,
		logs:    hook,
		clock:   &testClock{},
	}
	env.server = NewServer(env.clients, env.tokens, env.codes, config,
		WithLogger(logger),
		WithClock(env.clock.Now),
	)
	return env
}

// registerClient registers a client with both grants and returns it with its secret
func (e *testEnv) registerClient(t *testing.T, redirectURIs ...string) (*auth.Client, string) {
	t.Helper()
	client, secret, err := e.server.RegisterClient(context.Background(), "test app", redirectURIs,
		[]auth.GrantType{auth.GrantAuthorizationCode, auth.GrantRefreshToken})
	if err != nil {
		t.Fatalf("RegisterClient failed: %v", err)
	}
	return client, secret
}

// tokenKeys returns the stored token record keys
func (e *testEnv) tokenKeys() []string {
	var keys []string
	for _, k := range e.mr.Keys() {
		if strings.HasPrefix(k, "test:oauth:token:") {
			keys = append(keys, k)
		}
	}
	return keys
}

// interleavingTokens runs afterGet once, right after the first GetToken
// returns, to land a concurrent operation between a grant's read and write
type interleavingTokens struct {
	TokenStore
	once     sync.Once
	afterGet func()
}

func (i *interleavingTokens) GetToken(ctx context.Context, secretHash string) (*auth.TokenRecord, error) {
	rec, err := i.TokenStore.GetToken(ctx, secretHash)
	i.once.Do(i.afterGet)
	return rec, err
}
