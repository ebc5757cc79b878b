// Package storage holds the configuration and error taxonomy shared by the
// persistence backends of the access core.
//
// # Backends
//
//   - redisstore: bearer tokens, authorization codes and private-access
//     closures. Every record carries its own TTL and expires in place.
//   - postgres: the client registry, the moderator flag and the read-only
//     content, grant and club tables. Reads go to a replica when one is
//     configured and writes go to the primary.
//
// # Errors
//
// Absent or expired records return ErrNotFound. Every other backend failure
// is wrapped with Wrap into an *OpError, which matches ErrUnavailable:
//
//	rec, err := tokens.GetToken(ctx, hash)
//	switch {
//	case errors.Is(err, storage.ErrNotFound):
//		// unknown or expired
//	case errors.Is(err, storage.ErrUnavailable):
//		// transient, surface to the caller
//	}
//
// Failures are never retried in place. Retry policy belongs to the caller.
//
// # Configuration
//
//	cfg := storage.DefaultConfig()
//	cfg.PostgresURL = "postgres://localhost/accesscore?sslmode=disable"
//	cfg.RedisURL = "redis://localhost:6379/0"
//
// # Related Packages
//
//   - pkg/storage/redisstore: Redis-backed stores
//   - pkg/storage/postgres: Connection manager, clients, users, migrations
//   - pkg/config: Loads Config from the environment
package storage
