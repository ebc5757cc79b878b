package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a record is absent (or expired)
	ErrNotFound = errors.New("record not found")
	// ErrUnavailable marks transient backend failures. Callers decide on retries.
	ErrUnavailable = errors.New("storage backend unavailable")
	// ErrConflict is returned when a conditional write finds the record changed
	ErrConflict = errors.New("record changed concurrently")
)

// OpError wraps a backend failure with the operation that caused it
type OpError struct {
	Backend string
	Op      string
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Is makes every OpError match ErrUnavailable
func (e *OpError) Is(target error) bool {
	return target == ErrUnavailable
}

// Wrap returns nil for a nil err, otherwise an *OpError
func Wrap(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Backend: backend, Op: op, Err: err}
}

// Config for storage backends
type Config struct {
	// PostgreSQL config
	PostgresURL         string
	PostgresReplicaURLs []string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	PostgresMaxLifetime time.Duration
	PostgresMaxIdleTime time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// KeyPrefix namespaces every Redis key
	KeyPrefix string
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns:    20,
		PostgresMinConns:    2,
		PostgresTimeout:     10 * time.Second,
		PostgresMaxLifetime: 30 * time.Minute,
		PostgresMaxIdleTime: 5 * time.Minute,
		RedisURL:            "redis://localhost:6379/0",
		RedisDB:             0,
		RedisMaxRetries:     3,
		RedisPoolSize:       10,
		KeyPrefix:           "accesscore",
	}
}
