package db

import (
	"context"
	"time"
)

// Store is the database facade used by the composition root.
// Consumers depend on the narrow sub-interfaces.
type Store interface {
	Pinger
	KVStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides the counter operations backing the spend ledger.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// IncrByFloat atomically adds val to the key (created at 0) and returns the new value.
	IncrByFloat(ctx context.Context, key string, val float64) (float64, error)
	// Expire (re)sets the TTL on a key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
