package redis

import (
	"context"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/spendgate/internal/db"
)

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	cmd := s.b().Get().Key(key).Build()
	data, err := s.do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, db.ErrKeyNotFound
		}
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	return data, nil
}

// IncrByFloat atomically increments a key by a float amount and returns the new value.
func (s *Store) IncrByFloat(ctx context.Context, key string, val float64) (float64, error) {
	cmd := s.b().Incrbyfloat().Key(key).Increment(val).Build()
	total, err := s.do(ctx, cmd).AsFloat64()
	if err != nil {
		return 0, &db.Error{Op: db.OpIncrByFloat, Err: err}
	}
	return total, nil
}

// Expire (re)sets the TTL on a key, replacing any existing expiry.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	cmd := s.b().Expire().Key(key).Seconds(int64(ttl.Seconds())).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpExpire, Err: err}
	}
	return nil
}
