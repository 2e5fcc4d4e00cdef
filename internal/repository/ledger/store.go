// Package ledger keeps each user's cumulative USD spend per UTC day.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/kailas-cloud/spendgate/internal/db"
	"github.com/kailas-cloud/spendgate/internal/domain/usage"
)

// DefaultTTL outlives the 24h billing window and absorbs timezone skew.
const DefaultTTL = 48 * time.Hour

// store is the consumer interface for ledger operations (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrByFloat(ctx context.Context, key string, val float64) (float64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Ledger implements the spend ledger on top of DB (INCRBYFLOAT + GET with TTL).
// Records are only ever incremented; they lapse through TTL.
type Ledger struct {
	store  store
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

// New creates a ledger. ttl is re-applied on every increment and never drops
// below DefaultTTL.
func New(s store, ttl time.Duration) *Ledger {
	if ttl < DefaultTTL {
		ttl = DefaultTTL
	}
	return &Ledger{
		store: s,
		ttl:   ttl,
		now:   time.Now,
	}
}

// WithPrefix namespaces keys, e.g. "spendgate:" → "spendgate:budget:...".
func (l *Ledger) WithPrefix(prefix string) *Ledger {
	l.prefix = prefix
	return l
}

// WithClock replaces the wall clock used to pick "today".
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Today returns the current time as seen by the ledger.
func (l *Ledger) Today() time.Time { return l.now().UTC() }

// Key returns the record key for a user on the UTC day containing t:
// budget:{user}:{YYYY-MM-DD}.
func (l *Ledger) Key(user string, t time.Time) string {
	return fmt.Sprintf("%sbudget:%s:%s", l.prefix, user, t.UTC().Format(usage.DayFormat))
}

// Spent returns the user's spend today. Returns 0 if the record does not exist.
func (l *Ledger) Spent(ctx context.Context, user string) (float64, error) {
	key := l.Key(user, l.now())
	data, err := l.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("ledger GET %s: %w", key, err)
	}

	val, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return 0, fmt.Errorf("ledger GET %s parse: %w", key, err)
	}
	return val, nil
}

// Add atomically increments today's record by amount (rounded to 8 decimals),
// refreshes its TTL, and returns the new total.
func (l *Ledger) Add(ctx context.Context, user string, amount float64) (float64, error) {
	key := l.Key(user, l.now())

	total, err := l.store.IncrByFloat(ctx, key, round8(amount))
	if err != nil {
		return 0, fmt.Errorf("ledger INCRBYFLOAT %s: %w", key, err)
	}

	// Refresh on every increment so an active user's record never lapses mid-day.
	if err := l.store.Expire(ctx, key, l.ttl); err != nil {
		return total, fmt.Errorf("ledger EXPIRE %s: %w", key, err)
	}

	return total, nil
}

func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}
