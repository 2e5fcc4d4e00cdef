package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/spendgate/internal/db"
)

// memStore is an in-memory KV with Redis INCRBYFLOAT/EXPIRE semantics.
type memStore struct {
	mu        sync.Mutex
	data      map[string]float64
	ttl       map[string]time.Duration
	getErr    error
	incrErr   error
	expireErr error
	raw       map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		data: make(map[string]float64),
		ttl:  make(map[string]time.Duration),
		raw:  make(map[string]string),
	}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if r, ok := m.raw[key]; ok {
		return []byte(r), nil
	}
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return []byte(strconv.FormatFloat(v, 'f', -1, 64)), nil
}

func (m *memStore) IncrByFloat(_ context.Context, key string, val float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incrErr != nil {
		return 0, m.incrErr
	}
	m.data[key] += val
	return m.data[key], nil
}

func (m *memStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expireErr != nil {
		return m.expireErr
	}
	m.ttl[key] = ttl
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var day = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func TestKey_Format(t *testing.T) {
	l := New(newMemStore(), 0)

	if got := l.Key("alice", day); got != "budget:alice:2026-10-18" {
		t.Errorf("got %q", got)
	}

	l.WithPrefix("spendgate:")
	if got := l.Key("alice", day); got != "spendgate:budget:alice:2026-10-18" {
		t.Errorf("prefixed: got %q", got)
	}

	// Non-UTC input is normalised to the UTC day.
	loc := time.FixedZone("UTC-5", -5*3600)
	late := time.Date(2026, 10, 18, 21, 0, 0, 0, loc) // 02:00 UTC on the 19th
	if got := New(newMemStore(), 0).Key("bob", late); got != "budget:bob:2026-10-19" {
		t.Errorf("utc normalisation: got %q", got)
	}
}

func TestSpent_AbsentIsZero(t *testing.T) {
	l := New(newMemStore(), 0).WithClock(fixedClock(day))

	spent, err := l.Spent(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spent != 0 {
		t.Errorf("got %v, want 0", spent)
	}
}

func TestSpent_StoreErrorPropagates(t *testing.T) {
	ms := newMemStore()
	ms.getErr = &db.Error{Op: db.OpGet, Err: errors.New("connection refused")}
	l := New(ms, 0).WithClock(fixedClock(day))

	_, err := l.Spent(context.Background(), "alice")
	if err == nil {
		t.Fatal("expected error")
	}
	var dbErr *db.Error
	if !errors.As(err, &dbErr) {
		t.Errorf("expected wrapped db.Error, got %v", err)
	}
}

func TestSpent_Unparsable(t *testing.T) {
	ms := newMemStore()
	ms.raw["budget:alice:2026-10-18"] = "not-a-number"
	l := New(ms, 0).WithClock(fixedClock(day))

	if _, err := l.Spent(context.Background(), "alice"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestAdd_IncrementsAndRefreshesTTL(t *testing.T) {
	ms := newMemStore()
	l := New(ms, DefaultTTL).WithClock(fixedClock(day))
	ctx := context.Background()
	key := "budget:alice:2026-10-18"

	total, err := l.Add(ctx, "alice", 0.25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0.25 {
		t.Errorf("first total: got %v", total)
	}

	// Simulate the TTL having ticked down; the next increment must refresh it.
	ms.ttl[key] = time.Minute

	total, err = l.Add(ctx, "alice", 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0.75 {
		t.Errorf("second total: got %v", total)
	}
	if ms.ttl[key] < 48*time.Hour {
		t.Errorf("ttl not refreshed: %v", ms.ttl[key])
	}

	spent, err := l.Spent(ctx, "alice")
	if err != nil {
		t.Fatalf("Spent: %v", err)
	}
	if spent != 0.75 {
		t.Errorf("spent: got %v, want 0.75", spent)
	}
}

func TestAdd_RoundsToEightDecimals(t *testing.T) {
	ms := newMemStore()
	l := New(ms, 0).WithClock(fixedClock(day))

	total, err := l.Add(context.Background(), "alice", 0.123456789123)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0.12345679 {
		t.Errorf("got %v, want 0.12345679", total)
	}
}

func TestAdd_IncrError(t *testing.T) {
	ms := newMemStore()
	ms.incrErr = errors.New("READONLY")
	l := New(ms, 0).WithClock(fixedClock(day))

	if _, err := l.Add(context.Background(), "alice", 1); err == nil {
		t.Fatal("expected error")
	}
	if len(ms.ttl) != 0 {
		t.Error("expire must not run after a failed increment")
	}
}

func TestAdd_ExpireErrorReturnsTotal(t *testing.T) {
	ms := newMemStore()
	ms.expireErr = errors.New("timeout")
	l := New(ms, 0).WithClock(fixedClock(day))

	total, err := l.Add(context.Background(), "alice", 2)
	if err == nil {
		t.Fatal("expected error")
	}
	if total != 2 {
		t.Errorf("total should still be reported, got %v", total)
	}
}

func TestAdd_DayRollover(t *testing.T) {
	ms := newMemStore()
	now := day
	l := New(ms, 0).WithClock(func() time.Time { return now })
	ctx := context.Background()

	if _, err := l.Add(ctx, "alice", 3); err != nil {
		t.Fatal(err)
	}
	now = day.Add(24 * time.Hour)

	spent, err := l.Spent(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if spent != 0 {
		t.Errorf("new day should start at 0, got %v", spent)
	}
	if _, ok := ms.data["budget:alice:2026-10-18"]; !ok {
		t.Error("previous day's record must be kept until it expires")
	}
}

func TestAdd_ConcurrentIncrementsCommute(t *testing.T) {
	ms := newMemStore()
	l := New(ms, 0).WithClock(fixedClock(day))
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = l.Add(ctx, "alice", 0.01)
		}()
		go func(i int) {
			defer wg.Done()
			_, _ = l.Add(ctx, fmt.Sprintf("other-%d", i%3), 0.5)
		}(i)
	}
	wg.Wait()

	spent, err := l.Spent(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(spent-0.5) > 1e-9 {
		t.Errorf("got %v, want 0.5", spent)
	}
}

func TestNew_TTLNeverBelowDefault(t *testing.T) {
	tests := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{"zero", 0, DefaultTTL},
		{"one hour", time.Hour, DefaultTTL},
		{"default", DefaultTTL, DefaultTTL},
		{"longer", 72 * time.Hour, 72 * time.Hour},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ms := newMemStore()
			l := New(ms, tc.ttl).WithClock(fixedClock(day))
			if _, err := l.Add(context.Background(), "alice", 0.1); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := ms.ttl["budget:alice:2026-10-18"]; got != tc.want {
				t.Errorf("ttl = %v, want %v", got, tc.want)
			}
		})
	}
}
