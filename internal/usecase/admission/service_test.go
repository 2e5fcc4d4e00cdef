package admission

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/spendgate/internal/domain"
)

// --- Mock ---

type mockLedger struct {
	spent map[string]float64
	err   error
	calls int
}

func (m *mockLedger) Spent(_ context.Context, user string) (float64, error) {
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	return m.spent[user], nil
}

// --- Tests ---

func TestAuthorize_Table(t *testing.T) {
	tests := []struct {
		name  string
		spent float64
		allow bool
	}{
		{"absent record", 0, true},
		{"well below", 1.5, true},
		{"just below", 4.99999999, true},
		{"exactly at limit", 5, false},
		{"above limit", 5.0001, false},
		{"far above", 120, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := &mockLedger{spent: map[string]float64{"alice": tc.spent}}
			g := New(l, 5, zap.NewNop())

			err := g.Authorize(context.Background(), "alice")
			if tc.allow {
				if err != nil {
					t.Fatalf("expected allow, got %v", err)
				}
				return
			}

			var bee *domain.BudgetExceededError
			if !errors.As(err, &bee) {
				t.Fatalf("expected *BudgetExceededError, got %v", err)
			}
			if bee.Spent != tc.spent || bee.Limit != 5 {
				t.Errorf("denial fields: %+v", bee)
			}
			if !errors.Is(err, domain.ErrBudgetExceeded) {
				t.Error("expected errors.Is ErrBudgetExceeded")
			}
		})
	}
}

func TestAuthorize_ReadsLedgerOnce(t *testing.T) {
	l := &mockLedger{spent: map[string]float64{"alice": 9}}
	g := New(l, 5, zap.NewNop())

	_ = g.Authorize(context.Background(), "alice")
	if l.calls != 1 {
		t.Errorf("expected one ledger read, got %d", l.calls)
	}
}

func TestAuthorize_LedgerFailureIsNotMasked(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	g := New(&mockLedger{err: cause}, 5, zap.NewNop())

	err := g.Authorize(context.Background(), "alice")
	if !errors.Is(err, domain.ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected the store error to stay in the chain")
	}
	if errors.Is(err, domain.ErrBudgetExceeded) {
		t.Error("store failure must not look like a denial")
	}
}

func TestAuthorize_UsersAreIndependent(t *testing.T) {
	l := &mockLedger{spent: map[string]float64{"alice": 10, "bob": 1}}
	g := New(l, 5, zap.NewNop())

	if err := g.Authorize(context.Background(), "alice"); err == nil {
		t.Error("alice should be denied")
	}
	if err := g.Authorize(context.Background(), "bob"); err != nil {
		t.Errorf("bob should be allowed, got %v", err)
	}
}
