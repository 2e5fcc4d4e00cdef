package accounting

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kailas-cloud/spendgate/internal/domain"
	"github.com/kailas-cloud/spendgate/internal/domain/completion"
	"github.com/kailas-cloud/spendgate/internal/domain/pricing"
)

// --- Mocks ---

type mockLedger struct {
	mu      sync.Mutex
	amounts []float64
	total   float64
	err     error
}

func (m *mockLedger) Add(_ context.Context, _ string, amount float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.amounts = append(m.amounts, amount)
	m.total += amount
	return m.total, nil
}

// wordCounter counts whitespace-separated words so expectations stay readable.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

type inlineRunner struct{}

func (inlineRunner) Go(fn func()) { fn() }

type fixedPricer float64

func (p fixedPricer) Cost(string, int, int) float64 { return float64(p) }

func newTestAccountant(l Ledger, p Pricer) (*Accountant, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	return New(l, p, wordCounter{}, inlineRunner{}, zap.New(core)), logs
}

func closeTo(a, b float64) bool { return math.Abs(a-b) < 1e-12 }

// --- Tests ---

func TestSettle_Buffered(t *testing.T) {
	l := &mockLedger{}
	a, _ := newTestAccountant(l, pricing.Default())

	req := completion.Request{Model: "gpt-4o-mini"}
	r, err := a.Settle(context.Background(), NewBuffered("alice", req, 1000, 1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !closeTo(r.Cost, 0.00075) {
		t.Errorf("cost = %v, want 0.00075", r.Cost)
	}
	if len(l.amounts) != 1 || !closeTo(l.amounts[0], 0.00075) {
		t.Errorf("ledger amounts = %v", l.amounts)
	}
	if r.InputTokens != 1000 || r.OutputTokens != 1000 {
		t.Errorf("tokens = %d/%d", r.InputTokens, r.OutputTokens)
	}
}

func TestSettle_StreamedCountsReconstructedText(t *testing.T) {
	l := &mockLedger{}
	a, _ := newTestAccountant(l, pricing.Default())

	chunks := [][]byte{
		[]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n"),
		[]byte("data: {\"choices\":[{\"delta\":{\"content\":\" there friend\"}}]}\n\n"),
		[]byte("data: [DONE]\n\n"),
	}
	req := completion.Request{Model: "gpt-4o"}
	r, err := a.Settle(context.Background(), NewStreamed("alice", req, 10, chunks))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.OutputTokens != 3 {
		t.Errorf("output tokens = %d, want 3", r.OutputTokens)
	}
	want := pricing.Default().Cost("gpt-4o", 10, 3)
	if !closeTo(r.Cost, want) {
		t.Errorf("cost = %v, want %v", r.Cost, want)
	}
}

func TestSettle_StreamedMalformedLinesSkipped(t *testing.T) {
	a, _ := newTestAccountant(&mockLedger{}, pricing.Default())

	chunks := [][]byte{
		[]byte("data: {not json\n\n"),
		[]byte("data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n"),
	}
	r, err := a.Settle(context.Background(), NewStreamed("alice", completion.Request{Model: "x"}, 0, chunks))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.OutputTokens != 1 {
		t.Errorf("output tokens = %d, want 1", r.OutputTokens)
	}
}

func TestSettle_LedgerFailure(t *testing.T) {
	cause := errors.New("connection reset")
	a, _ := newTestAccountant(&mockLedger{err: cause}, pricing.Default())

	_, err := a.Settle(context.Background(), NewBuffered("alice", completion.Request{Model: "gpt-4o"}, 5, 5))

	var se *domain.SettlementError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SettlementError, got %v", err)
	}
	if se.Stage != domain.StageLedger {
		t.Errorf("stage = %q, want %q", se.Stage, domain.StageLedger)
	}
	if !errors.Is(err, cause) || !errors.Is(err, domain.ErrLedgerUnavailable) {
		t.Errorf("error chain lost: %v", err)
	}
}

func TestSettle_InvalidCost(t *testing.T) {
	l := &mockLedger{}
	a, _ := newTestAccountant(l, fixedPricer(-1))

	_, err := a.Settle(context.Background(), NewBuffered("alice", completion.Request{Model: "m"}, 1, 1))

	var se *domain.SettlementError
	if !errors.As(err, &se) || se.Stage != domain.StagePrice {
		t.Fatalf("expected price-stage settlement error, got %v", err)
	}
	if len(l.amounts) != 0 {
		t.Error("ledger must not be touched on a pricing failure")
	}
}

func TestRecord_LogsSpend(t *testing.T) {
	a, logs := newTestAccountant(&mockLedger{}, pricing.Default())

	a.Record(context.Background(), NewBuffered("alice", completion.Request{Model: "gpt-4o-mini"}, 1000, 1000))

	entries := logs.FilterMessage("Spend recorded").All()
	if len(entries) != 1 {
		t.Fatalf("expected one spend log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["user"] != "alice" || fields["model"] != "gpt-4o-mini" {
		t.Errorf("unexpected fields: %v", fields)
	}
	if fields["input_tokens"] != int64(1000) || fields["output_tokens"] != int64(1000) {
		t.Errorf("unexpected token fields: %v", fields)
	}
}

func TestRecord_SwallowsAndLogsFailure(t *testing.T) {
	a, logs := newTestAccountant(&mockLedger{err: errors.New("down")}, pricing.Default())

	a.Record(context.Background(), NewBuffered("alice", completion.Request{Model: "gpt-4o"}, 1, 1))

	failures := logs.FilterMessage("Settlement failed").All()
	if len(failures) != 1 {
		t.Fatalf("expected one failure log, got %d", len(failures))
	}
	if failures[0].Level != zapcore.ErrorLevel {
		t.Errorf("level = %v, want error", failures[0].Level)
	}
	if failures[0].ContextMap()["stage"] != domain.StageLedger {
		t.Errorf("stage field = %v", failures[0].ContextMap()["stage"])
	}
	if logs.FilterMessage("Spend recorded").Len() != 0 {
		t.Error("no spend should be logged on failure")
	}
}

func TestRecordAsync_SurvivesCancelledContext(t *testing.T) {
	l := &mockLedger{}
	core, _ := observer.New(zapcore.InfoLevel)
	sched := NewScheduler()
	a := New(l, pricing.Default(), wordCounter{}, sched, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a.RecordAsync(ctx, NewBuffered("alice", completion.Request{Model: "gpt-4o"}, 100, 0))

	waitCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	if err := sched.Wait(waitCtx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(l.amounts) != 1 {
		t.Errorf("expected one increment, got %d", len(l.amounts))
	}
}
