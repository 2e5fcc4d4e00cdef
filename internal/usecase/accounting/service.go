// Package accounting prices finished exchanges and writes their cost to the
// spend ledger.
//
// Record is the only place in the proxy where a failure is swallowed: the
// caller already has its answer, so a billing failure is logged and dropped.
package accounting

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/kailas-cloud/spendgate/internal/domain"
	"github.com/kailas-cloud/spendgate/internal/metrics"
	"github.com/kailas-cloud/spendgate/internal/sse"
)

// Accountant settles exchanges against the spend ledger.
type Accountant struct {
	ledger  Ledger
	prices  Pricer
	counter Counter
	runner  Runner
	logger  *zap.Logger
}

// New creates an Accountant. runner executes RecordAsync jobs.
func New(ledger Ledger, prices Pricer, counter Counter, runner Runner, logger *zap.Logger) *Accountant {
	return &Accountant{
		ledger:  ledger,
		prices:  prices,
		counter: counter,
		runner:  runner,
		logger:  logger,
	}
}

// Settle computes the exchange cost and increments the ledger. Failures are
// returned as *domain.SettlementError.
func (a *Accountant) Settle(ctx context.Context, ex Exchange) (r Receipt, err error) {
	stage := domain.StageExtract
	defer func() {
		if p := recover(); p != nil {
			err = &domain.SettlementError{
				Stage: stage, User: ex.User, Model: ex.Model,
				Err: fmt.Errorf("panic: %v", p),
			}
		}
	}()

	out := ex.OutputTokens
	if ex.Streamed {
		out = a.counter.Count(sse.ExtractText(ex.Chunks))
	}

	stage = domain.StagePrice
	cost := a.prices.Cost(ex.Model, ex.InputTokens, out)
	if cost < 0 || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return Receipt{}, &domain.SettlementError{
			Stage: stage, User: ex.User, Model: ex.Model,
			Err: fmt.Errorf("invalid cost %v for %d/%d tokens", cost, ex.InputTokens, out),
		}
	}

	stage = domain.StageLedger
	total, err := a.ledger.Add(ctx, ex.User, cost)
	if err != nil {
		return Receipt{}, &domain.SettlementError{
			Stage: stage, User: ex.User, Model: ex.Model,
			Err: fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err),
		}
	}

	return Receipt{InputTokens: ex.InputTokens, OutputTokens: out, Cost: cost, Total: total}, nil
}

// Record settles the exchange and logs the outcome. Errors stop here.
func (a *Accountant) Record(ctx context.Context, ex Exchange) {
	r, err := a.Settle(ctx, ex)
	if err != nil {
		stage := "unknown"
		var se *domain.SettlementError
		if errors.As(err, &se) {
			stage = se.Stage
		}
		metrics.SettlementFailuresTotal.WithLabelValues(stage).Inc()
		a.logger.Error("Settlement failed",
			zap.String("user", ex.User),
			zap.String("model", ex.Model),
			zap.String("stage", stage),
			zap.Bool("streamed", ex.Streamed),
			zap.Error(err),
		)
		return
	}

	metrics.SpendUSDTotal.WithLabelValues(ex.Model).Add(r.Cost)
	metrics.TokensTotal.WithLabelValues(ex.Model, "input").Add(float64(r.InputTokens))
	metrics.TokensTotal.WithLabelValues(ex.Model, "output").Add(float64(r.OutputTokens))

	a.logger.Info("Spend recorded",
		zap.String("user", ex.User),
		zap.String("model", ex.Model),
		zap.Int("input_tokens", r.InputTokens),
		zap.Int("output_tokens", r.OutputTokens),
		zap.Float64("cost_usd", r.Cost),
		zap.Float64("total_usd", r.Total),
	)
}

// RecordAsync hands Record to the runner. The job keeps ctx values but not
// its cancellation, so a disconnected client is still billed.
func (a *Accountant) RecordAsync(ctx context.Context, ex Exchange) {
	detached := context.WithoutCancel(ctx)
	a.runner.Go(func() { a.Record(detached, ex) })
}
