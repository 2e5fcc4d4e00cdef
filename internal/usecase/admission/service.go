// Package admission decides, before any forwarding, whether a caller is still
// under the daily spend ceiling.
//
// The check and the later billing increment are not atomic with each other:
// concurrent requests may all pass before any cost is recorded, so the
// ceiling is a soft limit.
package admission

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/spendgate/internal/domain"
	"github.com/kailas-cloud/spendgate/internal/metrics"
)

// Gate enforces the daily USD ceiling.
type Gate struct {
	ledger Ledger
	limit  float64
	logger *zap.Logger
}

// New creates a Gate with the given daily limit in USD.
func New(ledger Ledger, limit float64, logger *zap.Logger) *Gate {
	return &Gate{ledger: ledger, limit: limit, logger: logger}
}

// Authorize returns nil when the user's spend today is strictly below the
// limit, a *domain.BudgetExceededError when it is not, and an error wrapping
// domain.ErrLedgerUnavailable when the ledger cannot be read.
func (g *Gate) Authorize(ctx context.Context, user string) error {
	spent, err := g.ledger.Spent(ctx, user)
	if err != nil {
		metrics.AdmissionDecisionsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err)
	}

	if spent < g.limit {
		metrics.AdmissionDecisionsTotal.WithLabelValues("allow").Inc()
		return nil
	}

	metrics.AdmissionDecisionsTotal.WithLabelValues("deny").Inc()
	g.logger.Info("Budget exceeded",
		zap.String("user", user),
		zap.Float64("spent_usd", spent),
		zap.Float64("limit_usd", g.limit),
	)
	return domain.NewBudgetExceeded(spent, g.limit)
}
