package usage

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/spendgate/internal/domain"
	domusage "github.com/kailas-cloud/spendgate/internal/domain/usage"
)

// Service handles usage reporting.
type Service struct {
	sr    SpendReader
	limit float64
}

// New creates a Service reporting against the given daily limit in USD.
func New(sr SpendReader, limit float64) *Service {
	return &Service{sr: sr, limit: limit}
}

// GetReport builds the caller's report for the current UTC day.
func (s *Service) GetReport(ctx context.Context, user string) (domusage.Report, error) {
	day := s.sr.Today()
	spent, err := s.sr.Spent(ctx, user)
	if err != nil {
		return domusage.Report{}, fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err)
	}
	return domusage.NewReport(user, day, spent, s.limit), nil
}
