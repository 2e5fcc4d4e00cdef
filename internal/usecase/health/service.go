package health

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates the upstream probe failed; admission still works.
	Degraded Status = "degraded"
	// Unhealthy indicates the ledger is down and every request would fail.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Check names.
const (
	CheckLedger   = "ledger"
	CheckUpstream = "upstream"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	ledger   LedgerPinger
	upstream UpstreamChecker
	logger   *zap.Logger
}

// New creates a Service. upstream can be nil.
func New(ledger LedgerPinger, upstream UpstreamChecker, logger *zap.Logger) *Service {
	return &Service{ledger: ledger, upstream: upstream, logger: logger}
}

// Check runs the ledger and upstream probes concurrently.
func (s *Service) Check(ctx context.Context) Report {
	var ledgerErr, upstreamErr error

	var g errgroup.Group
	g.Go(func() error {
		ledgerErr = s.ledger.Ping(ctx)
		return nil
	})
	if s.upstream != nil {
		g.Go(func() error {
			upstreamErr = s.upstream.HealthCheck(ctx)
			return nil
		})
	}
	_ = g.Wait()

	checks := make(map[string]CheckResult)
	status := Healthy

	if ledgerErr != nil {
		s.logger.Warn("Ledger health check failed", zap.Error(ledgerErr))
		checks[CheckLedger] = CheckError
		status = Unhealthy
	} else {
		checks[CheckLedger] = CheckOK
	}

	if s.upstream != nil {
		if upstreamErr != nil {
			s.logger.Warn("Upstream health check failed", zap.Error(upstreamErr))
			checks[CheckUpstream] = CheckError
			if status == Healthy {
				status = Degraded
			}
		} else {
			checks[CheckUpstream] = CheckOK
		}
	}

	return Report{Status: status, Checks: checks}
}
