package health

import "context"

// LedgerPinger checks spend ledger availability.
type LedgerPinger interface {
	Ping(ctx context.Context) error
}

// UpstreamChecker checks that the completion API answers.
type UpstreamChecker interface {
	HealthCheck(ctx context.Context) error
}
