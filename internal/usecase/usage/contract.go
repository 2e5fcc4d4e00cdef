package usage

import (
	"context"
	"time"
)

// SpendReader provides read-only access to the spend ledger.
type SpendReader interface {
	Spent(ctx context.Context, user string) (float64, error)
	Today() time.Time
}
