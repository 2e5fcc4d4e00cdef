package admission

import "context"

// Ledger reads the caller's spend for the current UTC day.
type Ledger interface {
	Spent(ctx context.Context, user string) (float64, error)
}
