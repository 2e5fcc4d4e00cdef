package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized signals a missing or mismatched bearer credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidRequest signals an unparsable completion request body.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrBudgetExceeded signals that the caller's daily spend reached the ceiling.
	ErrBudgetExceeded = errors.New("daily budget exceeded")
	// ErrLedgerUnavailable signals that the spend ledger could not be read or written.
	ErrLedgerUnavailable = errors.New("spend ledger unavailable")
	// ErrUpstreamUnavailable signals a transport-level failure talking to the upstream API.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// BudgetExceededError wraps ErrBudgetExceeded with the spend that triggered the denial.
type BudgetExceededError struct {
	Spent float64
	Limit float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("Daily budget exceeded. Spent: $%.4f / Limit: $%.2f", e.Spent, e.Limit)
}

func (e *BudgetExceededError) Unwrap() error { return ErrBudgetExceeded }

// NewBudgetExceeded creates a budget denial carrying the current spend and the limit.
func NewBudgetExceeded(spent, limit float64) error {
	return &BudgetExceededError{Spent: spent, Limit: limit}
}

// Settlement stages, used as error context and metric labels.
const (
	StageExtract = "extract"
	StagePrice   = "price"
	StageLedger  = "ledger"
)

// SettlementError describes a billing failure after the response was delivered.
// It is logged and dropped by the accountant and never reaches the caller.
type SettlementError struct {
	Stage string
	User  string
	Model string
	Err   error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement %s failed for user %q model %q: %v", e.Stage, e.User, e.Model, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }
