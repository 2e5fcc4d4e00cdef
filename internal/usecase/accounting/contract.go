package accounting

import (
	"context"

	"github.com/kailas-cloud/spendgate/internal/domain/completion"
)

// Ledger applies a cost to the caller's spend for the current UTC day.
type Ledger interface {
	Add(ctx context.Context, user string, amount float64) (float64, error)
}

// Counter turns reconstructed stream text into a token count.
type Counter interface {
	Count(text string) int
}

// Pricer returns the USD cost of an exchange for a model.
type Pricer interface {
	Cost(model string, inputTokens, outputTokens int) float64
}

// Runner executes detached work. Scheduler is the production implementation.
type Runner interface {
	Go(fn func())
}

// Exchange is what a finished completion leaves behind for billing.
// Streamed exchanges carry the raw upstream chunks; buffered ones carry
// OutputTokens directly.
type Exchange struct {
	User         string
	Model        string
	InputTokens  int
	OutputTokens int
	Streamed     bool
	Chunks       [][]byte
}

// NewBuffered describes a buffered exchange with known token counts.
func NewBuffered(user string, req completion.Request, in, out int) Exchange {
	return Exchange{User: user, Model: req.Model, InputTokens: in, OutputTokens: out}
}

// NewStreamed describes a streamed exchange whose output is still raw chunks.
func NewStreamed(user string, req completion.Request, in int, chunks [][]byte) Exchange {
	return Exchange{User: user, Model: req.Model, InputTokens: in, Streamed: true, Chunks: chunks}
}

// Receipt is a successful settlement.
type Receipt struct {
	InputTokens  int
	OutputTokens int
	Cost         float64
	Total        float64
}
