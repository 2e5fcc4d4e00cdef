package completion

import (
	"context"

	domcompletion "github.com/kailas-cloud/spendgate/internal/domain/completion"
	"github.com/kailas-cloud/spendgate/internal/usecase/accounting"
)

// Counter estimates prompt size before forwarding.
type Counter interface {
	CountMessages(messages []domcompletion.Message) int
}

// Accountant bills finished exchanges.
type Accountant interface {
	Record(ctx context.Context, ex accounting.Exchange)
	RecordAsync(ctx context.Context, ex accounting.Exchange)
}

// Sink receives stream bytes for the client. Each Send must reach the
// client before it returns; an error means the client is gone.
type Sink interface {
	Send(p []byte) error
}
