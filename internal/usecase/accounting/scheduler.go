package accounting

import (
	"context"
	"fmt"
	"sync"

	"github.com/kailas-cloud/spendgate/internal/metrics"
)

// Scheduler runs detached settlements and lets shutdown wait for them.
// Jobs still running when the process dies are lost.
type Scheduler struct {
	wg sync.WaitGroup
}

// NewScheduler creates an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Go runs fn in its own goroutine.
func (s *Scheduler) Go(fn func()) {
	metrics.SettlementsInFlight.Inc()
	s.wg.Go(func() {
		defer metrics.SettlementsInFlight.Dec()
		fn()
	})
}

// Wait blocks until every job has finished or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain settlements: %w", ctx.Err())
	}
}
