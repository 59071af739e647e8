package scheduler

import (
	"context"
	"fmt"
	"time"
)

// Lifecycle decides when a drained run may exit: after the final session is
// done and Grace has elapsed.
type Lifecycle struct {
	Grace time.Duration
	After func(time.Duration) <-chan time.Time
}

// Wait blocks until lastDone is closed and the grace period has passed. A nil
// lastDone means nothing was dispatched.
func (l Lifecycle) Wait(ctx context.Context, lastDone <-chan struct{}) error {
	if lastDone != nil {
		select {
		case <-lastDone:
		case <-ctx.Done():
			return fmt.Errorf("wait for final task: %w", ctx.Err())
		}
	}
	after := l.After
	if after == nil {
		after = time.After
	}
	select {
	case <-after(l.Grace):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("grace period: %w", ctx.Err())
	}
}
