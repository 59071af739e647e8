package progress

import "context"

// Sink receives batches from a Hub. The Hub calls Consume from one goroutine
// with a per-call deadline, and Close once after the final batch.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}
