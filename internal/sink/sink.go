package sink

import (
	"context"

	"github.com/eddydb/eddy-go/internal/model"
)

// Sink persists batches of change events. Write must be idempotent: the
// pipeline re-delivers a batch after a partial failure, and events carry
// their EventID so duplicates can be discarded at the store.
type Sink interface {
	// Name identifies the sink in logs and stats.
	Name() string

	// Write persists a batch. Order within the batch follows arrival order.
	Write(ctx context.Context, events []model.ChangeEvent) error

	// Close flushes and releases the underlying store handle.
	Close(ctx context.Context) error
}
