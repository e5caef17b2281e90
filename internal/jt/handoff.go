package jt

import (
	"context"
	"time"
)

// HandoffBatch is a set of expiring hot-tier records passed to the warm tier.
type HandoffBatch struct {
	ID        string
	HostID    string
	CreatedAt time.Time
	Records   []ActivityRecord
}

// HandoffSink receives records leaving the hot tier. Handoff must return nil
// only once the batch is durably accepted; the hot tier deletes the records
// after a nil return.
type HandoffSink interface {
	Handoff(ctx context.Context, batch HandoffBatch) error
}
